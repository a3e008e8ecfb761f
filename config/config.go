package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server     ServerConfig
	Media      MediaConfig
	Session    SessionConfig
	Cloudflare CloudflareConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int    // 0 disables; video range responses outlive any sane timeout
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// MediaConfig holds the on-disk media layout.
type MediaConfig struct {
	VideoDir string // watched video library root
	FilesDir string // static frontend assets (index/party/host pages)
	CacheDir string // uploaded avatars and other scratch files
}

// SessionConfig tunes the session coordinator.
type SessionConfig struct {
	// CallTimeoutSec bounds the get_host_time reconciliation call.
	CallTimeoutSec int
	// OpenVideoSelect lets any participant set the video (the original /host
	// panel behavior); false restricts host_set_video to the current host.
	OpenVideoSelect bool
}

// CloudflareConfig holds dynamic-DNS settings; the updater only starts when
// Enabled reports true.
type CloudflareConfig struct {
	APIToken    string
	ZoneID      string
	RecordName  string
	Proxied     bool
	IntervalSec int
}

// Enabled reports whether the Cloudflare updater has everything it needs.
func (c CloudflareConfig) Enabled() bool {
	return c.APIToken != "" && c.ZoneID != "" && c.RecordName != ""
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8000"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 0),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Media: MediaConfig{
			VideoDir: getEnv("VIDEO_DIR", "videos"),
			FilesDir: getEnv("FILES_DIR", "files"),
			CacheDir: getEnv("CACHE_DIR", "cache"),
		},
		Session: SessionConfig{
			CallTimeoutSec:  getEnvInt("SYNC_CALL_TIMEOUT_SEC", 2),
			OpenVideoSelect: getEnvBool("SESSION_OPEN_VIDEO_SELECT", true),
		},
		Cloudflare: CloudflareConfig{
			APIToken:    getEnv("CF_API_TOKEN", ""),
			ZoneID:      getEnv("CF_ZONE_ID", ""),
			RecordName:  getEnv("CF_RECORD_NAME", ""),
			Proxied:     getEnvBool("CF_PROXIED", false),
			IntervalSec: getEnvInt("CF_INTERVAL_SEC", 300),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
