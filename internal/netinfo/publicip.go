// Package netinfo discovers the server's public address for invite links and
// dynamic DNS.
package netinfo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FallbackIP is returned when every discovery endpoint fails.
const FallbackIP = "127.0.0.1"

var defaultEndpoints = []string{
	"https://api64.ipify.org", // answers over IPv6 when available
	"https://icanhazip.com",
}

// Resolver queries public plain-text IP echo services.
type Resolver struct {
	client    *http.Client
	endpoints []string
	logger    *zap.Logger
}

// NewResolver creates a public-IP resolver. Endpoints override the defaults
// when given (used by tests).
func NewResolver(logger *zap.Logger, endpoints ...string) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(endpoints) == 0 {
		endpoints = defaultEndpoints
	}
	return &Resolver{
		client:    &http.Client{Timeout: 3 * time.Second},
		endpoints: endpoints,
		logger:    logger,
	}
}

// PublicIP returns the first address an echo service reports, preferring the
// IPv6-capable endpoint, or FallbackIP when all of them fail.
func (r *Resolver) PublicIP(ctx context.Context) string {
	for _, endpoint := range r.endpoints {
		ip, err := r.fetch(ctx, endpoint)
		if err != nil {
			r.logger.Debug("ip lookup failed", zap.String("endpoint", endpoint), zap.Error(err))
			continue
		}
		if ip != "" {
			return ip
		}
	}
	return FallbackIP
}

func (r *Resolver) fetch(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// InviteLink formats a joinable URL for the given address, bracketing IPv6.
func InviteLink(ip, port string) string {
	if strings.Contains(ip, ":") {
		return fmt.Sprintf("http://[%s]:%s/", ip, port)
	}
	return fmt.Sprintf("http://%s:%s/", ip, port)
}
