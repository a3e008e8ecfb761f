// Package dyndns keeps a Cloudflare AAAA record pointed at the server's
// current public IPv6 address.
package dyndns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/couchparty/backend/config"
	"github.com/couchparty/backend/internal/netinfo"
)

const defaultBaseURL = "https://api.cloudflare.com/client/v4"

// Updater polls the public IP and updates the configured DNS record when it
// changes. Every failure path is logged and retried on the next tick; nothing
// here is fatal to the server.
type Updater struct {
	cfg      config.CloudflareConfig
	resolver *netinfo.Resolver
	client   *http.Client
	baseURL  string
	logger   *zap.Logger
}

// NewUpdater creates a Cloudflare dynamic-DNS updater.
func NewUpdater(cfg config.CloudflareConfig, resolver *netinfo.Resolver, logger *zap.Logger) *Updater {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{
		cfg:      cfg,
		resolver: resolver,
		client:   &http.Client{Timeout: 10 * time.Second},
		baseURL:  defaultBaseURL,
		logger:   logger,
	}
}

// Run polls until the context is cancelled. The first check happens
// immediately, then every configured interval.
func (u *Updater) Run(ctx context.Context) {
	interval := time.Duration(u.cfg.IntervalSec) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	u.logger.Info("dns updater started",
		zap.String("record", u.cfg.RecordName),
		zap.Duration("interval", interval),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		u.tick(ctx)
		select {
		case <-ctx.Done():
			u.logger.Info("dns updater stopped")
			return
		case <-ticker.C:
		}
	}
}

func (u *Updater) tick(ctx context.Context) {
	ip := u.resolver.PublicIP(ctx)
	if !strings.Contains(ip, ":") {
		u.logger.Warn("public address is not IPv6, skipping dns update", zap.String("ip", ip))
		return
	}
	if err := u.syncRecord(ctx, ip); err != nil {
		u.logger.Error("dns update failed", zap.Error(err))
	}
}

type record struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// listResponse covers GET /dns_records, where result is an array of records.
type listResponse struct {
	Success bool            `json:"success"`
	Result  []record        `json:"result"`
	Errors  json.RawMessage `json:"errors"`
}

// updateResponse covers PUT /dns_records/:id, where result is the single
// updated record. Only the success flag and errors matter here.
type updateResponse struct {
	Success bool            `json:"success"`
	Errors  json.RawMessage `json:"errors"`
}

// syncRecord looks up the AAAA record by name and rewrites it when the
// content differs from the current address. The record must already exist.
func (u *Updater) syncRecord(ctx context.Context, ip string) error {
	listURL := fmt.Sprintf("%s/zones/%s/dns_records?type=AAAA&name=%s",
		u.baseURL, u.cfg.ZoneID, url.QueryEscape(u.cfg.RecordName))

	var listed listResponse
	if err := u.doJSON(ctx, http.MethodGet, listURL, nil, &listed); err != nil {
		return fmt.Errorf("list dns records: %w", err)
	}
	if !listed.Success {
		return fmt.Errorf("list dns records: %s", listed.Errors)
	}
	if len(listed.Result) == 0 {
		return fmt.Errorf("no AAAA record named %s; create it first", u.cfg.RecordName)
	}

	current := listed.Result[0]
	if current.Content == ip {
		return nil
	}
	u.logger.Info("public ip changed, updating record",
		zap.String("old", current.Content),
		zap.String("new", ip),
	)

	payload := map[string]interface{}{
		"type":    "AAAA",
		"name":    u.cfg.RecordName,
		"content": ip,
		"proxied": u.cfg.Proxied,
	}
	updateURL := fmt.Sprintf("%s/zones/%s/dns_records/%s", u.baseURL, u.cfg.ZoneID, current.ID)

	var updated updateResponse
	if err := u.doJSON(ctx, http.MethodPut, updateURL, payload, &updated); err != nil {
		return fmt.Errorf("update dns record: %w", err)
	}
	if !updated.Success {
		return fmt.Errorf("update dns record: %s", updated.Errors)
	}
	u.logger.Info("dns record updated", zap.String("ip", ip))
	return nil
}

func (u *Updater) doJSON(ctx context.Context, method, rawURL string, payload, out interface{}) error {
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+u.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}
