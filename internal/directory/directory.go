// Package directory implements the gateway's external session directory:
// the control plane's record of sessions expected to be live, read once at
// startup for restoration. Both implementations are read-only.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"wagate/internal/gateway"
)

const activeSessionsPath = "/api/v1/sessions/active-sessions/"

// HTTPDirectory queries the control plane's restoration endpoint.
type HTTPDirectory struct {
	log    *slog.Logger
	url    string
	apiKey string
	client *http.Client
}

// NewHTTP constructs a directory over the control plane's HTTP API.
func NewHTTP(log *slog.Logger, baseURL, apiKey string, timeout time.Duration) *HTTPDirectory {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDirectory{
		log:    log,
		url:    baseURL + activeSessionsPath,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

// activeSessionsResponse mirrors the control plane's envelope.
type activeSessionsResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Sessions []struct {
			SessionID string `json:"session_id"`
			UserID    json.Number `json:"user_id"`
		} `json:"sessions"`
		Count int `json:"count"`
	} `json:"data"`
}

// ActiveSessions returns the sessions the control plane expects to be live.
func (d *HTTPDirectory) ActiveSessions(ctx context.Context) ([]gateway.DirectoryEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("directory: unexpected status %d", resp.StatusCode)
	}

	var parsed activeSessionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("directory: decode: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("directory: control plane reported failure")
	}

	entries := make([]gateway.DirectoryEntry, 0, len(parsed.Data.Sessions))
	for _, s := range parsed.Data.Sessions {
		if s.SessionID == "" {
			continue
		}
		entries = append(entries, gateway.DirectoryEntry{
			SessionID: s.SessionID,
			OwnerID:   s.UserID.String(),
		})
	}

	d.log.Debug("directory.fetched", "count", len(entries))
	return entries, nil
}
