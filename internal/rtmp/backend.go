package rtmp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"livecast/internal/metrics"
	"livecast/internal/security"
)

// ErrKeyRejected is returned when the backend reports a key as invalid.
var ErrKeyRejected = errors.New("stream key rejected")

// KeyValidation mirrors the backend's validate response.
type KeyValidation struct {
	Valid    bool   `json:"valid"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
}

// Backend is the part of the API server the bridge talks to.
type Backend interface {
	Validate(ctx context.Context, key string) (*KeyValidation, error)
	NotifyLive(ctx context.Context, key, userID string) error
	NotifyEnded(ctx context.Context, key, userID string) error
}

// HTTPBackend calls the server's internal stream endpoints.
type HTTPBackend struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPBackend(baseURL, internalToken string, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{
		baseURL: baseURL,
		token:   internalToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type ingestRequest struct {
	StreamKey string `json:"streamKey"`
	UserID    string `json:"userId,omitempty"`
}

func (b *HTTPBackend) Validate(ctx context.Context, key string) (*KeyValidation, error) {
	var result KeyValidation
	if err := b.post(ctx, "validate", ingestRequest{StreamKey: key}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (b *HTTPBackend) NotifyLive(ctx context.Context, key, userID string) error {
	return b.post(ctx, "live", ingestRequest{StreamKey: key, UserID: userID}, nil)
}

func (b *HTTPBackend) NotifyEnded(ctx context.Context, key, userID string) error {
	return b.post(ctx, "ended", ingestRequest{StreamKey: key, UserID: userID}, nil)
}

func (b *HTTPBackend) post(ctx context.Context, endpoint string, body interface{}, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordBackendRequest(endpoint, err == nil, time.Since(start))
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", endpoint, err)
	}

	url := b.baseURL + "/api/v1/internal/streams/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(security.InternalTokenHeader, b.token)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && endpoint != "validate" {
		return ErrKeyRejected
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", endpoint, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}
