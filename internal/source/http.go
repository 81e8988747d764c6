// Package source provides fetch collaborators for the notification poller.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/schuttebj/ampro-platform-sub001/internal/notification"
	logx "github.com/schuttebj/ampro-platform-sub001/pkg/logx"
)

const maxBody = 4 << 20

type HTTPConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
	Headers map[string]string
}

// HTTP polls a JSON endpoint. The body is either an array of notifications or
// an object carrying them under "notifications" or "data".
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
	log    logx.Logger
}

func NewHTTP(cfg HTTPConfig, log logx.Logger) (*HTTP, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("source url is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTP{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, log: log}, nil
}

func (h *HTTP) FetchBatch(ctx context.Context) ([]notification.Raw, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if tok := strings.TrimSpace(h.cfg.Token); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("source returned %s: %s", resp.Status, snippet(body))
	}
	batch, err := decodeBatch(body)
	if err != nil {
		return nil, err
	}
	h.log.Trace("source batch fetched", logx.Int("count", len(batch)))
	return batch, nil
}

func decodeBatch(body []byte) ([]notification.Raw, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] == '[' {
		var out []notification.Raw
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		return out, nil
	}
	var env struct {
		Notifications []notification.Raw `json:"notifications"`
		Data          []notification.Raw `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	if env.Notifications != nil {
		return env.Notifications, nil
	}
	return env.Data, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
