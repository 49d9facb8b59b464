package flags

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/draftforge/experiment-platform/internal/domain/errors"
	"github.com/draftforge/experiment-platform/internal/infrastructure/config"
)

// Client talks to the product's feature-flag service. An experiment's linked
// flag mirrors its running state and target percentage.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(cfg *config.FlagServiceConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		secret:  cfg.Secret,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

type createFeatureRequest struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

type toggleRequest struct {
	Enabled bool   `json:"enabled"`
	Actor   string `json:"actor"`
}

type rolloutRequest struct {
	RolloutStrategy rolloutStrategy `json:"rollout_strategy"`
}

type rolloutStrategy struct {
	Type       string `json:"type"`
	Percentage int    `json:"percentage"`
}

// CreateFeature provisions a flag for a new experiment, initially disabled.
func (c *Client) CreateFeature(ctx context.Context, key, description string) error {
	return c.post(ctx, "/features", createFeatureRequest{
		Key:         key,
		Description: description,
		Enabled:     false,
	})
}

// ToggleFeature flips the flag on or off, recording the acting principal.
func (c *Client) ToggleFeature(ctx context.Context, key string, enabled bool, actor string) error {
	return c.post(ctx, fmt.Sprintf("/features/%s/toggle", key), toggleRequest{
		Enabled: enabled,
		Actor:   actor,
	})
}

// UpdateRollout sets the flag's percentage rollout to the experiment's target
// audience percentage.
func (c *Client) UpdateRollout(ctx context.Context, key string, percentage int) error {
	return c.post(ctx, fmt.Sprintf("/features/%s", key), rolloutRequest{
		RolloutStrategy: rolloutStrategy{Type: "percentage", Percentage: percentage},
	})
}

// IsEnabled evaluates the flag for a user context.
func (c *Client) IsEnabled(ctx context.Context, key string, userCtx map[string]string) (bool, error) {
	body, err := json.Marshal(userCtx)
	if err != nil {
		return false, fmt.Errorf("marshaling flag context: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+fmt.Sprintf("/features/%s/evaluate", key), bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("building flag request: %w", err)
	}
	c.sign(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, errors.NewExternalError("flags", "evaluation request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, errors.NewExternalError("flags",
			fmt.Sprintf("evaluation returned status %d", resp.StatusCode))
	}

	var result struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decoding flag response: %w", err)
	}

	return result.Enabled, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling flag payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building flag request: %w", err)
	}
	c.sign(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.NewExternalError("flags", "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.NewExternalError("flags",
			fmt.Sprintf("%s returned status %d", path, resp.StatusCode))
	}

	c.logger.Debug("flag service call",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	return nil
}

func (c *Client) sign(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Secret", c.secret)
}
