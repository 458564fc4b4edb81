package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client delivers in-app notifications through the external dispatcher API.
// Delivery is best-effort: the ledger logs failures and moves on.
type Client struct {
	logger    *slog.Logger
	apiURL    string
	token     string
	client    *http.Client
	isEnabled bool
}

func NewClient(logger *slog.Logger, apiURL, token string) *Client {
	isEnabled := apiURL != ""

	if !isEnabled {
		logger.Warn("Notification dispatcher is disabled, no API URL configured")
	} else {
		logger.Info("Notification dispatcher initialized", "api_url", apiURL)
	}

	return &Client{
		logger:    logger,
		apiURL:    apiURL,
		token:     token,
		client:    &http.Client{Timeout: 10 * time.Second},
		isEnabled: isEnabled,
	}
}

func (c *Client) IsEnabled() bool {
	return c.isEnabled
}

type notifyRequest struct {
	UserID  string `json:"user_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// Notify posts one notification. When the dispatcher is not configured the
// call is a logged no-op so the ledger behaves the same in every environment.
func (c *Client) Notify(ctx context.Context, userID, title, content, ntype, channel string) error {
	if !c.isEnabled {
		c.logger.Info("Notification skipped, dispatcher disabled", "user_id", userID, "title", title)
		return nil
	}

	body, err := json.Marshal(notifyRequest{
		UserID:  userID,
		Title:   title,
		Content: content,
		Type:    ntype,
		Channel: channel,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification dispatcher returned %d: %s", resp.StatusCode, respBody)
	}

	return nil
}
