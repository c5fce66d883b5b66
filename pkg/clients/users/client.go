package users

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"gigworks/api_credits/pkg/clients"
	"gigworks/api_credits/pkg/logging"
)

// Client represents a Users service API client
type Client struct {
	baseURL      string
	httpClient   *http.Client
	serviceToken string
	logger       logging.Logger
}

// Config represents the configuration for the Users client
type Config struct {
	BaseURL      string
	ServiceToken string
	Timeout      time.Duration
	Logger       logging.Logger
}

// NewClient creates a new Users service API client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: clients.DefaultTransport(),
		},
		serviceToken: config.ServiceToken,
		logger:       config.Logger,
	}
}

type boostRequest struct {
	DurationHours int `json:"duration_hours"`
}

// ApplyBoost marks a user profile as boosted for the given duration.
func (c *Client) ApplyBoost(ctx context.Context, userID string, durationHours int) (json.RawMessage, error) {
	body, err := json.Marshal(boostRequest{DurationHours: durationHours})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/internal/users/%s/boost", c.baseURL, url.PathEscape(userID))
	return c.do(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
}

// RemoveBoost clears the boosted flag on a user profile.
func (c *Client) RemoveBoost(ctx context.Context, userID string) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/internal/users/%s/boost/remove", c.baseURL, url.PathEscape(userID))
	return c.do(ctx, http.MethodPost, endpoint, nil)
}

// GetUser fetches a user by ID, used to validate boost targets exist.
func (c *Client) GetUser(ctx context.Context, userID string) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/internal/users/%s", c.baseURL, url.PathEscape(userID))
	return c.do(ctx, http.MethodGet, endpoint, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Service-Token", c.serviceToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call users service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, clients.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("users service error (%d): %s", resp.StatusCode, string(respBody))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return json.RawMessage(data), nil
}
