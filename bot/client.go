package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// Client calls the traQ REST API as the bot.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption defines a functional option for Client
type ClientOption func(*Client)

// WithBaseURL overrides the API prefix derived from the host.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client for https://<host>/api/v3 authenticated by token.
func NewClient(host, token string, options ...ClientOption) *Client {
	c := &Client{
		baseURL:    "https://" + host + "/api/v3",
		token:      token,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

type postMessageRequest struct {
	Content string `json:"content"`
	Embed   bool   `json:"embed"`
}

// PostMessage posts content to a channel.
func (c *Client) PostMessage(ctx context.Context, channelID, content string, embed bool) error {
	body, err := json.Marshal(postMessageRequest{Content: content, Embed: embed})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/channels/%s/messages", c.baseURL, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("traQ returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
