package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SessionInfo is the server's public session descriptor.
type SessionInfo struct {
	Slug             string            `json:"slug"`
	Title            string            `json:"title,omitempty"`
	Formats          []string          `json:"formats"`
	Streams          map[string]string `json:"streams"`
	StartTime        float64           `json:"startTime"`
	PasswordRequired bool              `json:"passwordRequired"`
}

// PlaybackState is the server's current view of playback.
type PlaybackState struct {
	Slug        string  `json:"slug"`
	Position    float64 `json:"position"`
	HasLeader   bool    `json:"hasLeader"`
	Connections int     `json:"connections"`
}

// APIClient reads the session server's HTTP endpoints.
type APIClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		headers: make(map[string]string),
	}
}

// APIBaseFromSocket derives the HTTP base URL from a websocket endpoint
// such as ws://host:3000/ws.
func APIBaseFromSocket(socketURL string) (string, error) {
	u, err := url.Parse(socketURL)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", socketURL, err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = strings.TrimSuffix(u.Path, "/ws")
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/"), nil
}

func (c *APIClient) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *APIClient) get(ctx context.Context, endpoint string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s returned status code: %d, response: %s", endpoint, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("failed to decode %s: %w", endpoint, err)
	}
	return nil
}

// Session fetches the session descriptor.
func (c *APIClient) Session(ctx context.Context) (SessionInfo, error) {
	var info SessionInfo
	err := c.get(ctx, "/api/session", &info)
	return info, err
}

// State fetches the current playback state.
func (c *APIClient) State(ctx context.Context) (PlaybackState, error) {
	var state PlaybackState
	err := c.get(ctx, "/api/session/state", &state)
	return state, err
}
