package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Gateway is an HTTP client for a chat-gateway service that holds the
// actual channel sessions.
type Gateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewGateway creates a new gateway client.
func NewGateway(baseURL, apiKey string, timeout time.Duration) *Gateway {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type statusResponse struct {
	Connected bool `json:"connected"`
}

type sendMessageRequest struct {
	To       string `json:"to"`
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// IsConnected reports the channel's session status.
func (g *Gateway) IsConnected(ctx context.Context, channel string) (bool, error) {
	var resp statusResponse
	if err := g.request(ctx, http.MethodGet, "/api/v1/channels/"+channel+"/status", nil, &resp); err != nil {
		return false, err
	}
	return resp.Connected, nil
}

// SendText sends a text message through the channel.
func (g *Gateway) SendText(ctx context.Context, channel, to, text string) error {
	req := &sendMessageRequest{To: to, Text: text}
	return g.request(ctx, http.MethodPost, "/api/v1/channels/"+channel+"/messages", req, nil)
}

// SendMedia sends a media message with a caption through the channel.
func (g *Gateway) SendMedia(ctx context.Context, channel, to string, media Media, caption string) error {
	req := &sendMessageRequest{
		To:       to,
		MediaURL: media.URL,
		MimeType: media.MimeType,
		Caption:  caption,
	}
	return g.request(ctx, http.MethodPost, "/api/v1/channels/"+channel+"/messages", req, nil)
}

// request performs an HTTP request to the gateway API.
func (g *Gateway) request(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
			return fmt.Errorf("gateway HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("gateway error: %s", errResp.Error)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
