package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	httpx "ephemeral-chat/infrastructure/http"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gookit/color"
)

// Client drives the room API the way a browser would, logging one line per
// call through Logf.
type Client struct {
	cfg  Config
	http *http.Client
	Logf func(format string, args ...any)
}

func NewClient(cfg Config, logf func(format string, args ...any)) *Client {
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, Logf: logf}
}

// Header renders a step title, colored when E2E_COLOURS is on.
func (c *Client) Header(name string) string {
	header := fmt.Sprintf("  ====== %s ======", name)
	if c.cfg.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	return header
}

func (c *Client) statusText(status int) string {
	text := fmt.Sprintf("%d", status)
	if !c.cfg.Colours {
		return text
	}
	if status >= 400 {
		return color.FgRed.Render(text)
	}
	return color.FgGreen.Render(text)
}

// Do sends body as JSON and decodes a successful response into out.
// Error responses are decoded into an ErrorResponse and returned as the
// second value.
func (c *Client) Do(ctx context.Context, method, path, token string, body, out any) (int, httpx.ErrorResponse, error) {
	var reqBody io.Reader
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return 0, httpx.ErrorResponse{}, err
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, reqBody)
	if err != nil {
		return 0, httpx.ErrorResponse{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, httpx.ErrorResponse{}, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, httpx.ErrorResponse{}, err
	}

	line := fmt.Sprintf("HTTP %s %s [%s] in %v", method, path, c.statusText(resp.StatusCode), time.Since(start))
	if c.cfg.DebugJSON {
		line += fmt.Sprintf("\nREQUEST: %s\nRESPONSE: %s", raw, payload)
	}
	if c.Logf != nil {
		c.Logf("%s", line)
	}

	if resp.StatusCode >= 400 {
		var apiErr httpx.ErrorResponse
		_ = json.Unmarshal(payload, &apiErr)
		return resp.StatusCode, apiErr, nil
	}
	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return resp.StatusCode, httpx.ErrorResponse{}, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, httpx.ErrorResponse{}, nil
}

func (c *Client) CreateRoom(ctx context.Context) (httpx.RoomResponse, int, error) {
	var out httpx.RoomResponse
	status, _, err := c.Do(ctx, http.MethodPost, "/api/rooms", "", nil, &out)
	return out, status, err
}

func (c *Client) Join(ctx context.Context, roomID, token string) (httpx.JoinResponse, httpx.ErrorResponse, int, error) {
	var out httpx.JoinResponse
	status, apiErr, err := c.Do(ctx, http.MethodPost, "/api/rooms/"+roomID+"/join", token, nil, &out)
	return out, apiErr, status, err
}

func (c *Client) Post(ctx context.Context, roomID, token, sender, text string) (int, httpx.ErrorResponse, error) {
	return c.Do(ctx, http.MethodPost, "/api/rooms/"+roomID+"/messages", token,
		httpx.PostMessageRequest{Sender: sender, Text: text}, nil)
}

func (c *Client) Messages(ctx context.Context, roomID, token string) (httpx.MessagesResponse, int, error) {
	var out httpx.MessagesResponse
	status, _, err := c.Do(ctx, http.MethodGet, "/api/rooms/"+roomID+"/messages", token, nil, &out)
	return out, status, err
}

func (c *Client) TTL(ctx context.Context, roomID string) (httpx.TTLResponse, int, error) {
	var out httpx.TTLResponse
	status, _, err := c.Do(ctx, http.MethodGet, "/api/rooms/"+roomID+"/ttl", "", nil, &out)
	return out, status, err
}

func (c *Client) Destroy(ctx context.Context, roomID, token string) (int, error) {
	status, _, err := c.Do(ctx, http.MethodDelete, "/api/rooms/"+roomID, token, nil, nil)
	return status, err
}
