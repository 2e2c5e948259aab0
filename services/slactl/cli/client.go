package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"civic-complaint-system/pkg/middleware"
	"civic-complaint-system/pkg/response"

	"github.com/google/uuid"
)

// Client calls the complaint-service HTTP API.
// Every request of one Client shares a trace id so a whole slactl run can be
// followed in the service logs.
type Client struct {
	baseURL string
	token   string
	traceID string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		traceID: uuid.NewString(),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type envelope struct {
	response.APIResponse
	Data json.RawMessage `json:"data,omitempty"`
}

// do sends a request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	middleware.PropagateTraceID(req, c.traceID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode >= 300 {
		msg := env.Message
		if env.Error != "" {
			msg += ": " + env.Error
		}
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
