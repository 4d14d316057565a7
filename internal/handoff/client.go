package handoff

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openscreen/voicecall/internal/transcript"
)

// Payload is the final transcript hand-off body sent once at session end.
type Payload struct {
	SessionID     string               `json:"sessionId"`
	CallContextID string               `json:"callContextId"`
	Transcript    []transcript.Message `json:"transcript"`
}

// Client delivers the complete transcript to the external storage endpoint.
// Delivery is fire-and-forget from the engine's perspective: callers log and
// swallow failures.
type Client struct {
	HTTPClient *http.Client
	Endpoint   string
}

func NewClient(endpoint string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Endpoint:   endpoint,
	}
}

func (c *Client) Deliver(ctx context.Context, p Payload) error {
	if c.Endpoint == "" {
		return fmt.Errorf("transcript endpoint not configured")
	}
	body, _ := json.Marshal(p)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("transcript endpoint: status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
