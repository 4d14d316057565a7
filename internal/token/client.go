package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Credential is a short-lived, single-use stream credential. It must be
// re-requested on every connect or retry.
type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Request identifies the session asking for a credential.
type Request struct {
	SessionID     string `json:"sessionId"`
	CallContextID string `json:"callContextId"`
	Persona       string `json:"persona,omitempty"`
}

// StatusError reports a non-2xx response from the credential endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("token endpoint: status=%d body=%s", e.Code, e.Body)
}

// HTTPStatus lets the error classifier distinguish endpoint rejections from
// transport failures.
func (e *StatusError) HTTPStatus() int { return e.Code }

type Client struct {
	HTTPClient *http.Client
	Endpoint   string
}

func NewClient(endpoint string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Endpoint:   endpoint,
	}
}

// Fetch requests a fresh credential for the session.
func (c *Client) Fetch(ctx context.Context, r Request) (Credential, error) {
	if c.Endpoint == "" {
		return Credential{}, fmt.Errorf("token endpoint not configured")
	}
	body, _ := json.Marshal(r)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Credential{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Credential{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Credential{}, &StatusError{Code: resp.StatusCode, Body: string(b)}
	}
	var cred Credential
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return Credential{}, fmt.Errorf("token endpoint: decode response: %w", err)
	}
	if cred.Token == "" {
		return Credential{}, fmt.Errorf("token endpoint: empty credential")
	}
	return cred, nil
}
