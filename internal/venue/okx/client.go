// Package okx implements the venue adapter for OKX perpetual swaps over the
// v5 REST API. OKX orders carry a posSide + margin-mode (tdMode) pair; sizes
// are denominated in contracts, converted from coins at this boundary.
package okx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/fundarb/internal/crypto"
)

// DefaultBaseURL is the production OKX API root.
const DefaultBaseURL = "https://www.okx.com"

// Client is the signed REST client for the OKX v5 API.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
	simulated  bool
}

// NewClient creates an OKX REST client. baseURL may be empty to use the
// production endpoint; tests point it at a fake server.
func NewClient(baseURL, apiKey, secretKey, passphrase string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		auth: &crypto.HMACAuth{
			Key:        apiKey,
			Secret:     secretKey,
			Passphrase: passphrase,
		},
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Simulated routes all requests to the OKX demo-trading environment.
func (c *Client) Simulated() *Client {
	c.simulated = true
	return c
}

// apiResponse is the uniform OKX envelope: code "0" means success, anything
// else is an application-level error with its own code and message.
type apiResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// apiError is an OKX application-level error, preserved so callers can
// classify venue-specific codes.
type apiError struct {
	Code string
	Msg  string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("okx api error %s: %s", e.Code, e.Msg)
}

// do issues a signed request and decodes the data array of the envelope into
// out. path must include the query string, since it is part of the signature.
func (c *Client) do(ctx context.Context, method, path string, reqBody, out any) error {
	var bodyStr string
	var bodyReader io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("okx: marshal request: %w", err)
		}
		bodyStr = string(raw)
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("okx: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.auth.OKXHeaders(method, path, bodyStr) {
		req.Header.Set(k, v)
	}
	if c.simulated {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("okx: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("okx: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("okx: %s %s: unexpected status %d: %s", method, path, resp.StatusCode, string(raw))
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("okx: decode envelope: %w", err)
	}
	if envelope.Code != "0" {
		return &apiError{Code: envelope.Code, Msg: envelope.Msg}
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("okx: decode data: %w", err)
		}
	}
	return nil
}

// get issues a signed GET with query parameters.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil, out)
}
