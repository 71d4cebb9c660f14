package e2etesting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Envelope mirrors the JSON body every API response uses.
type Envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Kind    string            `json:"kind"`
	Data    json.RawMessage   `json:"data"`
	Details map[string]any    `json:"details"`
	Errors  map[string]string `json:"errors"`
}

type Response struct {
	*http.Response
	Body []byte
}

func (r *Response) Envelope(t *testing.T) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(r.Body, &env), "response is not an envelope: %s", r.Body)
	return env
}

// Data decodes the envelope's data field into v.
func (r *Response) Data(t *testing.T, v any) {
	t.Helper()
	env := r.Envelope(t)
	require.NotEmpty(t, env.Data, "response has no data: %s", r.Body)
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func (r *Response) AssertStatus(t *testing.T, expected int) {
	t.Helper()
	require.Equal(t, expected, r.StatusCode, "unexpected status code. Response: %s", r.Body)
}

// AssertError checks both the status and the error kind.
func (r *Response) AssertError(t *testing.T, status int, kind string) {
	t.Helper()
	r.AssertStatus(t, status)
	env := r.Envelope(t)
	require.False(t, env.Success)
	require.Equal(t, kind, env.Kind, "unexpected error kind. Response: %s", r.Body)
}

type RequestOptions struct {
	Method  string
	Path    string
	Body    any
	Bearer  string
	Headers map[string]string
}

type HTTPClient struct {
	Client    *http.Client
	BaseURL   string
	UserAgent string
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		Client:    &http.Client{Timeout: 30 * time.Second},
		BaseURL:   baseURL,
		UserAgent: "Fintrac/2.1 (iPhone; iOS 17.2)",
	}
}

func (c *HTTPClient) Get(path, bearer string) (*Response, error) {
	return c.Request(&RequestOptions{Method: http.MethodGet, Path: path, Bearer: bearer})
}

func (c *HTTPClient) Post(path string, body any) (*Response, error) {
	return c.Request(&RequestOptions{Method: http.MethodPost, Path: path, Body: body})
}

func (c *HTTPClient) Delete(path, bearer string) (*Response, error) {
	return c.Request(&RequestOptions{Method: http.MethodDelete, Path: path, Bearer: bearer})
}

func (c *HTTPClient) Request(opts *RequestOptions) (*Response, error) {
	var body io.Reader
	if opts.Body != nil {
		raw, ok := opts.Body.(string)
		if !ok {
			encoded, err := json.Marshal(opts.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			raw = string(encoded)
		}
		body = bytes.NewReader([]byte(raw))
	}

	req, err := http.NewRequest(opts.Method, c.BaseURL+opts.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if opts.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+opts.Bearer)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{Response: resp, Body: data}, nil
}
