package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 64 << 10

// httpClient holds what the HTTP-based processors share: a base URL, the
// client, and a hook that authenticates each request.
type httpClient struct {
	processor string
	baseURL   string
	client    *http.Client
	auth      func(ctx context.Context, req *http.Request) error
}

type request struct {
	op          string
	method      string
	path        string
	body        io.Reader
	contentType string
	headers     map[string]string
}

// do sends the request and decodes a 2xx JSON response into out. Any other
// outcome is returned as a *ProviderError.
func (c *httpClient) do(ctx context.Context, r request, out any) error {
	req, err := http.NewRequestWithContext(ctx, r.method, strings.TrimRight(c.baseURL, "/")+r.path, r.body)
	if err != nil {
		return &ProviderError{Kind: KindValidation, Processor: c.processor, Op: r.op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	for k, v := range r.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	if c.auth != nil {
		if err := c.auth(ctx, req); err != nil {
			return err
		}
	}

	return c.send(req, r.op, out)
}

// send executes a prepared request.
func (c *httpClient) send(req *http.Request, op string, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return &ProviderError{Kind: KindNetwork, Processor: c.processor, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ProviderError{
			Kind:       kindForStatus(resp.StatusCode),
			Processor:  c.processor,
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{
			Kind:       KindUnknown,
			Processor:  c.processor,
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    "failed to decode response",
			Err:        err,
		}
	}
	return nil
}

// jsonBody encodes v for a JSON request.
func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return bytes.NewReader(b), nil
}

// errorMessage pulls a human-readable message out of a processor error body.
// Processors disagree on the shape, so several are tried.
func errorMessage(body []byte) string {
	var shaped struct {
		Message          string          `json:"message"`
		ErrorDescription string          `json:"error_description"`
		Error            json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &shaped); err == nil {
		if len(shaped.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(shaped.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
			var s string
			if json.Unmarshal(shaped.Error, &s) == nil && s != "" {
				if shaped.ErrorDescription != "" {
					return s + ": " + shaped.ErrorDescription
				}
				return s
			}
		}
		if shaped.Message != "" {
			return shaped.Message
		}
		if shaped.ErrorDescription != "" {
			return shaped.ErrorDescription
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
