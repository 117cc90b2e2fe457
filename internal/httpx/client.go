package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/bridgectl/internal/errors"
)

// DefaultBackoffUnit is multiplied by the attempt index to get the pause
// before the next attempt.
const DefaultBackoffUnit = 2 * time.Second

type RetryHook func(host string, attempt int, err error)

type Client struct {
	httpClient  *http.Client
	retries     int
	userAgent   string
	backoffUnit time.Duration
	onRetry     RetryHook
}

type Option func(*Client)

func WithBackoffUnit(unit time.Duration) Option {
	return func(c *Client) {
		if unit >= 0 {
			c.backoffUnit = unit
		}
	}
}

func WithRetryHook(hook RetryHook) Option {
	return func(c *Client) { c.onRetry = hook }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if strings.TrimSpace(ua) != "" {
			c.userAgent = ua
		}
	}
}

// New returns a client that makes at most retries+1 attempts per request.
func New(timeout time.Duration, retries int, opts ...Option) *Client {
	if retries < 0 {
		retries = 0
	}
	c := &Client{
		httpClient:  &http.Client{Timeout: timeout},
		retries:     retries,
		userAgent:   "bridgectl/1.0",
		backoffUnit: DefaultBackoffUnit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if c.onRetry != nil {
				c.onRetry(req.URL.Host, attempt, lastErr)
			}
			select {
			case <-ctx.Done():
				return nil, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(c.backoff(attempt)):
			}
		}

		header, err := c.do(ctx, req, out)
		if err == nil {
			return header, nil
		}
		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil {
			return header, err
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, clierr.New(clierr.CodeUnavailable, "request failed")
}

func (c *Client) do(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	cloneReq := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "clone request body", err)
		}
		cloneReq.Body = body
	}

	resp, err := c.httpClient.Do(cloneReq)
	if err != nil {
		return nil, mapNetError(err)
	}
	buf, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp.Header, clierr.Wrap(clierr.CodeUnavailable, "read provider response", readErr)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return resp.Header, clierr.HTTP(clierr.CodeRateLimited, resp.StatusCode, "provider rate limited request")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return resp.Header, clierr.HTTP(clierr.CodeAuth, resp.StatusCode, "provider authentication failed")
	case resp.StatusCode >= http.StatusInternalServerError:
		return resp.Header, clierr.HTTP(clierr.CodeProviderHTTP, resp.StatusCode, fmt.Sprintf("provider unavailable (status %d)", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg := fmt.Sprintf("provider returned status %d", resp.StatusCode)
		if detail := errorDetail(buf); detail != "" {
			msg += ": " + detail
		}
		return resp.Header, clierr.HTTP(clierr.CodeProviderHTTP, resp.StatusCode, msg)
	}

	if out == nil {
		return resp.Header, nil
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		return resp.Header, clierr.New(clierr.CodeUnavailable, "provider returned empty response")
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return resp.Header, clierr.Wrap(clierr.CodeInvalidRoute, "decode provider JSON", err)
	}
	return resp.Header, nil
}

func DoBodyJSON(ctx context.Context, c *Client, method, url string, body []byte, headers map[string]string, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.DoJSON(ctx, req, out)
}

// IsRetryable classifies err: 5xx, 429 and timeout/network failures are
// retried, every other provider status and local validation error is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if typed, ok := clierr.As(err); ok {
		if typed.HTTPStatus != 0 {
			return typed.HTTPStatus >= http.StatusInternalServerError || typed.HTTPStatus == http.StatusTooManyRequests
		}
		switch typed.Code {
		case clierr.CodeRateLimited:
			return true
		case clierr.CodeInvalidRoute, clierr.CodeUsage, clierr.CodeSigner, clierr.CodeUnsupportedSignatureScheme:
			return false
		}
	}
	return isNetworkMessage(err.Error())
}

var networkMarkers = []string{
	"timeout",
	"timed out",
	"network",
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"eof",
}

func isNetworkMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range networkMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func mapNetError(err error) error {
	if nerr, ok := err.(net.Error); ok {
		if nerr.Timeout() {
			return clierr.Wrap(clierr.CodeUnavailable, "provider timeout", err)
		}
	}
	return clierr.Wrap(clierr.CodeUnavailable, "provider network request failed", err)
}

func (c *Client) backoff(attempt int) time.Duration {
	return time.Duration(attempt) * c.backoffUnit
}

func errorDetail(buf []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(buf, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		return payload.Error
	}
	text := strings.TrimSpace(string(buf))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
