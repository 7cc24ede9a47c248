// Package client talks to the todo API and keeps an optimistic local copy of
// the caller's list in sync with it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cebarrett/todo/internal/search"
	"github.com/cebarrett/todo/internal/todo"
)

type Kind int

const (
	KindInternal Kind = iota
	KindAuth
	KindInvalid
	KindNotFound
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not found"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is a failed API call. Status is zero when the request never got a response.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the failure kind of err; anything that is not an *Error is internal.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway ||
		status == http.StatusGatewayTimeout || status == http.StatusTooManyRequests:
		return KindUnavailable
	case status >= 400 && status < 500:
		return KindInvalid
	default:
		return KindInternal
	}
}

type Options struct {
	// Timeout bounds each attempt. Default 10s.
	Timeout time.Duration
	// Attempts is the total number of tries for retryable failures. Default 3.
	Attempts int
	// Backoff is the first retry delay; it doubles per attempt. Default 200ms.
	Backoff    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	timeout  time.Duration
	attempts int
	backoff  time.Duration
	sleep    func(context.Context, time.Duration) error
}

func New(baseURL, token string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		http:     httpClient,
		timeout:  opts.Timeout,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		sleep:    sleepContext,
	}
}

type UpdateRequest struct {
	Text      *string `json:"text,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

type itemsResponse struct {
	Items []todo.Item `json:"items"`
}

func (c *Client) List(ctx context.Context) ([]todo.Item, error) {
	var out itemsResponse
	if err := c.do(ctx, http.MethodGet, "/api/todos", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Create adds an item. The idempotency key makes retries of the same create safe.
func (c *Client) Create(ctx context.Context, text, idempotencyKey string) (todo.Item, error) {
	var headers map[string]string
	if idempotencyKey != "" {
		headers = map[string]string{"Idempotency-Key": idempotencyKey}
	}
	var out todo.Item
	err := c.do(ctx, http.MethodPost, "/api/todos", map[string]string{"text": text}, headers, &out)
	return out, err
}

func (c *Client) Update(ctx context.Context, id string, req UpdateRequest) (todo.Item, error) {
	var out todo.Item
	err := c.do(ctx, http.MethodPatch, "/api/todos/"+url.PathEscape(id), req, nil, &out)
	return out, err
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/todos/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) Reorder(ctx context.Context, ids []string) ([]todo.Item, error) {
	var out itemsResponse
	if err := c.do(ctx, http.MethodPut, "/api/todos/order", map[string][]string{"ids": ids}, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) Search(ctx context.Context, query string, limit int) (search.Response, error) {
	params := url.Values{"q": {query}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var out search.Response
	err := c.do(ctx, http.MethodGet, "/api/todos/search?"+params.Encode(), nil, nil, &out)
	return out, err
}

// do sends one logical request. Unavailable answers and transport failures are
// retried with exponential backoff; every other failure returns at once.
func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return &Error{Kind: KindInternal, Message: "encode request", Err: err}
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff<<(attempt-1)); err != nil {
				return &Error{Kind: KindUnavailable, Message: "request cancelled", Err: err}
			}
		}
		lastErr = c.attempt(ctx, method, path, payload, headers, out)
		if lastErr == nil || KindOf(lastErr) != KindUnavailable {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, headers map[string]string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindInternal, Message: "build request", Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindUnavailable, Message: "server unreachable", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &Error{Kind: KindUnavailable, Status: resp.StatusCode, Message: "read response", Err: err}
	}
	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Kind: KindInternal, Status: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

func decodeError(status int, data []byte) error {
	var body struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	_ = json.Unmarshal(data, &body)
	if body.Error == "" {
		body.Error = http.StatusText(status)
	}
	return &Error{Kind: kindForStatus(status), Status: status, Code: body.Code, Message: body.Error}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
