// Package httpstore implements engine.RemoteStore against the canvas item API.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"freecanvas/internal/engine"
	"freecanvas/internal/model"
)

// StatusError is a non-2xx answer from the API. It wraps engine.ErrRemoteRejected.
type StatusError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api returned %d", e.Status)
	}
	return fmt.Sprintf("api returned %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	return engine.ErrRemoteRejected
}

type listResponse struct {
	Items []model.CanvasItem `json:"items"`
	Total int                `json:"total"`
}

type errorResponse struct {
	RequestID string `json:"request_id"`
	Error     struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to the API over HTTP.
type Client struct {
	base *url.URL
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying client. Its transport is used as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base: u,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ engine.RemoteStore = (*Client)(nil)

func (c *Client) List(ctx context.Context, cred engine.Credential) ([]model.CanvasItem, error) {
	var out listResponse
	if err := c.do(ctx, cred, http.MethodGet, "/items", nil, &out); err != nil {
		return nil, err
	}
	if out.Items == nil {
		out.Items = []model.CanvasItem{}
	}
	return out.Items, nil
}

func (c *Client) Create(ctx context.Context, cred engine.Credential, item model.CanvasItem) (*model.CanvasItem, error) {
	var out model.CanvasItem
	if err := c.do(ctx, cred, http.MethodPost, "/items", item, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Update(ctx context.Context, cred engine.Credential, id string, patch model.Patch) (*model.CanvasItem, error) {
	var out model.CanvasItem
	if err := c.do(ctx, cred, http.MethodPatch, "/items/"+url.PathEscape(id), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Delete(ctx context.Context, cred engine.Credential, id string) error {
	return c.do(ctx, cred, http.MethodDelete, "/items/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, cred engine.Credential, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %w", engine.ErrRemoteRejected, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", engine.ErrNetworkFailure, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred != "" {
		req.Header.Set("Authorization", "Bearer "+string(cred))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", engine.ErrNetworkFailure, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s response: %w", engine.ErrNetworkFailure, method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	se := &StatusError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload errorResponse
	if json.Unmarshal(data, &payload) == nil {
		se.Code = payload.Error.Code
		se.Message = payload.Error.Message
		se.RequestID = payload.RequestID
	}
	return se
}
