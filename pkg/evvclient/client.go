// Package evvclient is the HTTP client caregiver devices use to submit clock
// events and push offline changes.
//
// Every call runs under an explicit timeout. A request that never reaches the
// server, or whose answer never arrives, fails with ErrOffline so the device
// can queue the event for sync. ErrOffline is never returned for a response
// the server actually sent; those are *APIError.
package evvclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTimeout = 10 * time.Second
	maxErrorBody   = 64 << 10
)

// ErrOffline reports that the server could not be reached in time.
var ErrOffline = errors.New("evv server unreachable")

// APIError is a response the server sent with a non-2xx status.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("evv api %d %s: %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("evv api %d %s", e.StatusCode, e.Code)
}

// Retryable reports whether the server asked the device to try again later,
// as opposed to rejecting the event.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusServiceUnavailable || e.StatusCode == http.StatusGatewayTimeout
}

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	timeout    time.Duration
	token      func(ctx context.Context) (string, error)
	deviceID   string
	userAgent  string
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithTimeout bounds each call, including reading the response.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

func WithToken(token string) Option {
	return func(cl *Client) {
		cl.token = func(context.Context) (string, error) { return token, nil }
	}
}

// WithTokenSource fetches a fresh bearer token per call.
func WithTokenSource(fn func(ctx context.Context) (string, error)) Option {
	return func(cl *Client) {
		cl.token = fn
	}
}

func WithDeviceID(deviceID string) Option {
	return func(cl *Client) {
		cl.deviceID = deviceID
	}
}

func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid evv base url %q", baseURL)
	}
	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ClockIn records arrival for a visit.
func (c *Client) ClockIn(ctx context.Context, visitID string, req ClockInRequest) (*ClockResponse, error) {
	var out ClockResponse
	if err := c.do(ctx, http.MethodPost, "/visits/"+url.PathEscape(visitID)+"/clock-in", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClockOut records departure for a visit that is already clocked in.
func (c *Client) ClockOut(ctx context.Context, visitID string, req ClockOutRequest) (*ClockResponse, error) {
	var out ClockResponse
	if err := c.do(ctx, http.MethodPost, "/visits/"+url.PathEscape(visitID)+"/clock-out", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetRecord(ctx context.Context, recordID string) (*Record, error) {
	var out Record
	if err := c.do(ctx, http.MethodGet, "/evv-records/"+url.PathEscape(recordID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordDocument returns the full record as the server renders it. Sent back
// as the fields of an evv_record sync record, it is the device's copy.
func (c *Client) RecordDocument(ctx context.Context, recordID string) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/evv-records/"+url.PathEscape(recordID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Reconcile pushes queued offline changes for this device.
func (c *Client) Reconcile(ctx context.Context, records []SyncRecord) (*SyncReport, error) {
	if c.deviceID == "" {
		return nil, errors.New("device id is required to reconcile")
	}
	var out SyncReport
	body := struct {
		Records []SyncRecord `json:"records"`
	}{Records: records}
	if err := c.do(ctx, http.MethodPost, "/sync/"+url.PathEscape(c.deviceID)+"/reconcile", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("fetch token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return offline(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 0 {
		return offline(errors.New("empty response status"))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil {
			return offline(err)
		}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A body cut off by the deadline is still an unreachable server.
		if ctx.Err() != nil {
			return offline(ctx.Err())
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func offline(cause error) error {
	return fmt.Errorf("%w: %w", ErrOffline, cause)
}
