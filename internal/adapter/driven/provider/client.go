// Package provider implements the ProviderClient port against the
// subscriber-management provider's REST API.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/radcred/internal/domain/errs"
	"github.com/ericfisherdev/radcred/internal/domain/model"
	"github.com/ericfisherdev/radcred/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ProviderClient = (*Client)(nil)

// maxErrorBody bounds how much of an error response is read for the reason text.
const maxErrorBody = 4 << 10

// Client implements the driven.ProviderClient port over HTTP.
type Client struct {
	http    *http.Client
	baseURL *url.URL
	token   string
}

// NewClient creates a provider client with the following transport stack:
//  1. httpcache (ETag-based conditional requests for subscriber and session reads)
//  2. net/http client with a per-call timeout
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	httpClient := &http.Client{
		Transport: httpcache.NewMemoryCacheTransport(),
		Timeout:   timeout,
	}
	return NewClientWithHTTPClient(httpClient, baseURL, token)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parsing base URL: %q is not absolute", baseURL)
	}
	return &Client{http: httpClient, baseURL: u, token: token}, nil
}

type subscriberJSON struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

func (s subscriberJSON) toDomain() model.RemoteSubscriber {
	return model.RemoteSubscriber{ID: s.ID, Username: s.Username, Enabled: s.Enabled, CreatedAt: s.CreatedAt}
}

type createSubscriberJSON struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	ServiceRef string `json:"service_ref,omitempty"`
	Enabled    bool   `json:"enabled"`
}

type updatePasswordJSON struct {
	Password string `json:"password"`
}

type sessionJSON struct {
	SessionID       string     `json:"session_id"`
	StartTime       time.Time  `json:"start_time"`
	StopTime        *time.Time `json:"stop_time"`
	SessionTime     int64      `json:"session_time"`
	TerminateCause  string     `json:"terminate_cause"`
	FramedIPAddress string     `json:"framed_ip_address"`
	InputOctets     int64      `json:"input_octets"`
	OutputOctets    int64      `json:"output_octets"`
}

func (s sessionJSON) toDomain() model.SessionRecord {
	return model.SessionRecord{
		SessionID:       s.SessionID,
		StartedAt:       s.StartTime,
		StoppedAt:       s.StopTime,
		DurationSeconds: s.SessionTime,
		TerminateCause:  strings.TrimSpace(s.TerminateCause),
		FramedAddress:   s.FramedIPAddress,
		InputOctets:     s.InputOctets,
		OutputOctets:    s.OutputOctets,
	}
}

// CreateSubscriber creates an enabled remote subscriber.
func (c *Client) CreateSubscriber(ctx context.Context, params model.SubscriberParams) (model.RemoteSubscriber, error) {
	const op = "create subscriber"

	body := createSubscriberJSON{
		Username:   params.Username,
		Password:   params.Secret,
		ServiceRef: params.ServiceRef,
		Enabled:    true,
	}

	var out subscriberJSON
	err := c.do(ctx, call{op: op, method: http.MethodPost, path: "/api/v1/subscribers", in: body, out: &out, redact: params.Secret})
	if err != nil {
		return model.RemoteSubscriber{}, err
	}
	if out.ID == "" {
		return model.RemoteSubscriber{}, errs.NewTransientError(op, fmt.Errorf("response has no subscriber id"))
	}
	return out.toDomain(), nil
}

// FindSubscriberByUsername looks the subscriber up by exact username. The
// lookup always revalidates with the provider so a cached miss cannot cause a
// duplicate create.
func (c *Client) FindSubscriberByUsername(ctx context.Context, username string) (*model.RemoteSubscriber, error) {
	const op = "find subscriber"

	var out []subscriberJSON
	query := url.Values{"username": {username}}
	err := c.do(ctx, call{op: op, method: http.MethodGet, path: "/api/v1/subscribers", query: query, out: &out, revalidate: true})
	if errs.IsRemoteNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	for _, s := range out {
		if s.Username == username && s.ID != "" {
			sub := s.toDomain()
			return &sub, nil
		}
	}
	return nil, nil
}

// GetSubscriber returns the current remote subscriber record.
func (c *Client) GetSubscriber(ctx context.Context, remoteID string) (model.RemoteSubscriber, error) {
	var out subscriberJSON
	err := c.do(ctx, call{op: "get subscriber", method: http.MethodGet, path: subscriberPath(remoteID), out: &out, revalidate: true})
	if errs.IsRemoteNotFound(err) {
		return model.RemoteSubscriber{}, errs.NewNotFoundError(errs.ResourceSubscriber, remoteID)
	}
	if err != nil {
		return model.RemoteSubscriber{}, err
	}
	return out.toDomain(), nil
}

// UpdateSubscriberSecret replaces the password of an existing subscriber.
func (c *Client) UpdateSubscriberSecret(ctx context.Context, remoteID, secret string) error {
	err := c.do(ctx, call{
		op:     "update subscriber secret",
		method: http.MethodPut,
		path:   subscriberPath(remoteID) + "/password",
		in:     updatePasswordJSON{Password: secret},
		redact: secret,
	})
	if errs.IsRemoteNotFound(err) {
		return errs.NewNotFoundError(errs.ResourceSubscriber, remoteID)
	}
	return err
}

// DeleteSubscriber removes the remote subscriber.
func (c *Client) DeleteSubscriber(ctx context.Context, remoteID string) error {
	err := c.do(ctx, call{op: "delete subscriber", method: http.MethodDelete, path: subscriberPath(remoteID)})
	if errs.IsRemoteNotFound(err) {
		return errs.NewNotFoundError(errs.ResourceSubscriber, remoteID)
	}
	return err
}

// ListSessions returns the accounting records of sessions started within window.
func (c *Client) ListSessions(ctx context.Context, remoteID string, window model.SessionWindow) ([]model.SessionRecord, error) {
	query := url.Values{
		"from": {window.From.UTC().Format(time.RFC3339)},
		"to":   {window.To.UTC().Format(time.RFC3339)},
	}

	var out []sessionJSON
	err := c.do(ctx, call{op: "list sessions", method: http.MethodGet, path: subscriberPath(remoteID) + "/sessions", query: query, out: &out})
	if errs.IsRemoteNotFound(err) {
		return nil, errs.NewNotFoundError(errs.ResourceSubscriber, remoteID)
	}
	if err != nil {
		return nil, err
	}

	records := make([]model.SessionRecord, 0, len(out))
	for _, s := range out {
		records = append(records, s.toDomain())
	}
	return records, nil
}

func subscriberPath(remoteID string) string {
	return "/api/v1/subscribers/" + url.PathEscape(remoteID)
}

// call describes one provider request.
type call struct {
	op     string
	method string
	path   string
	query  url.Values
	in     any
	// out receives the decoded body; nil discards it.
	out any
	// revalidate forces the cache layer to check with the provider before
	// serving a stored response.
	revalidate bool
	// redact is removed from any error text the provider echoes back.
	redact string
}

// do performs one request and maps the outcome into the errs taxonomy.
func (c *Client) do(ctx context.Context, rc call) error {
	// rc.path is already escaped.
	ref, err := url.Parse(c.baseURL.EscapedPath() + rc.path)
	if err != nil {
		return fmt.Errorf("%s: build path: %w", rc.op, err)
	}
	u := *c.baseURL
	u.Path, u.RawPath = ref.Path, ref.RawPath
	if rc.query != nil {
		u.RawQuery = rc.query.Encode()
	}

	var body io.Reader
	if rc.in != nil {
		b, err := json.Marshal(rc.in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", rc.op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, rc.method, u.String(), body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", rc.op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if rc.in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if rc.revalidate {
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.NewTransientError(rc.op, err)
	}
	defer resp.Body.Close()

	if resp.Header.Get(httpcache.XFromCache) != "" {
		slog.Debug("provider: served from cache", "operation", rc.op, "status", resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(rc.op, resp, rc.redact)
	}

	if rc.out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(rc.out); err != nil {
		// A truncated or garbled body leaves the outcome unknown.
		return errs.NewTransientError(rc.op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// classify maps a non-2xx response to the error taxonomy.
func classify(op string, resp *http.Response, redact string) error {
	reason := readReason(resp.Body)
	if redact != "" {
		reason = strings.ReplaceAll(reason, redact, "[redacted]")
	}

	switch code := resp.StatusCode; {
	case code == http.StatusNotFound:
		return errs.NewNotFoundError(errs.ResourceSubscriber, "")
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errs.NewUnauthorizedError(op, code, nil)
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return errs.NewTransientError(op, fmt.Errorf("HTTP %d: %s", code, reason))
	default:
		return errs.NewRejectedError(op, code, reason)
	}
}

type errorJSON struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func readReason(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var e errorJSON
	if json.Unmarshal(raw, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
