// Package kayako files support cases, resolves requesters and lists help
// center articles through the Kayako REST API.
package kayako

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/ema-support/core/ticketing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var priorityIDs = map[string]int{"low": 1, "normal": 2, "high": 3, "urgent": 4}

var typeIDs = map[string]int{
	"question":        1,
	"task":            2,
	"problem":         3,
	"incident":        4,
	"technical":       6,
	"service_request": 7,
}

const (
	defaultPriorityID = 2
	defaultTypeID     = 1
	mailChannelID     = 1
)

type Client struct {
	baseURL     string
	email       string
	password    string
	requesterID int
	httpClient  *http.Client

	mu sync.Mutex
	// uncertain holds the call tags of case creations whose outcome was lost.
	uncertain map[string]struct{}
}

type Option func(*Client)

// WithRequesterID sets the requester cases are filed under when the caller
// left no email.
func WithRequesterID(id int) Option {
	return func(c *Client) { c.requesterID = id }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func New(baseURL, email, password string, opts ...Option) *Client {
	client := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		email:    email,
		password: password,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   15 * time.Second,
		},
		uncertain: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type caseRequest struct {
	Subject        string         `json:"subject"`
	Contents       string         `json:"contents"`
	Channel        string         `json:"channel"`
	ChannelID      int            `json:"channel_id"`
	TypeID         int            `json:"type_id"`
	PriorityID     int            `json:"priority_id"`
	RequesterID    int            `json:"requester_id,omitempty"`
	Tags           string         `json:"tags,omitempty"`
	ChannelOptions channelOptions `json:"channel_options"`
}

type channelOptions struct {
	HTML bool `json:"html"`
}

type caseResponse struct {
	Status int `json:"status"`
	Data   struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

// CreateTicket files payload as a case. Every case carries a call:<id> tag.
// When an earlier attempt for the same call failed after the request was
// sent, the tag is searched first so a retry does not file the call twice.
func (c *Client) CreateTicket(ctx context.Context, payload ticketing.Payload) (caseID string, err error) {
	ctx, span := tracer.Start(ctx, "kayako.create_case", trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	tag := callTag(payload.CallID)
	if tag != "" && c.isUncertain(tag) {
		caseID, err = c.findCase(ctx, tag)
		if err != nil {
			return "", err
		}
		if caseID != "" {
			c.settle(tag)
			logger.InfoContext(ctx, "found case filed by an earlier attempt", "call_id", payload.CallID, "case_id", caseID)
			return caseID, nil
		}
	}

	requesterID, err := c.requester(ctx, payload.Requester)
	if err != nil {
		return "", err
	}

	tags := slices.Clone(payload.Tags)
	header := http.Header{}
	if tag != "" {
		if !slices.Contains(tags, tag) {
			tags = append(tags, tag)
		}
		header.Set("Idempotency-Key", tag)
	}
	body := caseRequest{
		Subject:     payload.Subject,
		Contents:    payload.Contents,
		Channel:     "MAIL",
		ChannelID:   mailChannelID,
		TypeID:      lookup(typeIDs, payload.Type, defaultTypeID),
		PriorityID:  lookup(priorityIDs, payload.Priority, defaultPriorityID),
		RequesterID: requesterID,
		Tags:        strings.Join(tags, ","),
	}

	if tag != "" {
		c.markUncertain(tag)
	}
	var decoded caseResponse
	if err := c.do(ctx, request{method: http.MethodPost, path: "/cases", header: header, body: body}, &decoded); err != nil {
		if !errors.Is(err, ticketing.ErrUnavailable) {
			c.settle(tag)
		}
		return "", fmt.Errorf("case creation failed: %w", err)
	}
	c.settle(tag)

	if decoded.Data.ID == "" {
		return "", fmt.Errorf("case response carried no id")
	}
	return decoded.Data.ID.String(), nil
}

type searchResponse struct {
	Data []struct {
		ID       json.Number `json:"id"`
		Resource string      `json:"resource"`
	} `json:"data"`
}

// findCase returns the id of a case tagged with tag, or "" when there is none.
func (c *Client) findCase(ctx context.Context, tag string) (string, error) {
	var found searchResponse
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/search",
		query:  url.Values{"query": {tag}, "resources": {"CASES"}},
	}, &found)
	if err != nil {
		return "", fmt.Errorf("failed to look up earlier case: %w", err)
	}
	for _, item := range found.Data {
		if item.ID != "" && (item.Resource == "" || strings.EqualFold(item.Resource, "case")) {
			return item.ID.String(), nil
		}
	}
	return "", nil
}

func (c *Client) isUncertain(tag string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.uncertain[tag]
	return ok
}

func (c *Client) markUncertain(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uncertain[tag] = struct{}{}
}

func (c *Client) settle(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.uncertain, tag)
}

func callTag(callID string) string {
	if callID == "" {
		return ""
	}
	return "call:" + callID
}

type request struct {
	method string
	path   string
	query  url.Values
	header http.Header
	body   any
}

// do sends r and decodes a successful response into out. Transport errors,
// rate limiting and server errors are ticketing.ErrUnavailable.
func (c *Client) do(ctx context.Context, r request, out any) error {
	var reader io.Reader
	if r.body != nil {
		encoded, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	for key, values := range r.header {
		req.Header[key] = values
	}
	req.SetBasicAuth(c.email, c.password)
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ticketing.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s %s: status %d", ticketing.ErrUnavailable, r.method, r.path, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s rejected: status %d: %s", r.method, r.path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", r.path, err)
	}
	return nil
}

func lookup(ids map[string]int, name string, fallback int) int {
	if id, ok := ids[name]; ok {
		return id
	}
	if id, err := strconv.Atoi(name); err == nil {
		return id
	}
	return fallback
}
