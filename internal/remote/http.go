package remote

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

	"github.com/roach88/shopsync/internal/fault"
	"github.com/roach88/shopsync/internal/ir"
)

// IdempotencyKeyHeader carries the queued operation's key on writes.
const IdempotencyKeyHeader = "Idempotency-Key"

// HTTPOptions configures an HTTPClient.
type HTTPOptions struct {
	// BaseURL is the REST root, e.g. https://api.example.com/v1.
	BaseURL string

	// ProbeURL is the liveness endpoint. Defaults to BaseURL.
	ProbeURL string

	// Timeout bounds each request. Defaults to 10s.
	Timeout time.Duration

	// Header is added to every request (API keys, tenant ids).
	Header http.Header

	// HTTPClient overrides the transport.
	HTTPClient *http.Client
}

// HTTPClient talks to a REST server of record:
//
//	POST   /{type}        create
//	PUT    /{type}/{id}   update
//	DELETE /{type}/{id}   delete
//	GET    /{type}        fetch collection
//	GET    /{type}/{id}   fetch one
//	HEAD   {probe}        liveness
type HTTPClient struct {
	base   *url.URL
	probe  string
	header http.Header
	client *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient validates opts and builds a client.
func NewHTTPClient(opts HTTPOptions) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid remote base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid remote base URL %q: scheme must be http or https", opts.BaseURL)
	}

	c := &HTTPClient{
		base:   base,
		probe:  opts.ProbeURL,
		header: opts.Header,
		client: opts.HTTPClient,
	}
	if c.probe == "" {
		c.probe = base.String()
	}
	if c.client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		c.client = &http.Client{Timeout: timeout}
	}
	return c, nil
}

func (c *HTTPClient) Create(ctx context.Context, e ir.Entity, idempotencyKey string) error {
	_, err := c.do(ctx, "remote.create", http.MethodPost, c.path(e.Type), e.Data, idempotencyKey)
	return withEntity(err, e.Type, e.ID)
}

func (c *HTTPClient) Update(ctx context.Context, e ir.Entity, idempotencyKey string) error {
	_, err := c.do(ctx, "remote.update", http.MethodPut, c.path(e.Type, e.ID), e.Data, idempotencyKey)
	return withEntity(err, e.Type, e.ID)
}

func (c *HTTPClient) Delete(ctx context.Context, t ir.EntityType, id string, idempotencyKey string) error {
	_, err := c.do(ctx, "remote.delete", http.MethodDelete, c.path(t, id), nil, idempotencyKey)
	return withEntity(err, t, id)
}

// Fetch returns the entity with the given id, or every entity of the type
// when key is "all". The collection endpoint returns a JSON array of
// objects, each carrying an "id" field.
func (c *HTTPClient) Fetch(ctx context.Context, t ir.EntityType, key string) ([]ir.Entity, error) {
	all := key == "all"
	p := c.path(t)
	if !all {
		p = c.path(t, key)
	}

	body, err := c.do(ctx, "remote.fetch", http.MethodGet, p, nil, "")
	if err != nil {
		return nil, withEntity(err, t, key)
	}

	var docs []json.RawMessage
	if all {
		if err := json.Unmarshal(body, &docs); err != nil {
			return nil, fault.Rejection("remote.fetch", fmt.Errorf("decode collection: %w", err)).For(string(t), key)
		}
	} else {
		docs = []json.RawMessage{body}
	}

	out := make([]ir.Entity, 0, len(docs))
	for _, doc := range docs {
		var head struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(doc, &head); err != nil {
			return nil, fault.Rejection("remote.fetch", fmt.Errorf("decode entity: %w", err)).For(string(t), key)
		}
		id, err := decodeID(head.ID)
		if err != nil {
			return nil, fault.Rejection("remote.fetch", err).For(string(t), key)
		}
		if id == "" && !all {
			id = key
		}
		e, err := ir.Entity{Type: t, ID: id, Data: doc}.Canonical()
		if err != nil {
			return nil, fault.Rejection("remote.fetch", err).For(string(t), key)
		}
		out = append(out, e)
	}
	return out, nil
}

// decodeID reads an entity id that the server may send as a JSON string
// or a number. A missing or null id decodes to "".
func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("decode entity id %s: must be a string or number", raw)
	}
	return n.String(), nil
}

// Probe issues a HEAD against the probe URL. Any response below 500 proves
// the server is reachable.
func (c *HTTPClient) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.probe, nil)
	if err != nil {
		return fault.Connectivity("remote.probe", err)
	}
	c.decorate(req, "")

	resp, err := c.client.Do(req)
	if err != nil {
		return fault.Connectivity("remote.probe", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fault.Connectivity("remote.probe", fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

func (c *HTTPClient) path(t ir.EntityType, id ...string) string {
	u := c.base.JoinPath(append([]string{string(t)}, id...)...)
	return u.String()
}

func (c *HTTPClient) decorate(req *http.Request, idempotencyKey string) {
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyKeyHeader, idempotencyKey)
	}
}

func (c *HTTPClient) do(ctx context.Context, op, method, target string, body []byte, idempotencyKey string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fault.Rejection(op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.decorate(req, idempotencyKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fault.Connectivity(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fault.Connectivity(op, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, Classify(op, resp.StatusCode, data)
}

// Classify maps a non-2xx status to a fault. Timeouts, throttling and
// gateway errors mean the server could not process the request at all;
// every other status is a refusal.
func Classify(op string, status int, body []byte) *fault.Fault {
	err := &StatusError{Code: status, Body: strings.TrimSpace(string(body))}
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return fault.Connectivity(op, err)
	default:
		return fault.Rejection(op, err)
	}
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	const max = 200
	body := e.Body
	if len(body) > max {
		body = body[:max] + "..."
	}
	return fmt.Sprintf("status %d: %s", e.Code, body)
}

func withEntity(err error, t ir.EntityType, id string) error {
	var f *fault.Fault
	if errors.As(err, &f) {
		return f.For(string(t), id)
	}
	return err
}
