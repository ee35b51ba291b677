// Package upstream forwards GraphQL requests to the downstream executor
// over HTTP.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	reqid "github.com/hanpama/mutagraph/internal/reqid"
)

// RequestIDHeader carries the gateway request ID to the upstream, so a
// recorded event can be correlated with the executor's own logs.
const RequestIDHeader = "Mutagraph-Request-Id"

const defaultTimeout = 30 * time.Second

// Request is the GraphQL HTTP request body relayed downstream. Variables
// and extensions pass through as raw JSON: the gateway reads them but
// never rewrites them.
type Request struct {
	Query         string          `json:"query"`
	OperationName string          `json:"operationName,omitempty"`
	Variables     json.RawMessage `json:"variables,omitempty"`
	Extensions    json.RawMessage `json:"extensions,omitempty"`
}

// Response is the upstream's reply, kept verbatim for relaying.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Client posts GraphQL requests to one upstream endpoint.
type Client struct {
	url     string
	hc      *http.Client
	forward []string
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option    { return func(c *Client) { c.hc.Timeout = d } }
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

// WithForwardHeaders sets the allow-list of incoming request headers
// copied onto the upstream request, such as Authorization.
func WithForwardHeaders(names ...string) Option {
	return func(c *Client) { c.forward = names }
}

func New(url string, opts ...Option) *Client {
	c := &Client{url: url, hc: &http.Client{Timeout: defaultTimeout}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do posts gr to the upstream and returns the reply as-is. Allow-listed
// headers are copied over from incoming, and the request ID from ctx is
// attached under RequestIDHeader.
func (c *Client) Do(ctx context.Context, gr Request, incoming http.Header) (*Response, error) {
	body, err := json.Marshal(gr)
	if err != nil {
		return nil, fmt.Errorf("upstream: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for _, name := range c.forward {
		if vs := incoming.Values(name); len(vs) > 0 {
			req.Header[http.CanonicalHeaderKey(name)] = vs
		}
	}
	if rid, ok := reqid.FromContext(ctx); ok {
		req.Header.Set(RequestIDHeader, rid)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream: read response: %w", err)
	}
	return &Response{
		Status:      res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}
