// Package engine calls the annotation engine that finds entity mentions in
// text and returns them as an enhancement graph.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/graph"
	"github.com/otherjamesbrown/penf-linker/pkg/logging"
)

// Annotator finds entity mentions in text.
type Annotator interface {
	Annotate(ctx context.Context, text string) (graph.Graph, error)
}

// Observer receives one call per HTTP attempt.
type Observer interface {
	ObserveEngineRequest(outcome string, duration time.Duration)
}

// Client is the HTTP annotation engine client.
type Client struct {
	url        string
	accept     string
	apiKey     string
	httpClient *http.Client
	retry      RetryPolicy
	observer   Observer
	logger     logging.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client, for timeouts and transports.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAccept sets the graph serialization requested from the engine.
func WithAccept(format string) ClientOption {
	return func(cl *Client) {
		if format != "" {
			cl.accept = format
		}
	}
}

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) ClientOption {
	return func(cl *Client) {
		cl.apiKey = key
	}
}

// WithRetryPolicy sets the retry budget.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(cl *Client) {
		cl.retry = p
	}
}

// WithObserver reports attempt outcomes, e.g. to metrics.
func WithObserver(o Observer) ClientOption {
	return func(cl *Client) {
		cl.observer = o
	}
}

// WithLogger sets the client's logger.
func WithLogger(l logging.Logger) ClientOption {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient creates a client posting to url.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:        url,
		accept:     graph.FormatRDFJSON,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		retry:      DefaultRetryPolicy(),
		logger:     logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.Component("engine_client"))
	return c
}

// Annotate posts text to the engine and decodes the returned graph. Non-200
// responses and connection failures are retried within the retry budget and
// then reported as ErrUnavailable.
func (c *Client) Annotate(ctx context.Context, text string) (graph.Graph, error) {
	if strings.TrimSpace(text) == "" {
		return graph.NewMemory(), nil
	}

	var result graph.Graph
	err := c.retry.Do(ctx, func(attempt int) error {
		g, err := c.post(ctx, text)
		if err != nil {
			c.logger.Warn("annotation attempt failed",
				logging.F("attempt", attempt), logging.F("url", c.url), logging.Err(err))
			return err
		}
		result = g
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("annotating %d bytes: %w", len(text), err)
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, text string) (graph.Graph, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBufferString(text))
	if err != nil {
		return nil, fmt.Errorf("building engine request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=UTF-8")
	req.Header.Set("Accept", c.accept)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe("error", start)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("calling engine: %v: %w", err, pferrors.ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.observe(fmt.Sprintf("%d", resp.StatusCode), start)
		return nil, fmt.Errorf("engine returned %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(body)), pferrors.ErrUnavailable)
	}

	contentType := resp.Header.Get("Content-Type")
	if !graph.Supported(contentType) {
		contentType = c.accept
	}
	g, err := graph.Decode(contentType, resp.Body)
	if err != nil {
		c.observe("malformed", start)
		return nil, err
	}
	c.observe("ok", start)
	return g, nil
}

func (c *Client) observe(outcome string, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveEngineRequest(outcome, time.Since(start))
	}
}
