package sparql

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/logger"
	"github.com/coolbeans/timeagnostic/pkg/query"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

const (
	// DefaultHTTPTimeout bounds a single request to a remote endpoint.
	DefaultHTTPTimeout = 60 * time.Second
	// DefaultRetryMax is the number of retries after a failed request.
	DefaultRetryMax = 3

	resultsMediaType = "application/sparql-results+json"
)

// HTTPClient queries a SPARQL 1.1 protocol endpoint. Requests are POSTed
// as url-encoded forms and retried on connection errors and 5xx answers.
type HTTPClient struct {
	endpoint string
	client   *retryablehttp.Client
	logger   *zap.SugaredLogger
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithRetryMax sets the number of retries.
func WithRetryMax(n int) HTTPOption {
	return func(c *HTTPClient) {
		c.client.RetryMax = n
	}
}

// WithRetryWait sets the backoff bounds between retries.
func WithRetryWait(min, max time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		c.client.RetryWaitMin = min
		c.client.RetryWaitMax = max
	}
}

// WithHTTPTimeout sets the per-request timeout.
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		c.client.HTTPClient.Timeout = d
	}
}

// NewHTTPClient returns a client for endpoint, which must be an absolute
// http or https URL.
func NewHTTPClient(endpoint string, opts ...HTTPOption) (*HTTPClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.WithHint(
			errors.Wrapf(errors.ErrInvalidConfig, "endpoint %q is not an http(s) URL", endpoint),
			"use a full URL such as http://localhost:9999/blazegraph/sparql")
	}

	log := logger.ComponentLogger("sparql.http")
	rc := retryablehttp.NewClient()
	rc.RetryMax = DefaultRetryMax
	rc.HTTPClient.Timeout = DefaultHTTPTimeout
	rc.Logger = leveledLogger{log}

	c := &HTTPClient{endpoint: endpoint, client: rc, logger: log}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the endpoint URL.
func (c *HTTPClient) Endpoint() string { return c.endpoint }

// Select POSTs q and decodes the SPARQL JSON answer.
func (c *HTTPClient) Select(ctx context.Context, q string) (*Results, error) {
	form := url.Values{"query": {q}}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", resultsMediaType)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "POST %s", c.endpoint), errors.ErrStoreAccess)
	}
	defer resp.Body.Close()

	c.logger.Debugw("Query answered",
		logger.FieldURL, c.endpoint,
		logger.FieldStatus, resp.StatusCode,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.WithDetail(
			errors.Wrapf(errors.ErrStoreAccess, "%s answered %s", c.endpoint, resp.Status),
			strings.TrimSpace(string(body)))
	}

	doc, err := query.DecodeJSONResults(resp.Body)
	if err != nil {
		return nil, errors.Mark(err, errors.ErrStoreAccess)
	}
	rows, warnings := doc.Rows()
	for _, w := range warnings {
		c.logger.Warnw("Opaque term in results", logger.FieldURL, c.endpoint, logger.FieldError, w)
	}
	return &Results{Vars: doc.Head.Vars, Rows: rows}, nil
}

// SelectQuads runs q and returns the rows as quads.
func (c *HTTPClient) SelectQuads(ctx context.Context, q string) (*rdf.QuadSet, error) {
	return selectQuads(ctx, c, q)
}

// leveledLogger routes retryablehttp logs through zap.
type leveledLogger struct {
	l *zap.SugaredLogger
}

func (z leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	z.l.Errorw(msg, keysAndValues...)
}

func (z leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	z.l.Debugw(msg, keysAndValues...)
}

func (z leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	z.l.Debugw(msg, keysAndValues...)
}

func (z leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	z.l.Warnw(msg, keysAndValues...)
}
