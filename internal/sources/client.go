// Package sources implements the knowledge-source lookups used by the
// clinical stages. Every Search is best effort: failures are logged and
// surface as an empty result, never as an error.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultTimeout   = 10 * time.Second
	maxResponseBytes = 2 << 20
	tracerName       = "github.com/joelkehle/clinical-agents/internal/sources"
)

type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

type client struct {
	name    string
	baseURL string
	http    *http.Client
	logger  *zap.Logger
	tracer  trace.Tracer
}

func newClient(name, defaultBaseURL string, cfg Config) client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return client{
		name:    name,
		baseURL: base,
		http:    hc,
		logger:  logger.With(zap.String("source", name)),
		tracer:  otel.Tracer(tracerName),
	}
}

func (c client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, application/xml;q=0.9")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("status code: %d body=%s", res.StatusCode, truncate(string(b), 200))
	}
	return b, nil
}

func (c client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	b, err := c.get(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.name, err)
	}
	return nil
}

// traced wraps one Search in a span and logs the outcome. fn returns the
// number of records found.
func (c client) traced(ctx context.Context, query string, fn func(ctx context.Context) (int, error)) {
	ctx, span := c.tracer.Start(ctx, "sources."+c.name+".search", trace.WithAttributes(
		attribute.String("source.name", c.name),
	))
	defer span.End()

	started := time.Now()
	n, err := fn(ctx)
	elapsed := time.Since(started).Milliseconds()
	span.SetAttributes(attribute.Int("source.records", n))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("source_request_error", zap.Int("query_chars", len(query)), zap.Int64("elapsed_ms", elapsed), zap.Error(err))
		return
	}
	c.logger.Debug("source_request_complete", zap.Int("records", n), zap.Int64("elapsed_ms", elapsed))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
