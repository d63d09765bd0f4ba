// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ecp is a client for the Roku External Control Protocol.
package ecp

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ManuGH/rokutuner/internal/platform/httpx"
	"github.com/ManuGH/rokutuner/internal/telemetry"
)

// DefaultPort is the ECP HTTP port.
const DefaultPort = 8060

// Options configures a device client. ECP calls are never retried: a tuning
// step that fails aborts the session.
type Options struct {
	Timeout          time.Duration
	RateLimit        rate.Limit
	RateLimitBurst   int
	BreakerThreshold int
	BreakerReset     time.Duration
	UserAgent        string
	HTTPClient       *http.Client
}

const (
	defaultTimeout        = 3 * time.Second
	defaultRateLimit      = 20
	defaultRateLimitBurst = 10
	defaultBreakerReset   = 30 * time.Second
	maxBodyBytes          = 1 << 20
)

// Client sends commands to one Roku device.
type Client struct {
	address    string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *CircuitBreaker
	userAgent  string
}

// NewClient creates a client for address ("host:port").
func NewClient(address string, opts Options) *Client {
	nopts := normalizeOptions(opts)
	hc := nopts.HTTPClient
	if hc == nil {
		hc = httpx.NewClient(nopts.Timeout)
	}
	return &Client{
		address:    address,
		baseURL:    "http://" + address,
		httpClient: hc,
		limiter:    rate.NewLimiter(nopts.RateLimit, nopts.RateLimitBurst),
		breaker:    NewCircuitBreaker(address, nopts.BreakerThreshold, nopts.BreakerReset),
		userAgent:  nopts.UserAgent,
	}
}

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(defaultRateLimit)
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	if opts.BreakerThreshold < 0 {
		opts.BreakerThreshold = 0
	}
	if opts.BreakerReset <= 0 {
		opts.BreakerReset = defaultBreakerReset
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "rokutuner"
	}
	return opts
}

// Address returns the device address this client talks to.
func (c *Client) Address() string {
	return c.address
}

// Keypress sends one remote key (e.g. "Home", "Select", "Down").
func (c *Client) Keypress(ctx context.Context, key string) error {
	return c.post(ctx, "keypress", "/keypress/"+url.PathEscape(key), nil)
}

// Launch starts an app. params carries deep-link arguments such as contentId and mediaType.
func (c *Client) Launch(ctx context.Context, appID string, params url.Values) error {
	return c.post(ctx, "launch", "/launch/"+url.PathEscape(appID), params)
}

// Literal types text one character at a time.
func (c *Client) Literal(ctx context.Context, text string) error {
	for _, r := range text {
		if err := c.post(ctx, "literal", "/keypress/Lit_"+url.PathEscape(string(r)), nil); err != nil {
			return err
		}
	}
	return nil
}

// MediaPlayer queries the active player state.
func (c *Client) MediaPlayer(ctx context.Context) (PlayerState, error) {
	var raw mediaPlayerXML
	if err := c.get(ctx, "media-player", "/query/media-player", &raw); err != nil {
		return PlayerState{}, err
	}
	return raw.state(), nil
}

// DeviceInfo queries device identity; used as a reachability probe.
func (c *Client) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	var info DeviceInfo
	if err := c.get(ctx, "device-info", "/query/device-info", &info); err != nil {
		return DeviceInfo{}, err
	}
	return info, nil
}

func (c *Client) post(ctx context.Context, op, path string, params url.Values) error {
	return c.do(ctx, http.MethodPost, op, path, params, nil)
}

func (c *Client) get(ctx context.Context, op, path string, v any) error {
	return c.do(ctx, http.MethodGet, op, path, nil, v)
}

func (c *Client) do(ctx context.Context, method, op, path string, params url.Values, v any) error {
	ctx, span := telemetry.Tracer("rokutuner.ecp").Start(ctx, "rokutuner.ecp.request", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String(telemetry.DeviceAddressKey, c.address),
		attribute.String("ecp.operation", op),
	)
	defer span.End()

	fail := func(status int, err error) error {
		rerr := &RequestError{Device: c.address, Operation: op, Status: status, Err: err}
		span.RecordError(rerr)
		span.SetStatus(codes.Error, rerr.Error())
		return rerr
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fail(0, err)
	}

	var status int
	err := c.breaker.Execute(func() error {
		var callErr error
		status, callErr = c.roundTrip(ctx, method, op, path, params, v)
		return callErr
	})
	if err != nil {
		return fail(status, err)
	}
	span.SetAttributes(telemetry.HTTPAttributes(method, routeFor(op), path, status)...)
	span.SetStatus(codes.Ok, "")
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, op, path string, params url.Values, v any) (int, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return 0, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	recordMetrics(method, routeFor(op), status, time.Since(start), err)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return status, &StatusError{Code: status}
	}
	if v == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return status, nil
	}
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return status, fmt.Errorf("decode %s: %w: %w", op, errMalformedResponse, err)
	}
	return status, nil
}

func routeFor(op string) string {
	switch op {
	case "keypress", "literal":
		return "/keypress/{key}"
	case "launch":
		return "/launch/{app}"
	default:
		return "/query/" + op
	}
}
