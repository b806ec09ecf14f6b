package awx

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/openfroyo/awxlab/pkg/engine"
)

// DefaultRequestTimeout bounds every single request.
const DefaultRequestTimeout = 30 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 16 << 20

// Response is the raw outcome of a request that reached the controller.
type Response struct {
	Status int
	Body   []byte
}

// Transport sends one request to the controller. A non-nil error means no
// usable response was received; HTTP error statuses are returned as
// responses for the caller to interpret.
type Transport interface {
	Send(ctx context.Context, method, path string, body any) (*Response, error)
}

// RequestObserver receives per-request measurements.
type RequestObserver interface {
	ObserveRequest(method, endpoint string, status int, duration time.Duration)
}

// HTTPConfig configures an HTTPTransport.
type HTTPConfig struct {
	BaseURL            string
	Token              string
	Timeout            time.Duration
	InsecureSkipVerify bool

	// RequestsPerSecond limits the request rate when positive.
	RequestsPerSecond float64
	Burst             int
}

// HTTPTransport talks to the controller over HTTPS with a bearer token.
// The token is fixed for the lifetime of the transport.
type HTTPTransport struct {
	baseURL  *url.URL
	token    string
	client   *http.Client
	limiter  *rate.Limiter
	observer RequestObserver
	logger   zerolog.Logger
}

// TransportOption configures an HTTPTransport.
type TransportOption func(*HTTPTransport)

// WithObserver reports request metrics to observer.
func WithObserver(observer RequestObserver) TransportOption {
	return func(t *HTTPTransport) {
		t.observer = observer
	}
}

// WithHTTPClient replaces the underlying client, including its timeout and
// TLS settings.
func WithHTTPClient(client *http.Client) TransportOption {
	return func(t *HTTPTransport) {
		t.client = client
	}
}

// NewHTTPTransport creates a transport for cfg.
func NewHTTPTransport(cfg HTTPConfig, logger zerolog.Logger, opts ...TransportOption) (*HTTPTransport, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("controller URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid controller URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid controller URL %q: scheme must be http or https", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("controller token is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}

	rt := http.DefaultTransport.(*http.Transport).Clone()
	// #nosec G402 -- lab controllers commonly run with self-signed certificates
	rt.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}

	t := &HTTPTransport{
		baseURL: base,
		token:   strings.TrimSpace(cfg.Token),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(rt),
		},
		logger: logger.With().Str("component", "awx-transport").Logger(),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Send implements Transport. path is either relative to the base URL or an
// absolute URL on the same host, as returned in pagination links.
func (t *HTTPTransport) Send(ctx context.Context, method, path string, body any) (*Response, error) {
	target, err := t.resolve(path)
	if err != nil {
		return nil, &engine.TransportError{Op: "resolve", Method: method, Path: path, Err: err}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &engine.TransportError{Op: "encode", Method: method, Path: path, Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, &engine.TransportError{Op: "rate-limit", Method: method, Path: path, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &engine.TransportError{Op: "request", Method: method, Path: path, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		t.observe(method, path, 0, time.Since(start))
		return nil, &engine.TransportError{Op: "send", Method: method, Path: path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	duration := time.Since(start)
	t.observe(method, path, resp.StatusCode, duration)
	if err != nil {
		return nil, &engine.TransportError{Op: "read", Method: method, Path: path, Status: resp.StatusCode, Err: err}
	}

	t.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("Controller request")

	return &Response{Status: resp.StatusCode, Body: data}, nil
}

func (t *HTTPTransport) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		if ref.Host != t.baseURL.Host {
			return "", errors.New("refusing to follow link to another host")
		}
		return ref.String(), nil
	}
	return t.baseURL.String() + "/" + strings.TrimLeft(path, "/"), nil
}

func (t *HTTPTransport) observe(method, path string, status int, d time.Duration) {
	if t.observer == nil {
		return
	}
	t.observer.ObserveRequest(method, endpointLabel(path), status, d)
}

var numericSegment = regexp.MustCompile(`/\d+/`)

// endpointLabel strips the query and replaces numeric ids so metric label
// cardinality stays bounded.
func endpointLabel(path string) string {
	if u, err := url.Parse(path); err == nil {
		path = u.Path
	}
	// Applied twice because adjacent ids share a slash.
	path = numericSegment.ReplaceAllString(path, "/:id/")
	return numericSegment.ReplaceAllString(path, "/:id/")
}
