// Package sender performs single HTTP attempts against a JSON API and
// classifies each raw result into a dispatch.Outcome.
package sender

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	"github.com/rcatullo/talazo-kg/internal/dispatch"
)

// Defaults for Config.
const (
	DefaultTimeout      = 120 * time.Second
	DefaultAuthHeader   = "Authorization"
	DefaultAuthScheme   = "Bearer"
	maxResponseBytes    = 32 << 20
	http2ReadIdle       = 30 * time.Second
	http2PingTimeout    = 15 * time.Second
	defaultIdlePerHost  = 32
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	dialTimeout         = 30 * time.Second
	dialKeepAlive       = 30 * time.Second
)

// Config describes the endpoint and how to authenticate against it.
type Config struct {
	// Headers are added to every request.
	Headers map[string]string

	// URL is the endpoint every payload is POSTed to.
	URL string

	// Credential is attached as "<AuthScheme> <Credential>" in AuthHeader.
	Credential string

	// AuthHeader defaults to Authorization.
	AuthHeader string

	// AuthScheme defaults to Bearer. Set to "-" to send the bare credential.
	AuthScheme string

	// Timeout bounds each attempt, including reading the body. Default: 120s
	Timeout time.Duration

	// MaxIdleConnsPerHost sizes the connection pool, usually max_in_flight.
	MaxIdleConnsPerHost int
}

// HTTPSender implements dispatch.Sender over net/http.
type HTTPSender struct {
	client     *http.Client
	logger     *zerolog.Logger
	headers    map[string]string
	url        string
	authHeader string
	authValue  string
	timeout    time.Duration
}

// New validates cfg and builds a sender with its own pooled transport.
func New(cfg Config, logger *zerolog.Logger) (*HTTPSender, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, cfg.URL)
	}
	if err := ValidateCredential(cfg.Credential); err != nil {
		return nil, err
	}

	transport, err := newTransport(cfg.MaxIdleConnsPerHost)
	if err != nil {
		return nil, err
	}

	return NewWithClient(cfg, &http.Client{Transport: transport}, logger), nil
}

// NewWithClient builds a sender around an existing client. Config is not
// validated, which lets tests point at httptest servers with fake credentials.
func NewWithClient(cfg Config, client *http.Client, logger *zerolog.Logger) *HTTPSender {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	header := cfg.AuthHeader
	if header == "" {
		header = DefaultAuthHeader
	}

	return &HTTPSender{
		client:     client,
		logger:     logger,
		headers:    cfg.Headers,
		url:        cfg.URL,
		authHeader: header,
		authValue:  authValue(cfg.AuthScheme, cfg.Credential),
		timeout:    timeout,
	}
}

func authValue(scheme, credential string) string {
	if credential == "" {
		return ""
	}
	switch scheme {
	case "":
		return DefaultAuthScheme + " " + credential
	case "-":
		return credential
	default:
		return scheme + " " + credential
	}
}

// newTransport clones the default transport and enables HTTP/2 health
// pings, so a dead connection fails fast instead of hanging until timeout.
func newTransport(idlePerHost int) (*http.Transport, error) {
	if idlePerHost <= 0 {
		idlePerHost = defaultIdlePerHost
	}

	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: dialKeepAlive}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          idlePerHost * 2,
		MaxIdleConnsPerHost:   idlePerHost,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ExpectContinueTimeout: time.Second,
	}

	h2, err := http2.ConfigureTransports(transport)
	if err != nil {
		return nil, fmt.Errorf("sender: configure http2: %w", err)
	}
	h2.ReadIdleTimeout = http2ReadIdle
	h2.PingTimeout = http2PingTimeout

	return transport, nil
}

// Send POSTs the item's payload once and classifies the result.
// ctx should not be canceled by run shutdown; the per-attempt timeout is
// applied here.
func (s *HTTPSender) Send(ctx context.Context, item dispatch.WorkItem) dispatch.Outcome {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(item.Payload))
	if err != nil {
		return dispatch.Fail(&dispatch.AttemptError{
			Kind:    dispatch.KindClient,
			Message: fmt.Sprintf("build request: %v", err),
		})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.authValue != "" {
		req.Header.Set(s.authHeader, s.authValue)
	}
	for k, v := range s.headers {
		if k == "" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		out := classifyTransportError(ctx, err)
		s.logger.Debug().
			Int64("seq", item.Seq).
			Err(err).
			Str("kind", string(out.Err.Kind)).
			Msg("attempt transport failure")
		return out
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Debug().Err(closeErr).Msg("close response body")
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifyTransportError(ctx, fmt.Errorf("read body: %w", err))
	}

	out := classifyResponse(resp.StatusCode, resp.Header, body, time.Now())
	if out.Kind != dispatch.OutcomeSuccess {
		s.logger.Debug().
			Int64("seq", item.Seq).
			Int("status", resp.StatusCode).
			Str("outcome", out.Kind.String()).
			Str("kind", string(out.Err.Kind)).
			Bool("rate_limited", out.RateLimited).
			Msg("attempt failed")
	}
	return out
}

var _ dispatch.Sender = (*HTTPSender)(nil)
