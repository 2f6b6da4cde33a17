// Package reverse implements the reverse proxy engine: path-prefix
// routing onto weighted backend groups, bounded connect retries, and GET
// response caching.
package reverse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stratos-hq/charon/pkg/cache"
	"stratos-hq/charon/pkg/proxy"
	"stratos-hq/charon/pkg/routing"
	"stratos-hq/charon/pkg/security/tlsutil"
)

// state tracks a connection's progress through the reverse engine.
type state int

const (
	stateAwaitRequest state = iota
	stateRoute
	stateSelectTarget
	stateConnectUpstream
	stateRelayOrCache
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateAwaitRequest:
		return "await_request"
	case stateRoute:
		return "route"
	case stateSelectTarget:
		return "select_target"
	case stateConnectUpstream:
		return "connect_upstream"
	case stateRelayOrCache:
		return "relay_or_cache"
	default:
		return "closed"
	}
}

// maxUpstreamBody caps buffered upstream responses.
const maxUpstreamBody = 32 << 20

// maxRequestBody caps buffered client request bodies.
const maxRequestBody = 32 << 20

// UpstreamReporter receives upstream connect failures for the metrics
// surface.
type UpstreamReporter interface {
	UpstreamFailure(group string)
}

type nopReporter struct{}

func (nopReporter) UpstreamFailure(string) {}

// Options configures the reverse engine.
type Options struct {
	// Table routes request paths to target groups.
	Table *routing.Table

	// Pool selects weighted healthy targets within a group.
	Pool *routing.Pool

	// Limiter admits requests per client identity; nil disables.
	Limiter proxy.Admitter

	// Cache serves and stores GET responses; nil disables caching.
	Cache *cache.Cache

	// VaryHeaders are included in cache keys.
	VaryHeaders []string

	// ConnectRetries is how many fresh target selections are attempted
	// after a connect failure before surfacing a gateway error.
	ConnectRetries int

	// ConnectTimeout bounds each upstream connection attempt.
	ConnectTimeout time.Duration

	// TLSTerminated records whether the client leg arrived over TLS,
	// for the X-Forwarded-Proto header.
	TLSTerminated bool

	// Reporter receives upstream failure events; nil discards them.
	Reporter UpstreamReporter

	Logger *slog.Logger
}

// Handler is the reverse proxy engine.
type Handler struct {
	opts   Options
	client *http.Client
	logger *slog.Logger
}

// New creates the reverse engine.
func New(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Reporter == nil {
		opts.Reporter = nopReporter{}
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: opts.ConnectTimeout,
		}).DialContext,
		// SNI and verification use the dialed host; targets are addressed
		// directly, so no per-target ServerName override is needed.
		TLSClientConfig:       tlsutil.UpstreamConfig(""),
		DisableCompression:    true,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &Handler{
		opts: opts,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: opts.Logger.With("mode", "reverse"),
	}
}

// Mode implements proxy.Handler.
func (h *Handler) Mode() string { return "reverse" }

// transition logs the engine entering a new state for a connection.
func (h *Handler) transition(conn *proxy.Conn, to state) {
	h.logger.Debug("state transition", "conn_id", conn.ID, "state", to.String())
}

// Handle serves one client request end to end.
func (h *Handler) Handle(ctx context.Context, conn *proxy.Conn) error {
	h.transition(conn, stateAwaitRequest)

	req, err := http.ReadRequest(conn.Reader)
	if err != nil {
		return &proxy.ProtocolError{Mode: "reverse", Detail: "malformed request", Err: err}
	}
	defer req.Body.Close()

	// Health probes are answered locally and skip every gate.
	if req.URL.Path == "/health" {
		return proxy.WriteTextResponse(conn.Raw, http.StatusOK, nil, "ok\n")
	}

	if h.opts.Limiter != nil && !h.opts.Limiter.Admit(conn.RemoteHost()) {
		proxy.WriteTextResponse(conn.Raw, http.StatusTooManyRequests, nil, "rate limit exceeded\n")
		return fmt.Errorf("client %s: %w", conn.RemoteHost(), proxy.ErrRateLimited)
	}

	h.transition(conn, stateRoute)
	group, err := h.opts.Table.Route(req.URL.Path)
	if err != nil {
		proxy.WriteTextResponse(conn.Raw, http.StatusBadGateway, nil, "no route for path\n")
		return fmt.Errorf("route %s: %w", req.URL.Path, err)
	}

	h.transition(conn, stateRelayOrCache)
	useCache := h.opts.Cache != nil && req.Method == http.MethodGet
	if useCache {
		key := cache.Key(req.Method, req.URL.Path, req.URL.RawQuery, req.Header, h.opts.VaryHeaders)
		entry, err := h.opts.Cache.FetchOrPopulate(key, func() (*cache.Entry, error) {
			return h.forward(ctx, conn, req, group)
		})
		if err != nil {
			return h.writeUpstreamError(conn, err)
		}
		conn.AddBytesOut(int64(len(entry.Body)))
		return proxy.WriteResponse(conn.Raw, entry.Status, entry.Header, entry.Body)
	}

	entry, err := h.forward(ctx, conn, req, group)
	if err != nil {
		return h.writeUpstreamError(conn, err)
	}
	conn.AddBytesOut(int64(len(entry.Body)))
	return proxy.WriteResponse(conn.Raw, entry.Status, entry.Header, entry.Body)
}

// forward relays the request to the group, retrying connect failures
// against freshly selected targets. The request body is buffered once up
// front so a retry can resend it.
func (h *Handler) forward(ctx context.Context, conn *proxy.Conn, req *http.Request, group string) (*cache.Entry, error) {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(io.LimitReader(req.Body, maxRequestBody))
		if err != nil {
			return nil, &proxy.ProtocolError{Mode: "reverse", Detail: "reading request body", Err: err}
		}
		conn.AddBytesIn(int64(len(body)))
	}

	attempts := h.opts.ConnectRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		h.transition(conn, stateSelectTarget)
		target, err := h.opts.Pool.Select(group)
		if err != nil {
			return nil, err
		}

		h.transition(conn, stateConnectUpstream)
		entry, err := h.forwardTo(ctx, conn, req, body, target)
		if err == nil {
			conn.Target = target.Addr()
			return entry, nil
		}
		if !isConnectFailure(err) {
			// The target was reached, so its health is not in question and
			// a retry could replay a non-idempotent request.
			return nil, fmt.Errorf("target %s: %v: %w", target.Addr(), err, proxy.ErrUpstreamUnreachable)
		}

		lastErr = err
		h.opts.Pool.MarkUnhealthy(target)
		h.opts.Reporter.UpstreamFailure(group)
		h.logger.Warn("upstream connect failed",
			"conn_id", conn.ID,
			"group", group,
			"target", target.Addr(),
			"attempt", attempt+1,
			"error", err,
		)
	}
	return nil, fmt.Errorf("group %s: %v: %w", group, lastErr, proxy.ErrUpstreamUnreachable)
}

// isConnectFailure reports whether err means the target could not be
// reached at all, as opposed to a failure after the connection was
// established.
func isConnectFailure(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// forwardTo performs one exchange with a concrete target.
func (h *Handler) forwardTo(ctx context.Context, conn *proxy.Conn, req *http.Request, body []byte, target *routing.Target) (*cache.Entry, error) {
	scheme := "http"
	if target.UseTLS {
		scheme = "https"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     target.Addr(),
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	out.Header = req.Header.Clone()
	proxy.StripHopByHop(out.Header)

	clientScheme := "http"
	if h.opts.TLSTerminated {
		clientScheme = "https"
	}
	out.Header.Set("X-Forwarded-For", conn.RemoteHost())
	out.Header.Set("X-Forwarded-Proto", clientScheme)
	out.Header.Set("X-Forwarded-Host", req.Host)
	out.Header.Set("X-Forwarded-Path", req.URL.Path)

	resp, err := h.client.Do(out)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, err
	}
	return &cache.Entry{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

func (h *Handler) writeUpstreamError(conn *proxy.Conn, err error) error {
	msg := "upstream unreachable\n"
	if strings.Contains(err.Error(), "no healthy target") {
		msg = "no healthy target\n"
	}
	proxy.WriteTextResponse(conn.Raw, http.StatusBadGateway, nil, msg)
	return err
}
