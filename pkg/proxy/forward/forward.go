// Package forward implements the forward proxy engine: CONNECT tunnels
// for HTTPS and plain HTTP forwarding with response caching.
package forward

import (
	"context"
	"encoding/base64"
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
	"stratos-hq/charon/pkg/security/auth"
)

// state tracks a connection's progress through the forward engine.
type state int

const (
	stateAwaitRequestLine state = iota
	stateConnectTunnel
	statePlainForward
	stateRelaying
	stateDenied
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateAwaitRequestLine:
		return "await_request_line"
	case stateConnectTunnel:
		return "connect_tunnel"
	case statePlainForward:
		return "plain_forward"
	case stateRelaying:
		return "relaying"
	case stateDenied:
		return "denied"
	default:
		return "closed"
	}
}

// maxForwardBody caps buffered origin responses so one reply cannot pin
// unbounded memory.
const maxForwardBody = 32 << 20

// Options configures the forward engine.
type Options struct {
	// RequireAuth demands Proxy-Authorization Basic credentials.
	RequireAuth bool

	// AllowList restricts destination hosts; nil or empty allows all.
	AllowList *proxy.AllowList

	// Auth verifies credentials when RequireAuth is set.
	Auth auth.Authenticator

	// Limiter admits requests per client identity; nil disables.
	Limiter proxy.Admitter

	// Cache serves and stores GET responses; nil disables caching.
	Cache *cache.Cache

	// ForceCache caches eligible responses regardless of origin
	// Cache-Control directives, with the cache's default TTL.
	ForceCache bool

	// VaryHeaders are included in cache keys.
	VaryHeaders []string

	// DialTimeout bounds upstream connection establishment.
	DialTimeout time.Duration

	// IdleTimeout closes a relay direction with no traffic.
	IdleTimeout time.Duration

	Logger *slog.Logger
}

// Handler is the forward proxy engine.
type Handler struct {
	opts   Options
	client *http.Client
	logger *slog.Logger
}

// New creates the forward engine.
func New(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: opts.DialTimeout,
		}).DialContext,
		DisableCompression:    true,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &Handler{
		opts: opts,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				// Redirects are relayed to the client, never followed.
				return http.ErrUseLastResponse
			},
		},
		logger: opts.Logger.With("mode", "forward"),
	}
}

// Mode implements proxy.Handler.
func (h *Handler) Mode() string { return "forward" }

// transition logs the engine entering a new state for a connection.
func (h *Handler) transition(conn *proxy.Conn, to state) {
	h.logger.Debug("state transition", "conn_id", conn.ID, "state", to.String())
}

// Handle serves one client request: a CONNECT tunnel relayed until
// either side closes, or a single plain HTTP exchange.
func (h *Handler) Handle(ctx context.Context, conn *proxy.Conn) error {
	h.transition(conn, stateAwaitRequestLine)

	req, err := http.ReadRequest(conn.Reader)
	if err != nil {
		return &proxy.ProtocolError{Mode: "forward", Detail: "malformed request", Err: err}
	}
	defer req.Body.Close()

	if h.opts.Limiter != nil && !h.opts.Limiter.Admit(conn.RemoteHost()) {
		h.transition(conn, stateDenied)
		proxy.WriteTextResponse(conn.Raw, http.StatusTooManyRequests, nil, "rate limit exceeded\n")
		return fmt.Errorf("client %s: %w", conn.RemoteHost(), proxy.ErrRateLimited)
	}

	if h.opts.RequireAuth {
		identity, err := h.authenticate(req)
		if err != nil {
			h.transition(conn, stateDenied)
			challenge := http.Header{"Proxy-Authenticate": {`Basic realm="charon"`}}
			proxy.WriteTextResponse(conn.Raw, http.StatusProxyAuthRequired, challenge, "proxy authentication required\n")
			return err
		}
		conn.Identity = identity
	}

	if req.Method == http.MethodConnect {
		h.transition(conn, stateConnectTunnel)
		return h.handleConnect(ctx, conn, req)
	}
	h.transition(conn, statePlainForward)
	return h.handleForward(ctx, conn, req)
}

// authenticate verifies the Proxy-Authorization header. Only the Basic
// scheme is accepted.
func (h *Handler) authenticate(req *http.Request) (string, error) {
	header := req.Header.Get("Proxy-Authorization")
	if header == "" {
		return "", fmt.Errorf("missing proxy credentials: %w", proxy.ErrAuthFailed)
	}

	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return "", fmt.Errorf("unsupported proxy auth scheme: %w", proxy.ErrAuthFailed)
	}
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("malformed proxy credentials: %w", proxy.ErrAuthFailed)
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", fmt.Errorf("malformed proxy credentials: %w", proxy.ErrAuthFailed)
	}

	return h.opts.Auth.Verify(username, password)
}

func (h *Handler) allowed(host string) bool {
	return h.opts.AllowList == nil || h.opts.AllowList.Allows(host)
}

// handleConnect opens the requested tunnel and relays bytes until either
// side closes.
func (h *Handler) handleConnect(ctx context.Context, conn *proxy.Conn, req *http.Request) error {
	hostPort := req.Host
	if hostPort == "" {
		hostPort = req.URL.Host
	}
	if !strings.Contains(hostPort, ":") {
		hostPort = net.JoinHostPort(hostPort, "443")
	}

	if !h.allowed(hostPort) {
		h.transition(conn, stateDenied)
		proxy.WriteTextResponse(conn.Raw, http.StatusForbidden, nil, "destination not allowed\n")
		return fmt.Errorf("connect %s: %w", hostPort, proxy.ErrDomainNotAllowed)
	}

	dialer := &net.Dialer{Timeout: h.opts.DialTimeout}
	upstream, err := dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		proxy.WriteTextResponse(conn.Raw, http.StatusBadGateway, nil, "upstream unreachable\n")
		return fmt.Errorf("connect %s: %v: %w", hostPort, err, proxy.ErrUpstreamUnreachable)
	}
	defer upstream.Close()

	conn.Target = hostPort
	if _, err := io.WriteString(conn.Raw, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return err
	}

	h.logger.Debug("tunnel established",
		"conn_id", conn.ID,
		"target", hostPort,
	)
	h.transition(conn, stateRelaying)
	err = proxy.Relay(ctx, conn, upstream, h.opts.IdleTimeout)
	h.transition(conn, stateClosed)
	return err
}

// handleForward proxies one plain HTTP exchange, consulting the cache
// for GET requests.
func (h *Handler) handleForward(ctx context.Context, conn *proxy.Conn, req *http.Request) error {
	target, err := forwardURL(req)
	if err != nil {
		h.transition(conn, stateDenied)
		proxy.WriteTextResponse(conn.Raw, http.StatusBadRequest, nil, "cannot determine request target\n")
		return &proxy.ProtocolError{Mode: "forward", Detail: "no request target", Err: err}
	}

	if !h.allowed(target.Host) {
		h.transition(conn, stateDenied)
		proxy.WriteTextResponse(conn.Raw, http.StatusForbidden, nil, "destination not allowed\n")
		return fmt.Errorf("forward %s: %w", target.Host, proxy.ErrDomainNotAllowed)
	}
	conn.Target = target.Host

	if h.opts.Cache != nil && req.Method == http.MethodGet {
		key := cache.Key(req.Method, target.Host+target.Path, target.RawQuery, req.Header, h.opts.VaryHeaders)
		entry, err := h.opts.Cache.FetchOrPopulate(key, func() (*cache.Entry, error) {
			entry, err := h.fetch(ctx, req, target)
			if err != nil {
				return nil, err
			}
			if !cacheable(entry, h.opts.ForceCache) {
				entry.Transient = true
			} else if ttl, ok := directiveTTL(entry.Header); ok && !h.opts.ForceCache {
				entry.TTL = ttl
			}
			return entry, nil
		})
		if err != nil {
			proxy.WriteTextResponse(conn.Raw, http.StatusBadGateway, nil, "upstream unreachable\n")
			return fmt.Errorf("forward %s: %v: %w", target.Host, err, proxy.ErrUpstreamUnreachable)
		}
		h.transition(conn, stateClosed)
		return h.writeEntry(conn, entry)
	}

	entry, err := h.fetch(ctx, req, target)
	if err != nil {
		proxy.WriteTextResponse(conn.Raw, http.StatusBadGateway, nil, "upstream unreachable\n")
		return fmt.Errorf("forward %s: %v: %w", target.Host, err, proxy.ErrUpstreamUnreachable)
	}

	h.transition(conn, stateClosed)
	return h.writeEntry(conn, entry)
}

// fetch performs the origin request and buffers the response.
func (h *Handler) fetch(ctx context.Context, req *http.Request, target *url.URL) (*cache.Entry, error) {
	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), req.Body)
	if err != nil {
		return nil, err
	}
	out.Header = req.Header.Clone()
	proxy.StripHopByHop(out.Header)

	resp, err := h.client.Do(out)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxForwardBody))
	if err != nil {
		return nil, err
	}
	return &cache.Entry{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

func (h *Handler) writeEntry(conn *proxy.Conn, entry *cache.Entry) error {
	conn.AddBytesOut(int64(len(entry.Body)))
	return proxy.WriteResponse(conn.Raw, entry.Status, entry.Header, entry.Body)
}

// forwardURL resolves the absolute origin URL for a plain proxy request.
// Proxy clients send absolute-form URIs; origin-form requests fall back
// to the Host header.
func forwardURL(req *http.Request) (*url.URL, error) {
	if req.URL.Host != "" {
		u := *req.URL
		if u.Scheme == "" {
			u.Scheme = "http"
		}
		return &u, nil
	}
	if req.Host == "" {
		return nil, fmt.Errorf("origin-form request without Host header")
	}
	u := *req.URL
	u.Scheme = "http"
	u.Host = req.Host
	return &u, nil
}

// cacheable reports whether a fetched response may be stored. Force
// overrides origin directives; otherwise no-store, no-cache, and private
// suppress caching. Only 2xx responses are retained.
func cacheable(entry *cache.Entry, force bool) bool {
	if entry.Status < 200 || entry.Status >= 300 {
		return false
	}
	if force {
		return true
	}
	directives := strings.ToLower(entry.Header.Get("Cache-Control"))
	for _, forbidden := range []string{"no-store", "no-cache", "private"} {
		if strings.Contains(directives, forbidden) {
			return false
		}
	}
	return true
}

// directiveTTL extracts max-age from Cache-Control when present.
func directiveTTL(header http.Header) (time.Duration, bool) {
	for _, directive := range strings.Split(header.Get("Cache-Control"), ",") {
		directive = strings.TrimSpace(strings.ToLower(directive))
		if value, ok := strings.CutPrefix(directive, "max-age="); ok {
			var seconds int
			if _, err := fmt.Sscanf(value, "%d", &seconds); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second, true
			}
		}
	}
	return 0, false
}
