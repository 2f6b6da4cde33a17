package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stratos-hq/charon/pkg/accesslog"
	"stratos-hq/charon/pkg/cache"
	"stratos-hq/charon/pkg/config"
	"stratos-hq/charon/pkg/limits/ratelimit"
	"stratos-hq/charon/pkg/proxy"
	"stratos-hq/charon/pkg/proxy/forward"
	"stratos-hq/charon/pkg/proxy/reverse"
	"stratos-hq/charon/pkg/proxy/socks5"
	"stratos-hq/charon/pkg/routing"
	"stratos-hq/charon/pkg/security/auth"
	"stratos-hq/charon/pkg/security/tlsutil"
	"stratos-hq/charon/pkg/telemetry/metrics"
)

// defaultDialTimeout bounds upstream dials in modes that have no
// configured connect timeout of their own.
const defaultDialTimeout = 10 * time.Second

// Server accepts client connections and dispatches each one to the
// protocol engine selected at startup. Connections are served by a
// bounded worker pool; accepted connections beyond the pool queue up to
// the configured depth and are refused past it.
type Server struct {
	cfg       *config.Config
	handler   proxy.Handler
	collector *metrics.Collector
	limiter   *ratelimit.Limiter
	allowList *proxy.AllowList
	basicAuth *auth.BasicAuthenticator
	cache     *cache.Cache

	store     *accesslog.Store
	access    *accesslog.Recorder
	retention *accesslog.Scheduler

	logger *slog.Logger

	listener   net.Listener
	connCtx    context.Context
	connCancel context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New assembles a server from a validated configuration: the protocol
// engine for the configured mode, the shared cache, limiter, and
// authenticator, plus the access log when enabled.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		collector: metrics.NewCollector(cfg.Telemetry.Metrics, prometheus.NewRegistry()),
		logger:    slog.Default().With("component", "server"),
	}

	if cfg.Security.RateLimiting.Enabled {
		s.limiter = ratelimit.NewLimiter(
			cfg.Security.RateLimiting.RequestsPerMinute,
			cfg.Security.RateLimiting.Burst,
			s.collector,
		)
	}
	if cfg.Caching.Enabled {
		s.cache = cache.New(cfg.Caching.TTL, int64(cfg.Caching.MaxSizeMB)<<20, s.collector)
	}
	s.basicAuth = auth.NewBasicAuthenticator(credentials(cfg.Security.Authentication.Users))

	handler, err := s.buildHandler()
	if err != nil {
		return nil, err
	}
	s.handler = handler

	if cfg.AccessLog.Enabled {
		store, err := accesslog.OpenStore(cfg.AccessLog.Path)
		if err != nil {
			return nil, fmt.Errorf("open access log: %w", err)
		}
		s.store = store
		s.access = accesslog.NewRecorder(store)
		s.retention = accesslog.NewScheduler(store, cfg.AccessLog.PruneSchedule, cfg.AccessLog.Retention)
	}

	return s, nil
}

// buildHandler constructs the protocol engine for the configured mode.
func (s *Server) buildHandler() (proxy.Handler, error) {
	// A nil *Limiter must not become a non-nil Admitter interface.
	var admitter proxy.Admitter
	if s.limiter != nil {
		admitter = s.limiter
	}

	switch s.cfg.Proxy.Mode {
	case config.ModeForward:
		s.allowList = proxy.NewAllowList(s.cfg.Proxy.Forward.AllowedDomains)
		return forward.New(forward.Options{
			RequireAuth: s.cfg.Proxy.Forward.RequireAuth,
			AllowList:   s.allowList,
			Auth:        s.basicAuth,
			Limiter:     admitter,
			Cache:       s.cache,
			ForceCache:  s.cfg.Caching.Force,
			VaryHeaders: s.cfg.Caching.VaryHeaders,
			DialTimeout: defaultDialTimeout,
			IdleTimeout: s.cfg.Server.IdleTimeout,
		}), nil

	case config.ModeReverse:
		rc := s.cfg.Proxy.Reverse
		targets := make([]*routing.Target, 0, len(rc.Targets))
		for _, tc := range rc.Targets {
			targets = append(targets, &routing.Target{
				Name:   tc.Name,
				Host:   tc.Host,
				Port:   tc.Port,
				UseTLS: tc.SSL,
				Weight: tc.Weight,
			})
		}
		pool, err := routing.NewPool(targets, rc.HealthCooldown)
		if err != nil {
			return nil, fmt.Errorf("build target pool: %w", err)
		}
		table := routing.NewTable(rc.PathRouting, rc.DefaultGroup)
		return reverse.New(reverse.Options{
			Table:          table,
			Pool:           pool,
			Limiter:        admitter,
			Cache:          s.cache,
			VaryHeaders:    s.cfg.Caching.VaryHeaders,
			ConnectRetries: rc.ConnectRetries,
			ConnectTimeout: rc.ConnectTimeout,
			TLSTerminated:  s.cfg.Security.SSL.Enabled,
			Reporter:       s.collector,
		}), nil

	case config.ModeSocks5:
		s.allowList = proxy.NewAllowList(s.cfg.Proxy.Socks5.AllowedDomains)
		return socks5.New(socks5.Options{
			RequireAuth: s.cfg.Proxy.Socks5.RequireAuth,
			AllowList:   s.allowList,
			Auth:        s.basicAuth,
			Limiter:     admitter,
			DialTimeout: defaultDialTimeout,
			IdleTimeout: s.cfg.Server.IdleTimeout,
		}), nil

	default:
		return nil, fmt.Errorf("unknown proxy mode %q", s.cfg.Proxy.Mode)
	}
}

// Run listens on the configured address and serves connections until ctx
// is cancelled, then drains in-flight connections within the shutdown
// timeout.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	tlsConfig, err := tlsutil.ServerConfig(ctx, s.cfg.Security.SSL)
	if err != nil {
		ln.Close()
		return err
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	// Connections outlive the accept loop during graceful shutdown, so
	// they run under their own context.
	s.connCtx, s.connCancel = context.WithCancel(context.Background())
	defer s.connCancel()

	s.logger.Info("listening",
		"addr", addr,
		"mode", s.handler.Mode(),
		"tls", tlsConfig != nil,
		"max_connections", s.cfg.Server.MaxConnections,
		"queue_depth", s.cfg.Server.QueueDepth,
	)

	if mc := s.cfg.Telemetry.Metrics; mc.Enabled && mc.ListenAddress != "" {
		go func() {
			if err := s.collector.Serve(ctx, mc.ListenAddress); err != nil {
				s.logger.Error("metrics endpoint failed", "error", err)
			}
		}()
	}
	if s.retention != nil {
		if err := s.retention.Start(ctx); err != nil {
			ln.Close()
			return err
		}
	}
	if s.limiter != nil && s.cfg.Security.RateLimiting.ReapAfter > 0 {
		go s.reapLoop(ctx)
	}

	queue := make(chan net.Conn, s.cfg.Server.QueueDepth)
	for i := 0; i < s.cfg.Server.MaxConnections; i++ {
		s.wg.Add(1)
		go s.worker(queue)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		select {
		case queue <- raw:
		default:
			s.collector.ConnRefused()
			s.logger.Warn("connection refused, queue full", "remote", raw.RemoteAddr().String())
			raw.Close()
		}
	}

	close(queue)
	return s.drain()
}

// drain waits for in-flight connections, force-closing whatever remains
// after the shutdown timeout.
func (s *Server) drain() error {
	s.logger.Info("shutting down", "timeout", s.cfg.Server.ShutdownTimeout.String())

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.Server.ShutdownTimeout):
		s.logger.Warn("shutdown timeout elapsed, closing remaining connections")
		s.connCancel()
		<-done
	}

	if s.access != nil {
		s.access.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("access log close failed", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

func (s *Server) worker(queue <-chan net.Conn) {
	defer s.wg.Done()
	for raw := range queue {
		s.handleConn(raw)
	}
}

// handleConn serves one connection to completion and records its
// outcome in metrics and the access log.
func (s *Server) handleConn(raw net.Conn) {
	defer raw.Close()

	conn := proxy.NewConn(raw)
	mode := s.handler.Mode()
	s.collector.ConnOpened(mode)

	ctx := s.connCtx
	if s.cfg.Server.MaxLifetime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Server.MaxLifetime)
		defer cancel()
	}
	// Closing the socket is the only way to unblock a handler stuck in a
	// read when the context ends.
	stop := context.AfterFunc(ctx, func() { raw.Close() })
	defer stop()

	start := time.Now()
	err := s.serve(ctx, conn)
	duration := time.Since(start)
	status := proxy.ErrorCode(err)

	s.collector.ConnClosed(mode, status, duration, conn.BytesIn(), conn.BytesOut())
	if errors.Is(err, proxy.ErrAuthFailed) {
		s.collector.AuthFailure()
	}

	if err != nil {
		s.logger.Warn("connection closed",
			"conn_id", conn.ID,
			"remote", conn.RemoteHost(),
			"status", status,
			"error", err,
		)
	} else {
		s.logger.Debug("connection closed",
			"conn_id", conn.ID,
			"remote", conn.RemoteHost(),
			"target", conn.Target,
			"duration", duration,
			"bytes_in", conn.BytesIn(),
			"bytes_out", conn.BytesOut(),
		)
	}

	if s.access != nil {
		rec := accesslog.NewRecord(mode, raw.RemoteAddr().String())
		rec.Identity = conn.Identity
		rec.Target = conn.Target
		rec.Status = status
		rec.BytesIn = conn.BytesIn()
		rec.BytesOut = conn.BytesOut()
		rec.Duration = duration
		s.access.Record(rec)
	}
}

// serve invokes the handler with panic recovery so one broken connection
// cannot take down the worker pool.
func (s *Server) serve(ctx context.Context, conn *proxy.Conn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic",
				"conn_id", conn.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler.Handle(ctx, conn)
}

// reapLoop periodically discards idle rate limit buckets.
func (s *Server) reapLoop(ctx context.Context) {
	maxIdle := s.cfg.Security.RateLimiting.ReapAfter
	ticker := time.NewTicker(maxIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Reap(maxIdle); n > 0 {
				s.logger.Debug("reaped idle rate limit buckets", "count", n)
			}
		}
	}
}

// Reload applies the hot-reloadable configuration sections: credentials
// and the active mode's domain allow-list. Structural settings are
// ignored; they require a restart.
func (s *Server) Reload(cfg *config.Config) {
	s.basicAuth.Update(credentials(cfg.Security.Authentication.Users))

	if s.allowList != nil {
		switch s.cfg.Proxy.Mode {
		case config.ModeForward:
			s.allowList.Update(cfg.Proxy.Forward.AllowedDomains)
		case config.ModeSocks5:
			s.allowList.Update(cfg.Proxy.Socks5.AllowedDomains)
		}
	}

	s.logger.Info("hot-reloadable configuration applied")
}

// Addr returns the listener address, or nil before Run binds it. With a
// configured port of zero this is the only way to learn the bound port.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsRunning reports whether the accept loop is active.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func credentials(users []config.UserConfig) []auth.Credential {
	creds := make([]auth.Credential, 0, len(users))
	for _, u := range users {
		creds = append(creds, auth.Credential{Username: u.Username, PasswordHash: u.PasswordHash})
	}
	return creds
}
