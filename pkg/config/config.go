package config

import "time"

// Config is the root configuration structure for Charon.
// It contains all configuration sections for the listener, the proxy
// engine, security, caching, telemetry, and access logging.
type Config struct {
	// Server contains listener and connection-pool configuration.
	Server ServerConfig `yaml:"server"`

	// Proxy contains the operating mode and per-mode settings.
	Proxy ProxyConfig `yaml:"proxy"`

	// Security contains TLS, authentication, and rate limiting settings.
	Security SecurityConfig `yaml:"security"`

	// Caching contains response cache configuration.
	Caching CachingConfig `yaml:"caching"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// AccessLog contains the connection access-log configuration.
	AccessLog AccessLogConfig `yaml:"access_log"`
}

// ServerConfig contains configuration for the listening socket and the
// bounded connection pool.
type ServerConfig struct {
	// Host is the address to bind the listener to.
	// Default: "127.0.0.1"
	Host string `yaml:"host"`

	// Port is the TCP port to listen on.
	// Default: 8080
	Port int `yaml:"port"`

	// MaxConnections is the number of connections handled concurrently.
	// Connections beyond this limit queue up to QueueDepth, then are
	// refused at the TCP level.
	// Default: 256
	MaxConnections int `yaml:"max_connections"`

	// QueueDepth is the number of accepted connections allowed to wait
	// for a free handler slot before new connections are refused.
	// Default: 128
	QueueDepth int `yaml:"queue_depth"`

	// IdleTimeout closes a connection when neither direction has moved
	// bytes for this long during a relay.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// MaxLifetime force-closes a connection after this total duration,
	// regardless of activity. Zero means no limit.
	// Default: 0
	MaxLifetime time.Duration `yaml:"max_lifetime"`

	// ShutdownTimeout is the maximum duration to wait for in-flight
	// connections during graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ProxyMode selects the protocol engine for all connections.
type ProxyMode string

const (
	// ModeForward proxies client HTTP/HTTPS traffic to arbitrary origins.
	ModeForward ProxyMode = "forward"

	// ModeReverse routes client requests to configured backend targets.
	ModeReverse ProxyMode = "reverse"

	// ModeSocks5 relays raw TCP streams negotiated via SOCKS5.
	ModeSocks5 ProxyMode = "socks5"
)

// ProxyConfig contains the operating mode and mode-specific settings.
type ProxyConfig struct {
	// Mode is one of "forward", "reverse", or "socks5". The mode is
	// fixed at startup; exactly one protocol engine serves all
	// connections.
	Mode ProxyMode `yaml:"mode"`

	// Forward contains forward-proxy settings, used when Mode is "forward".
	Forward ForwardConfig `yaml:"forward"`

	// Reverse contains reverse-proxy settings, used when Mode is "reverse".
	Reverse ReverseConfig `yaml:"reverse"`

	// Socks5 contains SOCKS5 settings, used when Mode is "socks5".
	Socks5 Socks5Config `yaml:"socks5"`
}

// ForwardConfig contains settings for the forward proxy engine.
type ForwardConfig struct {
	// RequireAuth demands Proxy-Authorization credentials on every
	// request before it is forwarded.
	// Default: false
	RequireAuth bool `yaml:"require_auth"`

	// AllowedDomains is an ordered list of glob patterns
	// (e.g. "*.example.com") restricting which destination hosts may be
	// reached. An empty list allows all destinations.
	AllowedDomains []string `yaml:"allowed_domains"`
}

// ReverseConfig contains settings for the reverse proxy engine.
type ReverseConfig struct {
	// Targets is the static set of backend targets. Several entries may
	// share a name; they then form a weighted group.
	Targets []TargetConfig `yaml:"targets"`

	// PathRouting maps URL path prefixes to target group names. The
	// longest matching prefix wins; "/" acts as the catch-all default.
	PathRouting map[string]string `yaml:"path_routing"`

	// DefaultGroup receives requests whose path matches no configured
	// prefix. Empty means such requests fail with a gateway error.
	DefaultGroup string `yaml:"default_group"`

	// ConnectRetries is how many freshly selected targets to try when an
	// upstream connection fails before surfacing a gateway error.
	// Default: 3
	ConnectRetries int `yaml:"connect_retries"`

	// ConnectTimeout bounds each upstream dial attempt.
	// Default: 10s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// HealthCooldown is how long a target stays excluded from selection
	// after a connect failure.
	// Default: 30s
	HealthCooldown time.Duration `yaml:"health_cooldown"`
}

// TargetConfig describes a single backend target.
type TargetConfig struct {
	// Name identifies the target group this entry belongs to.
	Name string `yaml:"name"`

	// Host is the backend hostname or IP address.
	Host string `yaml:"host"`

	// Port is the backend TCP port.
	Port int `yaml:"port"`

	// SSL applies TLS on the upstream leg for this target.
	SSL bool `yaml:"ssl"`

	// Weight is the relative share of traffic for this entry within its
	// group. Must be a positive integer.
	// Default: 1
	Weight int `yaml:"weight"`
}

// Socks5Config contains settings for the SOCKS5 engine.
type Socks5Config struct {
	// RequireAuth selects username/password negotiation instead of
	// no-auth during the SOCKS5 handshake.
	// Default: false
	RequireAuth bool `yaml:"require_auth"`

	// AllowedDomains restricts domain-typed CONNECT destinations the
	// same way the forward proxy's allow-list does. An empty list allows
	// all destinations.
	AllowedDomains []string `yaml:"allowed_domains"`
}

// SecurityConfig contains TLS, authentication, and rate limiting settings.
type SecurityConfig struct {
	// SSL configures TLS termination on the listening socket.
	SSL SSLConfig `yaml:"ssl"`

	// Authentication configures the credential store and active method.
	Authentication AuthConfig `yaml:"authentication"`

	// RateLimiting configures the per-client token bucket limiter.
	RateLimiting RateLimitConfig `yaml:"rate_limiting"`
}

// SSLConfig configures TLS termination for client connections.
type SSLConfig struct {
	// Enabled wraps accepted sockets in TLS using CertFile/KeyFile.
	Enabled bool `yaml:"enabled"`

	// CertFile is the path to the PEM certificate chain.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM private key.
	KeyFile string `yaml:"key_file"`

	// ReloadInterval is how often certificate files are checked for
	// changes so renewals apply without a restart. Zero disables
	// reloading.
	// Default: 1m
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// AuthConfig configures the authentication gate.
type AuthConfig struct {
	// Method is the single active authentication method. Only "basic"
	// is verified in-process; other values name externally supplied
	// authenticators.
	// Default: "basic"
	Method string `yaml:"method"`

	// Users is the static credential set for the basic method.
	Users []UserConfig `yaml:"users"`
}

// UserConfig is a single username/password-hash credential.
type UserConfig struct {
	// Username is the login name.
	Username string `yaml:"username"`

	// PasswordHash is a bcrypt hash ("$2..." prefix) or, discouraged, a
	// plain-text password compared in constant time.
	PasswordHash string `yaml:"password_hash"`
}

// RateLimitConfig configures the per-identity token bucket limiter.
type RateLimitConfig struct {
	// Enabled turns rate limiting on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// RequestsPerMinute is the sustained admission rate per identity.
	// Default: 60
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Burst is the bucket capacity: the number of requests admitted
	// immediately from an idle identity.
	// Default: 10
	Burst int `yaml:"burst"`

	// ReapAfter discards buckets idle for this long to bound memory on
	// high-cardinality identities.
	// Default: 10m
	ReapAfter time.Duration `yaml:"reap_after"`
}

// CachingConfig configures the response cache.
type CachingConfig struct {
	// Enabled turns GET response caching on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// TTL is how long entries stay servable.
	// Default: 5m
	TTL time.Duration `yaml:"ttl"`

	// MaxSizeMB bounds aggregate cached body bytes; the oldest entries
	// are evicted once the bound is exceeded.
	// Default: 100
	MaxSizeMB int `yaml:"max_size"`

	// Force caches successful GET responses even when origin caching
	// directives forbid it, using TTL as an absolute override.
	// Default: false
	Force bool `yaml:"force"`

	// VaryHeaders is an ordered set of request headers mixed into the
	// cache key in addition to method, path, and query.
	VaryHeaders []string `yaml:"vary_headers"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures the Prometheus exposition endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`
}

// MetricsConfig configures metrics collection and exposition.
type MetricsConfig struct {
	// Enabled turns metric collection on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// ListenAddress is where the exposition endpoint is served.
	// Empty disables the endpoint while collection continues.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// Namespace is the Prometheus metric namespace.
	// Default: "charon"
	Namespace string `yaml:"namespace"`
}

// AccessLogConfig configures the SQLite-backed connection access log.
type AccessLogConfig struct {
	// Enabled turns access logging on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file path.
	// Default: "charon-access.db"
	Path string `yaml:"path"`

	// Retention is how long records are kept before the scheduled
	// pruning job removes them.
	// Default: 168h (7 days)
	Retention time.Duration `yaml:"retention"`

	// PruneSchedule is a cron expression for the retention job.
	// Default: "0 * * * *" (hourly)
	PruneSchedule string `yaml:"prune_schedule"`
}
