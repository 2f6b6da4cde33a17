package config

import "time"

// Default values applied to unset configuration fields.
const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 8080
	DefaultMaxConnections  = 256
	DefaultQueueDepth      = 128
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultConnectRetries = 3
	DefaultConnectTimeout = 10 * time.Second
	DefaultHealthCooldown = 30 * time.Second
	DefaultTargetWeight   = 1

	DefaultAuthMethod = "basic"

	DefaultRequestsPerMinute = 60
	DefaultBurst             = 10
	DefaultReapAfter         = 10 * time.Minute

	DefaultCacheTTL       = 5 * time.Minute
	DefaultCacheMaxSizeMB = 100

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMetricsListenAddress = "127.0.0.1:9090"
	DefaultMetricsNamespace     = "charon"

	DefaultSSLReloadInterval = time.Minute

	DefaultAccessLogPath     = "charon-access.db"
	DefaultAccessLogRetain   = 7 * 24 * time.Hour
	DefaultAccessLogSchedule = "0 * * * *"
)

// ApplyDefaults fills in default values for any unset configuration fields.
// It is called by LoadConfig before validation, so a minimal configuration
// file only needs to state what differs from the defaults.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyProxyDefaults(&cfg.Proxy)
	applySecurityDefaults(&cfg.Security)
	applyCachingDefaults(&cfg.Caching)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyAccessLogDefaults(&cfg.AccessLog)
}

func applyServerDefaults(s *ServerConfig) {
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.MaxConnections == 0 {
		s.MaxConnections = DefaultMaxConnections
	}
	if s.QueueDepth == 0 {
		s.QueueDepth = DefaultQueueDepth
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func applyProxyDefaults(p *ProxyConfig) {
	if p.Mode == "" {
		p.Mode = ModeForward
	}

	if p.Reverse.ConnectRetries == 0 {
		p.Reverse.ConnectRetries = DefaultConnectRetries
	}
	if p.Reverse.ConnectTimeout == 0 {
		p.Reverse.ConnectTimeout = DefaultConnectTimeout
	}
	if p.Reverse.HealthCooldown == 0 {
		p.Reverse.HealthCooldown = DefaultHealthCooldown
	}
	for i := range p.Reverse.Targets {
		if p.Reverse.Targets[i].Weight == 0 {
			p.Reverse.Targets[i].Weight = DefaultTargetWeight
		}
	}
}

func applySecurityDefaults(s *SecurityConfig) {
	if s.Authentication.Method == "" {
		s.Authentication.Method = DefaultAuthMethod
	}
	if s.RateLimiting.RequestsPerMinute == 0 {
		s.RateLimiting.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if s.RateLimiting.Burst == 0 {
		s.RateLimiting.Burst = DefaultBurst
	}
	if s.RateLimiting.ReapAfter == 0 {
		s.RateLimiting.ReapAfter = DefaultReapAfter
	}
	if s.SSL.ReloadInterval == 0 {
		s.SSL.ReloadInterval = DefaultSSLReloadInterval
	}
}

func applyCachingDefaults(c *CachingConfig) {
	if c.TTL == 0 {
		c.TTL = DefaultCacheTTL
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = DefaultCacheMaxSizeMB
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLogLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLogFormat
	}
	if t.Metrics.ListenAddress == "" {
		t.Metrics.ListenAddress = DefaultMetricsListenAddress
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
}

func applyAccessLogDefaults(a *AccessLogConfig) {
	if a.Path == "" {
		a.Path = DefaultAccessLogPath
	}
	if a.Retention == 0 {
		a.Retention = DefaultAccessLogRetain
	}
	if a.PruneSchedule == "" {
		a.PruneSchedule = DefaultAccessLogSchedule
	}
}
