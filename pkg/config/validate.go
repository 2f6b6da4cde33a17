package config

import (
	"fmt"
	"os"
	"strings"
)

// Validate checks the configuration for errors that must abort startup.
// It returns the first problem found, wrapped with enough context to
// locate the offending field.
func Validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := validateProxy(&cfg.Proxy); err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	if err := validateSecurity(&cfg.Security, &cfg.Proxy); err != nil {
		return fmt.Errorf("security: %w", err)
	}
	if err := validateCaching(&cfg.Caching); err != nil {
		return fmt.Errorf("caching: %w", err)
	}
	if err := validateTelemetry(&cfg.Telemetry); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

func validateServer(s *ServerConfig) error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", s.Port)
	}
	if s.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be positive, got %d", s.MaxConnections)
	}
	if s.QueueDepth < 0 {
		return fmt.Errorf("queue_depth must not be negative, got %d", s.QueueDepth)
	}
	if s.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout must not be negative")
	}
	return nil
}

func validateProxy(p *ProxyConfig) error {
	switch p.Mode {
	case ModeForward, ModeSocks5:
		return nil
	case ModeReverse:
		return validateReverse(&p.Reverse)
	default:
		return fmt.Errorf("unknown mode %q (expected forward, reverse, or socks5)", p.Mode)
	}
}

func validateReverse(r *ReverseConfig) error {
	if len(r.Targets) == 0 {
		return fmt.Errorf("reverse mode requires at least one target")
	}

	groupWeights := make(map[string]int)
	for i, t := range r.Targets {
		if t.Name == "" {
			return fmt.Errorf("target %d has no name", i)
		}
		if t.Host == "" {
			return fmt.Errorf("target %q has no host", t.Name)
		}
		if t.Port < 1 || t.Port > 65535 {
			return fmt.Errorf("target %q port %d out of range 1-65535", t.Name, t.Port)
		}
		if t.Weight < 1 {
			return fmt.Errorf("target %q weight must be a positive integer, got %d", t.Name, t.Weight)
		}
		groupWeights[t.Name] += t.Weight
	}

	for group, sum := range groupWeights {
		if sum < 1 {
			return fmt.Errorf("group %q has zero total weight", group)
		}
	}

	for prefix, group := range r.PathRouting {
		if !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("path_routing prefix %q must start with /", prefix)
		}
		if _, ok := groupWeights[group]; !ok {
			return fmt.Errorf("path_routing prefix %q references unknown group %q", prefix, group)
		}
	}

	if r.DefaultGroup != "" {
		if _, ok := groupWeights[r.DefaultGroup]; !ok {
			return fmt.Errorf("default_group references unknown group %q", r.DefaultGroup)
		}
	}

	if r.ConnectRetries < 1 {
		return fmt.Errorf("connect_retries must be positive, got %d", r.ConnectRetries)
	}
	return nil
}

func validateSecurity(s *SecurityConfig, p *ProxyConfig) error {
	if s.SSL.Enabled {
		if s.SSL.CertFile == "" {
			return fmt.Errorf("ssl enabled but cert_file not set")
		}
		if s.SSL.KeyFile == "" {
			return fmt.Errorf("ssl enabled but key_file not set")
		}
		if _, err := os.Stat(s.SSL.CertFile); err != nil {
			return fmt.Errorf("cert_file: %w", err)
		}
		if _, err := os.Stat(s.SSL.KeyFile); err != nil {
			return fmt.Errorf("key_file: %w", err)
		}
	}

	authRequired := (p.Mode == ModeForward && p.Forward.RequireAuth) ||
		(p.Mode == ModeSocks5 && p.Socks5.RequireAuth)
	if authRequired && s.Authentication.Method == "basic" && len(s.Authentication.Users) == 0 {
		return fmt.Errorf("authentication required but no users configured")
	}
	for i, u := range s.Authentication.Users {
		if u.Username == "" {
			return fmt.Errorf("user %d has no username", i)
		}
		if u.PasswordHash == "" {
			return fmt.Errorf("user %q has no password_hash", u.Username)
		}
	}

	if s.RateLimiting.Enabled {
		if s.RateLimiting.RequestsPerMinute < 1 {
			return fmt.Errorf("requests_per_minute must be positive, got %d", s.RateLimiting.RequestsPerMinute)
		}
		if s.RateLimiting.Burst < 1 {
			return fmt.Errorf("burst must be positive, got %d", s.RateLimiting.Burst)
		}
	}
	return nil
}

func validateCaching(c *CachingConfig) error {
	if !c.Enabled {
		return nil
	}
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	if c.MaxSizeMB < 1 {
		return fmt.Errorf("max_size must be positive, got %d", c.MaxSizeMB)
	}
	return nil
}

func validateTelemetry(t *TelemetryConfig) error {
	switch t.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", t.Logging.Level)
	}
	switch t.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", t.Logging.Format)
	}
	return nil
}
