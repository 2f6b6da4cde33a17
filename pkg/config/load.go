package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any
// errors. Environment variables are not consulted; use
// LoadConfigWithEnvOverrides for that behavior.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and
// applies environment variable overrides. Variables follow the naming
// convention CHARON_SECTION_FIELD (e.g. CHARON_SERVER_PORT) and always
// take precedence over file-based configuration.
//
// The loading sequence is:
//  1. Load YAML from file
//  2. Apply default values
//  3. Apply environment variable overrides
//  4. Validate the final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Variables use the format CHARON_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("CHARON_SERVER_HOST"); val != "" {
		cfg.Server.Host = val
	}
	if val := os.Getenv("CHARON_SERVER_PORT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Server.Port = i
		}
	}
	if val := os.Getenv("CHARON_SERVER_MAX_CONNECTIONS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Server.MaxConnections = i
		}
	}
	if val := os.Getenv("CHARON_SERVER_IDLE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.IdleTimeout = d
		}
	}

	if val := os.Getenv("CHARON_PROXY_MODE"); val != "" {
		cfg.Proxy.Mode = ProxyMode(val)
	}

	if val := os.Getenv("CHARON_SECURITY_SSL_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Security.SSL.Enabled = b
		}
	}
	if val := os.Getenv("CHARON_SECURITY_SSL_CERT_FILE"); val != "" {
		cfg.Security.SSL.CertFile = val
	}
	if val := os.Getenv("CHARON_SECURITY_SSL_KEY_FILE"); val != "" {
		cfg.Security.SSL.KeyFile = val
	}

	if val := os.Getenv("CHARON_RATE_LIMITING_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Security.RateLimiting.Enabled = b
		}
	}
	if val := os.Getenv("CHARON_RATE_LIMITING_REQUESTS_PER_MINUTE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Security.RateLimiting.RequestsPerMinute = i
		}
	}
	if val := os.Getenv("CHARON_RATE_LIMITING_BURST"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Security.RateLimiting.Burst = i
		}
	}

	if val := os.Getenv("CHARON_CACHING_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Caching.Enabled = b
		}
	}
	if val := os.Getenv("CHARON_CACHING_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Caching.TTL = d
		}
	}

	if val := os.Getenv("CHARON_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("CHARON_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("CHARON_METRICS_LISTEN_ADDRESS"); val != "" {
		cfg.Telemetry.Metrics.ListenAddress = val
	}

	if val := os.Getenv("CHARON_ACCESS_LOG_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.AccessLog.Enabled = b
		}
	}
	if val := os.Getenv("CHARON_ACCESS_LOG_PATH"); val != "" {
		cfg.AccessLog.Path = val
	}
}
