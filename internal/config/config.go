// Package config provides configuration parsing and validation for the
// relay server.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration.
type Config struct {
	Servers      []ServerConfig `yaml:"servers"`
	LocalAddress string         `yaml:"local_address"`
	DNS          DNSConfig      `yaml:"dns"`
	IPv6First    bool           `yaml:"ipv6_first"`
	NoDelay      bool           `yaml:"no_delay"`
	ACL          ACLConfig      `yaml:"acl"`
	Manager      string         `yaml:"manager"`
	Log          LogConfig      `yaml:"log"`
	Metrics      MetricsConfig  `yaml:"metrics"`
}

// ServerConfig describes one listening shadowsocks instance.
type ServerConfig struct {
	// Name identifies this instance in logs and metrics. Defaults to
	// Address when empty.
	Name string `yaml:"name"`
	// Address is the local TCP address to accept connections on, e.g.
	// "0.0.0.0:8388".
	Address string `yaml:"address"`
	// Method is an AEAD method name: chacha20-ietf-poly1305,
	// aes-256-gcm, or aes-128-gcm.
	Method string `yaml:"method"`
	// Password is the pre-shared key, as plain text (stretched into the
	// AEAD master key via the method's key size).
	Password string `yaml:"password"`
	// ConnectTimeout bounds the outbound dial. Defaults to 10s.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// IdleTimeout bounds each read from and each write to the client-facing
	// socket; one that does not complete within this time ends the relayed
	// connection, even while data still flows the other way. The outbound
	// socket is not bound by it. Zero disables the idle timeout.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// RateLimitBytesPerSec caps sustained throughput for this instance,
	// shared by all of its connections combined. Zero disables rate
	// limiting.
	RateLimitBytesPerSec int64 `yaml:"rate_limit_bytes_per_sec"`
}

// DNSConfig controls how domain-name targets are resolved.
type DNSConfig struct {
	// Nameservers, when set, puts the resolver in explicit mode: only
	// these servers are queried. When empty, /etc/resolv.conf is read,
	// falling back to the public resolvers 8.8.8.8/8.8.4.4 if that
	// fails or yields nothing.
	Nameservers []string      `yaml:"nameservers"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ACLConfig holds the compiled-at-startup allow rules. An empty list for
// either direction allows everything through that direction.
type ACLConfig struct {
	Inbound  []string `yaml:"inbound"`
	Outbound []string `yaml:"outbound"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the optional Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns a Config with the server's built-in defaults applied.
// It has no server instances; at least one must be added before Validate
// will accept it.
func Default() *Config {
	return &Config{
		Servers: []ServerConfig{},
		DNS: DNSConfig{
			Nameservers: []string{},
			Timeout:     5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9388",
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, expanding environment
// variable references first.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their
// values. ${VAR:-default} falls back to default when VAR is unset.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Servers) == 0 {
		errs = append(errs, "servers: at least one server instance is required")
	}
	seenNames := make(map[string]bool)
	for i, s := range c.Servers {
		if err := validateServer(s); err != nil {
			errs = append(errs, fmt.Sprintf("servers[%d]: %v", i, err))
			continue
		}
		name := s.Name
		if name == "" {
			name = s.Address
		}
		if seenNames[name] {
			errs = append(errs, fmt.Sprintf("servers[%d]: duplicate instance name/address %q", i, name))
		}
		seenNames[name] = true
	}

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("log.level: invalid value %q (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("log.format: invalid value %q (must be text or json)", c.Log.Format))
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, "metrics.address is required when metrics.enabled is true")
	}

	for i, rule := range c.ACL.Inbound {
		if err := validateACLRule(rule); err != nil {
			errs = append(errs, fmt.Sprintf("acl.inbound[%d]: %v", i, err))
		}
	}
	for i, rule := range c.ACL.Outbound {
		if err := validateACLRule(rule); err != nil {
			errs = append(errs, fmt.Sprintf("acl.outbound[%d]: %v", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	if s.Address == "" {
		return fmt.Errorf("address is required")
	}
	if !isValidMethod(s.Method) {
		return fmt.Errorf("invalid method: %s (must be chacha20-ietf-poly1305, aes-256-gcm, or aes-128-gcm)", s.Method)
	}
	if s.Password == "" {
		return fmt.Errorf("password is required")
	}
	if s.RateLimitBytesPerSec < 0 {
		return fmt.Errorf("rate_limit_bytes_per_sec must not be negative")
	}
	return nil
}

func isValidMethod(method string) bool {
	switch method {
	case "chacha20-ietf-poly1305", "aes-256-gcm", "aes-128-gcm":
		return true
	default:
		return false
	}
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

// validateACLRule accepts a CIDR, a bare IP, or a domain suffix pattern —
// the same three forms internal/acl.Compile accepts.
func validateACLRule(rule string) error {
	if rule == "" {
		return fmt.Errorf("empty ACL rule")
	}
	if _, _, err := net.ParseCIDR(rule); err == nil {
		return nil
	}
	if ip := net.ParseIP(rule); ip != nil {
		return nil
	}
	return validateDomainPattern(rule)
}

// validateDomainPattern validates a bare domain suffix (no wildcard
// syntax; internal/acl matches subdomains by suffix automatically).
func validateDomainPattern(pattern string) error {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return fmt.Errorf("empty domain pattern")
	}
	if strings.HasPrefix(pattern, ".") || strings.HasSuffix(pattern, ".") {
		return fmt.Errorf("domain cannot start or end with a dot")
	}
	if strings.Contains(pattern, "..") {
		return fmt.Errorf("domain cannot contain consecutive dots")
	}
	for _, r := range pattern {
		if !isValidDomainChar(r) {
			return fmt.Errorf("invalid character in domain: %c", r)
		}
	}
	return nil
}

func isValidDomainChar(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '-' || r == '.'
}
