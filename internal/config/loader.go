package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom is Load with an explicit variable lookup. An empty value counts
// as unset.
func LoadFrom(getenv func(string) string) (*Config, error) {
	cfg := &Config{}

	var errs []string
	walkFields(reflect.ValueOf(cfg).Elem(), func(f reflect.Value, tag reflect.StructTag) {
		name := tag.Get("env")
		value := getenv(name)
		if value == "" {
			if alt := tag.Get("envAlt"); alt != "" {
				value = getenv(alt)
			}
		}
		if value == "" {
			if tag.Get("required") == "true" {
				errs = append(errs, fmt.Sprintf("%s is required", name))
				return
			}
			value = tag.Get("default")
		}
		if value == "" {
			return
		}
		if err := assign(f.Addr().Interface(), value); err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q: %v", name, value, err))
		}
	})
	if len(errs) > 0 {
		return nil, fmt.Errorf("config load: invalid environment:\n  - %s", strings.Join(errs, "\n  - "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// walkFields calls fn for every settable field carrying an env tag,
// descending into nested structs.
func walkFields(v reflect.Value, fn func(reflect.Value, reflect.StructTag)) {
	t := v.Type()
	for i := range t.NumField() {
		sf, f := t.Field(i), v.Field(i)
		switch {
		case !f.CanSet():
		case sf.Type.Kind() == reflect.Struct:
			walkFields(f, fn)
		case sf.Tag.Get("env") != "":
			fn(f, sf.Tag)
		}
	}
}

// assign parses value into the field pointed to by ptr.
func assign(ptr any, value string) error {
	var err error
	switch p := ptr.(type) {
	case *string:
		*p = value
	case *time.Duration:
		*p, err = time.ParseDuration(value)
	case *int:
		*p, err = strconv.Atoi(value)
	case *float64:
		*p, err = strconv.ParseFloat(value, 64)
	case *bool:
		*p, err = strconv.ParseBool(value)
	case *[]string:
		*p = splitList(value)
	default:
		return fmt.Errorf("unsupported field type %T", ptr)
	}
	if ne, ok := err.(*strconv.NumError); ok {
		return ne.Err
	}
	return err
}

// splitList splits a comma-separated list, dropping blank entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// QATrack+ validation
	if c.QATrack.URL == "" {
		errs = append(errs, "QATRACK_URL is required")
	} else if u, err := url.Parse(c.QATrack.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("QATRACK_URL (%q) must be an http(s) URL", c.QATrack.URL))
	}
	if c.QATrack.Username == "" {
		errs = append(errs, "QATRACK_USERNAME is required")
	}
	if c.QATrack.Timeout <= 0 {
		errs = append(errs, "QATRACK_TIMEOUT must be positive")
	}
	if c.QATrack.ConnectRetry < 0 {
		errs = append(errs, "QATRACK_CONNECT_RETRY must be non-negative")
	}
	if c.QATrack.SubmitRate < 0 {
		errs = append(errs, "QATRACK_SUBMIT_RATE must be non-negative")
	}

	// Progress validation
	switch strings.ToLower(c.Progress.Backend) {
	case "file", "sqlite", "memory":
	case "postgres":
		if c.Progress.DSN == "" {
			errs = append(errs, "PROGRESS_DSN is required when PROGRESS_BACKEND is postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("PROGRESS_BACKEND (%q) must be one of: file, sqlite, postgres, memory", c.Progress.Backend))
	}

	// Database validation
	if c.MosaiQ.MaxConns < c.MosaiQ.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.MosaiQ.MaxConns, c.MosaiQ.MinConns))
	}
	if c.MosaiQ.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.MosaiQ.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Run validation
	if c.Run.MaxConcurrent <= 0 {
		errs = append(errs, "RUN_MAX_CONCURRENT must be positive")
	}
	if c.Run.MaxWaitTime <= 0 {
		errs = append(errs, "RUN_MAX_WAIT_TIME must be positive")
	}
	if c.Run.Timeout < 0 {
		errs = append(errs, "RUN_TIMEOUT must be non-negative")
	}
	if c.Run.SyncInterval < 0 {
		errs = append(errs, "SYNC_INTERVAL must be non-negative")
	}
	if c.Run.HistorySize <= 0 {
		errs = append(errs, "RUN_HISTORY_SIZE must be positive")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "API_KEYS is required when REQUIRE_API_KEY is true")
	}
	for _, p := range c.Security.TrustedProxies {
		p = strings.TrimSpace(p)
		if _, err := netip.ParsePrefix(p); err != nil {
			if _, err := netip.ParseAddr(p); err != nil && p != "" {
				errs = append(errs, fmt.Sprintf("TRUSTED_PROXIES entry %q must be an IP or CIDR", p))
			}
		}
	}
	if c.Security.RequestsPerMinute < 0 {
		errs = append(errs, "RATE_LIMIT_PER_MINUTE must be non-negative")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Passwords and connection strings are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("QATrack: {URL: %q, Username: %q, Password: [MASKED], Strict: %v}, ",
		c.QATrack.URL, c.QATrack.Username, c.QATrack.StrictResponse))
	b.WriteString(fmt.Sprintf("Targets: {File: %q}, ", c.Targets.File))
	b.WriteString(fmt.Sprintf("Progress: {Backend: %q, File: %q, DSN: %s}, ",
		c.Progress.Backend, c.Progress.File, mask(c.Progress.DSN)))
	b.WriteString(fmt.Sprintf("MosaiQ: {URL: %s, MaxConns: %d}, ", mask(c.MosaiQ.URL), c.MosaiQ.MaxConns))
	b.WriteString(fmt.Sprintf("Run: {MaxConcurrent: %d, Timeout: %s, SyncInterval: %s}, ",
		c.Run.MaxConcurrent, c.Run.Timeout, c.Run.SyncInterval))
	b.WriteString(fmt.Sprintf("Security: {TrustedProxies: %v, RequireAPIKey: %v, APIKeys: %d configured}, ",
		c.Security.TrustedProxies, c.Security.RequireAPIKey, len(c.Security.APIKeys)))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

func mask(s string) string {
	if s == "" {
		return `""`
	}
	return "[MASKED]"
}
