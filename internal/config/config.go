// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Server() ServerConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Audit() AuditConfig
	Tracing() TracingConfig

	// Browser Setters
	SetBrowserMaxSessions(int)
	SetBrowserExecPath(string)

	// Network Setters
	SetNetworkNavigationTimeout(d time.Duration)
	SetNetworkWaitUntil(string)

	// Audit Setters
	SetAuditTags([]string)
}

// Config holds the entire application configuration. Sections are exported so
// viper can decode into them; callers go through the Interface getters.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	ServerCfg  ServerConfig  `mapstructure:"server" yaml:"server"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	NetworkCfg NetworkConfig `mapstructure:"network" yaml:"network"`
	AuditCfg   AuditConfig   `mapstructure:"audit" yaml:"audit"`
	TracingCfg TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Server() ServerConfig   { return c.ServerCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Network() NetworkConfig { return c.NetworkCfg }
func (c *Config) Audit() AuditConfig     { return c.AuditCfg }
func (c *Config) Tracing() TracingConfig { return c.TracingCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserMaxSessions(n int)  { c.BrowserCfg.MaxSessions = n }
func (c *Config) SetBrowserExecPath(p string)  { c.BrowserCfg.ExecPath = p }
func (c *Config) SetNetworkWaitUntil(w string) { c.NetworkCfg.WaitUntil = w }
func (c *Config) SetAuditTags(tags []string)   { c.AuditCfg.Tags = tags }
func (c *Config) SetNetworkNavigationTimeout(d time.Duration) {
	c.NetworkCfg.NavigationTimeout = d
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// CORSOrigin is the single front-end origin allowed to call the API with
	// credentials. Empty disables CORS headers entirely.
	CORSOrigin      string        `mapstructure:"cors_origin" yaml:"cors_origin"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	// RateLimit is the sustained scan requests per second per client IP.
	// Zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Queue policies for browser session acquisition.
const (
	QueuePolicyQueue  = "queue"
	QueuePolicyReject = "reject"
)

// BrowserConfig holds settings for the per-scan headless browser instances.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	MaxSessions     int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	QueuePolicy     string        `mapstructure:"queue_policy" yaml:"queue_policy"`
	QueueTimeout    time.Duration `mapstructure:"queue_timeout" yaml:"queue_timeout"`
	LaunchTimeout   time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	CloseTimeout    time.Duration `mapstructure:"close_timeout" yaml:"close_timeout"`
	ExecPath        string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth     int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight    int           `mapstructure:"window_height" yaml:"window_height"`
	Debug           bool          `mapstructure:"debug" yaml:"debug"`
}

// Load signals a navigation can wait for.
const (
	WaitUntilLoad        = "load"
	WaitUntilNetworkIdle = "networkidle"
)

// NetworkConfig tunes how pages are loaded.
type NetworkConfig struct {
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	WaitUntil         string            `mapstructure:"wait_until" yaml:"wait_until"`
	PostLoadWait      time.Duration     `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers"`
}

// AuditConfig locates the axe-core engine and scopes the rules it runs.
type AuditConfig struct {
	// EnginePath is a local axe.min.js. Takes precedence over EngineURL.
	EnginePath string        `mapstructure:"engine_path" yaml:"engine_path"`
	EngineURL  string        `mapstructure:"engine_url" yaml:"engine_url"`
	Tags       []string      `mapstructure:"tags" yaml:"tags"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// TracingConfig controls the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	PrettyPrint bool    `mapstructure:"pretty_print" yaml:"pretty_print"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key. Every
// key must have a default so AutomaticEnv overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "axescan")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Server --
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origin", "http://localhost:5173")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "3m")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 64<<10)
	v.SetDefault("server.rate_limit", 0.0)
	v.SetDefault("server.rate_burst", 5)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.max_sessions", 4)
	v.SetDefault("browser.queue_policy", QueuePolicyQueue)
	v.SetDefault("browser.queue_timeout", "30s")
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.close_timeout", "5s")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 768)
	v.SetDefault("browser.debug", false)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "60s")
	v.SetDefault("network.wait_until", WaitUntilNetworkIdle)
	v.SetDefault("network.post_load_wait", "0s")
	v.SetDefault("network.headers", map[string]string{})

	// -- Audit --
	v.SetDefault("audit.engine_path", "")
	v.SetDefault("audit.engine_url", "https://cdnjs.cloudflare.com/ajax/libs/axe-core/4.10.2/axe.min.js")
	v.SetDefault("audit.tags", []string{"wcag2a", "wcag2aa", "wcag21a", "wcag21aa", "best-practice"})
	v.SetDefault("audit.timeout", "60s")

	// -- Tracing --
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.pretty_print", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// EnvPrefix namespaces every environment override, e.g. AXESCAN_BROWSER_MAX_SESSIONS.
const EnvPrefix = "AXESCAN"

var envKeyReplacer = strings.NewReplacer(".", "_")

// BindEnv enables AXESCAN_ prefixed environment overrides on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
}

// legacyEnv maps the bare environment variables used by earlier deployments
// onto their configuration keys. Prefixed AXESCAN_ variables win over these.
var legacyEnv = map[string]string{
	"PORT":         "server.port",
	"URL_FRONTEND": "server.cors_origin",
}

// BindLegacyEnv lets PORT and URL_FRONTEND configure the server when the
// prefixed equivalents are not set.
func BindLegacyEnv(v *viper.Viper) {
	for env, key := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(envKeyReplacer.Replace(key))
		if _, ok := os.LookupEnv(prefixed); ok {
			continue
		}
		if val, ok := os.LookupEnv(env); ok && val != "" {
			v.Set(key, val)
		}
	}
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	BindLegacyEnv(v)

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in file system settings.
func (c *Config) expandPaths() error {
	paths := []*string{&c.BrowserCfg.ExecPath, &c.AuditCfg.EnginePath, &c.LoggerCfg.LogFile}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.ServerCfg.Validate(); err != nil {
		return fmt.Errorf("server configuration invalid: %w", err)
	}
	if err := c.BrowserCfg.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.NetworkCfg.Validate(); err != nil {
		return fmt.Errorf("network configuration invalid: %w", err)
	}
	if err := c.AuditCfg.Validate(); err != nil {
		return fmt.Errorf("audit configuration invalid: %w", err)
	}
	if c.TracingCfg.SampleRatio < 0 || c.TracingCfg.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0.0 and 1.0")
	}
	return nil
}

// Validate checks the ServerConfig settings.
func (s *ServerConfig) Validate() error {
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", s.Port)
	}
	if s.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be a positive integer")
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if s.RateLimit > 0 && s.RateBurst <= 0 {
		return fmt.Errorf("rate_burst must be positive when rate_limit is set")
	}
	return nil
}

// Validate checks the BrowserConfig settings.
func (b *BrowserConfig) Validate() error {
	if b.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be a positive integer")
	}
	switch b.QueuePolicy {
	case QueuePolicyQueue, QueuePolicyReject:
	default:
		return fmt.Errorf("queue_policy must be %q or %q, got %q", QueuePolicyQueue, QueuePolicyReject, b.QueuePolicy)
	}
	if b.QueuePolicy == QueuePolicyQueue && b.QueueTimeout <= 0 {
		return fmt.Errorf("queue_timeout must be a positive duration")
	}
	if b.LaunchTimeout <= 0 {
		return fmt.Errorf("launch_timeout must be a positive duration")
	}
	if b.WindowWidth <= 0 || b.WindowHeight <= 0 {
		return fmt.Errorf("window_width and window_height must be positive")
	}
	return nil
}

// Validate checks the NetworkConfig settings.
func (n *NetworkConfig) Validate() error {
	if n.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation_timeout must be a positive duration")
	}
	switch n.WaitUntil {
	case WaitUntilLoad, WaitUntilNetworkIdle:
	default:
		return fmt.Errorf("wait_until must be %q or %q, got %q", WaitUntilLoad, WaitUntilNetworkIdle, n.WaitUntil)
	}
	if n.PostLoadWait < 0 {
		return fmt.Errorf("post_load_wait must not be negative")
	}
	return nil
}

// Validate checks the AuditConfig settings.
func (a *AuditConfig) Validate() error {
	if a.EnginePath == "" && a.EngineURL == "" {
		return fmt.Errorf("one of engine_path or engine_url is required")
	}
	if a.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	return nil
}
