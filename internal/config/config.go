// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Compiler CompilerConfig `mapstructure:"compiler" yaml:"compiler"`
	Planner  PlannerConfig  `mapstructure:"planner" yaml:"planner"`
	API      APIConfig      `mapstructure:"api" yaml:"api"`
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

// BrowserConfig holds settings for the Chrome instance driven by the engine.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	StartURL        string         `mapstructure:"start_url" yaml:"start_url"`
	SearchURL       string         `mapstructure:"search_url" yaml:"search_url"`
	Locale          string         `mapstructure:"locale" yaml:"locale"`
	Timezone        string         `mapstructure:"timezone" yaml:"timezone"`
	Languages       []string       `mapstructure:"languages" yaml:"languages"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	EventBuffer     int            `mapstructure:"event_buffer" yaml:"event_buffer"`
	Debug           bool           `mapstructure:"debug" yaml:"debug"`
}

// EngineConfig configures the action execution engine.
type EngineConfig struct {
	// SettleTimeout forces the page to count as settled when a load never finishes.
	SettleTimeout time.Duration `mapstructure:"settle_timeout" yaml:"settle_timeout"`
	// EvalTimeout bounds a single script evaluation at the bridge boundary.
	EvalTimeout   time.Duration `mapstructure:"eval_timeout" yaml:"eval_timeout"`
	InboxSize     int           `mapstructure:"inbox_size" yaml:"inbox_size"`
	OutcomeBuffer int           `mapstructure:"outcome_buffer" yaml:"outcome_buffer"`
}

// CompilerConfig configures the action compiler.
type CompilerConfig struct {
	CacheSize           int `mapstructure:"cache_size" yaml:"cache_size"`
	DefaultScrollAmount int `mapstructure:"default_scroll_amount" yaml:"default_scroll_amount"`
}

// LLMProvider defines the supported planner providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderStatic LLMProvider = "static"
)

// PlannerConfig configures the planner adapter.
type PlannerConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	// RequestsPerMinute throttles planner calls. Zero disables the limiter.
	RequestsPerMinute float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// APIConfig configures the optional HTTP control surface.
type APIConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Listen          string        `mapstructure:"listen" yaml:"listen"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
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

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pagepilot")
	v.SetDefault("logger.log_file", "pagepilot.log")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.start_url", "https://www.google.com")
	v.SetDefault("browser.search_url", "https://www.google.com/search?q=")
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 900})
	v.SetDefault("browser.event_buffer", 256)

	// -- Engine --
	v.SetDefault("engine.settle_timeout", "5s")
	v.SetDefault("engine.eval_timeout", "15s")
	v.SetDefault("engine.inbox_size", 64)
	v.SetDefault("engine.outcome_buffer", 128)

	// -- Compiler --
	v.SetDefault("compiler.cache_size", 256)
	v.SetDefault("compiler.default_scroll_amount", 300)

	// -- Planner --
	v.SetDefault("planner.provider", string(ProviderGemini))
	v.SetDefault("planner.model", "gemini-2.5-flash")
	v.SetDefault("planner.api_timeout", "60s")
	v.SetDefault("planner.temperature", 0.1)
	v.SetDefault("planner.top_p", 0.8)
	v.SetDefault("planner.top_k", 40)
	v.SetDefault("planner.max_tokens", 2048)
	v.SetDefault("planner.max_attempts", 3)
	v.SetDefault("planner.requests_per_minute", 30.0)

	// -- API --
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen", "127.0.0.1:5000")
	v.SetDefault("api.shutdown_timeout", "5s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data. GOOGLE_API_KEY is what the
	// Gemini tooling conventionally reads.
	_ = v.BindEnv("planner.api_key", "PAGEPILOT_PLANNER_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	if err := c.Planner.Validate(); err != nil {
		return fmt.Errorf("planner configuration invalid: %w", err)
	}
	if c.Compiler.CacheSize < 0 {
		return fmt.Errorf("compiler.cache_size must not be negative")
	}
	if c.Compiler.DefaultScrollAmount <= 0 {
		return fmt.Errorf("compiler.default_scroll_amount must be a positive integer")
	}
	if c.API.Enabled && c.API.Listen == "" {
		return fmt.Errorf("api.listen is required when the API is enabled")
	}
	return nil
}

// Validate checks the engine timing settings.
func (e *EngineConfig) Validate() error {
	if e.SettleTimeout <= 0 {
		return fmt.Errorf("settle_timeout must be a positive duration")
	}
	if e.EvalTimeout <= 0 {
		return fmt.Errorf("eval_timeout must be a positive duration")
	}
	if e.InboxSize <= 0 {
		return fmt.Errorf("inbox_size must be a positive integer")
	}
	return nil
}

// Validate checks the planner settings. The API key is checked lazily by the
// Gemini client so that commands which never plan can run without one.
func (p *PlannerConfig) Validate() error {
	switch p.Provider {
	case ProviderGemini, ProviderStatic:
	default:
		return fmt.Errorf("unknown provider %q (supported: %s, %s)", p.Provider, ProviderGemini, ProviderStatic)
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be greater than 0")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if p.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}
	return nil
}
