package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string                  `toml:"environment"` // "development" or "production"
	Portal      string                  `toml:"portal" validate:"required"`
	Browser     BrowserConfig           `toml:"browser"`
	Navigation  NavigationConfig        `toml:"navigation"`
	Auth        AuthConfig              `toml:"auth"`
	Extraction  ExtractionConfig        `toml:"extraction"`
	Storage     StorageConfig           `toml:"storage"`
	Logging     LoggingConfig           `toml:"logging"`
	Portals     map[string]PortalConfig `toml:"portals" validate:"dive"`
}

// Duration wraps time.Duration so TOML files can use "30s" style values
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration as a Go duration string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Dur is a shorthand for building config durations
func Dur(d time.Duration) Duration {
	return Duration{Duration: d}
}

// BrowserConfig controls the chromedp allocator for a portal session
type BrowserConfig struct {
	Headless      bool     `toml:"headless"`
	UserAgent     string   `toml:"user_agent"`
	ExecPath      string   `toml:"exec_path"`      // Optional Chrome/Chromium binary override
	NoSandbox     bool     `toml:"no_sandbox"`     // Required inside most containers
	WindowWidth   int      `toml:"window_width"`   // Portals render differently below desktop widths
	WindowHeight  int      `toml:"window_height"`  // See window_width
	StartTimeout  Duration `toml:"start_timeout"`  // Startup probe timeout
	CloseTimeout  Duration `toml:"close_timeout"`  // Max time to wait for a clean shutdown
	ActionTimeout Duration `toml:"action_timeout"` // Default timeout for a single click/fill/read
}

// NavigationConfig controls the navigation guard
type NavigationConfig struct {
	MaxAttempts    int      `toml:"max_attempts" validate:"min=1"`
	NavTimeout     Duration `toml:"nav_timeout"`     // Until DOMContentLoaded
	IdleTimeout    Duration `toml:"idle_timeout"`    // Soft wait for a quiet network, allowed to expire
	InitialBackoff Duration `toml:"initial_backoff"` // First retry delay
	MaxBackoff     Duration `toml:"max_backoff"`
}

// AuthConfig controls the login/OTP state machine
type AuthConfig struct {
	PostLoginTimeout    Duration `toml:"post_login_timeout"`    // Mandatory post-login signal
	OTPDetectTimeout    Duration `toml:"otp_detect_timeout"`    // How long to look for an OTP form after submit
	ManualOTPTimeout    Duration `toml:"manual_otp_timeout"`    // Human completes the challenge in the browser
	OTPPollInterval     Duration `toml:"otp_poll_interval"`     // Manual path poll frequency
	OTPEnv              string   `toml:"otp_env"`               // Environment fallback for the OTP code
	TrustDevice         bool     `toml:"trust_device"`          // Best-effort "remember this device"
	SessionCheckDelay   Duration `toml:"session_check_delay"`   // Settle time before reading post-auth signals
	SessionProbeTimeout Duration `toml:"session_probe_timeout"` // How long a restored session gets to show the post-auth element
}

// ExtractionConfig controls the extraction pipeline
type ExtractionConfig struct {
	DetailDelay       Duration `toml:"detail_delay"`  // Politeness delay between claim detail fetches
	PatientDelay      Duration `toml:"patient_delay"` // Politeness delay between patients in a batch
	DetailAttempts    int      `toml:"detail_attempts" validate:"min=1"`
	EmptyPageRetry    Duration `toml:"empty_page_retry"` // Delay before re-reading a page that yielded nothing
	MaxPages          int      `toml:"max_pages" validate:"min=1"`
	ResultsTimeout    Duration `toml:"results_timeout"`      // Wait for a search results signal
	ObstacleTimeout   Duration `toml:"obstacle_timeout"`     // Existence check for optional popups
	PopupTimeout      Duration `toml:"popup_timeout"`        // Wait for a claim detail popup to open
	NameMatchMinScore float64  `toml:"name_match_min_score"` // Jaro-Winkler floor for fuzzy result selection
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete persisted sessions on startup
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
	FileName   string   `toml:"file_name"`   // Log file name inside ./logs
}

// PortalConfig holds per-portal connection settings. Selector overrides are merged
// onto the adapter's built-in profile by key.
type PortalConfig struct {
	Adapter     string            `toml:"adapter" validate:"omitempty,oneof=html api"`
	BaseURL     string            `toml:"base_url" validate:"omitempty,url"`
	APIURL      string            `toml:"api_url" validate:"omitempty,url"`
	Username    string            `toml:"username"`
	Password    string            `toml:"password"`
	UsernameEnv string            `toml:"username_env"`
	PasswordEnv string            `toml:"password_env"`
	Selectors   map[string]string `toml:"selectors"`
}

// Credentials resolves the portal username and password, config first, then env
func (p PortalConfig) Credentials() (string, string) {
	username := p.Username
	if username == "" && p.UsernameEnv != "" {
		username = os.Getenv(p.UsernameEnv)
	}
	password := p.Password
	if password == "" && p.PasswordEnv != "" {
		password = os.Getenv(p.PasswordEnv)
	}
	return strings.TrimSpace(username), password
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Portal:      "deltadental",
		Browser: BrowserConfig{
			Headless:      true,
			UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			NoSandbox:     false,
			WindowWidth:   1920,
			WindowHeight:  1080,
			StartTimeout:  Dur(30 * time.Second),
			CloseTimeout:  Dur(10 * time.Second),
			ActionTimeout: Dur(15 * time.Second),
		},
		Navigation: NavigationConfig{
			MaxAttempts:    3,
			NavTimeout:     Dur(45 * time.Second),
			IdleTimeout:    Dur(5 * time.Second),
			InitialBackoff: Dur(2 * time.Second),
			MaxBackoff:     Dur(10 * time.Second),
		},
		Auth: AuthConfig{
			PostLoginTimeout:    Dur(60 * time.Second),
			OTPDetectTimeout:    Dur(8 * time.Second),
			ManualOTPTimeout:    Dur(5 * time.Minute),
			OTPPollInterval:     Dur(2 * time.Second),
			OTPEnv:              "PORTALX_OTP_CODE",
			TrustDevice:         true,
			SessionCheckDelay:   Dur(1 * time.Second),
			SessionProbeTimeout: Dur(10 * time.Second),
		},
		Extraction: ExtractionConfig{
			DetailDelay:       Dur(1500 * time.Millisecond),
			PatientDelay:      Dur(3 * time.Second),
			DetailAttempts:    2,
			EmptyPageRetry:    Dur(2 * time.Second),
			MaxPages:          25,
			ResultsTimeout:    Dur(20 * time.Second),
			ObstacleTimeout:   Dur(1500 * time.Millisecond),
			PopupTimeout:      Dur(15 * time.Second),
			NameMatchMinScore: 0.9,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/sessions",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05",
			FileName:   "portalx.log",
		},
		Portals: map[string]PortalConfig{
			"deltadental": {
				Adapter:     "html",
				BaseURL:     "https://www.deltadentalins.com",
				UsernameEnv: "PORTALX_DELTADENTAL_USERNAME",
				PasswordEnv: "PORTALX_DELTADENTAL_PASSWORD",
			},
			"metlife": {
				Adapter:     "api",
				BaseURL:     "https://metdental.metlife.com",
				APIURL:      "https://metdental.metlife.com/api",
				UsernameEnv: "PORTALX_METLIFE_USERNAME",
				PasswordEnv: "PORTALX_METLIFE_PASSWORD",
			},
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PORTALX_ENV"); env != "" {
		config.Environment = env
	}
	if portal := os.Getenv("PORTALX_PORTAL"); portal != "" {
		config.Portal = portal
	}
	if headless := os.Getenv("PORTALX_HEADLESS"); headless != "" {
		if b, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = b
		}
	}
	if noSandbox := os.Getenv("PORTALX_NO_SANDBOX"); noSandbox != "" {
		if b, err := strconv.ParseBool(noSandbox); err == nil {
			config.Browser.NoSandbox = b
		}
	}
	if execPath := os.Getenv("PORTALX_CHROME_PATH"); execPath != "" {
		config.Browser.ExecPath = execPath
	}
	if path := os.Getenv("PORTALX_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if level := os.Getenv("PORTALX_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("PORTALX_LOG_OUTPUT"); output != "" {
		config.Logging.Output = strings.Split(output, ",")
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, portal string, headless *bool) {
	if portal != "" {
		config.Portal = portal
	}
	if headless != nil {
		config.Browser.Headless = *headless
	}
}

var configValidator = validator.New()

// Validate checks structural constraints on the configuration
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// PortalSettings returns the settings for the named portal
func (c *Config) PortalSettings(name string) (PortalConfig, bool) {
	p, ok := c.Portals[strings.ToLower(name)]
	return p, ok
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
