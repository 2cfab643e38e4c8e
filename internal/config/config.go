// Package config loads process configuration from defaults, an optional
// config file, .env files, environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pbaille/tweetpipe/internal/domain"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. TWEETPIPE_OCR_PAGE_SIZE
const EnvPrefix = "TWEETPIPE"

// Config is the effective process configuration
type Config struct {
	Listen     string     `mapstructure:"listen" yaml:"listen"`
	DataDir    string     `mapstructure:"data_dir" yaml:"data_dir"`
	Screenpipe Screenpipe `mapstructure:"screenpipe" yaml:"screenpipe"`
	OCR        OCR        `mapstructure:"ocr" yaml:"ocr"`
	History    History    `mapstructure:"history" yaml:"history"`
	Ollama     Ollama     `mapstructure:"ollama" yaml:"ollama"`
	Defaults   Defaults   `mapstructure:"defaults" yaml:"defaults"`
	Schedule   Schedule   `mapstructure:"schedule" yaml:"schedule"`
	HTTP       HTTP       `mapstructure:"http" yaml:"http"`
	Log        Log        `mapstructure:"log" yaml:"log"`
}

// Screenpipe locates the capture service
type Screenpipe struct {
	APIURL    string `mapstructure:"api_url" yaml:"api_url"`
	DBPath    string `mapstructure:"db_path" yaml:"db_path"`
	NotifyURL string `mapstructure:"notify_url" yaml:"notify_url"`
}

type OCR struct {
	PageSize int `mapstructure:"page_size" yaml:"page_size"`
}

type History struct {
	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days"`
}

type Ollama struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// Defaults seed the settings document on first access
type Defaults struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	Model    string `mapstructure:"model" yaml:"model"`
	Mood     string `mapstructure:"mood" yaml:"mood"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
}

// Schedule drives the optional in-process trigger; zero disables it
type Schedule struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// HTTP holds outbound client settings
type HTTP struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// New returns a viper instance carrying defaults and environment bindings.
// Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("listen", ":8080")
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("screenpipe.api_url", "http://localhost:3030")
	v.SetDefault("screenpipe.db_path", "")
	v.SetDefault("screenpipe.notify_url", "http://localhost:11435/notify")
	v.SetDefault("ocr.page_size", 5)
	v.SetDefault("history.retention_days", 7)
	v.SetDefault("ollama.url", "http://localhost:11434")
	v.SetDefault("defaults.provider", string(domain.ProviderGoogle))
	v.SetDefault("defaults.model", "gemini-1.5-pro")
	v.SetDefault("defaults.mood", "Funny, informative")
	v.SetDefault("defaults.api_key", "")
	v.SetDefault("schedule.interval", time.Duration(0))
	v.SetDefault("http.timeout", 60*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The capture app and most tooling export the Gemini key under its own name
	_ = v.BindEnv("defaults.api_key", EnvPrefix+"_DEFAULTS_API_KEY", "GEMINI_API_KEY")

	return v
}

// DefaultDataDir is ~/.tweetpipe, or ./.tweetpipe when no home is known
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tweetpipe"
	}
	return filepath.Join(home, ".tweetpipe")
}

// LoadDotEnv loads the given .env files (default ".env") into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configFile when set, then decodes and validates the result
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Screenpipe.DBPath = expandHome(cfg.Screenpipe.DBPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid value
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return errors.New("config: listen is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("config: data_dir is required")
	}
	for key, raw := range map[string]string{
		"screenpipe.api_url":    c.Screenpipe.APIURL,
		"screenpipe.notify_url": c.Screenpipe.NotifyURL,
		"ollama.url":            c.Ollama.URL,
	} {
		if err := checkURL(raw); err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
	}
	if c.OCR.PageSize <= 0 {
		return fmt.Errorf("config: ocr.page_size must be positive, got %d", c.OCR.PageSize)
	}
	if c.History.RetentionDays <= 0 {
		return fmt.Errorf("config: history.retention_days must be positive, got %d", c.History.RetentionDays)
	}
	if _, err := domain.ParseProvider(c.Defaults.Provider); err != nil {
		return fmt.Errorf("config: defaults.provider: %w", err)
	}
	if strings.TrimSpace(c.Defaults.Model) == "" {
		return errors.New("config: defaults.model is required")
	}
	if c.Schedule.Interval < 0 {
		return errors.New("config: schedule.interval cannot be negative")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Retention is history.retention_days as a duration
func (c *Config) Retention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}

// DefaultSettings converts the defaults block into settings
func (c *Config) DefaultSettings() domain.Settings {
	p, _ := domain.ParseProvider(c.Defaults.Provider)
	return domain.Settings{
		Provider: p,
		Model:    c.Defaults.Model,
		APIKey:   c.Defaults.APIKey,
		Mood:     c.Defaults.Mood,
	}
}

// YAML renders the configuration with secrets masked
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	if masked.Defaults.APIKey != "" {
		masked.Defaults.APIKey = "********"
	}
	out, err := yaml.Marshal(masked)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return out, nil
}

// NewLogger builds the process logger described by the log block
func (c Log) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
