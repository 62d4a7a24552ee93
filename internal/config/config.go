package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/pders01/neows/internal/validation"
)

const (
	DefaultBaseURL = "https://api.nasa.gov/neo/rest/v1"
	envPrefix      = "NEOWS"
)

type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Loader   LoaderConfig   `mapstructure:"loader"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

type APIConfig struct {
	Key          string        `mapstructure:"key"`
	BaseURL      string        `mapstructure:"base_url"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`

	// AllowInsecure accepts plain http and local hosts as base_url, for
	// local mirrors of the API.
	AllowInsecure bool `mapstructure:"allow_insecure"`
}

type LoaderConfig struct {
	EnrichConcurrency int  `mapstructure:"enrich_concurrency"`
	InjectSynthetic   bool `mapstructure:"inject_synthetic"`
	Archive           bool `mapstructure:"archive"`
	KeepDays          int  `mapstructure:"keep_days"`
}

type DatabaseConfig struct {
	Path        string        `mapstructure:"path"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SearchIndex string        `mapstructure:"search_index"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

func defaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".neows")

	return &Config{
		API: APIConfig{
			BaseURL:      DefaultBaseURL,
			HTTPTimeout:  30 * time.Second,
			UserAgent:    "neows/1.0 (https://github.com/pders01/neows)",
			MaxBodyBytes: 16 << 20,
		},
		Loader: LoaderConfig{
			EnrichConcurrency: 1,
			InjectSynthetic:   true,
			Archive:           true,
			KeepDays:          30,
		},
		Database: DatabaseConfig{
			Path:        filepath.Join(dataDir, "neows.db"),
			Timeout:     1 * time.Second,
			SearchIndex: filepath.Join(dataDir, "index.bleve"),
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
			File:  "",
		},
	}
}

// setDefaults registers every leaf key so that environment overrides such
// as NEOWS_API_BASE_URL are picked up by Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("api.key", cfg.API.Key)
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.http_timeout", cfg.API.HTTPTimeout)
	v.SetDefault("api.user_agent", cfg.API.UserAgent)
	v.SetDefault("api.max_body_bytes", cfg.API.MaxBodyBytes)
	v.SetDefault("api.allow_insecure", cfg.API.AllowInsecure)

	v.SetDefault("loader.enrich_concurrency", cfg.Loader.EnrichConcurrency)
	v.SetDefault("loader.inject_synthetic", cfg.Loader.InjectSynthetic)
	v.SetDefault("loader.archive", cfg.Loader.Archive)
	v.SetDefault("loader.keep_days", cfg.Loader.KeepDays)

	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.timeout", cfg.Database.Timeout)
	v.SetDefault("database.search_index", cfg.Database.SearchIndex)

	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)
}

func Load(configPath string) (*Config, error) {
	if err := LoadEnvFile(envFilePath()); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, defaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		homeDir, _ := os.UserHomeDir()
		configDir := filepath.Join(homeDir, ".config", "neows")

		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The key is commonly provisioned under the agency's own variable name.
	if err := v.BindEnv("api.key", envPrefix+"_API_KEY", "NASA_API_KEY"); err != nil {
		return nil, fmt.Errorf("binding api key: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandPaths(&config)

	return &config, nil
}

func envFilePath() string {
	if p := os.Getenv(envPrefix + "_ENV_FILE"); p != "" {
		return p
	}
	return ".env"
}

// LoadEnvFile exports the variables of a dotenv file into the process
// environment. Variables that are already set win; a missing file is not
// an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Validate checks the settings the loader cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.Key) == "" {
		return fmt.Errorf("api key is not set (use %s_API_KEY or NASA_API_KEY)", envPrefix)
	}
	if _, err := c.API.URLValidator().ValidateAndNormalize(c.API.BaseURL); err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if c.Loader.EnrichConcurrency < 1 {
		return fmt.Errorf("loader.enrich_concurrency must be at least 1, got %d", c.Loader.EnrichConcurrency)
	}
	return nil
}

// URLValidator returns the base URL policy selected by allow_insecure.
func (a APIConfig) URLValidator() *validation.BaseURLValidator {
	if a.AllowInsecure {
		return validation.NewPermissiveBaseURLValidator()
	}
	return validation.NewBaseURLValidator()
}

// expandPath expands ~ to home directory and converts to absolute path
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}

func expandPaths(cfg *Config) {
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Database.SearchIndex = expandPath(cfg.Database.SearchIndex)
	cfg.Log.File = expandPath(cfg.Log.File)
}

// Save writes config as TOML. The API key is never written; it belongs in
// the environment.
func Save(config *Config, path string) error {
	v := viper.New()

	// Durations as strings for TOML readability
	apiCfg := map[string]interface{}{
		"base_url":       config.API.BaseURL,
		"http_timeout":   config.API.HTTPTimeout.String(),
		"user_agent":     config.API.UserAgent,
		"max_body_bytes": config.API.MaxBodyBytes,
		"allow_insecure": config.API.AllowInsecure,
	}

	loaderCfg := map[string]interface{}{
		"enrich_concurrency": config.Loader.EnrichConcurrency,
		"inject_synthetic":   config.Loader.InjectSynthetic,
		"archive":            config.Loader.Archive,
		"keep_days":          config.Loader.KeepDays,
	}

	dbCfg := map[string]interface{}{
		"path":         config.Database.Path,
		"timeout":      config.Database.Timeout.String(),
		"search_index": config.Database.SearchIndex,
	}

	serverCfg := map[string]interface{}{
		"addr":             config.Server.Addr,
		"read_timeout":     config.Server.ReadTimeout.String(),
		"write_timeout":    config.Server.WriteTimeout.String(),
		"shutdown_timeout": config.Server.ShutdownTimeout.String(),
	}

	logCfg := map[string]interface{}{
		"level": config.Log.Level,
		"file":  config.Log.File,
	}

	v.Set("api", apiCfg)
	v.Set("loader", loaderCfg)
	v.Set("database", dbCfg)
	v.Set("server", serverCfg)
	v.Set("log", logCfg)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return v.WriteConfigAs(path)
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}

type displayConfig struct {
	API struct {
		Key           string `toml:"key"`
		BaseURL       string `toml:"base_url"`
		HTTPTimeout   string `toml:"http_timeout"`
		UserAgent     string `toml:"user_agent"`
		MaxBodyBytes  int64  `toml:"max_body_bytes"`
		AllowInsecure bool   `toml:"allow_insecure"`
	} `toml:"api"`
	Loader struct {
		EnrichConcurrency int  `toml:"enrich_concurrency"`
		InjectSynthetic   bool `toml:"inject_synthetic"`
		Archive           bool `toml:"archive"`
		KeepDays          int  `toml:"keep_days"`
	} `toml:"loader"`
	Database struct {
		Path        string `toml:"path"`
		Timeout     string `toml:"timeout"`
		SearchIndex string `toml:"search_index"`
	} `toml:"database"`
	Server struct {
		Addr            string `toml:"addr"`
		ReadTimeout     string `toml:"read_timeout"`
		WriteTimeout    string `toml:"write_timeout"`
		ShutdownTimeout string `toml:"shutdown_timeout"`
	} `toml:"server"`
	Log struct {
		Level string `toml:"level"`
		File  string `toml:"file"`
	} `toml:"log"`
}

// RedactedTOML renders the effective configuration with the API key
// masked.
func (c *Config) RedactedTOML() ([]byte, error) {
	var d displayConfig
	d.API.Key = redact(c.API.Key)
	d.API.BaseURL = c.API.BaseURL
	d.API.HTTPTimeout = c.API.HTTPTimeout.String()
	d.API.UserAgent = c.API.UserAgent
	d.API.MaxBodyBytes = c.API.MaxBodyBytes
	d.API.AllowInsecure = c.API.AllowInsecure
	d.Loader.EnrichConcurrency = c.Loader.EnrichConcurrency
	d.Loader.InjectSynthetic = c.Loader.InjectSynthetic
	d.Loader.Archive = c.Loader.Archive
	d.Loader.KeepDays = c.Loader.KeepDays
	d.Database.Path = c.Database.Path
	d.Database.Timeout = c.Database.Timeout.String()
	d.Database.SearchIndex = c.Database.SearchIndex
	d.Server.Addr = c.Server.Addr
	d.Server.ReadTimeout = c.Server.ReadTimeout.String()
	d.Server.WriteTimeout = c.Server.WriteTimeout.String()
	d.Server.ShutdownTimeout = c.Server.ShutdownTimeout.String()
	d.Log.Level = c.Log.Level
	d.Log.File = c.Log.File

	out, err := toml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return out, nil
}

func redact(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 4:
		return "****"
	default:
		return key[:2] + strings.Repeat("*", len(key)-4) + key[len(key)-2:]
	}
}
