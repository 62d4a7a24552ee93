package config

import "time"

// TestConfig returns a config suitable for testing
func TestConfig() *Config {
	return &Config{
		API: APIConfig{
			Key:          "test-key",
			BaseURL:      DefaultBaseURL,
			HTTPTimeout:  5 * time.Second,
			UserAgent:    "neows-test/1.0",
			MaxBodyBytes: 1 << 20,
		},
		Loader: LoaderConfig{
			EnrichConcurrency: 1,
			InjectSynthetic:   true,
			Archive:           false,
		},
		Database: DatabaseConfig{
			Path:    "", // no archive unless a test opens one
			Timeout: 1 * time.Second,
		},
		Server: defaultConfig().Server,
		Log:    LogConfig{Level: "off"},
	}
}
