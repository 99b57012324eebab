package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig     `mapstructure:"server"`
	Engine       EngineConfig     `mapstructure:"engine"`
	Capabilities CapabilityConfig `mapstructure:"capabilities"`
	Logging      LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// EngineConfig holds execution engine configuration
type EngineConfig struct {
	Strategy               string        `mapstructure:"strategy"`
	PermissiveDeclarations bool          `mapstructure:"permissive_declarations"`
	RenderWaitMS           int           `mapstructure:"render_wait_ms"`
	Capture                CaptureConfig `mapstructure:"capture"`
	Surface                SurfaceConfig `mapstructure:"surface"`
}

// CaptureConfig holds the settings for the external artifact capture tool
type CaptureConfig struct {
	Display    string `mapstructure:"display"`
	Tool       string `mapstructure:"tool"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// SurfaceConfig holds the settings for the rendering surface the engine
// presents toolkit output to
type SurfaceConfig struct {
	PresentCmd string `mapstructure:"present_cmd"`
}

// CapabilityConfig holds the extended module names provisioned for sessions
type CapabilityConfig struct {
	Extended []string `mapstructure:"extended"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("engine.strategy", "compiled")
	viper.SetDefault("engine.permissive_declarations", true)
	viper.SetDefault("engine.render_wait_ms", 500)
	viper.SetDefault("engine.capture.display", ":99")
	viper.SetDefault("engine.capture.tool", "import")
	viper.SetDefault("engine.capture.timeout_sec", 5)
	viper.SetDefault("engine.surface.present_cmd", "display")
	viper.SetDefault("capabilities.extended", []string{"canvas"})
	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Engine.Strategy != "interpreted" && c.Engine.Strategy != "compiled" {
		return fmt.Errorf("unsupported engine.strategy: %s, must be 'interpreted' or 'compiled'", c.Engine.Strategy)
	}

	if c.Engine.RenderWaitMS < 0 {
		return fmt.Errorf("engine.render_wait_ms must not be negative, got: %d", c.Engine.RenderWaitMS)
	}

	if c.Engine.Capture.TimeoutSec <= 0 {
		return fmt.Errorf("engine.capture.timeout_sec must be positive, got: %d", c.Engine.Capture.TimeoutSec)
	}

	if c.Engine.Capture.Tool == "" {
		return fmt.Errorf("engine.capture.tool must not be empty")
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
		"dpanic": true, "panic": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// GetRenderWait returns the default render wait as a duration
func (c *Config) GetRenderWait() time.Duration {
	return time.Duration(c.Engine.RenderWaitMS) * time.Millisecond
}

// GetCaptureTimeout returns the capture tool timeout as a duration
func (c *Config) GetCaptureTimeout() time.Duration {
	return time.Duration(c.Engine.Capture.TimeoutSec) * time.Second
}
