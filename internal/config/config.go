// Package config loads server settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Interception modes.
const (
	InterceptScoped = "scoped"
	InterceptGlobal = "global"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	LLM     LLMConfig     `yaml:"llm"`
	Parser  ParserConfig  `yaml:"parser"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	StaticDir string `yaml:"static_dir"`
}

type StorageConfig struct {
	MimicDir  string `yaml:"mimic_dir"`
	ParsedDir string `yaml:"parsed_dir"`
	// WatchHistory caches history listings and invalidates them on
	// filesystem changes.
	WatchHistory bool `yaml:"watch_history"`
}

type LLMConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

type ParserConfig struct {
	// Command is run for uploaded PDFs; {pdf} and {out} are substituted.
	Command string `yaml:"command"`
}

type SessionConfig struct {
	MaxSessions     int           `yaml:"max_sessions"`
	QueueLimit      int           `yaml:"queue_limit"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
	Interception    string        `yaml:"interception"`
	WorkflowTimeout time.Duration `yaml:"workflow_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	InitTimeout     time.Duration `yaml:"init_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      8000,
			StaticDir: "./web/out",
		},
		Storage: StorageConfig{
			MimicDir:     "./data/user/question/mimic_papers",
			ParsedDir:    "./data/user/question/parsed_papers",
			WatchHistory: true,
		},
		LLM: LLMConfig{
			BaseURL:     "https://generativelanguage.googleapis.com/v1beta/openai/",
			Model:       "gemini-2.0-flash",
			Temperature: 0.7,
			MaxTokens:   2000,
			Timeout:     2 * time.Minute,
		},
		Session: SessionConfig{
			MaxSessions:     10,
			DrainTimeout:    2 * time.Second,
			Interception:    InterceptScoped,
			PingInterval:    30 * time.Second,
			InitTimeout:     time.Minute,
			WriteTimeout:    10 * time.Second,
			MaxMessageBytes: 64 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func firstEnv(getenv func(string) string, keys ...string) string {
	for _, k := range keys {
		if v := getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("API_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := firstEnv(getenv, "API_PORT", "PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}
	if v := getenv("STATIC_DIR"); v != "" {
		c.Server.StaticDir = v
	}
	if v := getenv("MIMIC_DIR"); v != "" {
		c.Storage.MimicDir = v
	}
	if v := getenv("PARSED_DIR"); v != "" {
		c.Storage.ParsedDir = v
	}
	if v := firstEnv(getenv, "GEMINI_API_KEY", "OPENAI_API_KEY", "LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := firstEnv(getenv, "GEMINI_BASE_URL", "OPENAI_BASE_URL", "LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := getenv("PDF_PARSER_COMMAND"); v != "" {
		c.Parser.Command = v
	}
	if v := getenv("MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.MaxSessions = n
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Storage.MimicDir == "" {
		errs = append(errs, errors.New("storage.mimic_dir is required"))
	}
	if c.Session.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("session.max_sessions must be positive, got %d", c.Session.MaxSessions))
	}
	if c.Session.QueueLimit < 0 {
		errs = append(errs, fmt.Errorf("session.queue_limit must not be negative, got %d", c.Session.QueueLimit))
	}
	if c.Session.DrainTimeout < 0 || c.Session.WorkflowTimeout < 0 || c.Session.InitTimeout < 0 || c.Session.PingInterval < 0 || c.Session.WriteTimeout < 0 {
		errs = append(errs, errors.New("session timeouts must not be negative"))
	}
	switch strings.ToLower(c.Session.Interception) {
	case InterceptScoped, InterceptGlobal:
		c.Session.Interception = strings.ToLower(c.Session.Interception)
	default:
		errs = append(errs, fmt.Errorf("session.interception must be %q or %q, got %q", InterceptScoped, InterceptGlobal, c.Session.Interception))
	}
	if c.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must not be negative, got %d", c.LLM.MaxTokens))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
