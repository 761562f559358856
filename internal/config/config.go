package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	DataDir   string          `json:"data_dir"`
	LogLevel  string          `json:"log_level"`
	HTTP      HTTPConfig      `json:"http"`
	Chat      ChatConfig      `json:"chat"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	LLM       LLMConfig       `json:"llm"`
	Storage   StorageConfig   `json:"storage"`
	Actors    ActorsConfig    `json:"actors"`
	Blob      BlobConfig      `json:"blob"`
}

type HTTPConfig struct {
	Listen string `json:"listen"`
}

type ChatConfig struct {
	MaxMessageLength    int    `json:"max_message_length"`
	HistoryLimit        int    `json:"history_limit"`
	SummaryHistoryLimit int    `json:"summary_history_limit"`
	SystemPromptPath    string `json:"system_prompt_path"`
}

type RateLimitConfig struct {
	WindowMs      int64 `json:"window_ms"`
	MaxRequests   int   `json:"max_requests"`
	ApplyToExport bool  `json:"apply_to_export"`
}

type LLMConfig struct {
	BaseURL          string  `json:"base_url"`
	APIKey           string  `json:"api_key"`
	Model            string  `json:"model"`
	MaxTokens        int     `json:"max_tokens"`
	Temperature      float32 `json:"temperature"`
	TimeoutSeconds   int     `json:"timeout_seconds"`
	MaxRetries       int     `json:"max_retries"`
	MaxContextTokens int     `json:"max_context_tokens"`
}

// StorageConfig locates the SQLite database. An empty path means
// {data_dir}/chatrelay.db.
type StorageConfig struct {
	Path string `json:"path"`
}

type ActorsConfig struct {
	MaxConcurrent      int64 `json:"max_concurrent"`
	LaneBuffer         int   `json:"lane_buffer"`
	IdleTimeoutSeconds int   `json:"idle_timeout_seconds"`
}

// BlobConfig selects the upload backend: "fs" stores under Dir (default
// {data_dir}/blobs), "s3" uses the S3 section.
type BlobConfig struct {
	Backend string   `json:"backend"`
	Dir     string   `json:"dir"`
	S3      S3Config `json:"s3"`
}

type S3Config struct {
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	Prefix          string `json:"prefix"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	UsePathStyle    bool   `json:"use_path_style"`
}

// DefaultPath returns ~/.chatrelay/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".chatrelay", "config.json")
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".chatrelay"),
		LogLevel: "info",
	}
	cfg.HTTP.Listen = "127.0.0.1:8484"
	cfg.Chat.MaxMessageLength = 2000
	cfg.Chat.HistoryLimit = 10
	cfg.Chat.SummaryHistoryLimit = 50
	cfg.RateLimit.WindowMs = 60000
	cfg.RateLimit.MaxRequests = 10
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 1024
	cfg.LLM.Temperature = 0.7
	cfg.LLM.TimeoutSeconds = 60
	cfg.LLM.MaxRetries = 3
	cfg.LLM.MaxContextTokens = 128000
	cfg.Actors.MaxConcurrent = 16
	cfg.Actors.LaneBuffer = 100
	cfg.Actors.IdleTimeoutSeconds = 300
	cfg.Blob.Backend = "fs"
	cfg.Blob.S3.Region = "us-east-1"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if listen := os.Getenv("CHATRELAY_LISTEN"); listen != "" {
		cfg.HTTP.Listen = listen
	}
	if dataDir := os.Getenv("CHATRELAY_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	return cfg, nil
}

// Validate reports the first setting that cannot be served.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}
	if c.Chat.MaxMessageLength <= 0 {
		return fmt.Errorf("chat.max_message_length must be positive")
	}
	if c.Chat.HistoryLimit < 0 || c.Chat.SummaryHistoryLimit < 0 {
		return fmt.Errorf("chat history limits must not be negative")
	}
	if c.RateLimit.WindowMs <= 0 || c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.window_ms and rate_limit.max_requests must be positive")
	}
	switch c.Blob.Backend {
	case "fs":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("blob.backend must be fs or s3")
	}
	return nil
}

// StoragePath returns the SQLite database path.
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return filepath.Join(c.DataDir, "chatrelay.db")
}

// BlobDir returns the root directory of the fs blob backend.
func (c *Config) BlobDir() string {
	if c.Blob.Dir != "" {
		return c.Blob.Dir
	}
	return filepath.Join(c.DataDir, "blobs")
}

// PIDPath returns the path of the serve process PID file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, "chatrelay.pid")
}

func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Actors.IdleTimeoutSeconds) * time.Second
}

// Save writes cfg as indented JSON via a temp file and rename.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into its generic JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every setting as a flat dot-key map, optionally with
// secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return m, nil
}

// GetValue reads one dot-key from the config file as stored on disk.
func GetValue(path, key string) (any, error) {
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue writes one dot-key into the config file. The value is parsed as
// JSON when possible (numbers, booleans) and stored as a string otherwise.
func SetValue(path, key, raw string) error {
	m, err := readRaw(path)
	if err != nil {
		return err
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}

	flat := Flatten(m)
	flat[key] = value
	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}
