// Package config loads chatclone settings from a JSON5 file and the
// environment, resolves secrets, and watches the file for changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
	"github.com/zalando/go-keyring"

	"github.com/nextlevelbuilder/chatclone/internal/chatstore"
	"github.com/nextlevelbuilder/chatclone/internal/crypto"
	"github.com/nextlevelbuilder/chatclone/internal/providers"
)

// Environment variables.
const (
	EnvConfigPath    = "CHATCLONE_CONFIG"
	EnvDBPath        = "CHATCLONE_DB_PATH"
	EnvDBKey         = "CHATCLONE_DB_KEY"
	EnvMyID          = "CHATCLONE_MY_ID"
	EnvBaseDir       = "CHATCLONE_BASE_DIR"
	EnvLLMAPIKey     = "CHATCLONE_LLM_API_KEY"
	EnvEncryptionKey = "CHATCLONE_ENCRYPTION_KEY"
)

// KeyringService is the OS keyring service holding "keyring:<account>" secrets.
const KeyringService = "chatclone"

const keyringPrefix = "keyring:"

var (
	// ErrIncomplete is returned when the archive path, key or owner id is missing.
	ErrIncomplete = errors.New("configuration incomplete")

	// ErrSecret is returned when a secret reference cannot be resolved.
	ErrSecret = errors.New("cannot resolve secret")
)

// Config is the whole chatclone configuration.
type Config struct {
	Store     StoreConfig     `json:"store"`
	BaseDir   string          `json:"base_dir,omitempty"`
	LLM       LLMConfig       `json:"llm"`
	Index     IndexConfig     `json:"index"`
	Tone      ToneConfig      `json:"tone"`
	Agent     AgentConfig     `json:"agent"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// StoreConfig locates the decrypted chat archive.
type StoreConfig struct {
	Path     string `json:"db_path,omitempty"`
	KeyRef   string `json:"db_key,omitempty"` // literal, aes-gcm: value or keyring:<account>
	Identity string `json:"my_id,omitempty"`

	Key string `json:"-"` // resolved KeyRef
}

// LLMConfig selects the model provider. The API key is a secret reference.
type LLMConfig struct {
	providers.Config
	APIKeyRef string `json:"api_key,omitempty"`
}

// IndexConfig holds index defaults. Zero values select the built-in ones.
type IndexConfig struct {
	BatchSize        int   `json:"batch_size,omitempty"`
	ChunkGapSeconds  int64 `json:"chunk_gap_seconds,omitempty"`
	MaxChunkChars    int   `json:"max_chunk_chars,omitempty"`
	MaxChunkMessages int   `json:"max_chunk_messages,omitempty"`
}

// ToneConfig holds tone guide defaults.
type ToneConfig struct {
	SampleSize  int `json:"sample_size,omitempty"`
	TokenBudget int `json:"token_budget,omitempty"`
}

// AgentConfig tunes chat turns.
type AgentConfig struct {
	TopK        int    `json:"top_k,omitempty"`
	GuardAction string `json:"input_guard,omitempty"` // log, warn, block, off
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // http or grpc
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// MetricsConfig serves Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `json:"addr,omitempty"`
}

// DefaultDir returns ~/.chatclone.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatclone"
	}
	return filepath.Join(home, ".chatclone")
}

// DefaultPath returns $CHATCLONE_CONFIG or ~/.chatclone/config.json5.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(DefaultDir(), "config.json5")
}

// Load reads the config file at path, applies environment overrides and
// resolves secrets. A missing file yields an environment-only config.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()
	if cfg.BaseDir == "" {
		cfg.BaseDir = DefaultDir()
	}
	cfg.BaseDir = expandHome(cfg.BaseDir)
	cfg.Store.Path = expandHome(cfg.Store.Path)

	encKey := os.Getenv(EnvEncryptionKey)
	if cfg.Store.Key, err = ResolveSecret(cfg.Store.KeyRef, encKey); err != nil {
		return nil, fmt.Errorf("store key: %w", err)
	}
	if cfg.LLM.APIKey, err = ResolveSecret(cfg.LLM.APIKeyRef, encKey); err != nil {
		return nil, fmt.Errorf("llm api key: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr(EnvDBPath, &c.Store.Path)
	envStr(EnvDBKey, &c.Store.KeyRef)
	envStr(EnvMyID, &c.Store.Identity)
	envStr(EnvBaseDir, &c.BaseDir)
	envStr(EnvLLMAPIKey, &c.LLM.APIKeyRef)
}

// ResolveSecret turns a secret reference into its value: "keyring:<account>"
// reads the OS keyring, "aes-gcm:" values are decrypted with encKey, and
// anything else is taken literally.
func ResolveSecret(ref, encKey string) (string, error) {
	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, keyringPrefix):
		account := strings.TrimPrefix(ref, keyringPrefix)
		v, err := keyring.Get(KeyringService, account)
		if err != nil {
			return "", fmt.Errorf("%w: keyring %s/%s: %w", ErrSecret, KeyringService, account, err)
		}
		return v, nil
	case crypto.IsEncrypted(ref):
		v, err := crypto.Decrypt(ref, encKey)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrSecret, err)
		}
		return v, nil
	default:
		return ref, nil
	}
}

// Conn returns the chat archive connection settings.
func (c *Config) Conn() chatstore.Conn {
	return chatstore.Conn{Path: c.Store.Path, Key: c.Store.Key, Identity: c.Store.Identity}
}

// Validate reports a missing archive path, key or owner id as ErrIncomplete.
func (c *Config) Validate() error {
	if err := c.Conn().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrIncomplete, err)
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
