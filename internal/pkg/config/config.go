package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Model     ModelConfig     `koanf:"model"`
	Storage   StorageConfig   `koanf:"storage"`
	Bridge    BridgeConfig    `koanf:"bridge"`
	Users     []UserConfig    `koanf:"users"`
	Access    AccessConfig    `koanf:"access"`
	History   HistoryConfig   `koanf:"history"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	RateLimit      RateLimit     `koanf:"rate_limit"`
}

// RateLimit is a per-user token bucket. Zero RPS disables limiting.
type RateLimit struct {
	RPS   float64 `koanf:"rps"`
	Burst int     `koanf:"burst"`
}

type ModelConfig struct {
	Provider    string        `koanf:"provider"` // gemini
	APIKey      string        `koanf:"api_key"`
	Model       string        `koanf:"model"`
	SpeechModel string        `koanf:"speech_model"`
	Voice       string        `koanf:"voice"`
	BaseURL     string        `koanf:"base_url"` // Custom API endpoint
	Timeout     time.Duration `koanf:"timeout"`
	// AllowPrivateNetworks permits a base_url on loopback or private
	// addresses, such as a local proxy.
	AllowPrivateNetworks bool `koanf:"allow_private_networks"`
}

type StorageConfig struct {
	Type      string          `koanf:"type"` // memory, sqlite, firestore
	SQLite    SQLiteConfig    `koanf:"sqlite"`
	Firestore FirestoreConfig `koanf:"firestore"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type FirestoreConfig struct {
	ProjectID       string `koanf:"project_id"`
	CredentialsFile string `koanf:"credentials_file"`
	Root            string `koanf:"root"` // optional document path prefix
}

// BridgeConfig sizes the background persistence queue.
type BridgeConfig struct {
	QueueSize    int           `koanf:"queue_size"`
	Workers      int           `koanf:"workers"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	SessionTTL   time.Duration `koanf:"session_ttl"`
	MaxSessions  int           `koanf:"max_sessions"`
}

type UserConfig struct {
	ID          string `koanf:"id"`
	KeyHash     string `koanf:"key_hash"`
	Admin       bool   `koanf:"admin"`
	Description string `koanf:"description"`
}

// AccessConfig holds the capability switches that used to be read from
// ambient client state.
type AccessConfig struct {
	PremiumRequiresSubscription bool `koanf:"premium_requires_subscription"`
}

// TelemetryConfig controls span export. Metrics are always collected.
type TelemetryConfig struct {
	Tracing     bool   `koanf:"tracing"`
	TraceOutput string `koanf:"trace_output"` // stdout or a file path
}

type HistoryConfig struct {
	MaxPromptTokens int `koanf:"max_prompt_tokens"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

var defaults = map[string]any{
	"server.port":                          8080,
	"server.request_timeout":               "60s",
	"server.rate_limit.rps":                5.0,
	"server.rate_limit.burst":              10,
	"model.provider":                       "gemini",
	"model.model":                          "gemini-2.0-flash",
	"model.speech_model":                   "gemini-2.5-flash-preview-tts",
	"model.voice":                          "Algenib",
	"model.timeout":                        "45s",
	"storage.type":                         "sqlite",
	"storage.sqlite.path":                  "./data/lingua.db",
	"bridge.queue_size":                    256,
	"bridge.workers":                       2,
	"bridge.write_timeout":                 "5s",
	"bridge.session_ttl":                   "30m",
	"bridge.max_sessions":                  10000,
	"access.premium_requires_subscription": true,
	"history.max_prompt_tokens":            6000,
	"telemetry.trace_output":               "stdout",
}

// Load reads configuration from path (if it exists), then LINGUA_ prefixed
// environment variables, then defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	k := koanf.New(".")

	// Try to load from the config file first
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("LINGUA_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "LINGUA_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	cfg.Model.APIKey = substituteEnvVars(cfg.Model.APIKey)
	cfg.Storage.Firestore.CredentialsFile = substituteEnvVars(cfg.Storage.Firestore.CredentialsFile)

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
