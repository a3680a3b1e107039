// Package config loads the meshbridge configuration from a YAML file with
// environment variable overrides, and manages the small set of runtime
// settings (provider, channels, admins) that persist across restarts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Radio configures the transport connection.
type Radio struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Delivery tunes the outbound queue. Chunk size, ack timeout and retry
// constants are tuned to observed radio bandwidth, not protocol invariants,
// so they are all configurable.
type Delivery struct {
	QueueCapacity int           `yaml:"queue_capacity"`
	ChunkSize     int           `yaml:"chunk_size"`
	AckTimeout    time.Duration `yaml:"ack_timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	ChunkDelay    time.Duration `yaml:"chunk_delay"`
}

// History bounds the ambient per-context conversation store.
type History struct {
	Dir         string `yaml:"dir"`
	MaxMessages int    `yaml:"max_messages"`
	MaxBytes    int    `yaml:"max_bytes"`
}

// Conversations bounds the named conversation slots.
type Conversations struct {
	Dir      string `yaml:"dir"`
	MaxSlots int    `yaml:"max_slots"`
}

// Sessions configures the DM session lifecycle.
type Sessions struct {
	Timeout       time.Duration `yaml:"timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Providers holds per-backend credentials and endpoints.
type Providers struct {
	Default         string `yaml:"default"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	OllamaHost      string `yaml:"ollama_host"`
	OllamaPort      int    `yaml:"ollama_port"`
	OllamaModel     string `yaml:"ollama_model"`
}

// Health tunes the liveness monitor.
type Health struct {
	QueueStale       time.Duration `yaml:"queue_stale"`
	WorkerBudget     time.Duration `yaml:"worker_budget"`
	TransportSilence time.Duration `yaml:"transport_silence"`
	ProbeGrace       time.Duration `yaml:"probe_grace"`
}

// Config is the full static configuration of the bridge process.
type Config struct {
	Radio         Radio         `yaml:"radio"`
	Delivery      Delivery      `yaml:"delivery"`
	History       History       `yaml:"history"`
	Conversations Conversations `yaml:"conversations"`
	Sessions      Sessions      `yaml:"sessions"`
	Providers     Providers     `yaml:"providers"`
	Health        Health        `yaml:"health"`
	Awareness     bool          `yaml:"awareness"`
	BotName       string        `yaml:"bot_name"`
	StateFile     string        `yaml:"state_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Radio: Radio{Host: "meshtastic.local", Port: 4403},
		Delivery: Delivery{
			QueueCapacity: 500,
			ChunkSize:     200,
			AckTimeout:    30 * time.Second,
			MaxAttempts:   3,
			BackoffBase:   10 * time.Second,
			ChunkDelay:    5 * time.Second,
		},
		History:       History{Dir: "data/history", MaxMessages: 100, MaxBytes: 2 << 20},
		Conversations: Conversations{Dir: "data/conversations", MaxSlots: 10},
		Sessions:      Sessions{Timeout: 5 * time.Minute, SweepInterval: time.Second},
		Providers: Providers{
			Default:     "ollama",
			OllamaHost:  "ollama",
			OllamaPort:  11434,
			OllamaModel: "llama3.2:1b",
		},
		Health: Health{
			QueueStale:       60 * time.Second,
			WorkerBudget:     90 * time.Second,
			TransportSilence: 5 * time.Minute,
			ProbeGrace:       30 * time.Second,
		},
		Awareness: true,
		BotName:   "mesh-ai",
		StateFile: "data/state.json",
	}
}

// Load reads cfg from path (missing file is not an error) and applies
// environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Run on defaults + env.
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setStr(&c.Radio.Host, "MESHTASTIC_HOST")
	setInt(&c.Radio.Port, "MESHTASTIC_PORT")
	setStr(&c.Providers.Default, "AI_PROVIDER")
	setStr(&c.Providers.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setStr(&c.Providers.OpenAIAPIKey, "OPENAI_API_KEY")
	setStr(&c.Providers.GeminiAPIKey, "GEMINI_API_KEY")
	setStr(&c.Providers.OllamaHost, "OLLAMA_HOST")
	setInt(&c.Providers.OllamaPort, "OLLAMA_PORT")
	setStr(&c.Providers.OllamaModel, "OLLAMA_MODEL")
	setStr(&c.History.Dir, "HISTORY_DIR")
	setInt(&c.History.MaxMessages, "HISTORY_MAX_MESSAGES")
	setInt(&c.History.MaxBytes, "HISTORY_MAX_BYTES")
	setStr(&c.Conversations.Dir, "CONVERSATIONS_DIR")
	setStr(&c.StateFile, "STATE_FILE")
}

func (c *Config) validate() error {
	if c.Delivery.QueueCapacity <= 0 {
		return fmt.Errorf("delivery.queue_capacity must be positive, got %d", c.Delivery.QueueCapacity)
	}
	if c.Delivery.ChunkSize <= 0 {
		return fmt.Errorf("delivery.chunk_size must be positive, got %d", c.Delivery.ChunkSize)
	}
	if c.Delivery.MaxAttempts <= 0 {
		return fmt.Errorf("delivery.max_attempts must be positive, got %d", c.Delivery.MaxAttempts)
	}
	if c.Conversations.MaxSlots <= 0 {
		return fmt.Errorf("conversations.max_slots must be positive, got %d", c.Conversations.MaxSlots)
	}
	return nil
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
