package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir       string    `json:"dataDir" yaml:"dataDir"`
	HTTPAddr      string    `json:"httpAddr" yaml:"httpAddr"`
	WSAddr        string    `json:"wsAddr" yaml:"wsAddr"`
	CommandQueue  string    `json:"commandQueue" yaml:"commandQueue"`
	ResponseQueue string    `json:"responseQueue" yaml:"responseQueue"`
	Heartbeat     Heartbeat `json:"heartbeat" yaml:"heartbeat"`
	Dispatch      Dispatch  `json:"dispatch" yaml:"dispatch"`
	Tasks         Tasks     `json:"tasks" yaml:"tasks"`
}

// Heartbeat tunes liveness probing.
type Heartbeat struct {
	IntervalMs int64 `json:"intervalMs" yaml:"intervalMs"`
	MaxMissed  int   `json:"maxMissed" yaml:"maxMissed"`
	// TTLGraceMs is added to the probe interval for liveness-flag TTLs, so a
	// reader never sees a stale connected flag for longer than one missed
	// cycle plus this grace.
	TTLGraceMs int64 `json:"ttlGraceMs" yaml:"ttlGraceMs"`
}

// Interval returns the probe interval as a duration.
func (h Heartbeat) Interval() time.Duration { return time.Duration(h.IntervalMs) * time.Millisecond }

// LivenessTTL returns the TTL for connected flags.
func (h Heartbeat) LivenessTTL() time.Duration {
	return time.Duration(h.IntervalMs+h.TTLGraceMs) * time.Millisecond
}

// Dispatch tunes the queue drain loop.
type Dispatch struct {
	PopTimeoutMs     int64  `json:"popTimeoutMs" yaml:"popTimeoutMs"`
	RequeueBackoffMs int64  `json:"requeueBackoffMs" yaml:"requeueBackoffMs"`
	MaxAttempts      uint32 `json:"maxAttempts" yaml:"maxAttempts"`
}

// Tasks tunes the task lifecycle service.
type Tasks struct {
	ResultTTLMs           int64 `json:"resultTtlMs" yaml:"resultTtlMs"`
	DefaultAwaitTimeoutMs int64 `json:"defaultAwaitTimeoutMs" yaml:"defaultAwaitTimeoutMs"`
	JournalCap            int   `json:"journalCap" yaml:"journalCap"`
}

// Default returns built-in defaults. Queue names match the lists the
// original producers and consumers already use.
func Default() Config {
	return Config{
		HTTPAddr:      ":8080",
		WSAddr:        ":8765",
		CommandQueue:  "agent_commands_list",
		ResponseQueue: "extension_responses_list",
		Heartbeat: Heartbeat{
			IntervalMs: 30_000,
			MaxMissed:  3,
			TTLGraceMs: 15_000,
		},
		Dispatch: Dispatch{
			PopTimeoutMs:     5_000,
			RequeueBackoffMs: 1_000,
			MaxAttempts:      300,
		},
		Tasks: Tasks{
			ResultTTLMs:           600_000,
			DefaultAwaitTimeoutMs: 25_000,
			JournalCap:            1000,
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path
// is empty, returns defaults. Env overrides are applied last.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, err
			}
		default:
			if err := json.Unmarshal(b, &cfg); err != nil {
				return Config{}, err
			}
		}
	}
	return FromEnv(cfg), nil
}

// FromEnv overlays RELAY_* environment variables onto cfg.
func FromEnv(cfg Config) Config {
	if v := os.Getenv("RELAY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("RELAY_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("RELAY_WS_ADDR"); v != "" {
		cfg.WSAddr = v
	}
	if v := os.Getenv("RELAY_COMMAND_QUEUE"); v != "" {
		cfg.CommandQueue = v
	}
	if v := os.Getenv("RELAY_RESPONSE_QUEUE"); v != "" {
		cfg.ResponseQueue = v
	}
	if ms, ok := envInt64("RELAY_HEARTBEAT_INTERVAL_MS"); ok {
		cfg.Heartbeat.IntervalMs = ms
	}
	if n, ok := envInt64("RELAY_HEARTBEAT_MAX_MISSED"); ok {
		cfg.Heartbeat.MaxMissed = int(n)
	}
	if ms, ok := envInt64("RELAY_DISPATCH_BACKOFF_MS"); ok {
		cfg.Dispatch.RequeueBackoffMs = ms
	}
	return cfg
}

func envInt64(key string) (int64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
