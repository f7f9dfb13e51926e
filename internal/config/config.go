// Package config loads familiar configuration from
// .familiar/config.json with environment overrides, and the persona
// file from .familiar/persona.yaml.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all familiar configuration.
type Config struct {
	// AgentID identifies this agent in the permission ledger and the
	// decision protocol.
	AgentID string `json:"agent_id"`

	Reasoning ReasoningConfig `json:"reasoning"`
	Actuator  ActuatorConfig  `json:"actuator"`
	Rate      RateConfig      `json:"rate"`
	Executor  ExecutorConfig  `json:"executor"`
	Monitor   MonitorConfig   `json:"monitor"`
	Mode      ModeConfig      `json:"mode"`
	Storage   StorageConfig   `json:"storage"`
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
}

// ReasoningConfig configures the reasoning-service client.
type ReasoningConfig struct {
	Provider string `json:"provider"` // gemini, local
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	// TimeoutSeconds bounds each reasoning call.
	TimeoutSeconds int `json:"timeout_seconds"`
	// MaxChainedSteps caps the interactive tool-call chain per turn.
	MaxChainedSteps int `json:"max_chained_steps"`
}

// Timeout returns the per-call timeout as a duration.
func (c ReasoningConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ActuatorConfig configures the embodiment-service client.
type ActuatorConfig struct {
	BaseURL        string  `json:"base_url"`
	TimeoutMs      int     `json:"timeout_ms"`
	CacheTTLMs     int     `json:"cache_ttl_ms"`
	BackoffInitMs  int     `json:"backoff_initial_ms"`
	BackoffMaxMs   int     `json:"backoff_max_ms"`
	JitterFraction float64 `json:"jitter_fraction"`
}

// Timeout returns the per-call timeout.
func (c ActuatorConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 2500 * time.Millisecond
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// CacheTTL returns the entity cache TTL.
func (c ActuatorConfig) CacheTTL() time.Duration {
	if c.CacheTTLMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.CacheTTLMs) * time.Millisecond
}

// RateConfig configures the rate governor.
type RateConfig struct {
	MaxCalls      int `json:"max_calls"`
	WindowSeconds int `json:"window_seconds"`
}

// Window returns the trailing admission window.
func (c RateConfig) Window() time.Duration {
	if c.WindowSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.WindowSeconds) * time.Second
}

// ExecutorConfig configures the action executor.
type ExecutorConfig struct {
	// DefaultIntervalSeconds is returned when no handler produced an
	// interval (unknown action fell all the way through).
	DefaultIntervalSeconds int `json:"default_interval_seconds"`
	// ReactionIntervalSeconds is the short interval after the agent
	// acted, so the effect can be assessed quickly.
	ReactionIntervalSeconds int `json:"reaction_interval_seconds"`
	// AskPolicy is "allow_once" (default) or "block".
	AskPolicy string `json:"ask_policy"`
	// PluginDir holds yaegi plugin files for unregistered actions.
	PluginDir string `json:"plugin_dir"`
	// HistorySize bounds the action history ring buffer.
	HistorySize int `json:"history_size"`
	// SandboxDir is the only directory write_note may touch.
	SandboxDir string `json:"sandbox_dir"`
}

// DefaultInterval returns the fallback ambient interval.
func (c ExecutorConfig) DefaultInterval() time.Duration {
	if c.DefaultIntervalSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.DefaultIntervalSeconds) * time.Second
}

// ReactionInterval returns the post-action interval.
func (c ExecutorConfig) ReactionInterval() time.Duration {
	if c.ReactionIntervalSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.ReactionIntervalSeconds) * time.Second
}

// MonitorConfig configures the health monitors.
type MonitorConfig struct {
	Enabled bool `json:"enabled"`

	// CooldownSeconds suppresses repeat alerts of the same (type,
	// device) key.
	CooldownSeconds int `json:"cooldown_seconds"`

	// SampleIntervalSeconds is the default period between samples;
	// individual checks may override.
	SampleIntervalSeconds int `json:"sample_interval_seconds"`

	// SampleTimeoutSeconds bounds each sample collection.
	SampleTimeoutSeconds int `json:"sample_timeout_seconds"`

	Load    LoadThresholds    `json:"load"`
	Process ProcessThresholds `json:"process"`
	Disk    DiskThresholds    `json:"disk"`
	Peers   PeerConfig        `json:"peers"`
	Logs    LogWatchConfig    `json:"logs"`
}

// Cooldown returns the alert rate-limit window.
func (c MonitorConfig) Cooldown() time.Duration {
	if c.CooldownSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.CooldownSeconds) * time.Second
}

// SampleInterval returns the default sampling period.
func (c MonitorConfig) SampleInterval() time.Duration {
	if c.SampleIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.SampleIntervalSeconds) * time.Second
}

// SampleTimeout returns the per-sample timeout.
func (c MonitorConfig) SampleTimeout() time.Duration {
	if c.SampleTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.SampleTimeoutSeconds) * time.Second
}

// LoadThresholds holds warning/critical levels for normalized load and
// memory pressure.
type LoadThresholds struct {
	LoadWarning     float64 `json:"load_warning"`      // load1 / numcpu
	LoadCritical    float64 `json:"load_critical"`
	MemUsedWarning  float64 `json:"mem_used_warning"`  // fraction of total
	MemUsedCritical float64 `json:"mem_used_critical"`
}

// ProcessThresholds holds warning/critical levels for process counts.
type ProcessThresholds struct {
	TotalWarning   int `json:"total_warning"`
	TotalCritical  int `json:"total_critical"`
	ZombieWarning  int `json:"zombie_warning"`
	ZombieCritical int `json:"zombie_critical"`
}

// DiskThresholds holds warning/critical used-space fractions per mount.
type DiskThresholds struct {
	Mounts       []string `json:"mounts"`
	UsedWarning  float64  `json:"used_warning"`
	UsedCritical float64  `json:"used_critical"`
}

// PeerConfig configures the peer-connection monitor.
type PeerConfig struct {
	Enabled bool `json:"enabled"`
	// KnownPeers are remote addresses that never alert.
	KnownPeers []string `json:"known_peers"`
	// NewPeerWarning / NewPeerCritical are counts of previously unseen
	// peers in one sample.
	NewPeerWarning  int `json:"new_peer_warning"`
	NewPeerCritical int `json:"new_peer_critical"`
}

// LogWatchConfig configures the log anomaly monitor.
type LogWatchConfig struct {
	Enabled bool `json:"enabled"`
	// Files to tail via fsnotify.
	Files []string `json:"files"`
	// Patterns are regexes counted as anomalies.
	Patterns []string `json:"patterns"`
	// Per-window counts that cross into warning/critical.
	MatchWarning  int `json:"match_warning"`
	MatchCritical int `json:"match_critical"`
}

// ModeConfig configures the mode controller.
type ModeConfig struct {
	// EscalationCooldownSeconds bounds how often one alert type may
	// pre-empt the scheduler, independent of monitor rate limiting.
	EscalationCooldownSeconds int `json:"escalation_cooldown_seconds"`
}

// EscalationCooldown returns the per-alert-type escalation cooldown.
func (c ModeConfig) EscalationCooldown() time.Duration {
	if c.EscalationCooldownSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.EscalationCooldownSeconds) * time.Second
}

// StorageConfig configures sqlite persistence.
type StorageConfig struct {
	// DatabasePath holds the permission ledger and action log.
	DatabasePath string `json:"database_path"`
}

// ServerConfig configures the line-oriented health/prompt listener.
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// LoggingConfig mirrors internal/logging's view of the config file.
type LoggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
}

// Default returns a Config with all defaults filled in, rooted at the
// given workspace directory.
func Default(workspace string) *Config {
	return &Config{
		AgentID: "familiar",
		Reasoning: ReasoningConfig{
			Provider:        "gemini",
			Model:           "gemini-2.5-flash",
			TimeoutSeconds:  30,
			MaxChainedSteps: 10,
		},
		Actuator: ActuatorConfig{
			BaseURL:        "http://127.0.0.1:8420",
			TimeoutMs:      2500,
			CacheTTLMs:     5000,
			BackoffInitMs:  1000,
			BackoffMaxMs:   60000,
			JitterFraction: 0.25,
		},
		Rate: RateConfig{MaxCalls: 10, WindowSeconds: 60},
		Executor: ExecutorConfig{
			DefaultIntervalSeconds:  120,
			ReactionIntervalSeconds: 15,
			AskPolicy:               "allow_once",
			PluginDir:               filepath.Join(workspace, ".familiar", "plugins"),
			HistorySize:             50,
			SandboxDir:              filepath.Join(workspace, ".familiar", "notes"),
		},
		Monitor: MonitorConfig{
			Enabled:               true,
			CooldownSeconds:       300,
			SampleIntervalSeconds: 30,
			SampleTimeoutSeconds:  10,
			Load: LoadThresholds{
				LoadWarning:     1.5,
				LoadCritical:    4.0,
				MemUsedWarning:  0.85,
				MemUsedCritical: 0.95,
			},
			Process: ProcessThresholds{
				TotalWarning:   600,
				TotalCritical:  1200,
				ZombieWarning:  5,
				ZombieCritical: 25,
			},
			Disk: DiskThresholds{
				Mounts:       []string{"/"},
				UsedWarning:  0.85,
				UsedCritical: 0.95,
			},
			Peers: PeerConfig{NewPeerWarning: 3, NewPeerCritical: 10},
			Logs: LogWatchConfig{
				Patterns:      []string{`oom-killer`, `I/O error`, `segfault`, `kernel panic`},
				MatchWarning:  3,
				MatchCritical: 10,
			},
		},
		Mode:    ModeConfig{EscalationCooldownSeconds: 600},
		Storage: StorageConfig{DatabasePath: filepath.Join(workspace, ".familiar", "familiar.db")},
		Server:  ServerConfig{Enabled: true, Addr: "127.0.0.1:8421"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads .familiar/config.json under workspace, applies it over the
// defaults, then applies environment overrides. A missing file is not an
// error; defaults apply.
func Load(workspace string) (*Config, error) {
	cfg := Default(workspace)

	path := filepath.Join(workspace, ".familiar", "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies FAMILIAR_* environment variables on top of
// the file config. Secrets in particular should come from the
// environment, not the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FAMILIAR_API_KEY"); v != "" {
		cfg.Reasoning.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.Reasoning.APIKey == "" {
		cfg.Reasoning.APIKey = v
	}
	if v := os.Getenv("FAMILIAR_REASONING_PROVIDER"); v != "" {
		cfg.Reasoning.Provider = v
	}
	if v := os.Getenv("FAMILIAR_REASONING_BASE_URL"); v != "" {
		cfg.Reasoning.BaseURL = v
	}
	if v := os.Getenv("FAMILIAR_MODEL"); v != "" {
		cfg.Reasoning.Model = v
	}
	if v := os.Getenv("FAMILIAR_ACTUATOR_URL"); v != "" {
		cfg.Actuator.BaseURL = v
	}
	if v := os.Getenv("FAMILIAR_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("FAMILIAR_DEBUG"); v == "1" || v == "true" {
		cfg.Logging.DebugMode = true
	}
}

// Save writes the config to .familiar/config.json under workspace.
func Save(workspace string, cfg *Config) error {
	dir := filepath.Join(workspace, ".familiar")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}
