// SPDX-License-Identifier: MIT

// Package config loads brainstormx configuration from the environment with an
// optional YAML file overlay, and supports hot reload of runtime tunables.
package config

import (
	"fmt"
	"time"
)

// Snapshot is an immutable view of the full daemon configuration.
// A new Snapshot is produced on every (re)load; consumers must not mutate it.
type Snapshot struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	DataDir    string `yaml:"data_dir"`

	Gateway   GatewayConfig   `yaml:"gateway"`
	Presence  PresenceConfig  `yaml:"presence"`
	Voting    VotingConfig    `yaml:"voting"`
	Hub       HubConfig       `yaml:"hub"`
	Moderator ModeratorConfig `yaml:"moderator"`
	Archive   ArchiveConfig   `yaml:"archive"`
	API       APIConfig       `yaml:"api"`
}

// GatewayConfig controls the AI provider adapter.
type GatewayConfig struct {
	ProviderURL string        `yaml:"provider_url"`
	APIKey      string        `yaml:"api_key"`
	ProjectID   string        `yaml:"project_id"`
	ModelID     string        `yaml:"model_id"`
	Timeout     time.Duration `yaml:"timeout"`
	RetryMax    int           `yaml:"retry_max"`
	RetryBase   time.Duration `yaml:"retry_base"`
	RateRPS     float64       `yaml:"rate_rps"`
	RateBurst   int           `yaml:"rate_burst"`
}

// PresenceConfig controls connection liveness detection.
type PresenceConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MissedBeats       int           `yaml:"missed_beats"`
}

// VotingConfig controls quorum behaviour.
type VotingConfig struct {
	QuorumWindow time.Duration `yaml:"quorum_window"`
}

// HubConfig controls the broadcast backlog.
type HubConfig struct {
	BacklogSize int           `yaml:"backlog_size"`
	BacklogTTL  time.Duration `yaml:"backlog_ttl"`
	RedisAddr   string        `yaml:"redis_addr"` // empty selects the in-memory backlog
	RedisDB     int           `yaml:"redis_db"`
}

// ModeratorConfig controls inactivity nudging.
type ModeratorConfig struct {
	Enabled        bool          `yaml:"enabled"`
	NudgeThreshold time.Duration `yaml:"nudge_threshold"`
	NudgeCooldown  time.Duration `yaml:"nudge_cooldown"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// ArchiveConfig controls the persistence collaborator.
type ArchiveConfig struct {
	DBPath    string `yaml:"db_path"`
	ReportDir string `yaml:"report_dir"`
}

// APIConfig controls the HTTP surface.
type APIConfig struct {
	RateLimit       int           `yaml:"rate_limit"` // requests per window per IP
	RateWindow      time.Duration `yaml:"rate_window"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// FromEnv builds a Snapshot from environment variables with defaults.
func FromEnv() Snapshot {
	return Snapshot{
		ListenAddr: ParseString("BSX_LISTEN", ":8080"),
		LogLevel:   ParseString("BSX_LOG_LEVEL", "info"),
		DataDir:    ParseString("BSX_DATA", "/var/lib/brainstormx"),
		Gateway: GatewayConfig{
			ProviderURL: ParseString("BSX_AI_URL", "https://us-south.ml.cloud.ibm.com"),
			APIKey:      ParseString("BSX_AI_API_KEY", ""),
			ProjectID:   ParseString("BSX_AI_PROJECT_ID", ""),
			ModelID:     ParseString("BSX_AI_MODEL_ID", "ibm/granite-3-3-8b-instruct"),
			Timeout:     ParseDuration("BSX_AI_TIMEOUT", 20*time.Second),
			RetryMax:    ParseInt("BSX_AI_RETRIES", 3),
			RetryBase:   ParseDuration("BSX_AI_RETRY_BASE", time.Second),
			RateRPS:     float64(ParseInt("BSX_AI_RATE_RPS", 5)),
			RateBurst:   ParseInt("BSX_AI_RATE_BURST", 10),
		},
		Presence: PresenceConfig{
			HeartbeatInterval: ParseDuration("BSX_HEARTBEAT_INTERVAL", 30*time.Second),
			MissedBeats:       ParseInt("BSX_HEARTBEAT_MISSED", 3),
		},
		Voting: VotingConfig{
			QuorumWindow: ParseDuration("BSX_QUORUM_WINDOW", 5*time.Minute),
		},
		Hub: HubConfig{
			BacklogSize: ParseInt("BSX_BACKLOG_SIZE", 500),
			BacklogTTL:  ParseDuration("BSX_BACKLOG_TTL", time.Hour),
			RedisAddr:   ParseString("BSX_REDIS_ADDR", ""),
			RedisDB:     ParseInt("BSX_REDIS_DB", 0),
		},
		Moderator: ModeratorConfig{
			Enabled:        ParseBool("BSX_NUDGE_ENABLED", true),
			NudgeThreshold: ParseDuration("BSX_NUDGE_THRESHOLD", 30*time.Second),
			NudgeCooldown:  ParseDuration("BSX_NUDGE_COOLDOWN", 120*time.Second),
			SweepInterval:  ParseDuration("BSX_NUDGE_SWEEP", 10*time.Second),
		},
		Archive: ArchiveConfig{
			DBPath:    ParseString("BSX_ARCHIVE_DB", ""),
			ReportDir: ParseString("BSX_REPORT_DIR", ""),
		},
		API: APIConfig{
			RateLimit:       ParseInt("BSX_API_RATE_LIMIT", 600),
			RateWindow:      ParseDuration("BSX_API_RATE_WINDOW", time.Minute),
			ShutdownTimeout: ParseDuration("BSX_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
	}
}

// Validate rejects snapshots that cannot produce a working daemon.
func (s Snapshot) Validate() error {
	if s.ListenAddr == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if s.Gateway.Timeout <= 0 {
		return fmt.Errorf("config: gateway timeout must be positive, got %s", s.Gateway.Timeout)
	}
	if s.Gateway.RetryMax < 1 {
		return fmt.Errorf("config: gateway retry_max must be at least 1, got %d", s.Gateway.RetryMax)
	}
	if s.Presence.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: heartbeat interval must be positive")
	}
	if s.Presence.MissedBeats < 1 {
		return fmt.Errorf("config: missed beats must be at least 1")
	}
	if s.Hub.BacklogSize < 1 {
		return fmt.Errorf("config: backlog size must be at least 1, got %d", s.Hub.BacklogSize)
	}
	if s.Voting.QuorumWindow <= 0 {
		return fmt.Errorf("config: quorum window must be positive")
	}
	return nil
}
