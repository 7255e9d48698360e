// Package config loads the process-wide YAML configuration (spec §6.4),
// with ${VAR} environment expansion and .env loading the way the teacher
// bootstraps its own process.
package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jbpayton/sophia-ams/internal/logging"
)

// SchedulerJob is one entry under event_sources.scheduler.jobs. Exactly
// one of IntervalSeconds or Cron should be set; Cron takes a standard
// 5-field cron expression evaluated by the scheduler channel.
type SchedulerJob struct {
	ID              string `yaml:"id"`
	Prompt          string `yaml:"prompt"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	Cron            string `yaml:"cron"`
}

// SchedulerConfig configures the Scheduled channel.
type SchedulerConfig struct {
	Enabled bool           `yaml:"enabled"`
	Jobs    []SchedulerJob `yaml:"jobs"`
}

// GoalEngineConfig configures the Goal Adapter (spec §4.8).
type GoalEngineConfig struct {
	Enabled             bool `yaml:"enabled"`
	CooldownSeconds     int  `yaml:"cooldown_seconds"`
	MaxConsecutiveGoals int  `yaml:"max_consecutive_goals"`
	RestSeconds         int  `yaml:"rest_seconds"`
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled        bool  `yaml:"enabled"`
	Token          string `yaml:"token"`
	AllowedChatIDs []int64 `yaml:"allowed_chat_ids"`
}

// DiscordConfig configures the Discord channel (domain-stack addition
// beyond spec.md's event_sources list; grounded on the teacher's own
// discordgo-based front end).
type DiscordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// EventSourcesConfig is the event_sources section (spec §6.4).
type EventSourcesConfig struct {
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	GoalEngine GoalEngineConfig `yaml:"goal_engine"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Discord    DiscordConfig    `yaml:"discord"`
}

// AgentConfig is the agent section (spec §6.4).
type AgentConfig struct {
	Name             string `yaml:"name"`
	UserName         string `yaml:"user_name"`
	RateLimitPerHour int    `yaml:"rate_limit_per_hour"`
}

// LLMConfig configures the outbound chat endpoint (spec §6.1).
type LLMConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	MaxTokens int    `yaml:"max_tokens"`
}

// EmbeddingConfig configures the embedding generator (spec §6.2).
type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Dim     int    `yaml:"dim"`
}

// StreamMonitorConfig configures the Stream Monitor (spec §4.5).
type StreamMonitorConfig struct {
	AutoRecallLimit        int `yaml:"auto_recall_limit"`
	IdleSeconds             int `yaml:"idle_seconds"`
	EpisodeRotateThreshold int `yaml:"episode_rotate_threshold"`
}

// Config is the full process configuration tree.
type Config struct {
	EventSources  EventSourcesConfig  `yaml:"event_sources"`
	Agent         AgentConfig         `yaml:"agent"`
	LLM           LLMConfig           `yaml:"llm"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	StreamMonitor StreamMonitorConfig `yaml:"stream_monitor"`
	StatePath     string              `yaml:"state_path"`
}

func defaults() Config {
	return Config{
		Agent: AgentConfig{
			Name:             "Sophia",
			UserName:         "User",
			RateLimitPerHour: 120,
		},
		EventSources: EventSourcesConfig{
			GoalEngine: GoalEngineConfig{
				CooldownSeconds:     30,
				MaxConsecutiveGoals: 10,
				RestSeconds:         300,
			},
		},
		LLM: LLMConfig{
			BaseURL:   "http://localhost:11434/v1",
			Model:     "llama3",
			MaxTokens: 512,
		},
		Embedding: EmbeddingConfig{
			BaseURL: "http://localhost:11434",
			Model:   "nomic-embed-text",
			Dim:     384,
		},
		StreamMonitor: StreamMonitorConfig{
			AutoRecallLimit:        10,
			IdleSeconds:            120,
			EpisodeRotateThreshold: 50,
		},
		StatePath: "./state",
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} occurrences with os.Getenv(VAR), leaving
// unset variables as an empty string (spec §6.4).
func expandEnv(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads .env (if present) then the YAML file at path over top of
// defaults, expanding ${VAR} references first.
func Load(path string) (*Config, error) {
	log := logging.For("config")

	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, using environment variables")
	} else {
		log.Info().Msg("loaded .env file")
	}

	cfg := defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("config file not found, using defaults")
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := expandEnv(raw)
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return &cfg, nil
}
