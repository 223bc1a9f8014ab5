package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/hochfrequenz/phase-orchestrator/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Agent         AgentConfig         `toml:"agent"`
	CI            CIConfig            `toml:"ci"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
	Schedule      ScheduleConfig      `toml:"schedule"`
	Phases        []domain.Phase      `toml:"phases"`
}

// GeneralConfig holds general settings.
type GeneralConfig struct {
	RepoRoot     string `toml:"repo_root"`
	WorkspaceDir string `toml:"workspace_dir"`
	LogPath      string `toml:"log_path"`
	DatabasePath string `toml:"database_path"`
	Remote       string `toml:"remote"`
	Trunk        string `toml:"trunk"`
	ProgressFile string `toml:"progress_file"`
}

// AgentConfig holds settings for the external coding agent.
type AgentConfig struct {
	Command       string `toml:"command"`
	MaxIterations int    `toml:"max_iterations"`
}

// CIConfig holds timing knobs for the CI watch loop. All values
// default to the pipeline's standard timings.
type CIConfig struct {
	GracePeriodSecs     int    `toml:"grace_period_secs"`
	RegistrationRounds  int    `toml:"registration_rounds"`
	RegistrationSecs    int    `toml:"registration_interval_secs"`
	MinCheckRuns        int    `toml:"min_check_runs"`
	WatchDeadlineMins   int    `toml:"watch_deadline_mins"`
	LivenessTickSecs    int    `toml:"liveness_tick_secs"`
	MaxAttempts         int    `toml:"max_attempts"`
	FormatCommand       string `toml:"format_command"`
	PushBackoffSecs     int    `toml:"push_backoff_secs"`
	PrimaryMergeMethod  string `toml:"primary_merge_method"`
	FallbackMergeMethod string `toml:"fallback_merge_method"`
}

// NotificationsConfig holds notification settings.
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds event-stream server settings.
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// ScheduleConfig holds unattended-run settings.
type ScheduleConfig struct {
	Cron string `toml:"cron"`
}

// Default returns a Config with the standard pipeline timings.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			RepoRoot:     ".",
			WorkspaceDir: filepath.Join(home, ".phase-orchestrator", "workspaces"),
			LogPath:      filepath.Join(home, ".phase-orchestrator", "run.log"),
			DatabasePath: filepath.Join(home, ".phase-orchestrator", "history.db"),
			Remote:       "origin",
			Trunk:        "main",
			ProgressFile: "PROGRESS.md",
		},
		Agent: AgentConfig{
			Command:       "claude",
			MaxIterations: 10,
		},
		CI: CIConfig{
			GracePeriodSecs:     30,
			RegistrationRounds:  6,
			RegistrationSecs:    10,
			MinCheckRuns:        3,
			WatchDeadlineMins:   30,
			LivenessTickSecs:    10,
			MaxAttempts:         3,
			FormatCommand:       "make fmt",
			PushBackoffSecs:     10,
			PrimaryMergeMethod:  "merge",
			FallbackMergeMethod: "squash",
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
// for anything unset. A missing file yields pure defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.General.RepoRoot = ExpandPath(cfg.General.RepoRoot)
	cfg.General.WorkspaceDir = ExpandPath(cfg.General.WorkspaceDir)
	cfg.General.LogPath = ExpandPath(cfg.General.LogPath)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)

	// Phases without an iteration budget inherit the agent default.
	for i := range cfg.Phases {
		if cfg.Phases[i].MaxIterations == 0 {
			cfg.Phases[i].MaxIterations = cfg.Agent.MaxIterations
		}
	}

	if err := domain.Validate(cfg.Phases); err != nil {
		return nil, fmt.Errorf("invalid phase list: %w", err)
	}

	return cfg, nil
}

// GracePeriod returns the CI registration grace period.
func (c CIConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSecs) * time.Second
}

// RegistrationInterval returns the delay between registration polls.
func (c CIConfig) RegistrationInterval() time.Duration {
	return time.Duration(c.RegistrationSecs) * time.Second
}

// WatchDeadline returns the wall-clock deadline for one CI watch.
func (c CIConfig) WatchDeadline() time.Duration {
	return time.Duration(c.WatchDeadlineMins) * time.Minute
}

// LivenessTick returns the supervision poll interval.
func (c CIConfig) LivenessTick() time.Duration {
	return time.Duration(c.LivenessTickSecs) * time.Second
}

// PushBackoff returns the delay before the single push retry.
func (c CIConfig) PushBackoff() time.Duration {
	return time.Duration(c.PushBackoffSecs) * time.Second
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "phase-orchestrator", "config.toml")
}
