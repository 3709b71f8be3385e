package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Config is the engine configuration: a JSON file overlaid with
// environment variables. Environment wins over file, file wins over
// defaults.
type Config struct {
	Engine    EngineConfig    `json:"engine" label:"Engine"`
	HUD       HUDConfig       `json:"hud" label:"Resource HUD"`
	Approvals ApprovalsConfig `json:"approvals" label:"Approvals"`
	Skills    SkillsConfig    `json:"skills" label:"Skills"`
	Autonomy  AutonomyConfig  `json:"autonomy" label:"Autonomy"`
}

type EngineConfig struct {
	ExecutionMode   string `json:"execution_mode" label:"Execution Mode" env:"CORPCRAFT_EXECUTION_MODE"`
	WorkDir         string `json:"work_dir" label:"Work Directory" env:"CORPCRAFT_WORK_DIR"`
	LeaseMS         int    `json:"lease_ms" label:"Default Lease (ms)" env:"CORPCRAFT_LEASE_MS"`
	HighRiskLeaseMS int    `json:"high_risk_lease_ms" label:"High-Risk Lease (ms)" env:"CORPCRAFT_HIGH_RISK_LEASE_MS"`
	MaxRetries      int    `json:"max_retries" label:"Max Retries" env:"CORPCRAFT_MAX_RETRIES"`
	JournalPath     string `json:"journal_path" label:"Journal Path" env:"CORPCRAFT_JOURNAL_PATH"`
	LogFile         string `json:"log_file" label:"Log File" env:"CORPCRAFT_LOG_FILE"`
}

type HUDConfig struct {
	MaxHP float64 `json:"max_hp" label:"Max HP" env:"CORPCRAFT_HUD_MAX_HP"`
	MaxMP float64 `json:"max_mp" label:"Max MP" env:"CORPCRAFT_HUD_MAX_MP"`
	MaxAP float64 `json:"max_ap" label:"Max AP" env:"CORPCRAFT_HUD_MAX_AP"`
}

type ApprovalsConfig struct {
	// CongestionThreshold is the pending-approval count that raises the
	// queue congestion alarm.
	CongestionThreshold int `json:"congestion_threshold" label:"Congestion Threshold" env:"CORPCRAFT_APPROVALS_CONGESTION_THRESHOLD"`
}

type SkillsConfig struct {
	Dir       string   `json:"dir" label:"Skills Directory" env:"CORPCRAFT_SKILLS_DIR"`
	Allowlist []string `json:"allowlist" label:"Skill Allowlist" env:"CORPCRAFT_SKILLS_ALLOWLIST" envSeparator:","`
}

type AutonomyConfig struct {
	Level   int               `json:"level" label:"Autonomy Level" env:"CORPCRAFT_AUTONOMY_LEVEL"`
	Cron    []CronJobConfig   `json:"cron" label:"Cron Jobs"`
	Watches []WatchRuleConfig `json:"watches" label:"Watch Rules"`
}

// CronJobConfig schedules a recurring intent. Expr is "minute hour dow"
// or a full five-field cron expression.
type CronJobConfig struct {
	Name         string   `json:"name"`
	Expr         string   `json:"expr"`
	Intent       string   `json:"intent"`
	RequiredTags []string `json:"required_tags,omitempty"`
}

// WatchRuleConfig reacts to blackboard topics with a templated intent.
type WatchRuleConfig struct {
	Name           string            `json:"name"`
	Topics         []string          `json:"topics"`
	Filter         map[string]string `json:"filter,omitempty"`
	IntentTemplate string            `json:"intent_template"`
	CooldownMS     int               `json:"cooldown_ms"`
	MaxConcurrent  int               `json:"max_concurrent"`
}

// Load reads the config file at path (missing file is not an error),
// applies the environment overlay, then fills defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Fresh install: defaults plus environment.
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overlay: %w", err)
	}

	applyDefaults(cfg, filepath.Dir(path))
	return cfg, nil
}

// Save writes the config back as indented JSON with private permissions.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
