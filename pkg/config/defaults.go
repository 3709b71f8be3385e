package config

import "path/filepath"

const (
	DefaultLeaseMS         = 30000
	DefaultHighRiskLeaseMS = 120000
	DefaultMaxRetries      = 2

	DefaultMaxHP = 1000
	DefaultMaxMP = 100000
	DefaultMaxAP = 100

	DefaultCongestionThreshold = 10
)

func applyDefaults(cfg *Config, homeDir string) {
	if cfg.Engine.ExecutionMode == "" {
		cfg.Engine.ExecutionMode = "mock"
	}
	if cfg.Engine.WorkDir == "" {
		cfg.Engine.WorkDir = homeDir
	}
	if cfg.Engine.LeaseMS <= 0 {
		cfg.Engine.LeaseMS = DefaultLeaseMS
	}
	if cfg.Engine.HighRiskLeaseMS <= 0 {
		cfg.Engine.HighRiskLeaseMS = DefaultHighRiskLeaseMS
	}
	if cfg.Engine.MaxRetries <= 0 {
		cfg.Engine.MaxRetries = DefaultMaxRetries
	}
	if cfg.HUD.MaxHP <= 0 {
		cfg.HUD.MaxHP = DefaultMaxHP
	}
	if cfg.HUD.MaxMP <= 0 {
		cfg.HUD.MaxMP = DefaultMaxMP
	}
	if cfg.HUD.MaxAP <= 0 {
		cfg.HUD.MaxAP = DefaultMaxAP
	}
	if cfg.Approvals.CongestionThreshold <= 0 {
		cfg.Approvals.CongestionThreshold = DefaultCongestionThreshold
	}
	if cfg.Skills.Dir == "" {
		cfg.Skills.Dir = filepath.Join(homeDir, "skills")
	}
	for i := range cfg.Autonomy.Watches {
		if cfg.Autonomy.Watches[i].CooldownMS <= 0 {
			cfg.Autonomy.Watches[i].CooldownMS = 60000
		}
		if cfg.Autonomy.Watches[i].MaxConcurrent <= 0 {
			cfg.Autonomy.Watches[i].MaxConcurrent = 3
		}
	}
}
