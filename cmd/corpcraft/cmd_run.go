// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corpcraft/swarmengine/pkg/engine"
	"github.com/corpcraft/swarmengine/pkg/logger"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the swarm engine until interrupted",
		RunE:  runEngine,
	}
	cmd.Flags().Int("agents", 3, "Number of default agents to recruit")
	return cmd
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, paths, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Engine.LogFile != "" {
		if err := logger.EnableFileLogging(cfg.Engine.LogFile); err != nil {
			logger.WarnC("main", "file logging unavailable: "+err.Error())
		}
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}
	eng.Start()
	defer eng.Shutdown()

	recruitDefaults(eng, cfg.Autonomy.Level, mustFlagInt(cmd, "agents"))
	eng.Skills.InstallAll()

	logger.InfoCF("main", "engine running", map[string]any{
		"home": paths.HomeDir, "mode": cfg.Engine.ExecutionMode,
	})
	fmt.Printf("corpcraft %s running (home: %s). Ctrl-C to stop.\n",
		formatVersion(), paths.HomeDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nShutting down...")
	return nil
}

// recruitDefaults seeds a small generalist crew so posted tasks have
// claimants from the start.
func recruitDefaults(eng *engine.Engine, autonomyLevel, count int) {
	seeds := []struct {
		name string
		tags []string
	}{
		{"data-wrangler", []string{"data", "research"}},
		{"builder", []string{"code", "bug"}},
		{"scribe", []string{"report", "review"}},
		{"designer", []string{"design"}},
		{"operator", []string{"ops"}},
	}
	if count > len(seeds) {
		count = len(seeds)
	}
	for _, seed := range seeds[:count] {
		eng.Recruit(seed.name, seed.tags, autonomyLevel)
	}
}

func mustFlagInt(cmd *cobra.Command, name string) int {
	v, _ := cmd.Flags().GetInt(name)
	return v
}
