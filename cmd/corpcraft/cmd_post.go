// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/engine"
	"github.com/corpcraft/swarmengine/pkg/swarm"
)

func newPostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post <intent>",
		Short: "Post an intent and watch it run to completion",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPost,
	}
	cmd.Flags().StringSlice("tags", nil, "Extra role tags")
	cmd.Flags().String("risk", "", "Risk override: LOW, MEDIUM, HIGH")
	cmd.Flags().Duration("wait", 2*time.Minute, "How long to wait for completion")
	return cmd
}

func runPost(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	// One-shot run: keep the journal out of the way of a live engine.
	cfg.Engine.JournalPath = ""

	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}
	eng.Start()
	defer eng.Shutdown()
	recruitDefaults(eng, cfg.Autonomy.Level, 5)

	tags, _ := cmd.Flags().GetStringSlice("tags")
	risk, _ := cmd.Flags().GetString("risk")
	wait, _ := cmd.Flags().GetDuration("wait")

	intent := strings.Join(args, " ")
	posted, err := eng.Post(intent, swarm.RouteOptions{
		ExtraTags: tags,
		RiskLevel: bus.RiskLevel(strings.ToUpper(risk)),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Posted %s (tags: %v, risk: %s)\n",
		posted.ID, posted.RequiredTags, posted.RiskLevel)

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		ev, err := eng.Bus.Get(posted.ID)
		if err != nil {
			return err
		}
		if ev.Status.Terminal() {
			fmt.Printf("Task %s: %s\n", ev.ID, ev.Status)
			printTrail(eng, ev.ID)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	fmt.Println("Timed out waiting for completion.")
	return nil
}

func printTrail(eng *engine.Engine, taskID string) {
	for _, rec := range eng.Trail.ReplayTask(taskID) {
		fmt.Printf("  %s %-22s %s\n",
			rec.Timestamp.Format("15:04:05.000"), rec.Topic, rec.EventID[:8])
	}
}
