// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/corpcraft/swarmengine/pkg/config"
	"github.com/corpcraft/swarmengine/pkg/logger"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
)

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func main() {
	root := &cobra.Command{
		Use:   "corpcraft",
		Short: "CorpCraft swarm engine",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logger.SetLevel(logger.DEBUG)
			}
		},
	}
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")

	root.AddCommand(
		newRunCmd(),
		newPostCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("corpcraft %s\n", formatVersion())
			if buildTime != "" {
				fmt.Printf("  Build: %s\n", buildTime)
			}
			fmt.Printf("  Go: %s\n", runtime.Version())
		},
	}
}

// loadConfig resolves runtime paths and loads the layered config.
func loadConfig() (*config.Config, config.RuntimePaths, error) {
	paths := config.ResolveRuntimePaths()
	cfg, err := config.Load(paths.ConfigPath)
	if err != nil {
		return nil, paths, err
	}
	if cfg.Engine.JournalPath == "" {
		cfg.Engine.JournalPath = paths.JournalPath
	}
	if cfg.Skills.Dir == "" {
		cfg.Skills.Dir = paths.SkillsDir
	}
	if cfg.Engine.LogFile == "" {
		cfg.Engine.LogFile = paths.LogPath
	}
	return cfg, paths, nil
}
