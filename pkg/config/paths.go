package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	EnvCorpCraftConfig = "CORPCRAFT_CONFIG"
	EnvCorpCraftHome   = "CORPCRAFT_HOME"
)

type RuntimePaths struct {
	HomeDir     string
	ConfigPath  string
	JournalPath string
	SkillsDir   string
	LogPath     string
}

// ResolveRuntimePaths resolves the engine home directory and derived
// paths. CORPCRAFT_CONFIG pins the config file directly; otherwise
// CORPCRAFT_HOME or ~/.corpcraft is used.
func ResolveRuntimePaths() RuntimePaths {
	if configPath := expandHome(strings.TrimSpace(os.Getenv(EnvCorpCraftConfig))); configPath != "" {
		return buildRuntimePaths(filepath.Dir(configPath), configPath)
	}

	homeDir := expandHome(strings.TrimSpace(os.Getenv(EnvCorpCraftHome)))
	if homeDir == "" {
		homeDir = defaultCorpCraftHome()
	}

	return buildRuntimePaths(homeDir, filepath.Join(homeDir, "config.json"))
}

func defaultCorpCraftHome() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".corpcraft"
	}
	return filepath.Join(home, ".corpcraft")
}

func buildRuntimePaths(homeDir, configPath string) RuntimePaths {
	return RuntimePaths{
		HomeDir:     homeDir,
		ConfigPath:  configPath,
		JournalPath: filepath.Join(homeDir, "events.db"),
		SkillsDir:   filepath.Join(homeDir, "skills"),
		LogPath:     filepath.Join(homeDir, "engine.log"),
	}
}

func expandHome(path string) string {
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
