package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns the default data directory for stagespy
func DefaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".stagespy"
	}
	return filepath.Join(homeDir, ".stagespy")
}

// CLIConfig contains configuration for the stagespy CLI tool
type CLIConfig struct {
	Workload    string
	JobName     string
	Parallelism int
	DataDir     string
	Verbose     bool
}

// DaemonConfig contains configuration for the stagespyd daemon
type DaemonConfig struct {
	DataDir string
	Port    int
	Verbose bool
	Demo    bool
}
