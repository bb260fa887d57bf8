package config

import (
	"os"
	"path/filepath"
)

// ResolveHome returns the CASETRACK_HOME directory.
// Priority: CASETRACK_HOME env > ~/.casetrack/
func ResolveHome() string {
	if home := os.Getenv("CASETRACK_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".casetrack"
	}
	return filepath.Join(userHome, ".casetrack")
}

// ResolveConfigPath finds the config file.
// Priority: --config flag > CASETRACK_HOME/config.yaml
func ResolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return filepath.Join(ResolveHome(), "config.yaml")
}

// Path returns the process-wide config file path (ResolveConfigPath("")).
func Path() string {
	return ResolveConfigPath("")
}
