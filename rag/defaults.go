// Package rag holds process-wide defaults shared by the course assistant packages.
package rag

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName      = "course-rag"
	DefaultEnvPrefix    = "COURSE_RAG"
	DefaultDatabaseType = "libsql"
	DefaultDatabaseFile = "course-rag.db"
)

var (
	// DefaultConfigPath is where the YAML config is searched after the working directory.
	DefaultConfigPath = filepath.Join(userConfigDir(), DefaultAppName)
	// DefaultDatabaseDir holds the embedded libsql file.
	DefaultDatabaseDir = filepath.Join(userDataDir(), DefaultAppName)
	// DefaultDatabaseDSN is the embedded database file path.
	DefaultDatabaseDSN = filepath.Join(DefaultDatabaseDir, DefaultDatabaseFile)
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func userDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share")
	}
	return "."
}
