package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rendis/flowplan/internal/executor"
	"github.com/rendis/flowplan/internal/expressions"
)

// Config holds CLI configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	DBPath      string `json:"db_path"`
	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"`
	MaxParallel int    `json:"max_parallel"`
	GuardEngine string `json:"guard_engine"`
}

func defaultConfig() Config {
	return Config{
		DBPath:      filepath.Join(flowplanDir(), "flowplan.db"),
		LogLevel:    "warn",
		LogFormat:   "text",
		MaxParallel: executor.DefaultMaxParallel,
		GuardEngine: expressions.EngineCEL,
	}
}

func flowplanDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowplan"
	}
	return filepath.Join(home, ".flowplan")
}

func settingsPath() string {
	return filepath.Join(flowplanDir(), "settings.json")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

// loadConfigFrom layers settings at path and then getenv over the defaults.
// A missing or malformed settings file is ignored.
func loadConfigFrom(path string, getenv func(string) string) Config {
	cfg := defaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	if v := getenv("FLOWPLAN_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("FLOWPLAN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("FLOWPLAN_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := getenv("FLOWPLAN_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxParallel = n
		}
	}
	if v := getenv("FLOWPLAN_GUARD_ENGINE"); v != "" {
		cfg.GuardEngine = strings.ToLower(v)
	}
	return cfg
}

// dsn turns a configured database path into a libSQL data source name.
func dsn(path string) string {
	for _, prefix := range []string{"file:", "libsql:", "http:", "https:"} {
		if strings.HasPrefix(path, prefix) {
			return path
		}
	}
	return "file:" + path
}
