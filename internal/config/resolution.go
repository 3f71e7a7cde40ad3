// internal/config/resolution.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Source names recorded in ResolvedConfig.Sources.
const (
	SourceCLI     = "cli"
	SourceEnv     = "env"
	SourceFile    = "file"
	SourceDefault = "default"
)

// ResolvedConfig is the final configuration after all sources are applied.
type ResolvedConfig struct {
	Port             int
	FeaturesDir      string
	WorkDir          string
	RunnerCommand    string
	RunnerArgs       []string
	ResultsFile      string
	Headless         bool
	KillGrace        time.Duration
	MaxConcurrent    int
	RetainExecutions int
	HistoryDB        string
	LogLevel         string
	LogFormat        string
	Jira             JiraConfig

	// ConfigFile is the YAML file that was read, or "".
	ConfigFile string
	// Sources maps a key to where its value came from (for debugging).
	Sources map[string]string
}

// Addr is the listen address for the HTTP server.
func (c *ResolvedConfig) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// FeaturesPath is the features directory resolved against the working
// directory.
func (c *ResolvedConfig) FeaturesPath() string {
	if filepath.IsAbs(c.FeaturesDir) {
		return c.FeaturesDir
	}
	return filepath.Join(c.WorkDir, c.FeaturesDir)
}

// ResultsPath is the results file resolved against the working directory.
func (c *ResolvedConfig) ResultsPath() string {
	if filepath.IsAbs(c.ResultsFile) {
		return c.ResultsFile
	}
	return filepath.Join(c.WorkDir, c.ResultsFile)
}

// TrackerEnabled reports whether enough Jira settings exist to talk to it.
func (c *ResolvedConfig) TrackerEnabled() bool {
	return c.Jira.URL != "" && c.Jira.Email != "" && c.Jira.APIToken != ""
}

// ResolveConfig resolves configuration from all sources with explicit priority order.
//
// Resolution order:
//  1. CLI flags (highest priority)
//  2. Environment variables
//  3. .cukedash.yaml
//  4. Defaults
func ResolveConfig(cli CliFlags) (*ResolvedConfig, error) {
	fileCfg, path, err := loadFile(cli.ConfigPath)
	if err != nil {
		return nil, err
	}
	appCfg := Defaults()
	merge(appCfg, fileCfg)

	r := &ResolvedConfig{
		Port:             appCfg.Port,
		FeaturesDir:      appCfg.FeaturesDir,
		WorkDir:          appCfg.WorkDir,
		RunnerCommand:    appCfg.Runner.Command,
		RunnerArgs:       appCfg.Runner.Args,
		ResultsFile:      appCfg.ResultsFile,
		Headless:         *appCfg.Headless,
		KillGrace:        appCfg.KillGrace,
		MaxConcurrent:    appCfg.MaxConcurrent,
		RetainExecutions: appCfg.RetainExecutions,
		HistoryDB:        appCfg.HistoryDB,
		LogLevel:         appCfg.LogLevel,
		LogFormat:        appCfg.LogFormat,
		Jira:             appCfg.Jira,
		ConfigFile:       path,
		Sources:          map[string]string{},
	}
	for key, set := range map[string]bool{
		"port":              fileCfg.Port != 0,
		"features_dir":      fileCfg.FeaturesDir != "",
		"work_dir":          fileCfg.WorkDir != "",
		"runner":            fileCfg.Runner.Command != "" || fileCfg.Runner.Args != nil || fileCfg.Runner.ConfigFile != "",
		"results_file":      fileCfg.ResultsFile != "",
		"headless":          fileCfg.Headless != nil,
		"kill_grace":        fileCfg.KillGrace > 0,
		"max_concurrent":    fileCfg.MaxConcurrent > 0,
		"retain_executions": fileCfg.RetainExecutions > 0,
		"history_db":        fileCfg.HistoryDB != "",
		"log_level":         fileCfg.LogLevel != "",
		"log_format":        fileCfg.LogFormat != "",
		"jira":              fileCfg.Jira != (JiraConfig{}),
	} {
		r.Sources[key] = SourceDefault
		if set {
			r.Sources[key] = SourceFile
		}
	}

	// Port: CLI > PORT/CUKEDASH_PORT > file > default
	if cli.PortSet {
		r.Port, r.Sources["port"] = cli.Port, SourceCLI
	} else if v, ok, err := getEnvInt("CUKEDASH_PORT", "PORT"); err != nil {
		return nil, err
	} else if ok {
		r.Port, r.Sources["port"] = v, SourceEnv
	}

	if cli.HeadlessSet {
		r.Headless, r.Sources["headless"] = cli.Headless, SourceCLI
	} else if v := getEnvBool("CUKEDASH_HEADLESS", "HEADLESS"); v != nil {
		r.Headless, r.Sources["headless"] = *v, SourceEnv
	}

	resolveString(&r.FeaturesDir, r.Sources, "features_dir", cli.FeaturesDir, cli.FeaturesDirSet, "CUKEDASH_FEATURES_DIR")
	resolveString(&r.WorkDir, r.Sources, "work_dir", cli.WorkDir, cli.WorkDirSet, "CUKEDASH_WORK_DIR")
	resolveString(&r.HistoryDB, r.Sources, "history_db", cli.HistoryDB, cli.HistoryDBSet, "CUKEDASH_HISTORY_DB")
	resolveString(&r.LogLevel, r.Sources, "log_level", cli.LogLevel, cli.LogLevelSet, "CUKEDASH_LOG_LEVEL")
	resolveString(&r.LogFormat, r.Sources, "log_format", cli.LogFormat, cli.LogFormatSet, "CUKEDASH_LOG_FORMAT")
	resolveString(&r.ResultsFile, r.Sources, "results_file", "", false, "CUKEDASH_RESULTS_FILE")

	if cli.Verbose {
		r.LogLevel, r.Sources["log_level"] = "debug", SourceCLI
	}

	if v, ok, err := getEnvDuration("CUKEDASH_KILL_GRACE"); err != nil {
		return nil, err
	} else if ok {
		r.KillGrace, r.Sources["kill_grace"] = v, SourceEnv
	}

	jiraEnv := false
	for _, e := range []struct {
		dst *string
		key string
	}{
		{&r.Jira.URL, "JIRA_URL"},
		{&r.Jira.Email, "JIRA_EMAIL"},
		{&r.Jira.APIToken, "JIRA_API_TOKEN"},
		{&r.Jira.FilterID, "JIRA_FILTER_ID"},
		{&r.Jira.ProjectKey, "JIRA_PROJECT_KEY"},
	} {
		if v := os.Getenv(e.key); v != "" {
			*e.dst = v
			jiraEnv = true
		}
	}
	if jiraEnv {
		r.Sources["jira"] = SourceEnv
	}
	r.Jira.URL = strings.TrimRight(r.Jira.URL, "/")

	if err := validateResolvedConfig(r); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return r, nil
}

func resolveString(dst *string, sources map[string]string, key, cliVal string, cliSet bool, envKey string) {
	if cliSet {
		*dst, sources[key] = cliVal, SourceCLI
		return
	}
	if v := os.Getenv(envKey); v != "" {
		*dst, sources[key] = v, SourceEnv
	}
}

// getEnvBool reads a boolean from environment variables, trying multiple keys.
// Returns nil if none are set, or a pointer to the boolean value.
func getEnvBool(keys ...string) *bool {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				return &b
			}
		}
	}
	return nil
}

func getEnvInt(keys ...string) (int, bool, error) {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return 0, false, fmt.Errorf("%s: invalid integer %q", key, val)
			}
			return n, true, nil
		}
	}
	return 0, false, nil
}

func getEnvDuration(key string) (time.Duration, bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, false, fmt.Errorf("%s: invalid duration %q", key, val)
	}
	return d, true, nil
}

// validateResolvedConfig validates the resolved configuration and returns errors for invalid states.
func validateResolvedConfig(cfg *ResolvedConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port out of range: %d", cfg.Port)
	}
	if cfg.RunnerCommand == "" {
		return fmt.Errorf("runner.command cannot be empty")
	}
	if cfg.KillGrace <= 0 {
		return fmt.Errorf("kill_grace must be positive, got: %s", cfg.KillGrace)
	}
	if cfg.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive, got: %d", cfg.MaxConcurrent)
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level value: %s (must be: debug, info, warn, error)", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format value: %s (must be: text, json)", cfg.LogFormat)
	}
	return nil
}
