// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// CliFlags holds the values of command-line flags.
type CliFlags struct {
	ConfigPath  string
	Port        int
	FeaturesDir string
	WorkDir     string
	Headless    bool
	HistoryDB   string
	LogLevel    string
	LogFormat   string
	Verbose     bool

	// Flags to track if they were explicitly set by the user
	PortSet        bool
	FeaturesDirSet bool
	WorkDirSet     bool
	HeadlessSet    bool
	HistoryDBSet   bool
	LogLevelSet    bool
	LogFormatSet   bool
}

// RunnerConfig describes the external cucumber command.
type RunnerConfig struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	ConfigFile string   `yaml:"config_file"`
}

// JiraConfig holds issue tracker credentials. An empty URL disables the tracker.
type JiraConfig struct {
	URL        string `yaml:"url"`
	Email      string `yaml:"email"`
	APIToken   string `yaml:"api_token"`
	FilterID   string `yaml:"filter_id"`
	ProjectKey string `yaml:"project_key"`
}

// AppConfig represents the application's configuration from .cukedash.yaml.
type AppConfig struct {
	Port             int           `yaml:"port"`
	FeaturesDir      string        `yaml:"features_dir"`
	WorkDir          string        `yaml:"work_dir"`
	Runner           RunnerConfig  `yaml:"runner"`
	ResultsFile      string        `yaml:"results_file"`
	Headless         *bool         `yaml:"headless"`
	KillGrace        time.Duration `yaml:"kill_grace"`
	MaxConcurrent    int           `yaml:"max_concurrent"`
	RetainExecutions int           `yaml:"retain_executions"`
	HistoryDB        string        `yaml:"history_db"`
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`
	Jira             JiraConfig    `yaml:"jira"`
}

// Constants for default values.
const (
	DefaultPort             = 3001
	DefaultFeaturesDir      = "features"
	DefaultRunnerCommand    = "npx"
	DefaultRunnerConfigFile = ".cucumber.json"
	DefaultResultsFile      = "test_results.json"
	DefaultKillGrace        = 5 * time.Second
	DefaultMaxConcurrent    = 1
	DefaultRetainExecutions = 100
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"

	fileName = ".cukedash.yaml"
	appDir   = "cukedash"
)

// DefaultRunnerArgs are the arguments placed before the generated flags.
func DefaultRunnerArgs() []string {
	return []string{"cucumber-js", "--config", DefaultRunnerConfigFile}
}

// Defaults returns an AppConfig populated with hardcoded defaults.
func Defaults() *AppConfig {
	headless := true
	return &AppConfig{
		Port:        DefaultPort,
		FeaturesDir: DefaultFeaturesDir,
		WorkDir:     ".",
		Runner: RunnerConfig{
			Command:    DefaultRunnerCommand,
			Args:       DefaultRunnerArgs(),
			ConfigFile: DefaultRunnerConfigFile,
		},
		ResultsFile:      DefaultResultsFile,
		Headless:         &headless,
		KillGrace:        DefaultKillGrace,
		MaxConcurrent:    DefaultMaxConcurrent,
		RetainExecutions: DefaultRetainExecutions,
		LogLevel:         DefaultLogLevel,
		LogFormat:        DefaultLogFormat,
	}
}

// LoadConfig reads the YAML file and merges it onto the defaults. It
// returns the path that was read, or "" when no file was found. An
// explicit path that does not exist is an error; a missing default file
// is not.
func LoadConfig(explicit string) (*AppConfig, string, error) {
	fileCfg, path, err := loadFile(explicit)
	if err != nil {
		return nil, "", err
	}
	appCfg := Defaults()
	merge(appCfg, fileCfg)
	return appCfg, path, nil
}

// loadFile returns only the values present in the config file.
func loadFile(explicit string) (*AppConfig, string, error) {
	configPath := getConfigPath(explicit)
	if configPath == "" {
		return &AppConfig{}, "", nil
	}

	yamlFile, err := os.ReadFile(configPath)
	if err != nil {
		if explicit == "" && errors.Is(err, fs.ErrNotExist) {
			return &AppConfig{}, "", nil
		}
		return nil, "", fmt.Errorf("read config %s: %w", configPath, err)
	}

	var fileCfg AppConfig
	if err := yaml.Unmarshal(yamlFile, &fileCfg); err != nil {
		return nil, "", fmt.Errorf("parse config %s: %w", configPath, err)
	}
	return &fileCfg, configPath, nil
}

// merge copies every value set in the file onto base.
func merge(base, file *AppConfig) {
	if file.Port != 0 {
		base.Port = file.Port
	}
	if file.FeaturesDir != "" {
		base.FeaturesDir = file.FeaturesDir
	}
	if file.WorkDir != "" {
		base.WorkDir = file.WorkDir
	}
	if file.Runner.Command != "" {
		base.Runner.Command = file.Runner.Command
	}
	if file.Runner.ConfigFile != "" {
		base.Runner.ConfigFile = file.Runner.ConfigFile
		if file.Runner.Args == nil {
			base.Runner.Args = []string{"cucumber-js", "--config", file.Runner.ConfigFile}
		}
	}
	if file.Runner.Args != nil {
		base.Runner.Args = file.Runner.Args
	}
	if file.ResultsFile != "" {
		base.ResultsFile = file.ResultsFile
	}
	if file.Headless != nil {
		base.Headless = file.Headless
	}
	if file.KillGrace > 0 {
		base.KillGrace = file.KillGrace
	}
	if file.MaxConcurrent > 0 {
		base.MaxConcurrent = file.MaxConcurrent
	}
	if file.RetainExecutions > 0 {
		base.RetainExecutions = file.RetainExecutions
	}
	if file.HistoryDB != "" {
		base.HistoryDB = file.HistoryDB
	}
	if file.LogLevel != "" {
		base.LogLevel = file.LogLevel
	}
	if file.LogFormat != "" {
		base.LogFormat = file.LogFormat
	}
	if file.Jira != (JiraConfig{}) {
		base.Jira = file.Jira
	}
}

// getConfigPath picks the config file. An explicit --config path wins;
// otherwise the local directory is checked first, then the XDG user config
// dir.
func getConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}

	if _, err := os.Stat(fileName); err == nil {
		return fileName
	}

	configHome, err := os.UserConfigDir()
	if err != nil || configHome == "" || configHome == "/" {
		return ""
	}
	xdgPath := filepath.Join(configHome, appDir, fileName)
	if _, err := os.Stat(xdgPath); err == nil {
		return xdgPath
	}
	return ""
}
