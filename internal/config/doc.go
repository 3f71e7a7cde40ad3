// Package config handles configuration loading and merging for cukedash.
//
// # Configuration Precedence
//
// Configuration values are resolved in the following order (highest to lowest priority):
//
//  1. CLI flags (--port, --features, --headless, --config, etc.)
//  2. Environment variables (PORT, HEADLESS, JIRA_*, CUKEDASH_*)
//  3. YAML config file (.cukedash.yaml in the local directory or ~/.config/cukedash/.cukedash.yaml)
//  4. Hardcoded defaults
//
// ResolvedConfig.Sources records which of these supplied each key.
//
// # Environment Variables
//
//   - PORT or CUKEDASH_PORT: HTTP listen port (default 3001)
//   - HEADLESS or CUKEDASH_HEADLESS: default browser mode for runs
//   - CUKEDASH_FEATURES_DIR, CUKEDASH_WORK_DIR, CUKEDASH_RESULTS_FILE
//   - CUKEDASH_HISTORY_DB: enables the SQLite execution archive
//   - CUKEDASH_KILL_GRACE: delay between SIGTERM and SIGKILL (Go duration)
//   - CUKEDASH_LOG_LEVEL, CUKEDASH_LOG_FORMAT
//   - JIRA_URL, JIRA_EMAIL, JIRA_API_TOKEN, JIRA_FILTER_ID, JIRA_PROJECT_KEY
package config
