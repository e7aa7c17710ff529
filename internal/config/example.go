package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const exampleConfig = `# ccpanes configuration
# Every key is optional; the values shown are the defaults.

# Pane source: "auto", "wezterm" or "tmux".
# multiplexer = "auto"

# Command run by ` + "`ccpanes spawn`" + ` in a new tab.
# spawn_command = ["claude"]

# List panes from every workspace instead of only the current one.
# all_workspaces = false

[detect]
# allow_list = ["claude", "anthropic"]
# "auto" uses /proc on Linux and ps elsewhere.
# process_source = "auto"

[status]
# A tool call unanswered for longer than this is waiting for you.
# waiting_after_secs = 10
# Bridge records older than this are treated as stale.
# bridge_freshness_secs = 300
# tail_entries = 64

[refresh]
# timeout_ms = 2000
# debounce_ms = 100
# poll_interval_secs = 3
# workers = 8

[bridge]
# dir = "~/.claude/ccpanes/sessions"
# prune_after_secs = 300

[daemon]
# set_titles = true
# title_rate_per_sec = 5
# HTTP API address, e.g. "127.0.0.1:7433". Empty disables it.
# listen = ""
# state_db = "~/.local/state/ccpanes/state.db"

[git]
# disabled = false
# branch_ttl_secs = 30

[logs]
# level = "info"
# format = "json"
# max_size_mb = 10
# max_backups = 3
# max_age_days = 7
# compress = false
# ring_buffer_mb = 2
# aggregate_interval_secs = 30
# pprof = false

[display]
# "dark", "light" or "system"
# theme = "dark"
`

// CreateExample writes the commented example config to Path() unless a file
// already exists there. It returns the path and whether it wrote.
func CreateExample() (string, bool, error) {
	path, err := Path()
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return path, false, fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(exampleConfig), 0o600); err != nil {
		return path, false, fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return path, false, fmt.Errorf("failed to finalize config: %w", err)
	}
	ClearCache()
	return path, true, nil
}
