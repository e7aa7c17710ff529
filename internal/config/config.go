// Package config loads ~/.config/ccpanes/config.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	dark "github.com/thiagokokada/dark-mode-go"

	"github.com/ccpanes/ccpanes/internal/bridge"
	"github.com/ccpanes/ccpanes/internal/logging"
	"github.com/ccpanes/ccpanes/internal/status"
	"github.com/ccpanes/ccpanes/internal/transcript"
)

// FileName is the config file inside Dir().
const FileName = "config.toml"

// Config is the whole file. Zero values mean "use the default"; read through
// the Get* accessors rather than the fields.
type Config struct {
	// Multiplexer is "auto", "wezterm" or "tmux".
	Multiplexer string `toml:"multiplexer"`

	// SpawnCommand is the argv `ccpanes spawn` runs in a new tab.
	SpawnCommand []string `toml:"spawn_command"`

	// AllWorkspaces lists panes from every workspace, not just the current one.
	AllWorkspaces bool `toml:"all_workspaces"`

	Detect  DetectSettings  `toml:"detect"`
	Status  StatusSettings  `toml:"status"`
	Refresh RefreshSettings `toml:"refresh"`
	Bridge  BridgeSettings  `toml:"bridge"`
	Daemon  DaemonSettings  `toml:"daemon"`
	Git     GitSettings     `toml:"git"`
	Logs    LogSettings     `toml:"logs"`
	Display DisplaySettings `toml:"display"`
}

type DetectSettings struct {
	// AllowList holds the command names that count as an assistant process.
	AllowList []string `toml:"allow_list"`
	// ProcessSource is "auto", "ps" or "procfs".
	ProcessSource string `toml:"process_source"`
}

type StatusSettings struct {
	WaitingAfterSecs    int `toml:"waiting_after_secs"`
	BridgeFreshnessSecs int `toml:"bridge_freshness_secs"`
	// TailEntries is how many trailing transcript lines are parsed.
	TailEntries int `toml:"tail_entries"`
}

type RefreshSettings struct {
	// TimeoutMS bounds the pane and process listing calls.
	TimeoutMS        int `toml:"timeout_ms"`
	DebounceMS       int `toml:"debounce_ms"`
	PollIntervalSecs int `toml:"poll_interval_secs"`
	// Workers caps concurrent per-session enrichment.
	Workers int `toml:"workers"`
}

type BridgeSettings struct {
	Dir            string `toml:"dir"`
	PruneAfterSecs int    `toml:"prune_after_secs"`
}

type DaemonSettings struct {
	// SetTitles is a pointer so an absent key can default to true.
	SetTitles       *bool   `toml:"set_titles"`
	TitleRatePerSec float64 `toml:"title_rate_per_sec"`
	// Listen is the HTTP address for the API; empty disables it.
	Listen  string `toml:"listen"`
	StateDB string `toml:"state_db"`
}

type GitSettings struct {
	// Disabled turns off branch lookup.
	Disabled      bool `toml:"disabled"`
	BranchTTLSecs int  `toml:"branch_ttl_secs"`
}

type LogSettings struct {
	Level                 string `toml:"level"`
	Format                string `toml:"format"`
	MaxSizeMB             int    `toml:"max_size_mb"`
	MaxBackups            int    `toml:"max_backups"`
	MaxAgeDays            int    `toml:"max_age_days"`
	Compress              bool   `toml:"compress"`
	RingBufferMB          int    `toml:"ring_buffer_mb"`
	AggregateIntervalSecs int    `toml:"aggregate_interval_secs"`
	// Pprof starts a pprof listener on localhost:6061.
	Pprof bool `toml:"pprof"`
}

type DisplaySettings struct {
	// Theme is "dark", "light" or "system".
	Theme string `toml:"theme"`
}

var (
	cache   *Config
	cacheMu sync.RWMutex
)

// Dir is ~/.config/ccpanes, honoring XDG_CONFIG_HOME.
func Dir() (string, error) {
	if x := os.Getenv("XDG_CONFIG_HOME"); x != "" {
		return filepath.Join(x, "ccpanes"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ccpanes"), nil
}

// Path is the config file path. CCPANES_CONFIG overrides it.
func Path() (string, error) {
	if p := os.Getenv("CCPANES_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// StateDir holds the log file and state database: $XDG_STATE_HOME/ccpanes or
// ~/.local/state/ccpanes.
func StateDir() string {
	if x := os.Getenv("XDG_STATE_HOME"); x != "" {
		return filepath.Join(x, "ccpanes")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "ccpanes")
	}
	return filepath.Join(home, ".local", "state", "ccpanes")
}

// Load reads the config once and caches it. A missing file yields an empty
// Config. A parse error is returned together with the empty Config so
// callers can warn and keep going.
func Load() (*Config, error) {
	cacheMu.RLock()
	if cache != nil {
		defer cacheMu.RUnlock()
		return cache, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()
	if cache != nil {
		return cache, nil
	}

	path, err := Path()
	if err != nil {
		cache = &Config{}
		return cache, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cache = &Config{}
		return cache, nil
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		cache = &Config{}
		return cache, fmt.Errorf("config.toml parse error: %w", err)
	}
	cache = &cfg
	return cache, nil
}

// Reload drops the cache and reads the file again.
func Reload() (*Config, error) {
	ClearCache()
	return Load()
}

// ClearCache forgets the loaded config without reading it again.
func ClearCache() {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
}

func load() *Config {
	cfg, _ := Load()
	if cfg == nil {
		return &Config{}
	}
	return cfg
}

// GetMultiplexer returns "wezterm", "tmux" or "auto".
func GetMultiplexer() string {
	switch m := strings.ToLower(load().Multiplexer); m {
	case "wezterm", "tmux":
		return m
	}
	return "auto"
}

// GetSpawnCommand returns the argv for new sessions.
func GetSpawnCommand() []string {
	if cmd := load().SpawnCommand; len(cmd) > 0 {
		return append([]string(nil), cmd...)
	}
	return []string{"claude"}
}

func GetAllWorkspaces() bool {
	return load().AllWorkspaces
}

// GetDetectSettings returns detection settings with defaults applied.
func GetDetectSettings() DetectSettings {
	s := load().Detect
	if len(s.AllowList) == 0 {
		s.AllowList = []string{"claude", "anthropic"}
	}
	switch s.ProcessSource {
	case "ps", "procfs":
	default:
		s.ProcessSource = "auto"
	}
	return s
}

// GetStatusSettings returns classification settings with defaults applied.
func GetStatusSettings() StatusSettings {
	s := load().Status
	if s.WaitingAfterSecs <= 0 {
		s.WaitingAfterSecs = int(status.DefaultWaitingAfter / time.Second)
	}
	if s.BridgeFreshnessSecs <= 0 {
		s.BridgeFreshnessSecs = int(status.DefaultBridgeFreshness / time.Second)
	}
	if s.TailEntries <= 0 {
		s.TailEntries = 64
	}
	return s
}

// Policy converts the settings into a classifier policy.
func (s StatusSettings) Policy() status.Policy {
	return status.Policy{
		WaitingAfter:    time.Duration(s.WaitingAfterSecs) * time.Second,
		BridgeFreshness: time.Duration(s.BridgeFreshnessSecs) * time.Second,
	}
}

// GetRefreshSettings returns pipeline settings with defaults applied.
func GetRefreshSettings() RefreshSettings {
	s := load().Refresh
	if s.TimeoutMS <= 0 {
		s.TimeoutMS = 2000
	}
	if s.DebounceMS <= 0 {
		s.DebounceMS = 100
	}
	if s.PollIntervalSecs <= 0 {
		s.PollIntervalSecs = 3
	}
	if s.Workers <= 0 {
		s.Workers = 8
	}
	return s
}

func (s RefreshSettings) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

func (s RefreshSettings) Debounce() time.Duration {
	return time.Duration(s.DebounceMS) * time.Millisecond
}

func (s RefreshSettings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSecs) * time.Second
}

// GetBridgeSettings returns bridge settings with defaults applied.
func GetBridgeSettings() BridgeSettings {
	s := load().Bridge
	if s.Dir == "" {
		s.Dir = bridge.DefaultDir(transcript.ClaudeHome())
	} else {
		s.Dir = expandHome(s.Dir)
	}
	if s.PruneAfterSecs <= 0 {
		s.PruneAfterSecs = int(status.DefaultBridgeFreshness / time.Second)
	}
	return s
}

func (s BridgeSettings) PruneAfter() time.Duration {
	return time.Duration(s.PruneAfterSecs) * time.Second
}

// GetDaemonSettings returns daemon settings with defaults applied.
func GetDaemonSettings() DaemonSettings {
	s := load().Daemon
	if s.SetTitles == nil {
		on := true
		s.SetTitles = &on
	}
	if s.TitleRatePerSec <= 0 {
		s.TitleRatePerSec = 5
	}
	if s.StateDB == "" {
		s.StateDB = filepath.Join(StateDir(), "state.db")
	} else {
		s.StateDB = expandHome(s.StateDB)
	}
	return s
}

// GetSetTitles reports whether the daemon rewrites tab titles.
func (s DaemonSettings) GetSetTitles() bool {
	return s.SetTitles == nil || *s.SetTitles
}

// GetGitSettings returns git settings with defaults applied.
func GetGitSettings() GitSettings {
	s := load().Git
	if s.BranchTTLSecs <= 0 {
		s.BranchTTLSecs = 30
	}
	return s
}

func (s GitSettings) BranchTTL() time.Duration {
	return time.Duration(s.BranchTTLSecs) * time.Second
}

// GetLogSettings returns log settings with defaults applied.
func GetLogSettings() LogSettings {
	s := load().Logs
	if s.Level == "" {
		s.Level = "info"
	}
	if s.Format == "" {
		s.Format = "json"
	}
	if s.MaxSizeMB <= 0 {
		s.MaxSizeMB = 10
	}
	if s.MaxBackups <= 0 {
		s.MaxBackups = 3
	}
	if s.MaxAgeDays <= 0 {
		s.MaxAgeDays = 7
	}
	if s.RingBufferMB <= 0 {
		s.RingBufferMB = 2
	}
	if s.AggregateIntervalSecs <= 0 {
		s.AggregateIntervalSecs = 30
	}
	return s
}

// LoggingConfig builds the logging setup for a process writing into logDir.
func (s LogSettings) LoggingConfig(logDir string, debug bool) logging.Config {
	cfg := logging.Config{
		LogDir:                logDir,
		Level:                 s.Level,
		Format:                s.Format,
		MaxSizeMB:             s.MaxSizeMB,
		MaxBackups:            s.MaxBackups,
		MaxAgeDays:            s.MaxAgeDays,
		Compress:              s.Compress,
		RingBufferSize:        s.RingBufferMB * 1024 * 1024,
		AggregateIntervalSecs: s.AggregateIntervalSecs,
		Debug:                 debug,
	}
	if debug {
		cfg.Level = "debug"
	}
	if s.Pprof {
		cfg.PprofAddr = "localhost:6061"
	}
	return cfg
}

// GetTheme returns the configured theme, defaulting to "dark".
func GetTheme() string {
	switch t := load().Display.Theme; t {
	case "dark", "light", "system":
		return t
	}
	return "dark"
}

// ResolveTheme turns "system" into "dark" or "light" from the OS setting,
// falling back to dark when detection fails.
func ResolveTheme() string {
	theme := GetTheme()
	if theme != "system" {
		return theme
	}
	isDark, err := dark.IsDarkMode()
	if err != nil || isDark {
		return "dark"
	}
	return "light"
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
