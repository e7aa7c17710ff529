package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if body != "" {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	t.Setenv("CCPANES_CONFIG", path)
	ClearCache()
	t.Cleanup(ClearCache)
	return path
}

func TestDefaultsWithoutFile(t *testing.T) {
	useConfig(t, "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "auto", GetMultiplexer())
	assert.Equal(t, []string{"claude"}, GetSpawnCommand())
	assert.Equal(t, []string{"claude", "anthropic"}, GetDetectSettings().AllowList)
	assert.Equal(t, "auto", GetDetectSettings().ProcessSource)

	st := GetStatusSettings()
	assert.Equal(t, 10*time.Second, st.Policy().WaitingAfter)
	assert.Equal(t, 300*time.Second, st.Policy().BridgeFreshness)
	assert.Equal(t, 64, st.TailEntries)

	rs := GetRefreshSettings()
	assert.Equal(t, 2*time.Second, rs.Timeout())
	assert.Equal(t, 100*time.Millisecond, rs.Debounce())
	assert.Equal(t, 3*time.Second, rs.PollInterval())
	assert.Equal(t, 8, rs.Workers)

	ds := GetDaemonSettings()
	assert.True(t, ds.GetSetTitles())
	assert.Equal(t, 5.0, ds.TitleRatePerSec)
	assert.Equal(t, "state.db", filepath.Base(ds.StateDB))

	assert.Equal(t, "dark", GetTheme())
	assert.Equal(t, 30*time.Second, GetGitSettings().BranchTTL())
}

func TestFileOverrides(t *testing.T) {
	useConfig(t, `
multiplexer = "tmux"
spawn_command = ["claude", "--resume"]
all_workspaces = true

[detect]
allow_list = ["claude-dev"]
process_source = "ps"

[status]
waiting_after_secs = 30

[refresh]
workers = 2

[daemon]
set_titles = false
listen = "127.0.0.1:7433"

[display]
theme = "light"
`)
	assert.Equal(t, "tmux", GetMultiplexer())
	assert.Equal(t, []string{"claude", "--resume"}, GetSpawnCommand())
	assert.True(t, GetAllWorkspaces())
	assert.Equal(t, []string{"claude-dev"}, GetDetectSettings().AllowList)
	assert.Equal(t, "ps", GetDetectSettings().ProcessSource)
	assert.Equal(t, 30*time.Second, GetStatusSettings().Policy().WaitingAfter)
	assert.Equal(t, 300*time.Second, GetStatusSettings().Policy().BridgeFreshness)
	assert.Equal(t, 2, GetRefreshSettings().Workers)
	assert.False(t, GetDaemonSettings().GetSetTitles())
	assert.Equal(t, "127.0.0.1:7433", GetDaemonSettings().Listen)
	assert.Equal(t, "light", ResolveTheme())
}

func TestParseErrorFallsBackToDefaults(t *testing.T) {
	useConfig(t, "multiplexer = [")

	cfg, err := Load()
	assert.Error(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "auto", GetMultiplexer())
}

func TestReloadPicksUpChanges(t *testing.T) {
	path := useConfig(t, `multiplexer = "tmux"`)
	assert.Equal(t, "tmux", GetMultiplexer())

	require.NoError(t, os.WriteFile(path, []byte(`multiplexer = "wezterm"`), 0o644))
	assert.Equal(t, "tmux", GetMultiplexer())

	_, err := Reload()
	require.NoError(t, err)
	assert.Equal(t, "wezterm", GetMultiplexer())
}

func TestHomeExpansion(t *testing.T) {
	useConfig(t, `
[bridge]
dir = "~/bridge"
`)
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "bridge"), GetBridgeSettings().Dir)
}

func TestLoggingConfig(t *testing.T) {
	useConfig(t, `
[logs]
level = "warn"
pprof = true
`)
	lc := GetLogSettings().LoggingConfig("/tmp/logs", false)
	assert.Equal(t, "warn", lc.Level)
	assert.Equal(t, "localhost:6061", lc.PprofAddr)
	assert.Equal(t, 2*1024*1024, lc.RingBufferSize)

	assert.Equal(t, "debug", GetLogSettings().LoggingConfig("", true).Level)
}

func TestCreateExample(t *testing.T) {
	path := useConfig(t, "")

	got, wrote, err := CreateExample()
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Equal(t, path, got)

	var cfg Config
	_, err = toml.DecodeFile(path, &cfg)
	require.NoError(t, err, "example config must parse")

	_, wrote, err = CreateExample()
	require.NoError(t, err)
	assert.False(t, wrote)
}
