package logging

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec), sc.Text())
		out = append(out, rec)
	}
	return out
}

func TestInitWritesJSONToLogDir(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "debug"})
	defer Shutdown()

	Logger().Info("pass_done", slog.Int("sessions", 3))

	recs := readRecords(t, filepath.Join(dir, LogFileName))
	require.Len(t, recs, 1)
	assert.Equal(t, "pass_done", recs[0]["msg"])
	assert.EqualValues(t, 3, recs[0]["sessions"])
}

func TestLoggerBeforeInitDiscards(t *testing.T) {
	Shutdown()
	assert.NotPanics(t, func() {
		Logger().Info("nowhere")
		ForComponent(CompDetect).Warn("nowhere")
	})
}

func TestForComponentCreatedBeforeInit(t *testing.T) {
	Shutdown()
	l := ForComponent(CompWatch).With(slog.String("path", "/tmp/x.jsonl"))

	dir := t.TempDir()
	Init(Config{LogDir: dir})
	defer Shutdown()

	l.Info("fs_event")

	recs := readRecords(t, filepath.Join(dir, LogFileName))
	require.Len(t, recs, 1)
	assert.Equal(t, CompWatch, recs[0]["component"])
	assert.Equal(t, "/tmp/x.jsonl", recs[0]["path"])
}

func TestLevelFilter(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "warn"})
	defer Shutdown()

	ForComponent(CompRefresh).Info("dropped")
	ForComponent(CompRefresh).Warn("kept")

	recs := readRecords(t, filepath.Join(dir, LogFileName))
	require.Len(t, recs, 1)
	assert.Equal(t, "kept", recs[0]["msg"])
}

func TestDumpRingBuffer(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir})
	defer Shutdown()

	ForComponent(CompDaemon).Info("before_crash")

	dump := filepath.Join(dir, "dump.jsonl")
	require.NoError(t, DumpRingBuffer(dump))
	data, err := os.ReadFile(dump)
	require.NoError(t, err)
	assert.Contains(t, string(data), "before_crash")
}

func TestLegacyWriterParsesComponentTag(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir})
	defer Shutdown()

	w := NewLegacyWriter(CompCLI)
	_, err := w.Write([]byte("2026/10/19 12:00:00 [MUX] pane list slow\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("plain line\n"))
	require.NoError(t, err)

	recs := readRecords(t, filepath.Join(dir, LogFileName))
	require.Len(t, recs, 2)
	assert.Equal(t, "pane list slow", recs[0]["msg"])
	assert.Equal(t, "mux", recs[0]["component"])
	assert.Equal(t, CompCLI, recs[1]["component"])
}

func TestTrimStdTimestamp(t *testing.T) {
	cases := map[string]string{
		"2026/10/19 12:00:00 hello":        "hello",
		"2026/10/19 12:00:00.123456 hello": "hello",
		"12:00:00 hello":                   "hello",
		"hello":                            "hello",
	}
	for in, want := range cases {
		assert.Equal(t, want, trimStdTimestamp(in), in)
	}
	assert.False(t, strings.HasPrefix(trimStdTimestamp("2026/10/19 12:00:00 x"), " "))
}
