package transcript

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func TestEncodeCwd(t *testing.T) {
	cases := map[string]string{
		"/Users/me/hobby/panes":    "-Users-me-hobby-panes",
		"/Users/me/.claude":        "-Users-me--claude",
		"/Users/test/project.name": "-Users-test-project-name",
		"/srv/rcmr_stadium":        "-srv-rcmr-stadium",
	}
	for in, want := range cases {
		assert.Equal(t, want, EncodeCwd(in), in)
	}
}

func TestClaudeHomeHonorsEnv(t *testing.T) {
	t.Setenv("CLAUDE_CONFIG_DIR", "/opt/claude-home")
	assert.Equal(t, "/opt/claude-home", ClaudeHome())
	assert.Equal(t, "/opt/claude-home/projects", ProjectsRoot(ClaudeHome()))
}

func TestResolveWithSessionID(t *testing.T) {
	p, err := Resolve("/root/projects", "/home/me/app", "abc-123")
	require.NoError(t, err)
	assert.Equal(t, "/root/projects/-home-me-app/abc-123.jsonl", p)
}

func TestResolveFallsBackToLatest(t *testing.T) {
	root := t.TempDir()
	dir := ProjectDir(root, "/home/me/app")
	old := filepath.Join(dir, "old.jsonl")
	recent := filepath.Join(dir, "new.jsonl")
	writeLines(t, old, `{"type":"user"}`)
	writeLines(t, recent, `{"type":"user"}`)
	writeLines(t, filepath.Join(dir, "notes.txt"), "x")
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	p, err := Resolve(root, "/home/me/app", "")
	require.NoError(t, err)
	assert.Equal(t, recent, p)
}

func TestResolveNoTranscript(t *testing.T) {
	root := t.TempDir()
	_, err := Resolve(root, "/nowhere", "")
	assert.ErrorIs(t, err, ErrNoTranscript)

	require.NoError(t, os.MkdirAll(ProjectDir(root, "/empty"), 0o755))
	_, err = Resolve(root, "/empty", "")
	assert.ErrorIs(t, err, ErrNoTranscript)
}

func TestParseLineKinds(t *testing.T) {
	cases := []struct {
		name string
		line string
		kind Kind
	}{
		{"user prompt", `{"type":"user","message":{"content":"fix the bug"}}`, KindUser},
		{"tool result", `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"x"}]}}`, KindToolResult},
		{"end turn", `{"type":"assistant","message":{"stop_reason":"end_turn","content":[{"type":"text","text":"done"}]}}`, KindAssistant},
		{"text no stop", `{"type":"assistant","message":{"stop_reason":null,"content":[{"type":"text","text":"hm"}]}}`, KindAssistant},
		{"tool use by stop reason", `{"type":"assistant","message":{"stop_reason":"tool_use","content":[]}}`, KindToolUse},
		{"tool use by block", `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash"}]}}`, KindToolUse},
		{"progress", `{"type":"progress","data":{"type":"bash_progress"}}`, KindProgress},
		{"hook progress", `{"type":"progress","data":{"type":"hook_progress"}}`, KindInternal},
		{"stop hook summary", `{"type":"system","subtype":"stop_hook_summary"}`, KindTurnEnd},
		{"turn duration", `{"type":"system","subtype":"turn_duration"}`, KindTurnDuration},
		{"other system", `{"type":"system","subtype":"compact_boundary"}`, KindInternal},
		{"summary", `{"type":"summary","summary":"Refactor"}`, KindSummary},
		{"snapshot", `{"type":"file-history-snapshot"}`, KindInternal},
		{"queue", `{"type":"queue-operation"}`, KindInternal},
		{"unrecognized", `{"type":"something-new"}`, KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := ParseLine([]byte(tc.line))
			require.NoError(t, err)
			assert.Equal(t, tc.kind, e.Kind)
		})
	}
}

func TestParseLineFields(t *testing.T) {
	e, err := ParseLine([]byte(`{"type":"assistant","timestamp":"2026-10-19T10:00:00.250Z",
		"message":{"stop_reason":"tool_use","content":[{"type":"text","text":"Running tests"},
		{"type":"tool_use","name":"Bash"},{"type":"tool_use","name":"Edit"}]}}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 10, 0, 0, 250e6, time.UTC), e.Timestamp.UTC())
	assert.Equal(t, []string{"Bash", "Edit"}, e.Tools)
	assert.Equal(t, "tool_use", e.StopReason)
	assert.Equal(t, "Running tests", e.Text)

	_, err = ParseLine([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestStripSystemReminders(t *testing.T) {
	in := "<system-reminder>\nctx\n</system-reminder>fix it<system-reminder>more</system-reminder>"
	assert.Equal(t, "fix it", StripSystemReminders(in))
}

func TestReadTailKeepsLastN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeLines(t, path,
		`{"type":"user","message":{"content":"one"}}`,
		`{"type":"user","message":{"content":"two"}}`,
		``,
		`{"type":"user","message":{"content":"three"}}`,
	)
	tail := ReadTail(path, 2)
	require.NoError(t, tail.Err)
	require.Len(t, tail.Entries, 2)
	assert.Equal(t, "two", tail.Entries[0].Text)
	last, ok := tail.Last()
	require.True(t, ok)
	assert.Equal(t, "three", last.Text)
}

func TestReadTailMissingFile(t *testing.T) {
	tail := ReadTail(filepath.Join(t.TempDir(), "nope.jsonl"), 10)
	assert.True(t, tail.Missing())
	assert.Empty(t, tail.Entries)
}

func TestReadTailMalformedTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeLines(t, path,
		`{"type":"user","message":{"content":"ok"}}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_u`,
	)
	tail := ReadTail(path, 10)
	assert.True(t, tail.Malformed)
	assert.ErrorIs(t, tail.Err, ErrMalformed)
	assert.Empty(t, tail.Entries)
}

func TestReadTailSkipsMalformedMiddleLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeLines(t, path,
		`{"type":"user","message":{"content":"ok"}}`,
		`garbage`,
		`{"type":"summary"}`,
	)
	tail := ReadTail(path, 10)
	assert.False(t, tail.Malformed)
	assert.NoError(t, tail.Err)
	assert.Len(t, tail.Entries, 2)
}

func TestReadTailLargeFileSeeks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.jsonl")
	pad := strings.Repeat("x", 4096)
	var lines []string
	for i := 0; i < 400; i++ {
		lines = append(lines, `{"type":"user","message":{"content":"`+pad+`"}}`)
	}
	lines = append(lines, `{"type":"summary"}`)
	writeLines(t, path, lines...)

	tail := ReadTail(path, 3)
	require.NoError(t, tail.Err)
	require.Len(t, tail.Entries, 3)
	last, _ := tail.Last()
	assert.Equal(t, KindSummary, last.Kind)
}

func hugeToolResult(size int) string {
	return `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"x","content":"` +
		strings.Repeat("a", size) + `"}]}}`
}

func TestReadTailFinalLineLongerThanWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeLines(t, path,
		`{"type":"user","message":{"content":"paste this"}}`,
		hugeToolResult(3<<20),
	)

	tail := ReadTail(path, 2)
	require.NoError(t, tail.Err)
	assert.False(t, tail.Malformed)
	require.Len(t, tail.Entries, 2)
	assert.Equal(t, "paste this", tail.Entries[0].Text)
	last, _ := tail.Last()
	assert.Equal(t, KindToolResult, last.Kind)
}

func TestReadTailFinalLineTooLong(t *testing.T) {
	prev := maxLineSize
	maxLineSize = 512 << 10
	t.Cleanup(func() { maxLineSize = prev })

	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeLines(t, path,
		`{"type":"user","message":{"content":"paste this"}}`,
		hugeToolResult(3<<19),
	)

	tail := ReadTail(path, 1)
	assert.ErrorIs(t, tail.Err, bufio.ErrTooLong)
	assert.Empty(t, tail.Entries)
}

func TestPendingApproval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeLines(t, path,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Read"}]}}`,
		`{"type":"user","message":{"content":[{"type":"tool_result"}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash"}]}}`,
	)
	tail := ReadTail(path, 10)
	require.Len(t, tail.Entries, 3)
	assert.False(t, tail.Entries[0].PendingApproval)
	assert.True(t, tail.Entries[2].PendingApproval)
}

func TestLastPromptAndOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	writeLines(t, path,
		`{"type":"user","message":{"content":[{"type":"text","text":"add a test"}]}}`,
		`{"type":"assistant","message":{"stop_reason":"tool_use","content":[{"type":"text","text":"Looking"},{"type":"tool_use","name":"Read"}]}}`,
		`{"type":"user","message":{"content":[{"type":"tool_result"}]}}`,
		`{"type":"user","isMeta":true,"message":{"content":"caveat"}}`,
		`{"type":"user","message":{"content":"<system-reminder>x</system-reminder>"}}`,
		`{"type":"assistant","message":{"stop_reason":"end_turn","content":[{"type":"text","text":"Added."}]}}`,
	)
	tail := ReadTail(path, 50)
	assert.Equal(t, "add a test", LastPrompt(tail.Entries))
	assert.Equal(t, "Added.", LastOutput(tail.Entries))
	assert.Equal(t, "", LastPrompt(nil))
}
