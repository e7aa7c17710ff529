package procs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const psFixture = `    1     0 ?        systemd         /sbin/init splash
  812     1 pts/0    zsh             -zsh
  990   812 pts/0    claude          claude --resume
 1201     1 ??       launchd-helper  /usr/libexec/helper
garbage line
`

func TestParsePS(t *testing.T) {
	recs, skipped := ParsePS([]byte(psFixture))
	assert.Equal(t, 1, skipped)
	require.Len(t, recs, 4)

	assert.Equal(t, Record{PID: 1, PPID: 0, Command: "systemd", Args: []string{"/sbin/init", "splash"}}, recs[0])
	assert.Equal(t, "pts/0", recs[2].TTY)
	assert.Equal(t, "claude", recs[2].Command)
	assert.Equal(t, []string{"claude", "--resume"}, recs[2].Args)
	assert.Empty(t, recs[3].TTY)
}

const psHeaderFixture = `  PID  PPID TTY      UCOMM___________ ARGS
    1     0 ?        systemd          /sbin/init splash
  740     1 ?        tmux: server     tmux new -s work
  990   812 pts/0    claude           claude --resume
  991   990 pts/0    node
`

func TestParsePSNameWithSpaces(t *testing.T) {
	recs, skipped := ParsePS([]byte(psHeaderFixture))
	assert.Zero(t, skipped)
	require.Len(t, recs, 4)

	assert.Equal(t, Record{PID: 740, PPID: 1, Command: "tmux: server", Args: []string{"tmux", "new", "-s", "work"}}, recs[1])
	assert.Equal(t, "tmux new -s work", recs[1].CommandLine())
	assert.Equal(t, "claude", recs[2].Command)
	assert.Equal(t, []string{"claude", "--resume"}, recs[2].Args)
	assert.Equal(t, "pts/0", recs[2].TTY)
	assert.Equal(t, "node", recs[3].Command)
	assert.Empty(t, recs[3].Args)
}

func TestPSListProcesses(t *testing.T) {
	var gotName string
	var gotArgs []string
	ps := &PS{Run: func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		return []byte("  5  1 pts/1 claude claude\n"), nil
	}}

	recs, err := ps.ListProcesses(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "ps", gotName)
	assert.Equal(t, psArgs, gotArgs)
}

func TestPSPartialOutputIsIncomplete(t *testing.T) {
	ps := &PS{Run: func(context.Context, string, ...string) ([]byte, error) {
		return []byte("  5  1 pts/1 claude claude\n"), errors.New("exit status 1")
	}}
	recs, err := ps.ListProcesses(context.Background())
	assert.ErrorIs(t, err, ErrScanIncomplete)
	assert.Len(t, recs, 1)
}

func TestPSFailureWithoutOutput(t *testing.T) {
	boom := errors.New("ps: not found")
	ps := &PS{Run: func(context.Context, string, ...string) ([]byte, error) { return nil, boom }}
	recs, err := ps.ListProcesses(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrScanIncomplete)
	assert.Nil(t, recs)
}

func TestPSRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ps := &PS{Run: func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
		return []byte("  5  1 pts/1 claude claude\n"), ctx.Err()
	}}
	_, err := ps.ListProcesses(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
