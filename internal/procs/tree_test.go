package procs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureTree() *Tree {
	return Build([]Record{
		{PID: 1, PPID: 0, Command: "launchd"},
		{PID: 100, PPID: 1, TTY: "/dev/pts/3", Command: "zsh"},
		{PID: 200, PPID: 100, TTY: "pts/3", Command: "bash", Args: []string{"bash", "./run-claude.sh"}},
		{PID: 300, PPID: 200, TTY: "pts/3", Command: "node", Args: []string{"node", "/usr/lib/claude/cli.js"}},
		{PID: 400, PPID: 1, TTY: "?", Command: "sshd"},
	})
}

func TestNormalizeTTY(t *testing.T) {
	cases := map[string]string{
		"/dev/pts/3": "pts/3",
		"ttys004":    "ttys004",
		"?":          "",
		"??":         "",
		"-":          "",
		"  ":         "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeTTY(in), in)
	}
}

func TestTreeIndexesByTTY(t *testing.T) {
	tree := fixtureTree()
	assert.Equal(t, 5, tree.Len())

	onTTY := tree.OnTTY("/dev/pts/3")
	require.Len(t, onTTY, 3)
	assert.Equal(t, []int{100, 200, 300}, []int{onTTY[0].PID, onTTY[1].PID, onTTY[2].PID})
	assert.Empty(t, tree.OnTTY("pts/9"))
	assert.Equal(t, []string{"pts/3"}, tree.TTYs())
}

func TestTreeAncestorsAndDepth(t *testing.T) {
	tree := fixtureTree()

	anc := tree.Ancestors(300)
	require.Len(t, anc, 3)
	assert.Equal(t, 200, anc[0].PID)
	assert.Equal(t, 1, anc[2].PID)

	assert.Equal(t, 3, tree.Depth(300))
	assert.Equal(t, 0, tree.Depth(1))
	assert.Equal(t, 0, tree.Depth(999))
}

func TestTreeAncestorsSurviveCycles(t *testing.T) {
	tree := Build([]Record{
		{PID: 10, PPID: 20},
		{PID: 20, PPID: 30},
		{PID: 30, PPID: 10},
		{PID: 40, PPID: 40},
	})
	assert.Len(t, tree.Ancestors(10), 2)
	assert.Empty(t, tree.Ancestors(40))
}

func TestTreeAncestorsBoundedByMaxDepth(t *testing.T) {
	var recs []Record
	for pid := 1; pid <= MaxDepth+10; pid++ {
		recs = append(recs, Record{PID: pid, PPID: pid + 1})
	}
	tree := Build(recs)
	assert.Len(t, tree.Ancestors(1), MaxDepth)
}

func TestRecordCommandLine(t *testing.T) {
	assert.Equal(t, "node cli.js", Record{Command: "node", Args: []string{"node", "cli.js"}}.CommandLine())
	assert.Equal(t, "zsh", Record{Command: "zsh"}.CommandLine())
}
