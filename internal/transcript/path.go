// Package transcript locates and parses the append-only JSONL session logs
// the assistant writes under <claude home>/projects.
package transcript

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoTranscript means the project has no transcript yet: the directory is
// missing or holds no .jsonl file. A freshly started session looks like this.
var ErrNoTranscript = errors.New("no transcript")

var cwdReplacer = strings.NewReplacer("/", "-", ".", "-", "_", "-")

// EncodeCwd maps a working directory to its project directory name.
// "/Users/me/my_app.v2" becomes "-Users-me-my-app-v2".
func EncodeCwd(cwd string) string {
	return cwdReplacer.Replace(cwd)
}

// ClaudeHome returns CLAUDE_CONFIG_DIR, or ~/.claude.
func ClaudeHome() string {
	if dir := os.Getenv("CLAUDE_CONFIG_DIR"); dir != "" {
		if strings.HasPrefix(dir, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				return filepath.Join(home, dir[2:])
			}
		}
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claude"
	}
	return filepath.Join(home, ".claude")
}

// ProjectsRoot is where per-project transcript directories live.
func ProjectsRoot(claudeHome string) string {
	return filepath.Join(claudeHome, "projects")
}

// ProjectDir is the transcript directory for cwd under root.
func ProjectDir(root, cwd string) string {
	return filepath.Join(root, EncodeCwd(cwd))
}

// Resolve returns the transcript path for a session. With a session id the
// path is deterministic and is returned whether or not it exists yet.
// Without one, the most recently modified transcript in the project wins;
// ErrNoTranscript is returned when there is none.
func Resolve(root, cwd, sessionID string) (string, error) {
	dir := ProjectDir(root, cwd)
	if sessionID != "" {
		return filepath.Join(dir, sessionID+".jsonl"), nil
	}
	return Latest(dir)
}

// Latest returns the .jsonl file in dir with the newest modification time.
func Latest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoTranscript
	}
	if err != nil {
		return "", err
	}
	var best string
	var bestMod int64
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); best == "" || mod > bestMod {
			best, bestMod = e.Name(), mod
		}
	}
	if best == "" {
		return "", ErrNoTranscript
	}
	return filepath.Join(dir, best), nil
}
