package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/ccpanes/ccpanes/internal/refresh"
	"github.com/ccpanes/ccpanes/internal/render"
)

func handleJump(args []string) {
	fs := flag.NewFlagSet("jump", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	all := fs.Bool("all-workspaces", false, "Search panes in every workspace")
	fs.Usage = func() {
		fmt.Println("Usage: ccpanes jump [options] <query>")
		fmt.Println()
		fmt.Println("Fuzzy-matches the query against pane id, title, cwd, workspace and")
		fmt.Println("branch, then focuses the best match.")
		fmt.Println()
		fs.PrintDefaults()
	}
	_ = fs.Parse(normalizeArgs(fs, args))

	out := NewCLIOutput(*jsonOut)
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fs.Usage()
		out.Fail("query is required", ErrCodeInvalidArgument)
	}

	engine, m := newEngine(engineOptions{allWorkspaces: *all})
	snap, err := refreshOnce(engine)
	if err != nil {
		out.Fail(err.Error(), errorCode(err))
	}

	target, ok := pickSession(query, snap.Sessions)
	if !ok {
		out.Fail(fmt.Sprintf("no session matches %q", query), ErrCodeNotFound)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Activate(ctx, target.Pane()); err != nil {
		out.Fail(err.Error(), ErrCodeMuxFailed)
	}
	out.Success(fmt.Sprintf("%s pane %d  %s", target.Status.Icon(), target.PaneID, render.Truncate(target.Cwd, 60)), map[string]any{
		"success": true,
		"pane_id": target.PaneID,
		"cwd":     target.Cwd,
		"status":  target.Status,
	})
}

// sessionSource adapts sessions to fuzzy.Source.
type sessionSource []refresh.Session

func (s sessionSource) Len() int { return len(s) }

func (s sessionSource) String(i int) string {
	x := s[i]
	return strings.Join([]string{strconv.Itoa(x.PaneID), x.Title, x.Cwd, x.Workspace, x.Branch}, " ")
}

// pickSession returns the session whose pane id equals query, otherwise the
// best fuzzy match. Ties keep snapshot order.
func pickSession(query string, sessions []refresh.Session) (refresh.Session, bool) {
	if id, err := strconv.Atoi(query); err == nil {
		for _, s := range sessions {
			if s.PaneID == id {
				return s, true
			}
		}
	}
	matches := fuzzy.FindFrom(query, sessionSource(sessions))
	if len(matches) == 0 {
		return refresh.Session{}, false
	}
	return sessions[matches[0].Index], true
}
