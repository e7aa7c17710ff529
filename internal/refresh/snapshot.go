package refresh

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/ccpanes/ccpanes/internal/detect"
	"github.com/ccpanes/ccpanes/internal/mux"
	"github.com/ccpanes/ccpanes/internal/status"
)

// Session is a detected candidate joined with its pane metadata and its
// classification for one pass.
type Session struct {
	detect.Candidate

	TabID     int    `json:"tab_id"`
	WindowID  int    `json:"window_id"`
	Workspace string `json:"workspace"`
	Title     string `json:"title"`
	Focused   bool   `json:"focused"`

	SessionID      string `json:"session_id,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	BridgePath     string `json:"-"`
	HasBridge      bool   `json:"has_bridge"`

	Status status.Status `json:"status"`
	Reason status.Reason `json:"reason,omitempty"`
	Source status.Source `json:"source"`
	Tools  []string      `json:"tools,omitempty"`
	Since  time.Time     `json:"since,omitempty"`
	Branch string        `json:"branch,omitempty"`

	LastPrompt string `json:"last_prompt,omitempty"`
	LastOutput string `json:"last_output,omitempty"`

	pane mux.Pane
}

// Pane returns the multiplexer pane this session was detected in.
func (s Session) Pane() mux.Pane { return s.pane }

// Snapshot is the result of one successful pass. It is never modified after
// it is published; a later pass replaces it whole.
type Snapshot struct {
	Pass     uint64    `json:"pass"`
	At       time.Time `json:"at"`
	Sessions []Session `json:"sessions"`
	// Workspace is the filter applied, empty when all workspaces are listed.
	Workspace string `json:"workspace,omitempty"`
	// Incomplete is set when the process scan was partial.
	Incomplete bool `json:"incomplete,omitempty"`
	// Took is the pass's wall time.
	Took time.Duration `json:"-"`

	panes []mux.Pane
}

// Find returns the session for paneID.
func (s *Snapshot) Find(paneID int) (Session, bool) {
	if s == nil {
		return Session{}, false
	}
	i := sort.Search(len(s.Sessions), func(i int) bool { return s.Sessions[i].PaneID >= paneID })
	if i < len(s.Sessions) && s.Sessions[i].PaneID == paneID {
		return s.Sessions[i], true
	}
	return Session{}, false
}

// Panes is the full pane listing the snapshot was built from, including
// panes with no session.
func (s *Snapshot) Panes() []mux.Pane {
	if s == nil {
		return nil
	}
	return s.panes
}

// Counts tallies sessions by status.
func (s *Snapshot) Counts() map[status.Status]int {
	if s == nil {
		return status.Counts(nil)
	}
	statuses := make([]status.Status, len(s.Sessions))
	for i, sess := range s.Sessions {
		statuses[i] = sess.Status
	}
	return status.Counts(statuses)
}

// Transition is one pane whose status differs between two snapshots. From is
// empty for a session that appeared and To is empty for one that ended.
type Transition struct {
	PaneID  int           `json:"pane_id"`
	From    status.Status `json:"from"`
	To      status.Status `json:"to"`
	Session Session       `json:"session"`
}

// Ended reports whether the session disappeared.
func (t Transition) Ended() bool { return t.To == "" }

// Diff lists the transitions from prev to next, ordered by pane id. A nil
// prev treats every session in next as new.
func Diff(prev, next *Snapshot) []Transition {
	var out []Transition
	seen := make(map[int]bool)
	if next != nil {
		for _, s := range next.Sessions {
			seen[s.PaneID] = true
			old, ok := prev.Find(s.PaneID)
			switch {
			case !ok:
				out = append(out, Transition{PaneID: s.PaneID, To: s.Status, Session: s})
			case old.Status != s.Status:
				out = append(out, Transition{PaneID: s.PaneID, From: old.Status, To: s.Status, Session: s})
			}
		}
	}
	if prev != nil {
		for _, s := range prev.Sessions {
			if !seen[s.PaneID] {
				out = append(out, Transition{PaneID: s.PaneID, From: s.Status, Session: s})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PaneID < out[j].PaneID })
	return out
}

// SameContent reports whether a and b look the same to an API client: equal
// sessions as serialized, workspace and completeness. Pass and At are ignored.
func SameContent(a, b *Snapshot) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Workspace != b.Workspace || a.Incomplete != b.Incomplete || len(a.Sessions) != len(b.Sessions) {
		return false
	}
	ja, errA := json.Marshal(a.Sessions)
	jb, errB := json.Marshal(b.Sessions)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}
