// Package status turns a transcript tail and an optional bridge record into a
// session activity status. Everything here is a pure function of its inputs.
package status

import (
	"strings"
	"time"

	"github.com/ccpanes/ccpanes/internal/bridge"
	"github.com/ccpanes/ccpanes/internal/transcript"
)

// Status is the activity state of one session.
type Status string

const (
	Ready      Status = "ready"
	Processing Status = "processing"
	Idle       Status = "idle"
	Waiting    Status = "waiting"
	Unknown    Status = "unknown"
)

// All lists every status in display order.
var All = []Status{Processing, Waiting, Idle, Ready, Unknown}

// Icon is the glyph shown in tables and tab titles.
func (s Status) Icon() string {
	switch s {
	case Ready:
		return "◇"
	case Processing:
		return "●"
	case Idle:
		return "○"
	case Waiting:
		return "◐"
	}
	return "?"
}

// Label is the capitalized name.
func (s Status) Label() string {
	switch s {
	case Ready:
		return "Ready"
	case Processing:
		return "Processing"
	case Idle:
		return "Idle"
	case Waiting:
		return "Waiting"
	}
	return "Unknown"
}

// Parse maps a status word to a Status. It accepts this package's names and
// the vocabulary hook writers use ("running", "busy", "permission").
func Parse(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ready", "new":
		return Ready, true
	case "processing", "running", "busy", "working":
		return Processing, true
	case "idle", "stopped", "done":
		return Idle, true
	case "waiting", "permission", "needs_input":
		return Waiting, true
	case "unknown":
		return Unknown, true
	}
	return "", false
}

// Reason explains an Unknown result, or is empty.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonBridgeStale          Reason = "bridge_stale"
	ReasonTranscriptUnreadable Reason = "transcript_unreadable"
	ReasonTranscriptPending    Reason = "transcript_pending"
	ReasonTranscriptMalformed  Reason = "transcript_malformed"
	ReasonUnrecognized         Reason = "unrecognized"
)

// Hint is a short human explanation for a reason code.
func (r Reason) Hint() string {
	switch r {
	case ReasonBridgeStale:
		return "bridge record is stale; is the status-line hook still running?"
	case ReasonTranscriptUnreadable:
		return "transcript could not be read"
	case ReasonTranscriptPending:
		return "transcript not written yet; waiting for the first prompt"
	case ReasonTranscriptMalformed:
		return "transcript ends with an unparsable line"
	case ReasonUnrecognized:
		return "last transcript entry is not recognized"
	}
	return ""
}

// Source says which input decided a Result.
type Source string

const (
	SourceTranscript Source = "transcript"
	SourceBridge     Source = "bridge"
)

// Policy constants.
const (
	DefaultWaitingAfter    = 10 * time.Second
	DefaultBridgeFreshness = 300 * time.Second
)

// Policy holds the tunable time thresholds.
type Policy struct {
	// WaitingAfter is how long a tool invocation may stay unanswered before
	// it counts as waiting for a human.
	WaitingAfter time.Duration
	// BridgeFreshness is the maximum age of a usable bridge record.
	BridgeFreshness time.Duration
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{WaitingAfter: DefaultWaitingAfter, BridgeFreshness: DefaultBridgeFreshness}
}

func (p Policy) withDefaults() Policy {
	if p.WaitingAfter <= 0 {
		p.WaitingAfter = DefaultWaitingAfter
	}
	if p.BridgeFreshness <= 0 {
		p.BridgeFreshness = DefaultBridgeFreshness
	}
	return p
}

// Result is one classification.
type Result struct {
	Status Status
	Reason Reason
	Source Source
	// Tools names the tool invocations the session is blocked on, if any.
	Tools []string
	// Since is the timestamp of the entry or record the status came from.
	Since time.Time
}

// BridgeStatus returns the status carried in a fresh record's payload. ok is
// false when the payload is missing or not a status word.
func BridgeStatus(rec *bridge.Record) (Status, bool) {
	if rec == nil || rec.Status == "" {
		return "", false
	}
	st, ok := Parse(rec.Status)
	if !ok || st == Unknown {
		return "", false
	}
	return st, true
}

// Classify applies the rules in priority order: bridge staleness, bridge
// payload, then the transcript tail. A nil rec means no bridge record exists
// for the session's tty.
func Classify(policy Policy, tail transcript.Tail, rec *bridge.Record, now time.Time) Result {
	policy = policy.withDefaults()

	if rec != nil {
		if rec.Age(now) > policy.BridgeFreshness {
			return Result{Status: Unknown, Reason: ReasonBridgeStale, Source: SourceBridge, Since: rec.UpdatedAt}
		}
		if st, ok := BridgeStatus(rec); ok {
			return Result{Status: st, Source: SourceBridge, Tools: rec.Tools, Since: rec.UpdatedAt}
		}
	}
	return FromTail(policy, tail, now)
}

// FromTail classifies from the transcript alone.
func FromTail(policy Policy, tail transcript.Tail, now time.Time) Result {
	policy = policy.withDefaults()
	res := Result{Source: SourceTranscript}

	switch {
	case tail.Malformed:
		res.Status, res.Reason = Unknown, ReasonTranscriptMalformed
		return res
	case tail.Missing():
		res.Status, res.Reason = Unknown, ReasonTranscriptPending
		return res
	case tail.Err != nil:
		res.Status, res.Reason = Unknown, ReasonTranscriptUnreadable
		return res
	}

	last, ok := lastMeaningful(tail.Entries)
	if !ok {
		res.Status = Ready
		return res
	}
	res.Since = last.Timestamp

	switch last.Kind {
	case transcript.KindToolUse:
		if last.PendingApproval && !last.Timestamp.IsZero() && now.Sub(last.Timestamp) > policy.WaitingAfter {
			res.Status = Waiting
			res.Tools = last.Tools
		} else {
			res.Status = Processing
		}
	case transcript.KindProgress, transcript.KindToolResult, transcript.KindUser:
		res.Status = Processing
	case transcript.KindAssistant, transcript.KindTurnEnd, transcript.KindTurnDuration, transcript.KindSummary:
		res.Status = Idle
	default:
		res.Status, res.Reason = Unknown, ReasonUnrecognized
	}
	return res
}

func lastMeaningful(entries []transcript.Entry) (transcript.Entry, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Kind != transcript.KindInternal {
			return entries[i], true
		}
	}
	return transcript.Entry{}, false
}

// Counts tallies statuses.
func Counts(statuses []Status) map[Status]int {
	out := make(map[Status]int, len(All))
	for _, s := range statuses {
		out[s]++
	}
	return out
}
