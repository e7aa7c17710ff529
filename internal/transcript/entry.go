package transcript

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// Kind is what a transcript line means for activity classification.
type Kind string

const (
	KindUser         Kind = "user"
	KindAssistant    Kind = "assistant" // a response with no tool call
	KindToolUse      Kind = "tool_use"
	KindToolResult   Kind = "tool_result"
	KindProgress     Kind = "progress"
	KindTurnEnd      Kind = "turn_end" // stop hook summary
	KindTurnDuration Kind = "turn_duration"
	KindSummary      Kind = "summary"
	KindInternal     Kind = "internal" // bookkeeping that says nothing about activity
	KindUnknown      Kind = "unknown"
)

// Entry is one parsed transcript line.
type Entry struct {
	Kind      Kind
	Type      string
	Subtype   string
	Timestamp time.Time
	// PendingApproval is set on tool invocations with no later tool result
	// in the tail.
	PendingApproval bool
	Tools           []string
	StopReason      string
	// Text holds user or assistant prose with system reminders removed.
	Text string
	Meta bool
}

type rawEntry struct {
	Type      string      `json:"type"`
	Subtype   string      `json:"subtype"`
	Timestamp string      `json:"timestamp"`
	IsMeta    bool        `json:"isMeta"`
	Message   *rawMessage `json:"message"`
	Data      *struct {
		Type string `json:"type"`
	} `json:"data"`
}

type rawMessage struct {
	StopReason *string         `json:"stop_reason"`
	Content    json.RawMessage `json:"content"`
}

type rawBlock struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Text string `json:"text"`
}

var systemReminderRe = regexp.MustCompile(`(?s)<system-reminder>.*?</system-reminder>`)

// StripSystemReminders removes injected <system-reminder> blocks.
func StripSystemReminders(s string) string {
	return strings.TrimSpace(systemReminderRe.ReplaceAllString(s, ""))
}

// ParseLine decodes one JSONL line. It fails only on invalid JSON; a valid
// object of an unrecognized shape is KindUnknown.
func ParseLine(line []byte) (Entry, error) {
	var raw rawEntry
	if err := json.Unmarshal(line, &raw); err != nil {
		return Entry{}, err
	}
	e := Entry{Type: raw.Type, Subtype: raw.Subtype, Meta: raw.IsMeta}
	if raw.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp); err == nil {
			e.Timestamp = ts
		}
	}

	var blocks []rawBlock
	var text string
	if raw.Message != nil {
		if raw.Message.StopReason != nil {
			e.StopReason = *raw.Message.StopReason
		}
		blocks, text = decodeContent(raw.Message.Content)
	}

	switch raw.Type {
	case "user":
		e.Kind = KindUser
		if len(blocks) > 0 && allBlocks(blocks, "tool_result") {
			e.Kind = KindToolResult
			break
		}
		e.Text = StripSystemReminders(joinText(text, blocks))
	case "assistant":
		for _, b := range blocks {
			if b.Type == "tool_use" && b.Name != "" {
				e.Tools = append(e.Tools, b.Name)
			}
		}
		if e.StopReason == "tool_use" || hasBlock(blocks, "tool_use") {
			e.Kind = KindToolUse
		} else {
			e.Kind = KindAssistant
		}
		e.Text = StripSystemReminders(joinText(text, blocks))
	case "progress":
		e.Kind = KindProgress
		if raw.Data != nil && raw.Data.Type == "hook_progress" {
			e.Kind = KindInternal
		}
	case "system":
		switch raw.Subtype {
		case "stop_hook_summary":
			e.Kind = KindTurnEnd
		case "turn_duration":
			e.Kind = KindTurnDuration
		default:
			e.Kind = KindInternal
		}
	case "summary":
		e.Kind = KindSummary
	case "file-history-snapshot", "queue-operation":
		e.Kind = KindInternal
	default:
		e.Kind = KindUnknown
	}
	return e, nil
}

func decodeContent(raw json.RawMessage) ([]rawBlock, string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ""
	}
	switch raw[0] {
	case '"':
		var s string
		_ = json.Unmarshal(raw, &s)
		return nil, s
	case '[':
		var blocks []rawBlock
		_ = json.Unmarshal(raw, &blocks)
		return blocks, ""
	}
	return nil, ""
}

func hasBlock(blocks []rawBlock, typ string) bool {
	for _, b := range blocks {
		if b.Type == typ {
			return true
		}
	}
	return false
}

func allBlocks(blocks []rawBlock, typ string) bool {
	for _, b := range blocks {
		if b.Type != typ {
			return false
		}
	}
	return true
}

func joinText(text string, blocks []rawBlock) string {
	if text != "" {
		return text
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
