package logging

import (
	"bytes"
	"log"
	"log/slog"
	"strings"
)

// LegacyWriter lets code that still writes through the standard log package
// (and libraries that do) land in the structured log. A leading
// "[component] " tag becomes the component attr.
type LegacyWriter struct {
	fallback string
}

// NewLegacyWriter returns a writer tagging untagged lines with fallback.
func NewLegacyWriter(fallback string) *LegacyWriter {
	return &LegacyWriter{fallback: fallback}
}

// RedirectStdLog points log.Default at a LegacyWriter.
func RedirectStdLog(fallback string) {
	log.SetFlags(0)
	log.SetOutput(NewLegacyWriter(fallback))
}

func (w *LegacyWriter) Write(p []byte) (int, error) {
	line := strings.TrimSpace(string(bytes.TrimRight(p, "\n")))
	if line == "" {
		return len(p), nil
	}
	line = trimStdTimestamp(line)

	comp := w.fallback
	if strings.HasPrefix(line, "[") {
		if end := strings.Index(line, "] "); end > 1 {
			comp = strings.ToLower(line[1:end])
			line = line[end+2:]
		}
	}
	Logger().Info(line, slog.String("component", comp), slog.Bool("legacy", true))
	return len(p), nil
}

// trimStdTimestamp removes "2006/01/02 15:04:05 " and "15:04:05 " style
// prefixes written by the log package's default flags.
func trimStdTimestamp(s string) string {
	if len(s) > 20 && s[4] == '/' && s[7] == '/' && s[10] == ' ' && s[13] == ':' {
		if i := strings.IndexByte(s[11:], ' '); i >= 0 {
			return s[11+i+1:]
		}
		return s
	}
	if len(s) > 9 && s[2] == ':' && s[5] == ':' && s[8] == ' ' {
		return s[9:]
	}
	return s
}
