package procs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ccpanes/ccpanes/internal/logging"
)

var procsLog = logging.ForComponent(logging.CompProcs)

// ucomm may contain spaces ("tmux: server"), so the header is kept and the
// name is cut by column position. The header label is as wide as the longest
// accounting name, which keeps ps from truncating it.
const (
	psCommHeader = "UCOMM___________"
	psArgsHeader = "ARGS"
)

// psArgs asks for a header line and then one process per line: pid, ppid,
// tty, accounting name, full command line.
var psArgs = []string{"-axww", "-o", "pid=PID,ppid=PPID,tty=TTY,ucomm=" + psCommHeader + ",args=" + psArgsHeader}

// PS lists processes with the ps utility. It works on Linux and macOS.
type PS struct {
	Run RunFunc
}

// NewPS returns a PS source that shells out to ps.
func NewPS() *PS { return &PS{Run: ExecRun} }

// ListProcesses runs ps once. If ps fails but printed rows, the rows are
// returned with ErrScanIncomplete.
func (p *PS) ListProcesses(ctx context.Context) ([]Record, error) {
	run := p.Run
	if run == nil {
		run = ExecRun
	}
	out, err := run(ctx, "ps", psArgs...)
	if err != nil && (len(out) == 0 || ctx.Err() != nil) {
		return nil, err
	}

	records, skipped := ParsePS(out)
	switch {
	case err != nil:
		procsLog.Warn("ps_partial_output", slog.String("error", err.Error()), slog.Int("rows", len(records)))
		return records, fmt.Errorf("%w: %v", ErrScanIncomplete, err)
	case skipped > 0:
		return records, fmt.Errorf("%w: %d unparsable ps rows", ErrScanIncomplete, skipped)
	}
	return records, nil
}

// ParsePS parses ps output in the psArgs column order and reports how many
// non-blank lines it had to skip. With a header line the accounting name is
// cut by column; without one every field is split on blanks.
func ParsePS(out []byte) (records []Record, skipped int) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var cols *psColumns
	first := true
	for sc.Scan() {
		raw := strings.TrimRight(sc.Text(), " \t\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if first {
			first = false
			if c, ok := parsePSHeader(raw); ok {
				cols = &c
				continue
			}
		}
		var (
			rec Record
			ok  bool
		)
		if cols != nil {
			rec, ok = cols.parse(raw)
		} else {
			rec, ok = parsePSLine(strings.TrimSpace(raw))
		}
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped
}

// psColumns holds the byte offsets where the name and args columns start.
type psColumns struct {
	comm, args int
}

func parsePSHeader(line string) (psColumns, bool) {
	comm := strings.Index(line, psCommHeader)
	args := strings.Index(line, psArgsHeader)
	if comm < 0 || args <= comm {
		return psColumns{}, false
	}
	return psColumns{comm: comm, args: args}, true
}

func (c psColumns) parse(line string) (Record, bool) {
	if len(line) <= c.comm {
		return Record{}, false
	}
	rec, ok := parsePSIDs(strings.Fields(line[:c.comm]))
	if !ok {
		return Record{}, false
	}
	end := min(c.args, len(line))
	rec.Command = strings.TrimSpace(line[c.comm:end])
	if rec.Command == "" {
		return Record{}, false
	}
	if len(line) > c.args {
		rec.Args = strings.Fields(line[c.args:])
	}
	return rec, true
}

func parsePSLine(line string) (Record, bool) {
	f := strings.Fields(line)
	if len(f) < 4 {
		return Record{}, false
	}
	rec, ok := parsePSIDs(f[:3])
	if !ok {
		return Record{}, false
	}
	rec.Command = f[3]
	if len(f) > 4 {
		rec.Args = f[4:]
	}
	return rec, true
}

// parsePSIDs reads the pid, ppid and tty fields.
func parsePSIDs(f []string) (Record, bool) {
	if len(f) != 3 {
		return Record{}, false
	}
	pid, err := strconv.Atoi(f[0])
	if err != nil || pid <= 0 {
		return Record{}, false
	}
	ppid, err := strconv.Atoi(f[1])
	if err != nil || ppid < 0 {
		return Record{}, false
	}
	return Record{PID: pid, PPID: ppid, TTY: NormalizeTTY(f[2])}, true
}
