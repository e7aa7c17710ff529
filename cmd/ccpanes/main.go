package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ccpanes/ccpanes/internal/bridge"
	"github.com/ccpanes/ccpanes/internal/config"
	"github.com/ccpanes/ccpanes/internal/detect"
	"github.com/ccpanes/ccpanes/internal/git"
	"github.com/ccpanes/ccpanes/internal/logging"
	"github.com/ccpanes/ccpanes/internal/mux"
	"github.com/ccpanes/ccpanes/internal/procs"
	"github.com/ccpanes/ccpanes/internal/refresh"
	"github.com/ccpanes/ccpanes/internal/transcript"
)

// Version is set at build time with -ldflags "-X main.Version=…".
var Version = "0.3.0"

var cliLog = logging.ForComponent(logging.CompCLI)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"list"}
	}

	if _, err := config.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	cmd, rest := args[0], args[1:]
	if cmd != "daemon" {
		initLogging(false)
		defer logging.Shutdown()
	}

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("ccpanes v%s\n", Version)
	case "help", "--help", "-h":
		printHelp()
	case "list", "ls":
		handleList(rest)
	case "daemon":
		handleDaemon(rest)
	case "jump":
		handleJump(rest)
	case "spawn":
		handleSpawn(rest)
	case "kill":
		handleKill(rest)
	case "status":
		handleStatus(rest)
	case "history":
		handleHistory(rest)
	case "bridge-prune":
		handleBridgePrune(rest)
	case "bridge-write":
		handleBridgeWrite(rest)
	case "config":
		handleConfig(rest)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", cmd)
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("ccpanes - find and track Claude Code sessions in terminal panes")
	fmt.Println()
	fmt.Println("Usage: ccpanes <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  list [--json] [--verbose] [--all-workspaces]   List sessions (default)")
	fmt.Println("  daemon [--once] [--poll] [--listen addr]       Track statuses, set tab titles")
	fmt.Println("  jump <query>                                   Focus the best matching session")
	fmt.Println("  spawn [--cwd dir] [-- args]                    Start a new session in a new tab")
	fmt.Println("  kill <pane-id>                                 Close a session's pane")
	fmt.Println("  status [--json]                                Counts from the daemon's last pass")
	fmt.Println("  history [--limit n] [--pane id] [--json]       Recent status transitions")
	fmt.Println("  bridge-prune [--dry-run] [--json]              Remove stale bridge records")
	fmt.Println("  bridge-write                                   Status-line hook (reads stdin)")
	fmt.Println("  config init                                    Write an example config")
	fmt.Println("  version                                        Print the version")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  CCPANES_CONFIG   config file path")
	fmt.Println("  CCPANES_DEBUG    log one-shot commands to the state dir")
	fmt.Println("  CCPANES_COLOR    truecolor, 256, 16 or none")
}

// initLogging sends logs to the state dir. One-shot commands only log when
// CCPANES_DEBUG is set; the daemon always does.
func initLogging(always bool) {
	debug := os.Getenv("CCPANES_DEBUG") != ""
	if !always && !debug {
		return
	}
	logging.Init(config.GetLogSettings().LoggingConfig(config.StateDir(), debug))
	logging.RedirectStdLog(logging.CompCLI)
}

// watchDumpSignal writes the log ring buffer to the state dir on SIGUSR1.
func watchDumpSignal(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				dumpRingBuffer("signal")
			}
		}
	}()
}

func dumpRingBuffer(reason string) {
	path := filepath.Join(config.StateDir(), fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
	if err := logging.DumpRingBuffer(path); err != nil {
		cliLog.Error("crash_dump_failed", slog.String("error", err.Error()))
		return
	}
	cliLog.Info("crash_dump_written", slog.String("path", path), slog.String("reason", reason))
}

type engineOptions struct {
	allWorkspaces bool
	detail        bool
}

// newEngine wires the refresh pipeline from config and the environment.
func newEngine(opts engineOptions) (*refresh.Engine, mux.Multiplexer) {
	m := mux.New(config.GetMultiplexer(), os.Getenv)

	ds := config.GetDetectSettings()
	var dopts []detect.Option
	if id, ok := mux.SelfPane(os.Getenv); ok {
		dopts = append(dopts, detect.WithSelfPane(id))
	}

	var branches *git.BranchCache
	if gs := config.GetGitSettings(); !gs.Disabled {
		branches = git.NewBranchCache(gs.BranchTTL())
	}

	ss := config.GetStatusSettings()
	rs := config.GetRefreshSettings()
	engine := refresh.New(refresh.Options{
		Panes:            m,
		Procs:            procs.NewSource(ds.ProcessSource),
		Detector:         detect.New(ds.AllowList, dopts...),
		Bridge:           bridge.Reader{Dir: config.GetBridgeSettings().Dir},
		ProjectsRoot:     transcript.ProjectsRoot(transcript.ClaudeHome()),
		Policy:           ss.Policy(),
		TailEntries:      ss.TailEntries,
		Timeout:          rs.Timeout(),
		Workers:          rs.Workers,
		Branches:         branches,
		Detail:           opts.detail,
		CurrentWorkspace: !opts.allWorkspaces && !config.GetAllWorkspaces(),
	})
	return engine, m
}

// refreshOnce runs one full pass bounded by the listing timeout plus slack
// for transcript reads.
func refreshOnce(engine *refresh.Engine) (*refresh.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), config.GetRefreshSettings().Timeout()+3*time.Second)
	defer cancel()
	return engine.Refresh(ctx)
}
