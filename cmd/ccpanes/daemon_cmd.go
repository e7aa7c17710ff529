package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ccpanes/ccpanes/internal/config"
	"github.com/ccpanes/ccpanes/internal/daemon"
	"github.com/ccpanes/ccpanes/internal/logging"
	"github.com/ccpanes/ccpanes/internal/refresh"
	"github.com/ccpanes/ccpanes/internal/statedb"
	"github.com/ccpanes/ccpanes/internal/web"
)

func handleDaemon(args []string) {
	if code := runDaemon(args); code != 0 {
		os.Exit(code)
	}
}

// runDaemon returns the exit code so deferred cleanup runs before exit.
func runDaemon(args []string) int {
	ds := config.GetDaemonSettings()
	rs := config.GetRefreshSettings()

	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	once := fs.Bool("once", false, "Run a single pass and exit")
	poll := fs.Bool("poll", false, "Poll instead of watching files")
	listen := fs.String("listen", ds.Listen, "HTTP listen address for the API (empty disables)")
	token := fs.String("token", os.Getenv("CCPANES_TOKEN"), "Bearer token for the API")
	noTitles := fs.Bool("no-titles", false, "Leave tab titles alone")
	all := fs.Bool("all-workspaces", false, "Track panes in every workspace")
	fs.Usage = func() {
		fmt.Println("Usage: ccpanes daemon [options]")
		fmt.Println()
		fmt.Println("Keeps session statuses current, records transitions and shows")
		fmt.Println("status icons in tab titles. Logs go to the state dir.")
		fmt.Println()
		fs.PrintDefaults()
	}
	_ = fs.Parse(normalizeArgs(fs, args))

	initLogging(true)
	defer logging.Shutdown()
	defer func() {
		if r := recover(); r != nil {
			cliLog.Error("daemon_panic", slog.String("recover", fmt.Sprint(r)))
			dumpRingBuffer("panic")
			panic(r)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	watchDumpSignal(ctx)

	engine, m := newEngine(engineOptions{allWorkspaces: *all, detail: *listen != ""})

	store, err := statedb.Open(ds.StateDB)
	if err == nil {
		err = store.Migrate()
		if err != nil {
			store.Close()
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: state database unavailable, history disabled: %v\n", err)
		cliLog.Warn("store_unavailable", slog.String("path", ds.StateDB), slog.String("error", err.Error()))
		store = nil
	} else {
		defer store.Close()
	}

	metrics := daemon.NewMetrics()
	opts := daemon.Options{
		Engine:       engine,
		Controller:   m,
		SetTitles:    ds.GetSetTitles() && !*noTitles,
		TitleRate:    ds.TitleRatePerSec,
		Poll:         *poll,
		PollInterval: rs.PollInterval(),
		Debounce:     rs.Debounce(),
		Store:        store,
		Metrics:      metrics,
	}

	var srv *web.Server
	if *listen != "" && !*once {
		opts.OnChange = func(snap *refresh.Snapshot) { srv.Publish(snap) }
	}
	d := daemon.New(opts)

	if *listen != "" && !*once {
		srv = web.NewServer(web.Config{
			ListenAddr: *listen,
			Token:      *token,
			Source:     engine,
			Metrics:    metrics.Handler(),
			Refresher:  d,
		})
		go func() {
			if err := srv.Start(); err != nil {
				cliLog.Error("web_failed", slog.String("error", err.Error()))
				fmt.Fprintf(os.Stderr, "Error: web server: %v\n", err)
				cancel()
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if *once {
		snap, err := d.SyncOnce(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("%s pass %d: %d sessions\n", successSymbol, snap.Pass, len(snap.Sessions))
		return 0
	}

	if err := d.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
