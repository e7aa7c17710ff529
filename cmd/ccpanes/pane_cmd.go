package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ccpanes/ccpanes/internal/config"
	"github.com/ccpanes/ccpanes/internal/mux"
)

func handleSpawn(args []string) {
	fs := flag.NewFlagSet("spawn", flag.ExitOnError)
	cwd := fs.String("cwd", "", "Working directory (default: current)")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	fs.Usage = func() {
		fmt.Println("Usage: ccpanes spawn [--cwd dir] [-- extra args]")
		fmt.Println()
		fmt.Println("Runs spawn_command from the config in a new tab. Extra args are")
		fmt.Println("appended to it.")
		fmt.Println()
		fs.PrintDefaults()
	}
	_ = fs.Parse(normalizeArgs(fs, args))

	out := NewCLIOutput(*jsonOut)
	dir := *cwd
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			out.Fail(err.Error(), ErrCodeInvalidOperation)
		}
		dir = wd
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		out.Fail(fmt.Sprintf("not a directory: %s", dir), ErrCodeInvalidArgument)
	}
	argv := append(config.GetSpawnCommand(), fs.Args()...)

	m := mux.New(config.GetMultiplexer(), os.Getenv)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := m.Spawn(ctx, dir, argv)
	if err != nil {
		out.Fail(err.Error(), ErrCodeMuxFailed)
	}
	out.Success(fmt.Sprintf("spawned pane %d in %s", id, dir), map[string]any{
		"success": true,
		"pane_id": id,
		"cwd":     dir,
		"argv":    argv,
	})
}

func handleKill(args []string) {
	fs := flag.NewFlagSet("kill", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	fs.Usage = func() {
		fmt.Println("Usage: ccpanes kill <pane-id>")
		fmt.Println()
		fs.PrintDefaults()
	}
	_ = fs.Parse(normalizeArgs(fs, args))

	out := NewCLIOutput(*jsonOut)
	if fs.NArg() != 1 {
		fs.Usage()
		out.Fail("exactly one pane id is required", ErrCodeInvalidArgument)
	}
	id, err := strconv.Atoi(fs.Arg(0))
	if err != nil || id < 0 {
		out.Fail(fmt.Sprintf("invalid pane id %q", fs.Arg(0)), ErrCodeInvalidArgument)
	}
	if self, ok := mux.SelfPane(os.Getenv); ok && self == id {
		out.Fail("refusing to kill the pane ccpanes is running in", ErrCodeInvalidOperation)
	}

	m := mux.New(config.GetMultiplexer(), os.Getenv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Kill(ctx, id); err != nil {
		code := ErrCodeMuxFailed
		if errors.Is(err, mux.ErrPaneNotFound) {
			code = ErrCodeNotFound
		}
		out.Fail(err.Error(), code)
	}
	out.Success(fmt.Sprintf("killed pane %d", id), map[string]any{"success": true, "pane_id": id})
}
