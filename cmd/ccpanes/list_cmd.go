package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/ccpanes/ccpanes/internal/config"
	"github.com/ccpanes/ccpanes/internal/refresh"
	"github.com/ccpanes/ccpanes/internal/render"
)

func handleList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	verbose := fs.Bool("verbose", false, "Show last prompt and last output")
	fs.BoolVar(verbose, "v", false, "Short for --verbose")
	all := fs.Bool("all-workspaces", false, "List panes in every workspace")
	fs.Usage = func() {
		fmt.Println("Usage: ccpanes list [options]")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	_ = fs.Parse(normalizeArgs(fs, args))

	out := NewCLIOutput(*jsonOut)
	engine, _ := newEngine(engineOptions{allWorkspaces: *all, detail: *verbose})
	snap, err := refreshOnce(engine)
	if err != nil {
		out.Fail(err.Error(), errorCode(err))
	}

	if *jsonOut {
		out.Print("", snap)
		return
	}
	if err := render.Table(os.Stdout, snap, render.Stdout(config.ResolveTheme(), *verbose)); err != nil {
		out.Fail(err.Error(), ErrCodeInvalidOperation)
	}
}

func errorCode(err error) string {
	if errors.Is(err, refresh.ErrDataSourceUnavailable) {
		return ErrCodeSourceUnavailable
	}
	return ErrCodeInvalidOperation
}
