package logging

import (
	"log/slog"
	"net/http"
	_ "net/http/pprof"
)

// startPprof serves net/http/pprof on addr. Errors are logged, never fatal.
func startPprof(addr string) {
	go func() {
		l := ForComponent(CompDaemon)
		l.Info("pprof_listening", slog.String("addr", addr))
		if err := http.ListenAndServe(addr, nil); err != nil {
			l.Warn("pprof_stopped", slog.String("error", err.Error()))
		}
	}()
}
