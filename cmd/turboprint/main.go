// Command turboprint pipes stdin lines through a configured logger tree and
// can serve the real-time viewer while doing so.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"turboprint/internal/app"
	"turboprint/pkg/turboprint"
)

func main() {
	var (
		cfgPath string
		watch   bool
		logger  string
		level   string
		input   string
		serve   string
		capture string
	)
	flag.StringVar(&cfgPath, "config", "", "path to config (json or yaml); empty logs to stdout")
	flag.BoolVar(&watch, "watch", false, "reload the config file when it changes")
	flag.StringVar(&logger, "logger", "stdin", "logger name for input lines")
	flag.StringVar(&level, "level", "INFO", "level for input lines")
	flag.StringVar(&input, "input", app.InputPlain, "input format: plain, json or template")
	flag.StringVar(&serve, "serve", "", "serve the viewer on this address (e.g. 127.0.0.1:8765)")
	flag.StringVar(&capture, "capture-stdlib", "", "route log/slog and standard log output to this logger")
	flag.Parse()

	lvl, err := turboprint.ParseLevel(level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(2)
	}
	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(app.Options{ConfigPath: cfgPath, Watch: watch, ViewerAddr: serve, CaptureStdlib: capture})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}
	if addr := a.Viewer().Addr(); addr != "" {
		fmt.Fprintf(os.Stderr, "viewer: http://%s/\n", addr)
	}

	// A blocked stdin read cannot observe ctx, so the pipe runs on its own.
	piped := make(chan error, 1)
	go func() {
		_, err := a.Pipe(ctx, os.Stdin, app.PipeOptions{Logger: logger, Level: lvl, Format: input})
		piped <- err
	}()

	reason := app.StopInputEOF
	select {
	case err = <-piped:
	case <-ctx.Done():
	}
	switch {
	case ctx.Err() != nil:
		reason = app.StopSignal
	case err != nil:
		fmt.Fprintln(os.Stderr, "input:", err)
		reason = app.StopFatalError
	case serve != "":
		// Keep the viewer up until interrupted.
		<-ctx.Done()
		reason = app.StopSignal
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
		os.Exit(1)
	}
}
