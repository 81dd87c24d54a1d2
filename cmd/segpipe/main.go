package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mediaforge/segpipe/internal/config"
	"github.com/mediaforge/segpipe/internal/dispatch"
	"github.com/mediaforge/segpipe/internal/display"
	"github.com/mediaforge/segpipe/internal/encoder"
	"github.com/mediaforge/segpipe/internal/logging"
	"github.com/mediaforge/segpipe/internal/metrics"
	"github.com/mediaforge/segpipe/internal/notify"
	"github.com/mediaforge/segpipe/internal/orchestrator"
	"github.com/mediaforge/segpipe/internal/plan"
	"github.com/mediaforge/segpipe/internal/publish"
)

// Version and GitSHA are set at build time via -ldflags.
var (
	Version = "dev"
	GitSHA  = "unknown"
)

const (
	exitOK            = 0
	exitFailed        = 1
	exitInvalidConfig = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInvalidConfig
	}
	logging.Setup(cfg.Log)
	log := logging.Component("main")
	log.Info("segpipe starting", "version", Version, "git_sha", GitSHA)

	if err := cfg.Validate(); err != nil {
		log.Error("configuration rejected", "error", err)
		return exitInvalidConfig
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	if cfg.Metrics.Enabled {
		metrics.Init("segpipe")
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	deps := orchestrator.Deps{
		Engine:  encoder.New(cfg.Encode, logging.Component("encoder")),
		Emitter: notify.New(cfg.Notify),
	}
	defer deps.Emitter.Close()

	if cfg.Publish.URL != "" {
		pub, err := publish.Open(ctx, cfg.Publish.URL, cfg.Publish.Prefix, "segpipe/"+Version)
		if err != nil {
			log.Error("publish destination unavailable", "url", cfg.Publish.URL, "error", err)
			return exitInvalidConfig
		}
		defer pub.Close()
		deps.Publisher = pub
	}

	o := orchestrator.New(cfg, deps)
	out, err := o.Run(ctx)

	summary := display.Summary{
		Output:     cfg.Output,
		Segments:   out.Segments,
		Completed:  out.Completed,
		Skipped:    out.Skipped,
		Failed:     out.Failed,
		Elapsed:    out.Elapsed,
		OutputSize: out.OutputSize,
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, display.Failure(summary, err))
		return exitCode(err, log)
	}

	fmt.Fprintln(os.Stdout, display.Success(summary))
	log.Info("run complete",
		"run_id", out.RunID,
		"segments", out.Segments,
		"reused", out.Skipped,
		"elapsed", out.Elapsed.String(),
	)
	return exitOK
}

// exitCode maps planning and configuration problems to the invalid-config
// code; everything else, including an incomplete batch, is a plain failure.
func exitCode(err error, log *slog.Logger) int {
	switch {
	case errors.Is(err, config.ErrInvalid),
		errors.Is(err, plan.ErrInvalidSegmentLength),
		errors.Is(err, plan.ErrInvalidTotalLength):
		return exitInvalidConfig
	case errors.Is(err, dispatch.ErrIncomplete):
		log.Error("batch incomplete, resume state retained")
		return exitFailed
	default:
		return exitFailed
	}
}
