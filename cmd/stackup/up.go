package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/artpar/stackup/internal/core/graph"
	"github.com/artpar/stackup/internal/core/plan"
	"github.com/artpar/stackup/internal/shell/docker"
	"github.com/artpar/stackup/internal/shell/runner"
	"github.com/google/uuid"
)

// runUp starts the plan in the given compose file and blocks until every
// unit settles, printing transitions as they happen.
func runUp(args []string) int {
	fs := flag.NewFlagSet("up", flag.ContinueOnError)
	file := fs.String("f", "compose.yaml", "Path to compose file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Overall run deadline (0 for none)")
	detach := fs.Bool("detach-on-running", false, "Leave containers running on exit")
	dockerHost := fs.String("docker-host", "", "Docker daemon address (default from environment)")
	if err := fs.Parse(args); err != nil {
		return ExitConfigError
	}

	content, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot read %s: %v\n", *file, err)
		return ExitConfigError
	}

	planName := strings.TrimSuffix(filepath.Base(*file), filepath.Ext(*file))
	p, err := plan.Parse(planName, string(content))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid plan: %v\n", err)
		return ExitConfigError
	}
	if _, err := graph.Build(p.Units); err != nil {
		fmt.Fprintf(os.Stderr, "invalid plan: %v\n", err)
		return ExitConfigError
	}

	cfg := &Config{Log: LogConfig{Level: "warn", Format: "text"}}
	logger := SetupLogger(cfg)

	runID := "run_" + uuid.New().String()[:8]
	launcher, err := docker.NewLauncher(*dockerHost, runID, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot connect to Docker: %v\n", err)
		return ExitDockerError
	}
	defer launcher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	r := runner.NewRunner(launcher, logger)

	events, unsubscribe := r.Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for tr := range events {
			line := fmt.Sprintf("%s  %s: %s -> %s", tr.At.Format(time.TimeOnly), tr.Unit, tr.From, tr.To)
			if tr.Reason != "" {
				line += " (" + tr.Reason + ")"
			}
			fmt.Println(line)
		}
	}()

	fmt.Printf("starting plan %q (%d units, run %s)\n", p.Name, len(p.Units), runID)
	outcome, err := r.Up(ctx, p)
	unsubscribe()
	<-printed
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		return ExitConfigError
	}

	fmt.Printf("plan %s: %s (%s)\n", p.Name, outcome.Status, outcome.FinishedAt.Sub(outcome.StartedAt).Round(time.Millisecond))
	if failed := outcome.FailedUnits(); len(failed) > 0 {
		fmt.Printf("failed units: %s\n", strings.Join(failed, ", "))
	}

	if !*detach {
		teardownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		launcher.Teardown(teardownCtx)
		cancel()
	}

	switch outcome.Status {
	case runner.StatusSuccess:
		return ExitSuccess
	case runner.StatusCanceled:
		return ExitRunCanceled
	default:
		return ExitRunFailed
	}
}
