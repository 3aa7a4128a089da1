package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreschagin/visual-regression/internal/bootstrap"
	"github.com/dreschagin/visual-regression/internal/suite"
	"github.com/dreschagin/visual-regression/pkg/config"
	"github.com/dreschagin/visual-regression/pkg/logger"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	suitePath := flag.String("suite", "visual-suite.yaml", "path to suite YAML file")
	parallel := flag.Int("parallel", 0, "override suite parallelism")
	timeout := flag.Duration("timeout", 0, "override per-test capture timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitUsage
	}
	// CLI печатает таблицу в stdout, в лог только предупреждения
	log := logger.NewWithWriter(cfg.LogLevel, os.Stderr)

	s, err := suite.Load(*suitePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid suite: %v\n", err)
		return exitUsage
	}
	if *parallel > 0 {
		s.Parallel = min(*parallel, suite.MaxParallel)
	}
	if *timeout > 0 {
		s.Timeout = *timeout
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize dependencies", err)
		return exitUsage
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			log.Error("Failed to close dependencies", err)
		}
	}()

	log.Info("Running visual suite", "suite", *suitePath, "tests", len(s.Tests), "parallel", s.Parallel)

	runner := suite.NewRunner(container.ListTests, container.CreateTest, container.UpdateTest, container.Lifecycle, log)
	report := runner.Run(ctx, s)

	if err := suite.WriteSummary(os.Stdout, report); err != nil {
		log.Error("Failed to write summary", err)
	}
	if report.Failed() {
		return exitFailed
	}
	return exitOK
}
