package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/LoopeyTheGreat/next-prism/internal/stats"
)

func runMain(command *cobra.Command, arguments []string) error {
	if len(arguments) != 0 {
		return errors.New("unexpected arguments provided")
	}

	configureLogging()

	cfg, err := LoadConfig(rootConfiguration.configPath)
	if err != nil {
		return errors.Wrap(err, "loading config")
	}

	s, err := buildStack(cfg)
	if err != nil {
		return errors.Wrap(err, "wiring ingestion core")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()

	s.orch.Run(ctx)

	if cfg.Queue.SnapshotPath != "" {
		s.q.Snapshot(cfg.Queue.SnapshotPath)
	}

	printStats(s.stats.Snapshot())
	return nil
}

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run the watcher/ingest/indexing pipeline until interrupted",
	RunE:  runMain,
}

func printStats(snap stats.Snapshot) {
	fmt.Println(color.CyanString("Final counters:"))
	fmt.Printf("  Files processed:     %.0f\n", snap.FilesProcessed)
	fmt.Printf("  Files moved:         %.0f\n", snap.FilesMoved)
	fmt.Printf("  Duplicates skipped:  %.0f\n", snap.DuplicatesSkipped)
	fmt.Printf("  Errors:              %.0f\n", snap.Errors)
	fmt.Printf("  Bytes moved:         %.0f\n", snap.TotalBytes)
}
