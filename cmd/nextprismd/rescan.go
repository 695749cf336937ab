package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/LoopeyTheGreat/next-prism/internal/model"
)

var rescanConfiguration struct {
	folder string
}

func rescanMain(command *cobra.Command, arguments []string) error {
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

	var target *model.MonitoredFolder
	if rescanConfiguration.folder != "" {
		for _, f := range s.folders {
			if f.Path == rescanConfiguration.folder {
				target = f
				break
			}
		}
		if target == nil {
			return errors.Errorf("no configured folder matches %q", rescanConfiguration.folder)
		}
	}

	if err := s.orch.RescanFolder(target, s.folders); err != nil {
		return errors.Wrap(err, "rescanning folders")
	}

	// Drain the queue the rescan just populated by running the processor
	// loop until it empties, rather than installing the full watcher set
	// (spec.md §6: "rescanFolder(path?)" is a one-shot trigger, not a
	// standing watch). Cancelling Run makes it flush the batch it is holding;
	// waiting for Run to return lets that flush finish before reporting.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	drainCtx, drainCancel := context.WithCancel(ctx)
	runDone := make(chan struct{})
	go func() {
		s.orch.Run(drainCtx)
		close(runDone)
	}()
	for s.q.Len() > 0 {
		select {
		case <-ctx.Done():
			drainCancel()
			<-runDone
			return errors.New("timed out draining rescanned items")
		case <-time.After(100 * time.Millisecond):
		}
	}
	drainCancel()
	<-runDone

	fmt.Println(color.GreenString("Rescan complete."))
	printStats(s.stats.Snapshot())
	return nil
}

var rescanCommand = &cobra.Command{
	Use:   "rescan",
	Short: "Re-enqueue a folder's (or every enabled folder's) existing files",
	RunE:  rescanMain,
}

func init() {
	rescanCommand.Flags().StringVar(&rescanConfiguration.folder, "folder", "", "rescan only this folder path (default: every enabled folder)")
}
