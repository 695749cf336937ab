package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func statsMain(command *cobra.Command, arguments []string) error {
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

	fmt.Println(color.CyanString("Folders:"))
	for _, f := range s.folders {
		status := color.GreenString("enabled")
		if !f.Enabled {
			status = color.RedString("disabled")
		}
		fmt.Printf("  %-60s %s [%s]\n", f.Path, status, f.Kind)
	}

	fmt.Println()
	fmt.Println(color.CyanString("Ingest queue:"))
	fmt.Printf("  pending items: %d\n", s.q.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	health := s.orch.HealthCheck(ctx)

	fmt.Println()
	fmt.Println(color.CyanString("Health:"))
	for _, kind := range []string{"nextcloud", "photoprism"} {
		ok := health[kind]
		status := color.GreenString("ok")
		if !ok {
			status = color.RedString("unreachable")
		}
		fmt.Printf("  %-12s %s\n", kind, status)
	}

	fmt.Println()
	printStats(s.stats.Snapshot())
	return nil
}

var statsCommand = &cobra.Command{
	Use:   "stats",
	Short: "Report configured folders, queue depth, and service health",
	RunE:  statsMain,
}
