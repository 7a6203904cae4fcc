// ABOUTME: The serve command runs the switchboard daemon
// ABOUTME: Wires the store, bus, orchestrator, and background sweeper together

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/switchboard-hq/switchboard/internal/bus"
	"github.com/switchboard-hq/switchboard/internal/contacts"
	"github.com/switchboard-hq/switchboard/internal/manager"
	"github.com/switchboard-hq/switchboard/internal/orchestrator"
	"github.com/switchboard-hq/switchboard/internal/registry"
	"github.com/switchboard-hq/switchboard/internal/resume"
	"github.com/switchboard-hq/switchboard/internal/sessioncache"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the switchboard daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	states := manager.New(repo)
	b := bus.New(slog.Default())
	reg := registry.New(slog.Default())

	var directory contacts.Directory
	if cfg.Contacts.CSVPath != "" {
		dir, err := contacts.NewCSVDirectory(cfg.Contacts.CSVPath)
		if err != nil {
			return fmt.Errorf("loading contact directory: %w", err)
		}
		directory = dir
	}

	cache := sessioncache.New(cfg.Cache.TTL, cfg.Cache.MaxEntries)
	defer cache.Close()

	orch := orchestrator.New(orchestrator.Config{
		Bus:         b,
		Registry:    reg,
		States:      states,
		Directory:   directory,
		LookupCache: cache,
	})

	sweeper := resume.NewSweeper(resume.SweeperConfig{
		ResumeSchedule:  cfg.Resume.Schedule,
		CleanupSchedule: cfg.Resume.CleanupSchedule,
		StaleAfter:      cfg.Resume.StaleAfter,
		MaxAge:          cfg.Resume.MaxAge,
		MaxRetries:      cfg.Resume.MaxRetries,
		RetainFor:       cfg.Resume.RetainFor,
	}, resume.New(repo, states), states)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := orch.Start(gctx); err != nil {
			return fmt.Errorf("starting orchestrator: %w", err)
		}
		<-gctx.Done()
		orch.Stop()
		return nil
	})
	g.Go(func() error {
		if err := sweeper.Start(gctx); err != nil {
			return fmt.Errorf("starting sweeper: %w", err)
		}
		<-gctx.Done()
		sweeper.Stop()
		return nil
	})

	slog.Info("switchboard started",
		"database", cfg.Database.Path,
		"resume_schedule", cfg.Resume.Schedule,
		"cleanup_schedule", cfg.Resume.CleanupSchedule,
		"contacts_csv", cfg.Contacts.CSVPath,
	)

	return g.Wait()
}
