// ABOUTME: The cleanup command deletes old terminal sessions
// ABOUTME: Applies the configured retention window unless overridden

package main

import (
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/switchboard-hq/switchboard/internal/manager"
)

var cleanupOlderThan time.Duration

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 0,
		"delete terminal sessions older than this (default: configured retention)")
	rootCmd.AddCommand(cleanupCmd)
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete completed, errored, and timed-out sessions past retention",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		age := cleanupOlderThan
		if age == 0 {
			age = cfg.Resume.RetainFor
		}

		repo, err := openRepository(cfg)
		if err != nil {
			return err
		}
		defer repo.Close()

		deleted := manager.New(repo).CleanupOldSessions(cmd.Context(), age)
		color.Green("deleted %d session(s) older than %s\n", deleted, age)
		return nil
	},
}
