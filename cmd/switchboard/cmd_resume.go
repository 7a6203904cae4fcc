// ABOUTME: The resume command restarts interrupted sessions from checkpoints
// ABOUTME: Resumes a single session by ID, or sweeps all timed-out sessions

package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/switchboard-hq/switchboard/internal/manager"
	"github.com/switchboard-hq/switchboard/internal/resume"
)

var resumeForce bool

func init() {
	resumeCmd.Flags().BoolVar(&resumeForce, "force", false, "resume error sessions too")
	rootCmd.AddCommand(resumeCmd)
}

var resumeCmd = &cobra.Command{
	Use:   "resume [session-id]",
	Short: "Resume interrupted sessions from their last checkpoint",
	Long: `With a session ID, resumes that session. Without arguments, sweeps
every timed-out session within the configured age window.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
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

	svc := resume.New(repo, manager.New(repo))
	ctx := cmd.Context()

	if len(args) == 1 {
		result := svc.ResumeSession(ctx, args[0], resumeForce)
		if !result.Success {
			color.Red("✗ %s: %s\n", result.SessionID, result.Message)
			return nil
		}
		color.Green("✓ %s resumed", result.SessionID)
		if result.NextAction != "" {
			color.New(color.FgCyan).Printf("  next action: %s\n", result.NextAction)
		}
		return nil
	}

	summary := svc.AutoResumeTimeouts(ctx, cfg.Resume.MaxAge, cfg.Resume.MaxRetries)
	printSweepSummary(summary)
	return nil
}

func printSweepSummary(summary *resume.Summary) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	color.New(color.FgCyan).Printf("Found %d resumable session(s)\n", summary.TotalFound)
	for _, r := range summary.Results {
		switch r.Status {
		case "resumed":
			green.Printf("  ✓ %s", r.SessionID)
			if r.NextAction != "" {
				green.Printf(" (next: %s)", r.NextAction)
			}
			green.Println()
		case "skipped":
			yellow.Printf("  - %s: %s\n", r.SessionID, r.Reason)
		default:
			color.Red("  ✗ %s: %s\n", r.SessionID, r.Reason)
		}
	}
	green.Printf("resumed %d", summary.Resumed)
	yellow.Printf("  skipped %d", summary.Skipped)
	color.Red("  failed %d\n", summary.Failed)
}
