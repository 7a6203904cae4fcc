// ABOUTME: The sessions command inspects stored conversation sessions
// ABOUTME: Lists contact history, finds incomplete sessions, and shows detail

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/switchboard-hq/switchboard/internal/manager"
	"github.com/switchboard-hq/switchboard/internal/state"
)

var (
	sessionsContact string
	sessionsChannel string
	sessionsLimit   int
	sessionsAge     time.Duration
)

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsContact, "contact", "", "contact identifier (email or phone)")
	sessionsListCmd.Flags().StringVar(&sessionsChannel, "channel", "", "filter by channel (email or phone)")
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "maximum sessions to list")
	sessionsListCmd.MarkFlagRequired("contact")

	sessionsIncompleteCmd.Flags().DurationVar(&sessionsAge, "age", time.Hour, "minimum time since last update")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsIncompleteCmd, sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect conversation sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions for a contact, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(states *manager.ConversationStateManager) error {
			sessions := states.ContactHistory(cmd.Context(), sessionsContact,
				sessionsLimit, state.Channel(sessionsChannel))
			printSessionTable(sessions)
			return nil
		})
	},
}

var sessionsIncompleteCmd = &cobra.Command{
	Use:   "incomplete",
	Short: "List in-progress and timed-out sessions past an age threshold",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(states *manager.ConversationStateManager) error {
			printSessionTable(states.FindIncompleteSessions(cmd.Context(), sessionsAge))
			return nil
		})
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show full session detail including events and checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(states *manager.ConversationStateManager) error {
			session := states.GetSession(cmd.Context(), args[0])
			if session == nil {
				color.Red("session %s not found\n", args[0])
				return nil
			}
			printSessionDetail(session)
			return nil
		})
	},
}

// withManager opens the repository, runs fn against a state manager,
// and closes the repository afterwards.
func withManager(fn func(*manager.ConversationStateManager) error) error {
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

	return fn(manager.New(repo))
}

func printSessionTable(sessions []*state.ConversationState) {
	if len(sessions) == 0 {
		color.New(color.Faint).Println("no sessions")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tCHANNEL\tSTATUS\tCONTACT\tUPDATED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.SessionID, s.Channel, statusColored(s.Status),
			s.ContactIdentifier, s.UpdatedAt.Format(time.RFC3339))
	}
	w.Flush()
}

func printSessionDetail(s *state.ConversationState) {
	cyan := color.New(color.FgCyan)

	cyan.Printf("Session %s\n", s.SessionID)
	fmt.Printf("  channel:  %s\n", s.Channel)
	fmt.Printf("  status:   %s\n", statusColored(s.Status))
	fmt.Printf("  contact:  %s", s.ContactIdentifier)
	if s.ContactName != "" {
		fmt.Printf(" (%s)", s.ContactName)
	}
	fmt.Println()
	if s.Classification != "" {
		fmt.Printf("  class:    %s\n", s.Classification)
	}
	fmt.Printf("  created:  %s\n", s.CreatedAt.Format(time.RFC3339))
	fmt.Printf("  updated:  %s\n", s.UpdatedAt.Format(time.RFC3339))
	if s.CompletedAt != nil {
		fmt.Printf("  completed: %s\n", s.CompletedAt.Format(time.RFC3339))
	}
	fmt.Printf("  llm calls: %d (tokens: %d)\n", s.Metadata.LLMCalls, s.Metadata.TotalTokens)

	if cp := s.LastCheckpoint; cp != nil {
		cyan.Println("Checkpoint")
		fmt.Printf("  agent:       %s\n", cp.CurrentAgent)
		if cp.NextAction != "" {
			fmt.Printf("  next action: %s\n", cp.NextAction)
		}
		if len(cp.PendingActions) > 0 {
			fmt.Printf("  pending:     %v\n", cp.PendingActions)
		}
		fmt.Printf("  timestamp:   %s\n", cp.Timestamp.Format(time.RFC3339))
	}

	cyan.Printf("Events (%d)\n", len(s.Events))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, ev := range s.Events {
		agent := ev.AgentName
		if agent == "" {
			agent = "-"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n",
			ev.Timestamp.Format("15:04:05"), ev.Type, agent)
	}
	w.Flush()
}

func statusColored(status state.SessionStatus) string {
	switch status {
	case state.StatusCompleted:
		return color.GreenString(string(status))
	case state.StatusError:
		return color.RedString(string(status))
	case state.StatusTimeout:
		return color.YellowString(string(status))
	default:
		return string(status)
	}
}
