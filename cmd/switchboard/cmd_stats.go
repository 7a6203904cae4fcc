// ABOUTME: The stats command reports aggregate conversation statistics
// ABOUTME: Counts by status and channel, LLM usage, and average duration

package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/switchboard-hq/switchboard/internal/manager"
	"github.com/switchboard-hq/switchboard/internal/state"
)

var (
	statsSince   string
	statsUntil   string
	statsChannel string
)

func init() {
	statsCmd.Flags().StringVar(&statsSince, "since", "", "start date (YYYY-MM-DD)")
	statsCmd.Flags().StringVar(&statsUntil, "until", "", "end date (YYYY-MM-DD)")
	statsCmd.Flags().StringVar(&statsChannel, "channel", "", "filter by channel (email or phone)")
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show conversation statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := parseDate(statsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}
		end, err := parseDate(statsUntil)
		if err != nil {
			return fmt.Errorf("parsing --until: %w", err)
		}

		return withManager(func(states *manager.ConversationStateManager) error {
			stats := states.Statistics(cmd.Context(), start, end, state.Channel(statsChannel))
			if stats == nil {
				color.Red("failed to compute statistics\n")
				return nil
			}

			cyan := color.New(color.FgCyan)
			cyan.Printf("Conversations: %d\n", stats.TotalConversations)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, k := range sortedKeys(stats.ByStatus) {
				fmt.Fprintf(w, "  status %s\t%d\n", k, stats.ByStatus[k])
			}
			for _, k := range sortedKeys(stats.ByChannel) {
				fmt.Fprintf(w, "  channel %s\t%d\n", k, stats.ByChannel[k])
			}
			w.Flush()

			cyan.Println("LLM usage")
			fmt.Printf("  calls:  %d\n", stats.TotalLLMCalls)
			fmt.Printf("  tokens: %d\n", stats.TotalTokens)
			if stats.AvgDurationMS > 0 {
				fmt.Printf("  avg completion: %s\n",
					time.Duration(stats.AvgDurationMS)*time.Millisecond)
			}
			return nil
		})
	},
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
