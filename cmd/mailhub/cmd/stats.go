package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wesm/mailhub/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()
		return printStats(s, cfg.DatabasePath())
	},
}

func printStats(s *store.Store, dbPath string) error {
	stats, err := s.GetStats()
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("  Emails:          %d\n", stats.EmailCount)
	fmt.Printf("  Unread:          %d\n", stats.UnreadCount)
	fmt.Printf("  Attachments:     %d\n", stats.AttachmentCount)
	fmt.Printf("  Recommendations: %d valid / %d total\n", stats.ValidActionCount, stats.ActionEntryCount)
	fmt.Printf("  Sync runs:       %d\n", stats.SyncRunCount)
	if stats.LastSyncAt != nil {
		fmt.Printf("  Last sync:       %s\n", formatDate(*stats.LastSyncAt))
	}
	fmt.Printf("  Size:            %s\n", formatSize(stats.DatabaseSizeBytes))
	return nil
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
