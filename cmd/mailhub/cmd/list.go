package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	listLimit int
	listJSON  bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent stored emails",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		emails, err := s.ListRecent(listLimit)
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		if listJSON {
			return writeJSONOut(emails)
		}

		rows := make([]emailRow, 0, len(emails))
		for _, e := range emails {
			state := "-"
			if e.ActionsGeneratedAt != nil {
				state = formatDate(*e.ActionsGeneratedAt)
			}
			rows = append(rows, emailRow{ID: e.MessageID, Date: e.Date, From: e.From, Subject: e.Subject, Extra: state})
		}
		return writeEmailTable(os.Stdout, rows, "ACTIONS")
	},
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "number of emails")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(listCmd)
}
