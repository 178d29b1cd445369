package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wesm/mailhub/internal/imap"
	"github.com/wesm/mailhub/internal/search"
	"github.com/wesm/mailhub/internal/store"
)

var (
	searchLimit       int
	searchFolders     []string
	searchHeadersOnly bool
	searchJSON        bool
	searchLocal       bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the IMAP mailbox",
	Long: `Search the remote mailbox using a provider-style query.

Query syntax:
  from:alice          Sender contains "alice" (repeatable)
  to:bob              Recipient contains "bob" (repeatable)
  subject:invoice     Subject contains "invoice"
  subject:"q3 plan"   Subject contains the phrase
  is:unread           Unread messages
  after:2024-01-15    On or after date (also relative, e.g. after:7d)
  before:2024-06-30   Before date
  newer_than:7d       Within the last 7 days (d, w, m, y)
  older_than:1y       Older than one year

Words without an operator are ignored.

Use --local to run the same query against the local store instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		crit := search.Criteria{
			RawQuery: strings.Join(args, " "),
			Limit:    searchLimit,
			Folders:  searchFolders,
		}

		var emails []store.Email
		if searchLocal {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			if emails, err = s.SearchEmails(crit); err != nil {
				return fmt.Errorf("search: %w", err)
			}
		} else {
			client, err := newIMAPClient(true)
			if err != nil {
				return err
			}
			defer client.Disconnect()

			results, err := client.Search(cmd.Context(), crit, imap.SearchOptions{HeadersOnly: searchHeadersOnly})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			emails = make([]store.Email, 0, len(results))
			for _, r := range results {
				emails = append(emails, r.Email)
			}
		}

		if searchJSON {
			return writeJSONOut(emails)
		}
		if len(emails) == 0 {
			fmt.Println("No messages found.")
			return nil
		}
		rows := make([]emailRow, 0, len(emails))
		for _, e := range emails {
			rows = append(rows, emailRow{ID: e.MessageID, Date: e.Date, From: e.From, Subject: e.Subject, Extra: e.Folder})
		}
		return writeEmailTable(os.Stdout, rows, "FOLDER")
	},
}

func writeJSONOut(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 50, "maximum results")
	searchCmd.Flags().StringSliceVar(&searchFolders, "folder", nil, "folder to search (repeatable)")
	searchCmd.Flags().BoolVar(&searchHeadersOnly, "headers-only", false, "skip message bodies")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
	searchCmd.Flags().BoolVar(&searchLocal, "local", false, "search the local store instead of the server")
	rootCmd.AddCommand(searchCmd)
}
