package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var foldersJSON bool

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "List the folders on the IMAP server",
	Long: `List the selectable folders on the configured IMAP server. Use the names
with [imap] folders in config.toml or the --folder flag of sync and search.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newIMAPClient(true)
		if err != nil {
			return err
		}
		defer client.Disconnect()

		folders, err := client.ListFolders(cmd.Context())
		if err != nil {
			return fmt.Errorf("list folders: %w", err)
		}
		if foldersJSON {
			return writeJSONOut(folders)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FOLDER\tATTRIBUTES")
		for _, f := range folders {
			fmt.Fprintf(w, "%s\t%s\n", f.Name, strings.Join(f.Attrs, " "))
		}
		return w.Flush()
	},
}

func init() {
	foldersCmd.Flags().BoolVar(&foldersJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(foldersCmd)
}
