package cmd

import (
	"github.com/spf13/cobra"
	mcpserver "github.com/wesm/mailhub/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server over stdio",
	Long: `Start an MCP (Model Context Protocol) server over stdio.

Agents get the tools search_emails, get_email, list_recent and get_stats.
search_emails reads the local store, or the live IMAP mailbox when the
caller sets remote and a mailbox is configured. The password must come from
MAILHUB_IMAP_PASSWORD or [imap] password, since stdin carries the protocol.

Example client config:
  {
    "mcpServers": {
      "mailhub": {
        "command": "mailhub",
        "args": ["mcp"]
      }
    }
  }`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		var remote mcpserver.RemoteSearcher
		if cfg.IMAP.Host != "" {
			client, err := newIMAPClient(false)
			if err != nil {
				logger.Warn("remote search disabled", "error", err)
			} else {
				defer client.Disconnect()
				remote = client
			}
		}

		return mcpserver.Serve(cmd.Context(), s, remote)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
