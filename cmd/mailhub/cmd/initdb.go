package cmd

import (
	"github.com/spf13/cobra"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the database schema",
	Long: `Initialize the mailhub database with the required schema.

This command creates the tables for emails, attachments, cached
recommendations and sync metadata. It is safe to run multiple times.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := cfg.DatabasePath()
		logger.Info("initializing database", "path", dbPath)

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		logger.Info("database initialized successfully")
		return printStats(s, dbPath)
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
