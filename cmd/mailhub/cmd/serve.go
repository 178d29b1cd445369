package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/mailhub/internal/api"
	"github.com/wesm/mailhub/internal/hub"
	"github.com/wesm/mailhub/internal/ingest"
	"github.com/wesm/mailhub/internal/scheduler"
	"github.com/wesm/mailhub/internal/session"
	"github.com/wesm/mailhub/internal/store"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket hub and HTTP API with scheduled ingestion",
	Long: `Run mailhub as a long-running daemon.

The daemon runs in the foreground and performs:
  - Websocket hub at /ws pushing mailbox snapshots and recommendations
  - HTTP API server on the configured port (default: 8080)
  - Scheduled IMAP ingestion when [ingest] schedule and [imap] host are set

Configure ingestion in config.toml:
  [imap]
  host = "imap.example.com"
  username = "you@example.com"

  [ingest]
  schedule = "*/5 * * * *"
  query = "newer_than:7d"

The IMAP password is read from MAILHUB_IMAP_PASSWORD or [imap] password.

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Server.ValidateSecure(); err != nil {
		return err
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	collab, err := newAgent()
	if err != nil {
		return err
	}
	gen := newGenerator(s, collab)

	registry := session.NewRegistry(cfg.Hub.SessionGrace.Duration, logger)
	defer registry.Close()

	h := hub.New(s, registry, gen, collab, hub.Options{
		PollInterval:   cfg.Hub.PollInterval.Duration,
		Debounce:       cfg.Hub.Debounce.Duration,
		SnapshotLimit:  cfg.Hub.SnapshotLimit,
		SendBuffer:     cfg.Hub.SendBuffer,
		ProfilePath:    cfg.Hub.ProfileFile,
		AllowedOrigins: cfg.Server.CORSOrigins,
	}, logger)

	sched := scheduler.New().WithLogger(logger)
	scheduled, err := addIngestJob(sched, s, h)
	if err != nil {
		return err
	}
	sched.Start()

	apiServer := api.NewServer(cfg, s, sched, h, logger)

	g, gctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return h.Run(gctx)
	})
	g.Go(func() error {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown error", "error", err)
		}

		fmt.Println("Waiting for running jobs to complete...")
		select {
		case <-sched.Stop().Done():
		case <-time.After(30 * time.Second):
			fmt.Println("Shutdown timed out after 30 seconds.")
		}
		return nil
	})

	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	addr := net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort))
	fmt.Printf("mailhub daemon started\n")
	fmt.Printf("  API server: http://%s\n", addr)
	fmt.Printf("  Websocket:  ws://%s/ws\n", addr)
	fmt.Printf("  Data directory: %s\n", cfg.Data.DataDir)
	if scheduled {
		for _, st := range sched.Status() {
			fmt.Printf("  %s: next run at %s\n", st.Name, st.NextRun.Local().Format("2006-01-02 15:04:05"))
		}
	} else {
		fmt.Println("  Scheduled ingestion: disabled")
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Println("Shutdown complete.")
	return nil
}

// addIngestJob registers the IMAP ingestion job when both a schedule and a
// mailbox are configured. It reports whether the job was added.
func addIngestJob(sched *scheduler.Scheduler, s *store.Store, h *hub.Hub) (bool, error) {
	if cfg.Ingest.Schedule == "" || cfg.IMAP.Host == "" {
		logger.Info("scheduled ingestion disabled",
			"schedule", cfg.Ingest.Schedule, "imap_host", cfg.IMAP.Host)
		return false, nil
	}

	client, err := newIMAPClient(false)
	if err != nil {
		return false, err
	}
	syncer := ingest.New(client, s, ingestOptions()).WithLogger(logger)

	job := func(ctx context.Context, name string) error {
		// Each run starts from a fresh connection so a server-side timeout
		// between ticks does not fail the next run.
		defer client.Disconnect()
		summary, err := syncer.Run(ctx)
		if err != nil {
			return err
		}
		if summary.Synced > 0 {
			h.BroadcastSnapshot()
		}
		return nil
	}
	if err := sched.AddJob(ingest.JobName, cfg.Ingest.Schedule, job); err != nil {
		return false, fmt.Errorf("schedule ingestion: %w", err)
	}
	return true, nil
}
