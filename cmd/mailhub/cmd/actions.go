package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/mailhub/internal/actions"
	"github.com/wesm/mailhub/internal/store"
)

var (
	actionsJSON   bool
	actionsCached bool
)

var actionsCmd = &cobra.Command{
	Use:   "actions <message-id>",
	Short: "Generate recommended actions for a stored email",
	Long: `Ask the configured model for recommended actions on one stored email
and cache the result. Use --cached to print the current cached
recommendations without calling the model.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		id := args[0]
		if actionsCached {
			entry, err := s.ValidActions(id)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no cached recommendations for %q", id)
			}
			if err != nil {
				return err
			}
			var recs actions.Recommendations
			if err := json.Unmarshal(entry.Payload, &recs); err != nil {
				return fmt.Errorf("decode cached recommendations: %w", err)
			}
			if actionsJSON {
				return writeJSONOut(&recs)
			}
			fmt.Printf("Cached at %s\n\n", formatDate(entry.GeneratedAt))
			printRecommendations(&recs)
			return nil
		}

		collab, err := newAgent()
		if err != nil {
			return err
		}
		out := newGenerator(s, collab).Generate(cmd.Context(), actions.Request{MessageID: id})
		if actionsJSON {
			return writeJSONOut(out)
		}

		switch out.Status {
		case actions.StatusError:
			return errors.New(out.Error)
		case actions.StatusNoRecommendations:
			fmt.Println("The model replied without structured recommendations:")
			fmt.Println()
			fmt.Println(out.RawText)
			return nil
		}

		printRecommendations(out.Recommendations)
		fmt.Printf("\nGenerated in %s", out.Duration.Round(time.Millisecond))
		if out.Cached {
			fmt.Print(" (cached)")
		}
		fmt.Println()
		if out.PersistError != nil {
			fmt.Fprintf(os.Stderr, "Warning: recommendations were not cached: %v\n", out.PersistError)
		}
		return nil
	},
}

func printRecommendations(r *actions.Recommendations) {
	if r == nil || len(r.Actions) == 0 {
		fmt.Println("No actions recommended.")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PRIORITY\tTYPE\tTITLE")
		for _, a := range r.Actions {
			fmt.Fprintf(w, "%s\t%s\t%s\n", a.Priority, a.Type, fit(a.Title, 60))
		}
		w.Flush()
	}
	if r == nil {
		return
	}

	c := r.Context
	if c.Topic != "" {
		fmt.Printf("\nTopic:   %s\n", c.Topic)
	}
	if c.Urgency != "" {
		fmt.Printf("Urgency: %s\n", c.Urgency)
	}
	if len(c.KeyPeople) > 0 {
		fmt.Printf("People:  %s\n", strings.Join(c.KeyPeople, ", "))
	}
	if len(c.Deadlines) > 0 {
		fmt.Printf("Due:     %s\n", strings.Join(c.Deadlines, ", "))
	}
}

func init() {
	actionsCmd.Flags().BoolVar(&actionsJSON, "json", false, "output as JSON")
	actionsCmd.Flags().BoolVar(&actionsCached, "cached", false, "print cached recommendations without calling the model")
	rootCmd.AddCommand(actionsCmd)
}
