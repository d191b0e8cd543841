package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/parley0/parley/internal/config"
	"github.com/parley0/parley/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List conversations for the configured user",
	RunE:  runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger := newLogger(cfg)

	pool, err := store.Connect(ctx, cfg.PostgresConnectionString(), logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	st := store.New(pool, logger)
	convs, err := st.ListConversations(ctx, cfg.UserID)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	if len(convs) == 0 {
		fmt.Printf("No conversations yet for user %q.\n", cfg.UserID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tTITLE\tUPDATED\tID")
	for _, c := range convs {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			c.AgentSlug, title, c.UpdatedAt.Format("2006-01-02 15:04"), c.ID)
	}
	return w.Flush()
}
