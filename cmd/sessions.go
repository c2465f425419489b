package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"kharomchat/internal/service/history"
)

func newSessionsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored chat sessions",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print raw JSON")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: withHistory(func(cmd *cobra.Command, store *history.Store, args []string) error {
			summaries := store.GetAllSessionSummaries(cmd.Context())
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, summaries)
			}
			for _, s := range summaries {
				fmt.Fprintf(out, "%s\t%s\t%s\n", s.ID, s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.DisplayTitle())
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print one session with its messages",
		Args:  cobra.ExactArgs(1),
		RunE: withHistory(func(cmd *cobra.Command, store *history.Store, args []string) error {
			sess, ok := store.GetSession(cmd.Context(), args[0])
			if !ok {
				return fmt.Errorf("session %s not found", args[0])
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, sess)
			}
			fmt.Fprintf(out, "%s (%s)\n", sess.Title, sess.ID)
			for _, m := range sess.Messages {
				who := "Kharom"
				if m.IsUser {
					who = "You"
				}
				fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), who, m.Text)
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Set a custom session title",
		Args:  cobra.ExactArgs(2),
		RunE: withHistory(func(cmd *cobra.Command, store *history.Store, args []string) error {
			return store.UpdateSessionTitle(cmd.Context(), args[0], args[1])
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session and its index entry",
		Args:  cobra.ExactArgs(1),
		RunE: withHistory(func(cmd *cobra.Command, store *history.Store, args []string) error {
			return store.DeleteSession(cmd.Context(), args[0])
		}),
	})
	return cmd
}

// withHistory opens the configured store for the duration of one subcommand.
func withHistory(fn func(cmd *cobra.Command, store *history.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		kv, closer, err := openKeyValue(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()
		return fn(cmd, newHistoryStore(cfg, kv), args)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
