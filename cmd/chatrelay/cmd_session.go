package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/chatrelay/internal/state"
	"github.com/user/chatrelay/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionExportCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect stored sessions",
}

// openStore opens the session database directly. Reads are safe alongside a
// running server since SQLite runs in WAL mode.
func openStore(ctx context.Context) (*state.SessionStore, func(), error) {
	cfg := loadConfig()
	db, err := state.OpenDB(ctx, cfg.StoragePath())
	if err != nil {
		return nil, nil, err
	}
	return state.NewSessionStore(db), func() { db.Close() }, nil
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, closeDB, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeDB()

		list, err := store.ListSessions(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMESSAGES\tCREATED\tUPDATED")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
				s.SessionID,
				s.MessageCount,
				formatMillis(s.CreatedAt),
				formatMillis(s.UpdatedAt),
			)
		}
		return w.Flush()
	},
}

var sessionExportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Print a session record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := types.ParseSessionID(args[0])
		if id == "" {
			return fmt.Errorf("session id is required")
		}

		ctx := context.Background()
		store, closeDB, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeDB()

		export, err := store.Export(ctx, id)
		if err != nil {
			return fmt.Errorf("export session: %w", err)
		}
		if export.CreatedAt == 0 {
			return fmt.Errorf("session not found: %s", id)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(export)
	},
}
