package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Maintain stored sessions",
	}
	cmd.AddCommand(newSessionPurgeCmd())
	return cmd
}

func newSessionPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete every expired session",
		Long: `Delete every expired session from the credential store. A running server does
this periodically; use this after restoring a backup or before an audit export.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, store, err := openAuthService(newLogger(os.Stderr))
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := auth.PurgeExpiredSessions(context.Background())
			if err != nil {
				return fmt.Errorf("purge sessions: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired session(s)\n", n)
			return nil
		},
	}
}
