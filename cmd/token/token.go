// Package token implements a subcommand for inspecting and revoking the
// locally cached device token.
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/expensems/emspush/internal/backend"
	"github.com/expensems/emspush/internal/conf"
	"github.com/expensems/emspush/internal/provider"
	"github.com/expensems/emspush/internal/tokenstore"
)

// Command returns a cobra command for device token inspection
func Command(settings *conf.Settings) *cobra.Command {
	var revoke bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Show or revoke the cached device token",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := tokenstore.Open(settings.Push.TokenStorePath)
			if err != nil {
				return fmt.Errorf("opening token store: %w", err)
			}
			defer store.Close()

			current, err := store.Current()
			if err != nil {
				return fmt.Errorf("reading cached token: %w", err)
			}
			if current == "" {
				fmt.Println("No device token registered")
				return nil
			}

			if !revoke {
				fmt.Printf("Device token: %s\n", current)
				return nil
			}

			// Best effort, like logout: provider or backend may be unreachable
			// but the local cache is always cleared.
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			prov := provider.NewMQTTProvider(settings)
			defer prov.Close()
			if err := prov.DeleteToken(ctx); err != nil {
				fmt.Printf("Warning: provider token deletion failed: %v\n", err)
			}

			if err := backend.NewClient(settings).DeleteToken(ctx); err != nil {
				fmt.Printf("Warning: backend token deletion failed: %v\n", err)
			}

			if err := store.Clear(); err != nil {
				return fmt.Errorf("clearing cached token: %w", err)
			}
			fmt.Println("Device token revoked")
			return nil
		},
	}

	cmd.Flags().BoolVar(&revoke, "revoke", false, "Revoke the token with the backend and clear the local cache")

	return cmd
}
