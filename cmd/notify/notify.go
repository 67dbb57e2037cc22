// Package notify implements a test-send subcommand: it publishes a payload
// through the push provider to this installation's registered device token,
// exercising the full delivery path end to end.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/expensems/emspush/internal/conf"
	"github.com/expensems/emspush/internal/provider"
	"github.com/expensems/emspush/internal/push"
	"github.com/expensems/emspush/internal/tokenstore"
)

// Command returns a cobra command that publishes a test payload
func Command(settings *conf.Settings) *cobra.Command {
	var (
		typ     string
		title   string
		message string
		token   string
		tag     string
		data    []string
		wait    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Publish a test payload to the registered device token",
		Long: `Publish a test payload through the push provider.

Examples:
  # Basic payload
  emspush notify --title="Test" --message="Hello"

  # Expense event with routing data
  emspush notify --type=new_expense --data="expense_id=42" --title="New expense"

  # Explicit target token (defaults to the locally cached one)
  emspush notify --token=abcd1234 --title="Test"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if typ != "" && push.KindOf(map[string]string{push.DataKeyType: typ}) == push.KindUnknown {
				return fmt.Errorf("invalid type: %s", typ)
			}

			payload := &push.Payload{
				Notification: &push.PayloadNotification{
					Title: title,
					Body:  message,
				},
				Data: map[string]string{},
			}
			if typ != "" {
				payload.Data[push.DataKeyType] = typ
			}
			if tag != "" {
				payload.Data[push.DataKeyTag] = tag
			}
			for _, kv := range data {
				key, value, found := strings.Cut(kv, "=")
				if !found || key == "" {
					return fmt.Errorf("invalid data entry %q, expected key=value", kv)
				}
				payload.Data[key] = value
			}

			if token == "" {
				store, err := tokenstore.Open(settings.Push.TokenStorePath)
				if err != nil {
					return fmt.Errorf("opening token store: %w", err)
				}
				defer store.Close()

				token, err = store.Current()
				if err != nil {
					return fmt.Errorf("reading cached token: %w", err)
				}
				if token == "" {
					return fmt.Errorf("no device token registered, run the client first or pass --token")
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			prov := provider.NewMQTTProvider(settings)
			defer prov.Close()

			if err := prov.Publish(ctx, token, payload); err != nil {
				return fmt.Errorf("publishing payload: %w", err)
			}

			fmt.Printf("Payload published to token ...%s\n", tokenTail(token))
			return nil
		},
	}

	cmd.Flags().StringVar(&typ, "type", "", "Notification type (new_expense, expense_added_for_you, significant_expense, family_invitation)")
	cmd.Flags().StringVar(&title, "title", "Test Notification", "Notification title")
	cmd.Flags().StringVar(&message, "message", "This is a test notification", "Notification body")
	cmd.Flags().StringVar(&token, "token", "", "Target device token (defaults to the locally cached one)")
	cmd.Flags().StringVar(&tag, "tag", "", "Explicit dedup tag")
	cmd.Flags().StringArrayVar(&data, "data", nil, "Additional data entries as key=value (repeatable)")
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "How long to wait for the publish to complete")

	return cmd
}

func tokenTail(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[len(token)-8:]
}
