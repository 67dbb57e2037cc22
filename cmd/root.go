package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/expensems/emspush/cmd/notify"
	"github.com/expensems/emspush/cmd/run"
	"github.com/expensems/emspush/cmd/token"
	"github.com/expensems/emspush/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "emspush",
		Short: "ExpenseMS push client",
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, settings)

	runCmd := run.Command(settings)
	notifyCmd := notify.Command(settings)
	tokenCmd := token.Command(settings)

	subcommands := []*cobra.Command{
		runCmd,
		notifyCmd,
		tokenCmd,
	}

	rootCmd.AddCommand(subcommands...)

	return rootCmd
}

// setupFlags configures global flags shared by all subcommands
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Backend.BaseURL, "backend", viper.GetString("backend.baseurl"), "Expense backend API base URL")
	rootCmd.PersistentFlags().StringVar(&settings.Provider.Broker, "broker", viper.GetString("provider.broker"), "Push provider broker URL")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
	}
}
