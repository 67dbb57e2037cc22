package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/expensems/emspush/cmd"
	"github.com/expensems/emspush/internal/conf"
	"github.com/expensems/emspush/internal/logging"
)

func main() {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if settings.Debug {
		logging.SetLevel(slog.LevelDebug)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
