// Command flowbot runs the scenario-driven Telegram bot.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/m3rciful/flowbot/core/buildinfo"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "flowbot",
		Short:         "Scenario-driven conversation bot",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config (default $CONFIG_PATH or config.yaml)")

	root.AddCommand(newRunCmd(), newValidateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return "config.yaml"
}

func loadEnv() {
	// Missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()
}
