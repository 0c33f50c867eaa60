package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/c-r-lewis/plumbops/internal/app"
	"github.com/c-r-lewis/plumbops/internal/config"
	"github.com/c-r-lewis/plumbops/internal/logger"
)

// Exit codes
const (
	exitOK          = 0
	exitInvalid     = 1
	exitHostsFailed = 2
)

// errHostsFailed marks a run that completed with failed hosts.
var errHostsFailed = errors.New("one or more hosts failed")

// Global flag names
const (
	flagEnvFile   = "env-file"
	flagLogLevel  = "log-level"
	flagLogFormat = "log-format"
	flagInventory = "inventory"
	flagLimit     = "limit"
	flagJSON      = "json"
)

var settings *config.Settings

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "plumbops",
		Short: "plumbops - agentless, idempotent provisioning over SSH",
		Long: `plumbops applies a playbook of idempotent tasks to the hosts of an
inventory over SSH. Every task checks the current state first and only
changes what differs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			envFile, _ := cmd.Flags().GetString(flagEnvFile)
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			s, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed(flagLogLevel) {
				s.LogLevel, _ = cmd.Flags().GetString(flagLogLevel)
			}
			if cmd.Flags().Changed(flagLogFormat) {
				s.LogFormat, _ = cmd.Flags().GetString(flagLogFormat)
			}
			logger.InitializeAndConfigure(s.LogLevel, s.LogFormat)
			settings = s
			return nil
		},
	}

	rootCmd.PersistentFlags().String(flagEnvFile, ".env", "Environment file to load")
	rootCmd.PersistentFlags().String(flagLogLevel, "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String(flagLogFormat, "text", "Log format (text, json)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newHistoryCmd())
	return rootCmd
}

func newApp() *app.App {
	return app.New(settings, nil, nil)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errHostsFailed):
		return exitHostsFailed
	default:
		return exitInvalid
	}
}

func main() {
	err := newRootCmd().Execute()
	if err != nil && !errors.Is(err, errHostsFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}
