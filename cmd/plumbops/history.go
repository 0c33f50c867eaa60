package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c-r-lewis/plumbops/internal/logger"
	"github.com/c-r-lewis/plumbops/internal/store"
)

const flagHistoryLimit = "limit"

func newHistoryCmd() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, err := cmd.Flags().GetInt(flagHistoryLimit)
			if err != nil {
				return fmt.Errorf("error getting limit flag: %w", err)
			}
			asJSON, _ := cmd.Flags().GetBool(flagJSON)

			return withHistory(func(repo *store.RunRepository) error {
				runs, err := repo.List(context.Background(), limit)
				if err != nil {
					return fmt.Errorf("error listing runs: %w", err)
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), runs)
				}
				printRuns(cmd.OutOrStdout(), runs)
				return nil
			})
		},
	}
	listCmd.Flags().IntP(flagHistoryLimit, "n", store.DefaultListLimit, "Number of runs to show")
	listCmd.Flags().Bool(flagJSON, false, "Print runs as JSON")

	showCmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show one run, by ID or unique ID prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool(flagJSON)
			return withHistory(func(repo *store.RunRepository) error {
				run, err := repo.GetByRunID(context.Background(), args[0])
				if err != nil {
					return fmt.Errorf("error getting run: %w", err)
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), run)
				}
				printRun(cmd.OutOrStdout(), run)
				return nil
			})
		},
	}
	showCmd.Flags().Bool(flagJSON, false, "Print the run as JSON")

	historyCmd.AddCommand(listCmd)
	historyCmd.AddCommand(showCmd)
	return historyCmd
}

func withHistory(fn func(repo *store.RunRepository) error) error {
	repo, closeFn, err := newApp().History()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeFn(); err != nil {
			logger.Debugf("Failed to close history database: %v", err)
		}
	}()
	return fn(repo)
}
