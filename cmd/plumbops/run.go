package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c-r-lewis/plumbops/internal/app"
)

// Run flag names
const (
	flagCheck         = "check"
	flagForks         = "forks"
	flagTimeout       = "timeout"
	flagForceHandlers = "force-handlers"
	flagMetricsFile   = "metrics-file"
	flagNoHistory     = "no-history"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run PLAYBOOK",
		Short: "Apply a playbook to the inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := runRequest(cmd, args[0])
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool(flagJSON)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := newApp().Run(ctx, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := printJSON(out, result); err != nil {
					return err
				}
			} else {
				printRecap(out, result)
			}
			if result.Failed() {
				return errHostsFailed
			}
			return nil
		},
	}

	cmd.Flags().StringP(flagInventory, "i", "inventory.yaml", "Inventory file")
	cmd.Flags().Bool(flagCheck, false, "Only check; report what would change without changing it")
	cmd.Flags().StringP(flagLimit, "l", "", "Restrict the run to a group or host (comma separated)")
	cmd.Flags().IntP(flagForks, "f", 0, "Hosts processed in parallel (default from PLUMBOPS_PARALLELISM)")
	cmd.Flags().Duration(flagTimeout, 0, "Per-task timeout (default from PLUMBOPS_TASK_TIMEOUT)")
	cmd.Flags().Bool(flagForceHandlers, false, "Run notified handlers even when a task failed")
	cmd.Flags().Bool(flagJSON, false, "Print the run result as JSON")
	cmd.Flags().String(flagMetricsFile, "", "Write Prometheus textfile metrics to this path")
	cmd.Flags().Bool(flagNoHistory, false, "Do not record the run in the history database")
	return cmd
}

func runRequest(cmd *cobra.Command, playbook string) (app.RunRequest, error) {
	req := app.RunRequest{PlaybookPath: playbook}
	var err error
	if req.InventoryPath, err = cmd.Flags().GetString(flagInventory); err != nil {
		return req, fmt.Errorf("error getting inventory flag: %w", err)
	}
	if req.CheckMode, err = cmd.Flags().GetBool(flagCheck); err != nil {
		return req, fmt.Errorf("error getting check flag: %w", err)
	}
	if req.Limit, err = cmd.Flags().GetString(flagLimit); err != nil {
		return req, fmt.Errorf("error getting limit flag: %w", err)
	}
	if req.Forks, err = cmd.Flags().GetInt(flagForks); err != nil {
		return req, fmt.Errorf("error getting forks flag: %w", err)
	}
	if req.Forks < 0 {
		return req, fmt.Errorf("forks must not be negative")
	}
	if req.Timeout, err = cmd.Flags().GetDuration(flagTimeout); err != nil {
		return req, fmt.Errorf("error getting timeout flag: %w", err)
	}
	if req.ForceHandlers, err = cmd.Flags().GetBool(flagForceHandlers); err != nil {
		return req, fmt.Errorf("error getting force-handlers flag: %w", err)
	}
	if req.MetricsFile, err = cmd.Flags().GetString(flagMetricsFile); err != nil {
		return req, fmt.Errorf("error getting metrics-file flag: %w", err)
	}
	if req.NoHistory, err = cmd.Flags().GetBool(flagNoHistory); err != nil {
		return req, fmt.Errorf("error getting no-history flag: %w", err)
	}
	return req, nil
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate PLAYBOOK",
		Short: "Validate the inventory and playbook and print the per-host plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inventoryPath, _ := cmd.Flags().GetString(flagInventory)
			limit, _ := cmd.Flags().GetString(flagLimit)
			asJSON, _ := cmd.Flags().GetBool(flagJSON)

			a := newApp()
			inv, g, err := a.Load(inventoryPath, args[0])
			if err != nil {
				return err
			}
			plans, err := a.Plan(inv, g, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), plans)
			}
			printPlan(cmd.OutOrStdout(), g.Name(), plans)
			return nil
		},
	}
	cmd.Flags().StringP(flagInventory, "i", "inventory.yaml", "Inventory file")
	cmd.Flags().StringP(flagLimit, "l", "", "Restrict the plan to a group or host (comma separated)")
	cmd.Flags().Bool(flagJSON, false, "Print the plan as JSON")
	return cmd
}
