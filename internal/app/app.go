// Package app wires configuration, inventory, graph, executor, history and
// metrics into the operations the CLI exposes.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/c-r-lewis/plumbops/internal/config"
	"github.com/c-r-lewis/plumbops/internal/executor"
	"github.com/c-r-lewis/plumbops/internal/graph"
	"github.com/c-r-lewis/plumbops/internal/inventory"
	"github.com/c-r-lewis/plumbops/internal/logger"
	"github.com/c-r-lewis/plumbops/internal/metrics"
	"github.com/c-r-lewis/plumbops/internal/modules"
	"github.com/c-r-lewis/plumbops/internal/remote"
	"github.com/c-r-lewis/plumbops/internal/ssh"
	"github.com/c-r-lewis/plumbops/internal/store"
)

// App holds the collaborators shared by every command.
type App struct {
	settings  *config.Settings
	connector remote.Connector
	modules   *modules.Registry
}

// New returns an App. A nil connector dials over SSH using settings; a nil
// registry uses the built-in modules.
func New(settings *config.Settings, connector remote.Connector, registry *modules.Registry) *App {
	if connector == nil {
		connector = ssh.NewConnector(ssh.Config{
			ConnectTimeout:  settings.ConnectTimeout,
			KnownHostsFile:  settings.KnownHostsFile,
			HostKeyChecking: settings.HostKeyChecking,
		})
	}
	if registry == nil {
		registry = modules.Default()
	}
	return &App{settings: settings, connector: connector, modules: registry}
}

// RunRequest is one invocation of "run".
type RunRequest struct {
	InventoryPath string
	PlaybookPath  string
	CheckMode     bool
	ForceHandlers bool
	Limit         string
	Forks         int
	Timeout       time.Duration
	MetricsFile   string
	NoHistory     bool
}

// Load parses and validates the inventory and the playbook. Nothing is
// contacted.
func (a *App) Load(inventoryPath, playbookPath string) (*inventory.Inventory, *graph.Graph, error) {
	opts := inventory.Options{DefaultUser: a.settings.DefaultUser}
	if a.settings.SSHConfigFile != "" {
		cfg, err := inventory.LoadSSHConfig(a.settings.SSHConfigFile)
		if err != nil {
			return nil, nil, err
		}
		opts.SSHConfig = cfg
	}

	inv, err := inventory.Load(inventoryPath, opts)
	if err != nil {
		return nil, nil, err
	}
	g, err := graph.Load(playbookPath, a.modules)
	if err != nil {
		return nil, nil, err
	}
	return inv, g, nil
}

// HostPlan lists the tasks that would run on a host, in order.
type HostPlan struct {
	Host  string   `json:"host"`
	Addr  string   `json:"address"`
	Tasks []string `json:"tasks"`
}

// Plan resolves which tasks apply to which hosts.
func (a *App) Plan(inv *inventory.Inventory, g *graph.Graph, limit string) ([]HostPlan, error) {
	hosts, err := selectHosts(inv, limit)
	if err != nil {
		return nil, err
	}
	plans := make([]HostPlan, 0, len(hosts))
	for _, h := range hosts {
		p := HostPlan{Host: h.Name, Addr: h.Addr()}
		for _, t := range g.TasksFor(func(sel string) bool { return inv.Matches(h, sel) }) {
			p.Tasks = append(p.Tasks, t.Name)
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func selectHosts(inv *inventory.Inventory, limit string) ([]inventory.Host, error) {
	if limit == "" {
		return inv.Hosts(), nil
	}
	return inv.Select(limit)
}

// Run loads, executes, records and exports one run. The error is non-nil
// only when nothing could be executed; host failures are in the result.
func (a *App) Run(ctx context.Context, req RunRequest) (*executor.RunResult, error) {
	inv, g, err := a.Load(req.InventoryPath, req.PlaybookPath)
	if err != nil {
		return nil, err
	}
	if _, err := selectHosts(inv, req.Limit); err != nil {
		return nil, err
	}

	opts := executor.Options{
		Parallelism:     a.settings.Parallelism,
		TaskTimeout:     a.settings.TaskTimeout,
		ConnectAttempts: a.settings.ConnectAttempts,
		BackoffInitial:  a.settings.BackoffInitial,
		BackoffMax:      a.settings.BackoffMax,
		CheckMode:       req.CheckMode,
		ForceHandlers:   req.ForceHandlers,
		Limit:           req.Limit,
	}
	if req.Forks > 0 {
		opts.Parallelism = req.Forks
	}
	if req.Timeout > 0 {
		opts.TaskTimeout = req.Timeout
	}

	result := executor.New(a.connector, a.modules, opts).Run(ctx, g, inv)

	if !req.NoHistory {
		if err := a.record(ctx, result); err != nil {
			logger.Warnf("Failed to record run history: %v", err)
		}
	}
	if req.MetricsFile != "" {
		c := metrics.New()
		c.Observe(result)
		if err := c.WriteTextfile(req.MetricsFile); err != nil {
			logger.Warnf("Failed to export metrics: %v", err)
		}
	}
	return result, nil
}

func (a *App) record(ctx context.Context, result *executor.RunResult) error {
	db, err := store.Open(a.settings.HistoryDSN)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(db); cerr != nil {
			logger.Debugf("Failed to close history database: %v", cerr)
		}
	}()

	// Record the run even if the caller was cancelled.
	if err := store.NewRunRepository(db).Create(context.WithoutCancel(ctx), store.FromResult(result)); err != nil {
		return fmt.Errorf("failed to save run %s: %w", result.ID, err)
	}
	logger.Debugf("Recorded run %s", result.ID)
	return nil
}

// History opens the run history. The returned func closes it.
func (a *App) History() (*store.RunRepository, func() error, error) {
	db, err := store.Open(a.settings.HistoryDSN)
	if err != nil {
		return nil, nil, err
	}
	return store.NewRunRepository(db), func() error { return store.Close(db) }, nil
}
