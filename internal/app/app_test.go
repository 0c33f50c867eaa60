package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c-r-lewis/plumbops/internal/config"
	"github.com/c-r-lewis/plumbops/internal/executor"
	"github.com/c-r-lewis/plumbops/internal/graph"
	"github.com/c-r-lewis/plumbops/internal/inventory"
	"github.com/c-r-lewis/plumbops/internal/remote/remotetest"
)

const inventoryDoc = `
defaults: {user: deploy}
hosts:
  - {name: web1, address: 10.0.0.11, groups: [web]}
  - {name: web2, address: 10.0.0.12, groups: [web]}
  - {name: db1, address: 10.0.0.21, groups: [db]}
`

const playbookDoc = `
name: site
tasks:
  - {name: motd, module: file, params: {dest: /etc/motd, content: "managed by plumbops\n"}, notify: [announce]}
  - {name: migrate, module: shell, hosts: db, params: {cmd: ./migrate, creates: /var/lib/app/migrated}}
handlers:
  - {name: announce, module: shell, params: {cmd: wall motd updated}}
`

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	return &config.Settings{
		Parallelism:     2,
		TaskTimeout:     5 * time.Second,
		ConnectTimeout:  time.Second,
		ConnectAttempts: 3,
		BackoffInitial:  time.Millisecond,
		BackoffMax:      2 * time.Millisecond,
		DefaultUser:     "root",
		HistoryDSN:      filepath.Join(t.TempDir(), "history.db"),
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRun_RecordsHistoryAndMetrics(t *testing.T) {
	dir := t.TempDir()
	conn := &remotetest.Connector{}
	settings := testSettings(t)
	a := New(settings, conn, nil)

	req := RunRequest{
		InventoryPath: writeFile(t, dir, "inventory.yaml", inventoryDoc),
		PlaybookPath:  writeFile(t, dir, "playbook.yaml", playbookDoc),
		MetricsFile:   filepath.Join(dir, "plumbops.prom"),
	}
	res, err := a.Run(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, []string{"db1", "web1", "web2"}, res.HostNames())

	db1, _ := res.Host("db1")
	require.Len(t, db1.Tasks, 2)
	assert.Equal(t, executor.StatusSkipped, db1.Tasks[1].Status, "the creates guard exists on the fake host")
	assert.Equal(t, executor.ReasonSatisfied, db1.Tasks[1].Reason)
	require.Len(t, db1.Handlers, 1)

	data, ok := conn.Session("web1").File("/etc/motd")
	require.True(t, ok)
	assert.Equal(t, "managed by plumbops\n", string(data))

	repo, closeFn, err := a.History()
	require.NoError(t, err)
	defer func() { assert.NoError(t, closeFn()) }()
	rec, err := repo.GetByRunID(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, "site", rec.Playbook)
	assert.Equal(t, 3, rec.Hosts)
	assert.True(t, rec.Succeeded())

	prom, err := os.ReadFile(req.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "plumbops_run_failed 0")
}

func TestRun_CycleFailsBeforeAnyHostIsContacted(t *testing.T) {
	dir := t.TempDir()
	conn := &remotetest.Connector{}
	a := New(testSettings(t), conn, nil)

	cyclic := `
tasks:
  - {name: a, module: shell, params: {cmd: "true"}, after: c}
  - {name: b, module: shell, params: {cmd: "true"}, after: a}
  - {name: c, module: shell, params: {cmd: "true"}, after: b}
`
	_, err := a.Run(context.Background(), RunRequest{
		InventoryPath: writeFile(t, dir, "inventory.yaml", inventoryDoc),
		PlaybookPath:  writeFile(t, dir, "playbook.yaml", cyclic),
	})
	require.Error(t, err)

	var graphErr *graph.GraphError
	require.True(t, errors.As(err, &graphErr))
	assert.ErrorIs(t, err, graph.ErrCycle)
	assert.Zero(t, conn.TotalCalls())
}

func TestRun_InventoryConflictFailsBeforeAnyHostIsContacted(t *testing.T) {
	dir := t.TempDir()
	conn := &remotetest.Connector{}
	a := New(testSettings(t), conn, nil)

	conflicting := `
hosts:
  - {name: web1, address: 10.0.0.11}
  - {name: web1, address: 10.0.0.99}
`
	_, err := a.Run(context.Background(), RunRequest{
		InventoryPath: writeFile(t, dir, "inventory.yaml", conflicting),
		PlaybookPath:  writeFile(t, dir, "playbook.yaml", playbookDoc),
	})
	var invErr *inventory.InventoryError
	require.True(t, errors.As(err, &invErr))
	assert.Zero(t, conn.TotalCalls())
}

func TestRun_UnknownLimit(t *testing.T) {
	dir := t.TempDir()
	conn := &remotetest.Connector{}
	a := New(testSettings(t), conn, nil)

	_, err := a.Run(context.Background(), RunRequest{
		InventoryPath: writeFile(t, dir, "inventory.yaml", inventoryDoc),
		PlaybookPath:  writeFile(t, dir, "playbook.yaml", playbookDoc),
		Limit:         "web,cache",
		NoHistory:     true,
	})
	assert.ErrorContains(t, err, "cache")
	assert.Zero(t, conn.TotalCalls())
}

func TestRun_CheckModeAndNoHistory(t *testing.T) {
	dir := t.TempDir()
	conn := &remotetest.Connector{}
	settings := testSettings(t)
	a := New(settings, conn, nil)

	res, err := a.Run(context.Background(), RunRequest{
		InventoryPath: writeFile(t, dir, "inventory.yaml", inventoryDoc),
		PlaybookPath:  writeFile(t, dir, "playbook.yaml", playbookDoc),
		CheckMode:     true,
		Limit:         "web1",
		NoHistory:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"web1"}, res.HostNames())
	_, written := conn.Session("web1").File("/etc/motd")
	assert.False(t, written)

	_, statErr := os.Stat(settings.HistoryDSN)
	assert.True(t, os.IsNotExist(statErr), "no history database when disabled")
}

func TestPlan_ExampleWebserver(t *testing.T) {
	a := New(testSettings(t), &remotetest.Connector{}, nil)
	inv, g, err := a.Load("../../examples/webserver/inventory.yaml", "../../examples/webserver/playbook.yaml")
	require.NoError(t, err)

	plans, err := a.Plan(inv, g, "")
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "web1", plans[0].Host)
	assert.Equal(t, "127.0.0.1:2222", plans[0].Addr)
	assert.Equal(t, []string{
		"install nginx",
		"install php-fpm",
		"document root",
		"nginx site config",
		"index page",
		"remove distro default site",
		"php-fpm listens on tcp",
		"php-fpm running",
		"nginx running",
	}, plans[0].Tasks)

	_, err = a.Plan(inv, g, "nosuchgroup")
	assert.Error(t, err)
}
