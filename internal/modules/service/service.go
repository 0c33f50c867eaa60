// Package service implements the "service" module.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/c-r-lewis/plumbops/internal/remote"
	"github.com/c-r-lewis/plumbops/internal/types"
)

type controller interface {
	status(name string) string
	action(name, verb string) string
}

type sysv struct{}

func (sysv) status(name string) string { return "service " + remote.ShellQuote(name) + " status" }
func (sysv) action(name, verb string) string {
	return "service " + remote.ShellQuote(name) + " " + verb
}

type systemd struct{}

func (systemd) status(name string) string {
	return "systemctl is-active --quiet " + remote.ShellQuote(name)
}
func (systemd) action(name, verb string) string {
	return "systemctl " + verb + " " + remote.ShellQuote(name)
}

var controllers = map[string]controller{
	"sysv":    sysv{},
	"systemd": systemd{},
}

// ServiceModule starts, stops, restarts or reloads services. The default
// manager is sysv, which works in containers without an init system.
type ServiceModule struct{}

func (ServiceModule) Name() string { return "service" }

func (ServiceModule) Idempotent() bool { return true }

type svcParams struct {
	name  string
	state string
	ctl   controller
}

func parseParams(params types.Params) (svcParams, error) {
	p := svcParams{name: params.String("name"), state: params.String("state")}
	if p.name == "" {
		return p, fmt.Errorf("missing 'name' parameter")
	}
	if p.state == "" {
		p.state = "started"
	}
	switch p.state {
	case "started", "stopped", "restarted", "reloaded":
	default:
		return p, fmt.Errorf("unknown state '%s'", p.state)
	}
	mgr := params.String("manager")
	if mgr == "" {
		mgr = "sysv"
	}
	ctl, ok := controllers[mgr]
	if !ok {
		return p, fmt.Errorf("unsupported service manager '%s'", mgr)
	}
	p.ctl = ctl
	return p, nil
}

func (ServiceModule) Validate(params types.Params) error {
	_, err := parseParams(params)
	return err
}

// isRunning reports whether the service's status probe exits 0.
func isRunning(ctx context.Context, sess remote.Session, p svcParams) (bool, error) {
	res, err := sess.Run(ctx, p.ctl.status(p.name))
	if err != nil {
		return false, err
	}
	return res.OK(), nil
}

func (ServiceModule) Check(ctx context.Context, sess remote.Session, params types.Params) (types.Verdict, error) {
	p, err := parseParams(params)
	if err != nil {
		return types.Verdict{}, err
	}
	switch p.state {
	case "restarted", "reloaded":
		return types.Unsatisfied("%s always acts", p.state), nil
	}

	running, err := isRunning(ctx, sess, p)
	if err != nil {
		return types.Verdict{}, err
	}
	if running == (p.state == "started") {
		return types.Satisfied("service %s is already %s", p.name, p.state), nil
	}
	return types.Unsatisfied("service %s is not %s", p.name, p.state), nil
}

func (sm ServiceModule) Apply(ctx context.Context, sess remote.Session, params types.Params) types.ModuleResult {
	res := types.ModuleResult{Module: sm.Name()}

	p, err := parseParams(params)
	if err != nil {
		res.Failed, res.Msg, res.Err = true, err.Error(), err
		return res
	}

	verb := map[string]string{
		"started":   "start",
		"stopped":   "stop",
		"restarted": "restart",
		"reloaded":  "reload",
	}[p.state]

	out, err := sess.Run(ctx, p.ctl.action(p.name, verb))
	if err != nil {
		res.Failed, res.Msg, res.Err = true, err.Error(), err
		return res
	}
	if !out.OK() {
		res.Failed = true
		res.Msg = fmt.Sprintf("failed to %s %s: %s", verb, p.name, strings.TrimSpace(out.Stderr))
		res.Err = fmt.Errorf("exit status %d", out.ExitCode)
		return res
	}

	res.Changed = true
	res.Msg = fmt.Sprintf("service %s %s", p.name, p.state)
	return res
}
