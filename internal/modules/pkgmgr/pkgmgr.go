// Package pkgmgr implements the "package" module on top of the host's
// package manager.
package pkgmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/c-r-lewis/plumbops/internal/remote"
	"github.com/c-r-lewis/plumbops/internal/types"
)

// manager describes how to query and change packages with one tool.
type manager struct {
	query   func(name string) string // exit 0 means installed
	install string
	remove  string
	update  string
	matches func(res remote.CommandResult) bool
}

var managers = map[string]manager{
	"apt": {
		query:   func(name string) string { return "dpkg-query -W -f='${Status}' " + remote.ShellQuote(name) },
		install: "DEBIAN_FRONTEND=noninteractive apt-get install -y",
		remove:  "DEBIAN_FRONTEND=noninteractive apt-get remove -y",
		update:  "apt-get update",
		matches: func(res remote.CommandResult) bool {
			return res.OK() && strings.Contains(res.Stdout, "install ok installed")
		},
	},
	"dnf": {
		query:   func(name string) string { return "rpm -q " + remote.ShellQuote(name) },
		install: "dnf install -y",
		remove:  "dnf remove -y",
		update:  "dnf makecache",
	},
	"yum": {
		query:   func(name string) string { return "rpm -q " + remote.ShellQuote(name) },
		install: "yum install -y",
		remove:  "yum remove -y",
		update:  "yum makecache",
	},
	"apk": {
		query:   func(name string) string { return "apk info -e " + remote.ShellQuote(name) },
		install: "apk add",
		remove:  "apk del",
		update:  "apk update",
	},
}

func (m manager) installed(res remote.CommandResult) bool {
	if m.matches != nil {
		return m.matches(res)
	}
	return res.OK()
}

// PackageModule ensures packages are present or absent.
type PackageModule struct{}

func (PackageModule) Name() string { return "package" }

func (PackageModule) Idempotent() bool { return true }

type pkgParams struct {
	names       []string
	present     bool
	mgr         manager
	mgrName     string
	updateCache bool
}

func parseParams(params types.Params) (pkgParams, error) {
	p := pkgParams{
		names:       params.Strings("name"),
		present:     true,
		mgrName:     params.String("manager"),
		updateCache: params.Bool("update_cache"),
	}
	if len(p.names) == 0 {
		return p, fmt.Errorf("missing 'name' parameter")
	}
	switch state := params.String("state"); state {
	case "", "present", "installed":
	case "absent", "removed":
		p.present = false
	default:
		return p, fmt.Errorf("unknown state '%s'", state)
	}
	if p.mgrName == "" {
		p.mgrName = "apt"
	}
	mgr, ok := managers[p.mgrName]
	if !ok {
		return p, fmt.Errorf("unsupported package manager '%s'", p.mgrName)
	}
	p.mgr = mgr
	return p, nil
}

func (PackageModule) Validate(params types.Params) error {
	_, err := parseParams(params)
	return err
}

// pending returns the packages whose installed state differs from the target.
func pending(ctx context.Context, sess remote.Session, p pkgParams) ([]string, error) {
	var out []string
	for _, name := range p.names {
		res, err := sess.Run(ctx, p.mgr.query(name))
		if err != nil {
			return nil, err
		}
		if p.mgr.installed(res) != p.present {
			out = append(out, name)
		}
	}
	return out, nil
}

func (PackageModule) Check(ctx context.Context, sess remote.Session, params types.Params) (types.Verdict, error) {
	p, err := parseParams(params)
	if err != nil {
		return types.Verdict{}, err
	}
	todo, err := pending(ctx, sess, p)
	if err != nil {
		return types.Verdict{}, err
	}
	if len(todo) == 0 {
		return types.Satisfied("packages already in desired state: %s", strings.Join(p.names, ", ")), nil
	}
	if p.present {
		return types.Unsatisfied("missing packages: %s", strings.Join(todo, ", ")), nil
	}
	return types.Unsatisfied("installed packages to remove: %s", strings.Join(todo, ", ")), nil
}

// Apply is ensurePackage: it only touches the packages that need it and
// reports Changed when it did.
func (pm PackageModule) Apply(ctx context.Context, sess remote.Session, params types.Params) types.ModuleResult {
	res := types.ModuleResult{Module: pm.Name()}

	p, err := parseParams(params)
	if err != nil {
		return failResult(res, err)
	}
	todo, err := pending(ctx, sess, p)
	if err != nil {
		return failResult(res, err)
	}
	if len(todo) == 0 {
		res.Msg = "nothing to do"
		return res
	}

	quoted := make([]string, 0, len(todo))
	for _, name := range todo {
		quoted = append(quoted, remote.ShellQuote(name))
	}

	cmd := p.mgr.remove
	verb := "Removed"
	if p.present {
		cmd = p.mgr.install
		verb = "Installed"
		if p.updateCache {
			if err := run(ctx, sess, p.mgr.update); err != nil {
				return failResult(res, err)
			}
		}
	}
	if err := run(ctx, sess, cmd+" "+strings.Join(quoted, " ")); err != nil {
		return failResult(res, err)
	}

	res.Changed = true
	res.Msg = fmt.Sprintf("%s %s", verb, strings.Join(todo, ", "))
	return res
}

func run(ctx context.Context, sess remote.Session, cmd string) error {
	out, err := sess.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if !out.OK() {
		return fmt.Errorf("%s: exit %d: %s", cmd, out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	return nil
}

func failResult(res types.ModuleResult, err error) types.ModuleResult {
	res.Failed = true
	res.Msg = err.Error()
	res.Err = err
	return res
}
