package shell

import (
	"context"
	"fmt"
	"strings"

	"github.com/c-r-lewis/plumbops/internal/remote"
	"github.com/c-r-lewis/plumbops/internal/types"
)

type ShellModule struct{}

func (sm ShellModule) Name() string { return "shell" }

// Idempotent is false: a command interrupted part-way may have had an effect.
func (sm ShellModule) Idempotent() bool { return false }

func (sm ShellModule) Validate(params types.Params) error {
	if params.String("cmd") == "" {
		return fmt.Errorf("missing 'cmd' parameter for shell module")
	}
	return nil
}

// Check treats the task as satisfied when the 'creates' path exists or the
// 'unless' probe exits 0. Without a guard the command always runs.
func (sm ShellModule) Check(ctx context.Context, sess remote.Session, params types.Params) (types.Verdict, error) {
	if creates := params.String("creates"); creates != "" {
		res, err := sess.Run(ctx, "test -e "+remote.ShellQuote(creates))
		if err != nil {
			return types.Verdict{}, err
		}
		if res.OK() {
			return types.Satisfied("%s exists", creates), nil
		}
	}
	if unless := params.String("unless"); unless != "" {
		res, err := sess.Run(ctx, withDir(params.String("chdir"), unless))
		if err != nil {
			return types.Verdict{}, err
		}
		if res.OK() {
			return types.Satisfied("'unless' probe succeeded"), nil
		}
	}
	return types.Unsatisfied("command has no satisfied guard"), nil
}

func (sm ShellModule) Apply(ctx context.Context, sess remote.Session, params types.Params) types.ModuleResult {
	res := types.ModuleResult{
		Module: sm.Name(),
	}

	cmdString := params.String("cmd")
	if cmdString == "" {
		res.Failed = true
		res.Msg = "Missing 'cmd' parameter for shell module"
		res.Err = fmt.Errorf("%s", res.Msg)
		return res
	}

	out, err := sess.Run(ctx, withDir(params.String("chdir"), cmdString))
	if err != nil {
		res.Failed = true
		res.Msg = "Command did not complete: " + err.Error()
		res.Err = err
		return res
	}
	if !out.OK() {
		res.Failed = true
		res.Msg = "Command failed: " + strings.TrimSpace(out.Stderr)
		res.Err = fmt.Errorf("exit status %d", out.ExitCode)
		return res
	}

	res.Changed = true
	res.Msg = "Command output: " + strings.TrimSpace(out.Stdout)
	return res
}

func withDir(dir, cmd string) string {
	if dir == "" {
		return cmd
	}
	return "cd " + remote.ShellQuote(dir) + " && " + cmd
}
