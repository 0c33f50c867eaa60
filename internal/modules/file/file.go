package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/c-r-lewis/plumbops/internal/remote"
	"github.com/c-r-lewis/plumbops/internal/types"
)

const defaultMode os.FileMode = 0o644

// FileModule manages remote files: copying content into place, creating
// directories and removing paths.
type FileModule struct{}

func (fm FileModule) Name() string { return "file" }

func (fm FileModule) Idempotent() bool { return true }

type fileParams struct {
	dest    string
	src     string
	content string
	state   string
	mode    os.FileMode
	hasMode bool
}

func parseParams(params types.Params) (fileParams, error) {
	p := fileParams{
		dest:    params.String("dest"),
		src:     params.String("src"),
		content: params.String("content"),
		state:   params.String("state"),
		mode:    defaultMode,
	}
	if p.dest == "" {
		p.dest = params.String("path")
	}
	if p.state == "" {
		p.state = "file"
	}
	if raw, ok := params["mode"]; ok {
		mode, err := parseMode(raw)
		if err != nil {
			return p, err
		}
		p.mode = mode
		p.hasMode = true
	}

	if p.dest == "" {
		return p, fmt.Errorf("missing 'dest' parameter")
	}
	switch p.state {
	case "file":
		if (p.src == "") == (p.content == "") {
			return p, fmt.Errorf("exactly one of 'src' or 'content' is required")
		}
	case "directory", "absent":
	default:
		return p, fmt.Errorf("unknown state '%s'", p.state)
	}
	return p, nil
}

// parseMode accepts octal text: "0644", "0o644" or "644". Integer literals
// from YAML arrive as their source text; a Go int is ambiguous and rejected.
func parseMode(raw interface{}) (os.FileMode, error) {
	var s string
	switch v := raw.(type) {
	case os.FileMode:
		s = strconv.FormatUint(uint64(v), 8)
	case string:
		s = v
	default:
		return 0, fmt.Errorf("invalid mode %v: use an octal string such as \"0644\"", raw)
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "0o"), 8, 32)
	if err != nil || n > 0o7777 {
		return 0, fmt.Errorf("invalid mode %q: use an octal string such as \"0644\"", s)
	}
	return os.FileMode(n), nil
}

func (fm FileModule) Validate(params types.Params) error {
	_, err := parseParams(params)
	return err
}

func (fm FileModule) Check(ctx context.Context, sess remote.Session, params types.Params) (types.Verdict, error) {
	p, err := parseParams(params)
	if err != nil {
		return types.Verdict{}, err
	}

	switch p.state {
	case "directory":
		res, err := sess.Run(ctx, "test -d "+remote.ShellQuote(p.dest))
		if err != nil {
			return types.Verdict{}, err
		}
		if !res.OK() {
			return types.Unsatisfied("directory '%s' is missing", p.dest), nil
		}
		return checkMode(ctx, sess, p)

	case "absent":
		res, err := sess.Run(ctx, "test -e "+remote.ShellQuote(p.dest)+" || test -L "+remote.ShellQuote(p.dest))
		if err != nil {
			return types.Verdict{}, err
		}
		if res.OK() {
			return types.Unsatisfied("'%s' exists", p.dest), nil
		}
		return types.Satisfied("'%s' is absent", p.dest), nil
	}

	want, err := localChecksum(p)
	if err != nil {
		return types.Verdict{}, err
	}
	have, err := sess.Checksum(ctx, p.dest)
	if errors.Is(err, os.ErrNotExist) {
		return types.Unsatisfied("'%s' is missing", p.dest), nil
	}
	if err != nil {
		return types.Verdict{}, err
	}
	if have != want {
		return types.Unsatisfied("'%s' content differs", p.dest), nil
	}
	return checkMode(ctx, sess, p)
}

func checkMode(ctx context.Context, sess remote.Session, p fileParams) (types.Verdict, error) {
	if !p.hasMode {
		return types.Satisfied("'%s' is up to date", p.dest), nil
	}
	res, err := sess.Run(ctx, "stat -c %a "+remote.ShellQuote(p.dest))
	if err != nil {
		return types.Verdict{}, err
	}
	if !res.OK() {
		return types.Unsatisfied("cannot stat '%s'", p.dest), nil
	}
	have, err := strconv.ParseUint(strings.TrimSpace(res.Stdout), 8, 32)
	if err != nil || os.FileMode(have) != p.mode.Perm() {
		return types.Unsatisfied("'%s' mode differs", p.dest), nil
	}
	return types.Satisfied("'%s' is up to date", p.dest), nil
}

func (fm FileModule) Apply(ctx context.Context, sess remote.Session, params types.Params) types.ModuleResult {
	res := types.ModuleResult{
		Module: fm.Name(),
	}

	p, err := parseParams(params)
	if err != nil {
		return failResult(res, err)
	}

	switch p.state {
	case "file":
		if p.src != "" {
			err = sess.CopyFile(ctx, p.src, p.dest, p.mode)
		} else {
			err = sess.WriteFile(ctx, []byte(p.content), p.dest, p.mode)
		}
		if err != nil {
			return failResult(res, err)
		}
		res.Msg = fmt.Sprintf("File '%s' written", p.dest)

	case "directory":
		cmd := "mkdir -p " + remote.ShellQuote(p.dest)
		if p.hasMode {
			cmd += fmt.Sprintf(" && chmod %o %s", p.mode.Perm(), remote.ShellQuote(p.dest))
		}
		if err := run(ctx, sess, cmd); err != nil {
			return failResult(res, err)
		}
		res.Msg = fmt.Sprintf("Directory '%s' created", p.dest)

	case "absent":
		if err := run(ctx, sess, "rm -rf "+remote.ShellQuote(p.dest)); err != nil {
			return failResult(res, err)
		}
		res.Msg = fmt.Sprintf("Removed '%s'", p.dest)
	}

	res.Changed = true
	return res
}

// ---------------------------------------------------------
//  Helper Functions
// ---------------------------------------------------------

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

func localChecksum(p fileParams) (string, error) {
	h := sha256.New()
	if p.src == "" {
		h.Write([]byte(p.content))
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	f, err := os.Open(p.src) // #nosec G304 -- src comes from the operator's playbook
	if err != nil {
		return "", fmt.Errorf("failed to read source: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash source: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// failResult is a helper function to set Failed = true with a given error.
func failResult(res types.ModuleResult, err error) types.ModuleResult {
	res.Failed = true
	res.Msg = err.Error()
	res.Err = err
	return res
}
