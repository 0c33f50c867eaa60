package remote

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Become wraps a session so every command runs through sudo as user.
// File transfers land in /tmp first and are moved into place with sudo.
func Become(sess Session, user string) Session {
	if user == "" {
		user = "root"
	}
	return &becomeSession{Session: sess, user: user}
}

type becomeSession struct {
	Session
	user string
}

func (b *becomeSession) wrap(cmd string) string {
	return fmt.Sprintf("sudo -n -u %s -- sh -c %s", ShellQuote(b.user), ShellQuote(cmd))
}

func (b *becomeSession) Run(ctx context.Context, cmd string) (CommandResult, error) {
	return b.Session.Run(ctx, b.wrap(cmd))
}

func (b *becomeSession) CopyFile(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	staging := b.stagingPath(remotePath)
	if err := b.Session.CopyFile(ctx, localPath, staging, 0o600); err != nil {
		return err
	}
	return b.install(ctx, staging, remotePath, mode)
}

func (b *becomeSession) WriteFile(ctx context.Context, data []byte, remotePath string, mode os.FileMode) error {
	staging := b.stagingPath(remotePath)
	if err := b.Session.WriteFile(ctx, data, staging, 0o600); err != nil {
		return err
	}
	return b.install(ctx, staging, remotePath, mode)
}

func (b *becomeSession) Checksum(ctx context.Context, remotePath string) (string, error) {
	res, err := b.Run(ctx, "sha256sum "+ShellQuote(remotePath))
	if err != nil {
		return "", err
	}
	if !res.OK() {
		if strings.Contains(res.Stderr, "No such file") {
			return "", fmt.Errorf("%s: %w", remotePath, os.ErrNotExist)
		}
		return "", fmt.Errorf("sha256sum %s: exit %d: %s", remotePath, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 {
		return "", fmt.Errorf("sha256sum %s: empty output", remotePath)
	}
	return fields[0], nil
}

func (b *becomeSession) stagingPath(remotePath string) string {
	return path.Join("/tmp", ".plumbops-"+uuid.NewString()+"-"+path.Base(remotePath))
}

func (b *becomeSession) install(ctx context.Context, staging, remotePath string, mode os.FileMode) error {
	cmd := fmt.Sprintf("install -m %04o %s %s && rm -f %s",
		mode.Perm(), ShellQuote(staging), ShellQuote(remotePath), ShellQuote(staging))
	res, err := b.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("install %s: exit %d: %s", remotePath, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// ShellQuote quotes s for a POSIX shell.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:@+%,", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
