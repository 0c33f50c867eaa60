package remote_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c-r-lewis/plumbops/internal/remote"
	"github.com/c-r-lewis/plumbops/internal/remote/remotetest"
)

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "nginx", remote.ShellQuote("nginx"))
	assert.Equal(t, "/etc/nginx/sites-available/default", remote.ShellQuote("/etc/nginx/sites-available/default"))
	assert.Equal(t, "''", remote.ShellQuote(""))
	assert.Equal(t, `'a b'`, remote.ShellQuote("a b"))
	assert.Equal(t, `'it'\''s'`, remote.ShellQuote("it's"))
}

func TestConnectionError(t *testing.T) {
	base := errors.New("i/o timeout")
	err := fmt.Errorf("connect: %w", &remote.ConnectionError{Host: "web1", Op: "dial", Err: base, Transient: true})

	assert.True(t, remote.IsConnectionError(err))
	assert.True(t, remote.IsTransient(err))
	assert.True(t, errors.Is(err, base))
	assert.Contains(t, err.Error(), "connection to web1 failed during dial")

	perm := &remote.ConnectionError{Host: "web1", Op: "handshake", Err: base}
	assert.False(t, remote.IsTransient(perm))
	assert.False(t, remote.IsConnectionError(base))
}

func TestBecome(t *testing.T) {
	fake := remotetest.NewSession()
	sess := remote.Become(fake, "")

	_, err := sess.Run(context.Background(), "apt-get install -y nginx")
	require.NoError(t, err)

	require.NoError(t, sess.WriteFile(context.Background(), []byte("x"), "/etc/app.conf", 0o644))

	cmds := fake.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, `sudo -n -u root -- sh -c 'apt-get install -y nginx'`, cmds[0])
	assert.Contains(t, cmds[1], "install -m 0644")
	assert.Contains(t, cmds[1], "/etc/app.conf")
}

func TestBecome_Checksum(t *testing.T) {
	fake := remotetest.NewSession()
	fake.RunFunc = func(_ context.Context, cmd string) (remote.CommandResult, error) {
		if strings.Contains(cmd, "/missing") {
			return remote.CommandResult{ExitCode: 1, Stderr: "sha256sum: /missing: No such file or directory"}, nil
		}
		return remote.CommandResult{Stdout: "abc123  /etc/app.conf\n"}, nil
	}
	sess := remote.Become(fake, "root")

	sum, err := sess.Checksum(context.Background(), "/etc/app.conf")
	require.NoError(t, err)
	assert.Equal(t, "abc123", sum)

	_, err = sess.Checksum(context.Background(), "/missing")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
