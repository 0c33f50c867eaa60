package pkgmgr

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c-r-lewis/plumbops/internal/remote"
	"github.com/c-r-lewis/plumbops/internal/remote/remotetest"
	"github.com/c-r-lewis/plumbops/internal/types"
)

// aptHost fakes dpkg-query and apt-get over a set of installed packages.
func aptHost(installed ...string) *remotetest.Session {
	have := map[string]bool{}
	for _, p := range installed {
		have[p] = true
	}
	sess := remotetest.NewSession()
	sess.RunFunc = func(_ context.Context, cmd string) (remote.CommandResult, error) {
		fields := strings.Fields(cmd)
		switch {
		case strings.HasPrefix(cmd, "dpkg-query"):
			name := fields[len(fields)-1]
			if have[name] {
				return remote.CommandResult{Stdout: "install ok installed"}, nil
			}
			return remote.CommandResult{ExitCode: 1, Stderr: "no packages found"}, nil
		case strings.Contains(cmd, "apt-get install"):
			for _, name := range fields[4:] {
				have[name] = true
			}
		case strings.Contains(cmd, "apt-get remove"):
			for _, name := range fields[4:] {
				delete(have, name)
			}
		}
		return remote.CommandResult{}, nil
	}
	return sess
}

func TestPackageModule_Validate(t *testing.T) {
	m := PackageModule{}
	assert.NoError(t, m.Validate(types.Params{"name": "nginx"}))
	assert.NoError(t, m.Validate(types.Params{"name": []interface{}{"nginx", "php-fpm"}, "manager": "dnf"}))
	assert.ErrorContains(t, m.Validate(types.Params{}), "missing 'name'")
	assert.ErrorContains(t, m.Validate(types.Params{"name": "x", "state": "latest"}), "unknown state")
	assert.ErrorContains(t, m.Validate(types.Params{"name": "x", "manager": "pacman"}), "unsupported package manager")
}

func TestPackageModule_CheckAndApply(t *testing.T) {
	ctx := context.Background()
	m := PackageModule{}
	params := types.Params{"name": []interface{}{"nginx", "php-fpm"}}

	sess := aptHost("nginx")
	v, err := m.Check(ctx, sess, params)
	require.NoError(t, err)
	assert.False(t, v.Satisfied)
	assert.Contains(t, v.Reason, "php-fpm")

	res := m.Apply(ctx, sess, params)
	require.False(t, res.Failed, res.Msg)
	assert.True(t, res.Changed)
	assert.Equal(t, "Installed php-fpm", res.Msg)
	assert.Contains(t, sess.Commands(), "DEBIAN_FRONTEND=noninteractive apt-get install -y php-fpm")

	v, err = m.Check(ctx, sess, params)
	require.NoError(t, err)
	assert.True(t, v.Satisfied)
}

func TestPackageModule_Absent(t *testing.T) {
	ctx := context.Background()
	m := PackageModule{}
	params := types.Params{"name": "apache2", "state": "absent"}

	sess := aptHost()
	v, err := m.Check(ctx, sess, params)
	require.NoError(t, err)
	assert.True(t, v.Satisfied)

	sess = aptHost("apache2")
	res := m.Apply(ctx, sess, params)
	assert.True(t, res.Changed)
	assert.Equal(t, "Removed apache2", res.Msg)
}

func TestPackageModule_ApplyFailure(t *testing.T) {
	sess := remotetest.NewSession()
	sess.RunFunc = func(_ context.Context, cmd string) (remote.CommandResult, error) {
		if strings.HasPrefix(cmd, "rpm -q") {
			return remote.CommandResult{ExitCode: 1}, nil
		}
		return remote.CommandResult{ExitCode: 100, Stderr: "No match for argument: nginx"}, nil
	}

	res := PackageModule{}.Apply(context.Background(), sess, types.Params{"name": "nginx", "manager": "dnf", "update_cache": true})
	assert.True(t, res.Failed)
	assert.Error(t, res.Err)
	assert.Contains(t, res.Msg, "dnf makecache")
}

func TestPackageModule_Yum(t *testing.T) {
	ctx := context.Background()
	have := map[string]bool{}
	sess := remotetest.NewSession()
	sess.RunFunc = func(_ context.Context, cmd string) (remote.CommandResult, error) {
		fields := strings.Fields(cmd)
		switch {
		case strings.HasPrefix(cmd, "rpm -q"):
			if have[fields[2]] {
				return remote.CommandResult{Stdout: fields[2] + "-1.20.1-1.el8.x86_64"}, nil
			}
			return remote.CommandResult{ExitCode: 1, Stdout: "package " + fields[2] + " is not installed"}, nil
		case strings.HasPrefix(cmd, "yum install -y"):
			for _, name := range fields[3:] {
				have[name] = true
			}
		}
		return remote.CommandResult{}, nil
	}
	params := types.Params{"name": "nginx", "manager": "yum"}
	m := PackageModule{}
	require.NoError(t, m.Validate(params))

	v, err := m.Check(ctx, sess, params)
	require.NoError(t, err)
	assert.False(t, v.Satisfied)

	res := m.Apply(ctx, sess, params)
	require.False(t, res.Failed, res.Msg)
	assert.Contains(t, sess.Commands(), "yum install -y nginx")

	v, err = m.Check(ctx, sess, params)
	require.NoError(t, err)
	assert.True(t, v.Satisfied)
}
