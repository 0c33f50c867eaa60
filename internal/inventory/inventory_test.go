package inventory

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kevinburke/ssh_config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleInventory = `
defaults:
  user: deploy
hosts:
  - name: web1
    address: 10.0.0.1
    groups: [web]
  - name: web2
    address: 10.0.0.2
    port: 2222
    user: admin
    groups: web
  - name: db1
groups:
  db: [db1]
  backend: [web2, db1]
`

func names(hosts []Host) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, h.Name)
	}
	return out
}

func TestParse_DefaultsAndGroups(t *testing.T) {
	inv, err := Parse([]byte(sampleInventory), Options{DefaultUser: "root"})
	require.NoError(t, err)

	web1, ok := inv.Host("web1")
	require.True(t, ok)
	assert.Equal(t, 22, web1.Port)
	assert.Equal(t, "deploy", web1.User)
	assert.Equal(t, "10.0.0.1:22", web1.Addr())

	web2, _ := inv.Host("web2")
	assert.Equal(t, 2222, web2.Port)
	assert.Equal(t, "admin", web2.User)
	assert.Equal(t, []string{"backend", "web"}, web2.Groups)

	db1, _ := inv.Host("db1")
	assert.Equal(t, "db1", db1.Address, "address defaults to the host name")

	assert.Equal(t, []string{"web1", "web2"}, names(inv.HostsInGroup("web")))
	assert.Equal(t, []string{"web2", "db1"}, names(inv.HostsInGroup("backend")))
	assert.Equal(t, []string{"web1", "web2", "db1"}, names(inv.HostsInGroup(GroupAll)))
	assert.Empty(t, inv.HostsInGroup("missing"))
	assert.Equal(t, []string{"backend", "db", "web"}, inv.Groups())
}

func TestParse_DefaultUserFallback(t *testing.T) {
	inv, err := Parse([]byte("hosts:\n  - name: box\n"), Options{DefaultUser: "root"})
	require.NoError(t, err)
	h, _ := inv.Host("box")
	assert.Equal(t, "root", h.User)
}

func TestParse_DuplicateHosts(t *testing.T) {
	t.Run("identical duplicates merge groups", func(t *testing.T) {
		doc := `
hosts:
  - {name: web1, address: 10.0.0.1, groups: [web]}
  - {name: web1, address: 10.0.0.1, groups: [edge]}
`
		inv, err := Parse([]byte(doc), Options{DefaultUser: "root"})
		require.NoError(t, err)
		h, _ := inv.Host("web1")
		assert.Equal(t, []string{"edge", "web"}, h.Groups)
		assert.Len(t, inv.Hosts(), 1)
	})

	t.Run("conflicting duplicates fail", func(t *testing.T) {
		doc := `
hosts:
  - {name: web1, address: 10.0.0.1}
  - {name: web1, address: 10.0.0.9}
`
		_, err := Parse([]byte(doc), Options{DefaultUser: "root"})
		require.Error(t, err)

		var invErr *InventoryError
		require.True(t, errors.As(err, &invErr))
		assert.Equal(t, "web1", invErr.Host)
		assert.Contains(t, err.Error(), "conflicting parameters")
	})
}

func TestParse_ValidationErrorsAreAggregated(t *testing.T) {
	doc := `
hosts:
  - {name: a, port: 70000}
  - {address: 10.0.0.3}
groups:
  web: [ghost]
`
	_, err := Parse([]byte(doc), Options{DefaultUser: "root"})
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "invalid port 70000")
	assert.Contains(t, msg, "host entry without a name")
	assert.Contains(t, msg, "undeclared host")
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("hosts: {"), Options{})
	var invErr *InventoryError
	require.True(t, errors.As(err, &invErr))
	assert.Contains(t, err.Error(), "failed to parse inventory")
}

func TestSelect(t *testing.T) {
	inv, err := Parse([]byte(sampleInventory), Options{DefaultUser: "root"})
	require.NoError(t, err)

	hosts, err := inv.Select("db,web1")
	require.NoError(t, err)
	assert.Equal(t, []string{"web1", "db1"}, names(hosts))

	_, err = inv.Select("web,nowhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nowhere")

	assert.Equal(t, []string{"web1", "web2"}, names(inv.Match("web,nowhere")))
	assert.Len(t, inv.Match(""), 3)

	db1, _ := inv.Host("db1")
	assert.True(t, inv.Matches(db1, "backend"))
	assert.False(t, inv.Matches(db1, "web"))
}

func TestParse_SSHConfig(t *testing.T) {
	cfg, err := ssh_config.Decode(strings.NewReader(`
Host web1
  HostName 192.168.1.10
  Port 2200
  User ops
  IdentityFile /keys/web1
`))
	require.NoError(t, err)

	doc := `
hosts:
  - {name: web1}
  - {name: web2, address: 10.0.0.2}
`
	inv, err := Parse([]byte(doc), Options{DefaultUser: "root", SSHConfig: cfg})
	require.NoError(t, err)

	web1, _ := inv.Host("web1")
	assert.Equal(t, "192.168.1.10", web1.Address)
	assert.Equal(t, 2200, web1.Port)
	assert.Equal(t, "ops", web1.User)
	assert.Equal(t, "/keys/web1", web1.KeyPath)

	web2, _ := inv.Host("web2")
	assert.Equal(t, "10.0.0.2", web2.Address)
	assert.Equal(t, 22, web2.Port)
	assert.Equal(t, "root", web2.User)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleInventory), 0o600))

	inv, err := Load(path, Options{DefaultUser: "root"})
	require.NoError(t, err)
	assert.Len(t, inv.Hosts(), 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), Options{})
	var invErr *InventoryError
	assert.True(t, errors.As(err, &invErr))
}
