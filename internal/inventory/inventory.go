// Package inventory holds the set of target hosts, their connection
// parameters and their group memberships.
package inventory

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/kevinburke/ssh_config"
	"gopkg.in/yaml.v3"

	"github.com/c-r-lewis/plumbops/internal/types"
)

const (
	// DefaultPort is the SSH port used when neither host nor defaults set one.
	DefaultPort = 22
	// GroupAll matches every host in the inventory.
	GroupAll = "all"
)

// Host is one resolved, immutable inventory entry.
type Host struct {
	Name     string
	Address  string
	Port     int
	User     string
	Password string
	KeyPath  string
	Groups   []string
	Vars     map[string]string
}

// Addr returns host:port for dialing.
func (h Host) Addr() string {
	return net.JoinHostPort(h.Address, strconv.Itoa(h.Port))
}

// InGroup reports whether the host is a member of the group.
func (h Host) InGroup(group string) bool {
	if group == GroupAll {
		return true
	}
	for _, g := range h.Groups {
		if g == group {
			return true
		}
	}
	return false
}

func (h Host) sameConnection(o Host) bool {
	return h.Address == o.Address && h.Port == o.Port && h.User == o.User &&
		h.Password == o.Password && h.KeyPath == o.KeyPath
}

// Options control how raw inventory entries are resolved.
type Options struct {
	// DefaultUser is used when neither the host nor the inventory defaults set a user.
	DefaultUser string
	// SSHConfig fills address, port, user and key for fields the inventory leaves unset.
	SSHConfig *ssh_config.Config
}

// Inventory is the validated host set.
type Inventory struct {
	hosts  []Host
	byName map[string]int
	groups map[string][]string
}

// Load reads and parses an inventory file.
func Load(path string, opts Options) (*Inventory, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		return nil, &InventoryError{Msg: "failed to read inventory", Err: err}
	}
	return Parse(data, opts)
}

// Parse decodes a YAML inventory document.
func Parse(data []byte, opts Options) (*Inventory, error) {
	var doc types.InventoryFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &InventoryError{Msg: "failed to parse inventory", Err: err}
	}
	return New(doc, opts)
}

// New resolves defaults and validates the document. Every problem found is
// reported; each entry of the returned error is an *InventoryError.
func New(doc types.InventoryFile, opts Options) (*Inventory, error) {
	var errs *multierror.Error

	inv := &Inventory{
		byName: make(map[string]int, len(doc.Hosts)),
		groups: make(map[string][]string),
	}

	for _, raw := range doc.Hosts {
		h, err := resolve(raw, doc.Defaults, opts)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}

		if idx, exists := inv.byName[h.Name]; exists {
			prev := inv.hosts[idx]
			if !prev.sameConnection(h) {
				errs = multierror.Append(errs, hostErrorf(h.Name,
					"duplicate host with conflicting parameters (%s@%s vs %s@%s)",
					prev.User, prev.Addr(), h.User, h.Addr()))
				continue
			}
			inv.hosts[idx].Groups = mergeGroups(prev.Groups, h.Groups)
			continue
		}

		inv.byName[h.Name] = len(inv.hosts)
		inv.hosts = append(inv.hosts, h)
	}

	groupNames := make([]string, 0, len(doc.Groups))
	for name := range doc.Groups {
		groupNames = append(groupNames, name)
	}
	sort.Strings(groupNames)

	for _, group := range groupNames {
		if group == GroupAll {
			errs = multierror.Append(errs, &InventoryError{Msg: "group name 'all' is reserved"})
			continue
		}
		for _, member := range doc.Groups[group] {
			idx, ok := inv.byName[member]
			if !ok {
				errs = multierror.Append(errs, hostErrorf(member, "group %q references an undeclared host", group))
				continue
			}
			inv.hosts[idx].Groups = mergeGroups(inv.hosts[idx].Groups, []string{group})
		}
	}

	for i := range inv.hosts {
		for _, g := range inv.hosts[i].Groups {
			inv.groups[g] = append(inv.groups[g], inv.hosts[i].Name)
		}
	}
	for g := range inv.groups {
		if _, clash := inv.byName[g]; clash {
			errs = multierror.Append(errs, hostErrorf(g, "name is used both as a host and as a group"))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return inv, nil
}

func resolve(raw types.Host, defaults types.HostDefaults, opts Options) (Host, error) {
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return Host{}, &InventoryError{Msg: "host entry without a name"}
	}

	h := Host{
		Name:     name,
		Address:  raw.Address,
		Port:     raw.Port,
		User:     raw.User,
		Password: raw.Password,
		KeyPath:  raw.KeyPath,
		Groups:   mergeGroups(nil, raw.Groups),
		Vars:     raw.Vars,
	}

	if opts.SSHConfig != nil {
		applySSHConfig(&h, opts.SSHConfig)
	}

	if h.Address == "" {
		h.Address = name
	}
	if h.Port == 0 {
		h.Port = defaults.Port
	}
	if h.Port == 0 {
		h.Port = DefaultPort
	}
	if h.User == "" {
		h.User = defaults.User
	}
	if h.User == "" {
		h.User = opts.DefaultUser
	}
	if h.Password == "" {
		h.Password = defaults.Password
	}
	if h.KeyPath == "" {
		h.KeyPath = defaults.KeyPath
	}
	h.KeyPath = expandHome(h.KeyPath)

	if h.Port < 1 || h.Port > 65535 {
		return Host{}, hostErrorf(name, "invalid port %d", h.Port)
	}
	if h.User == "" {
		return Host{}, hostErrorf(name, "no user configured")
	}
	return h, nil
}

// applySSHConfig only touches fields the inventory left unset.
func applySSHConfig(h *Host, cfg *ssh_config.Config) {
	get := func(key string) string {
		v, err := cfg.Get(h.Name, key)
		if err != nil {
			return ""
		}
		return v
	}
	if h.Address == "" {
		h.Address = get("HostName")
	}
	if h.Port == 0 {
		if p, err := strconv.Atoi(get("Port")); err == nil {
			h.Port = p
		}
	}
	if h.User == "" {
		h.User = get("User")
	}
	if h.KeyPath == "" {
		h.KeyPath = get("IdentityFile")
	}
}

// LoadSSHConfig decodes an OpenSSH client configuration file.
func LoadSSHConfig(path string) (*ssh_config.Config, error) {
	f, err := os.Open(path) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		return nil, &InventoryError{Msg: "failed to open ssh config", Err: err}
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return nil, &InventoryError{Msg: "failed to parse ssh config", Err: err}
	}
	return cfg, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func mergeGroups(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, g := range a {
		set[g] = struct{}{}
	}
	for _, g := range b {
		if g = strings.TrimSpace(g); g != "" {
			set[g] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Hosts returns every host in declaration order.
func (inv *Inventory) Hosts() []Host {
	out := make([]Host, len(inv.hosts))
	copy(out, inv.hosts)
	return out
}

// Host returns a host by name.
func (inv *Inventory) Host(name string) (Host, bool) {
	idx, ok := inv.byName[name]
	if !ok {
		return Host{}, false
	}
	return inv.hosts[idx], true
}

// Groups returns the sorted group names, excluding the implicit "all".
func (inv *Inventory) Groups() []string {
	out := make([]string, 0, len(inv.groups))
	for g := range inv.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// HostsInGroup returns the members of a group in declaration order. An
// unknown group yields an empty set.
func (inv *Inventory) HostsInGroup(name string) []Host {
	var out []Host
	for _, h := range inv.hosts {
		if h.InGroup(name) {
			out = append(out, h)
		}
	}
	return out
}

// Match resolves a selector of comma-separated groups or host names to the
// union of their hosts. Unknown terms match nothing.
func (inv *Inventory) Match(selector string) []Host {
	hosts, _ := inv.match(selector)
	return hosts
}

// Select is Match that rejects unknown terms.
func (inv *Inventory) Select(selector string) ([]Host, error) {
	hosts, unknown := inv.match(selector)
	if len(unknown) > 0 {
		return nil, &InventoryError{Msg: fmt.Sprintf("selector matches no group or host: %s", strings.Join(unknown, ", "))}
	}
	return hosts, nil
}

func (inv *Inventory) match(selector string) ([]Host, []string) {
	if strings.TrimSpace(selector) == "" {
		selector = GroupAll
	}

	var unknown []string
	picked := make(map[string]bool)
	for _, term := range strings.Split(selector, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if idx, ok := inv.byName[term]; ok {
			picked[inv.hosts[idx].Name] = true
			continue
		}
		if _, ok := inv.groups[term]; !ok && term != GroupAll {
			unknown = append(unknown, term)
			continue
		}
		for _, h := range inv.HostsInGroup(term) {
			picked[h.Name] = true
		}
	}

	var out []Host
	for _, h := range inv.hosts {
		if picked[h.Name] {
			out = append(out, h)
		}
	}
	return out, unknown
}

// Matches reports whether the host is selected by the selector.
func (inv *Inventory) Matches(h Host, selector string) bool {
	for _, m := range inv.Match(selector) {
		if m.Name == h.Name {
			return true
		}
	}
	return false
}
