package types

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// InventoryFile is the on-disk inventory document.
type InventoryFile struct {
	Defaults HostDefaults          `yaml:"defaults"`
	Hosts    []Host                `yaml:"hosts"`
	Groups   map[string]StringList `yaml:"groups"`
}

// HostDefaults apply to every host that leaves the field unset.
type HostDefaults struct {
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	KeyPath  string `yaml:"key_path,omitempty"`
}

// Host represents one machine in the inventory.
type Host struct {
	Name     string            `yaml:"name"`
	Address  string            `yaml:"address,omitempty"`
	User     string            `yaml:"user,omitempty"`
	Password string            `yaml:"password,omitempty"`
	Port     int               `yaml:"port,omitempty"`
	KeyPath  string            `yaml:"key_path,omitempty"` // Optional SSH key path
	Groups   StringList        `yaml:"groups,omitempty"`
	Vars     map[string]string `yaml:"vars,omitempty"`
}

// Playbook holds the ordered task list and the handlers tasks may notify.
type Playbook struct {
	Name          string           `yaml:"name,omitempty"`
	ForceHandlers bool             `yaml:"force_handlers,omitempty"`
	Tasks         []TaskDefinition `yaml:"tasks"`
	Handlers      []TaskDefinition `yaml:"handlers,omitempty"`
}

// TaskDefinition describes a single task to run (similar to an Ansible task).
type TaskDefinition struct {
	Name       string     `json:"name"   yaml:"name"`
	Module     string     `json:"module" yaml:"module"`
	Hosts      string     `json:"hosts,omitempty" yaml:"hosts,omitempty"`
	Params     Params     `json:"params" yaml:"params"`
	Notify     StringList `json:"notify,omitempty" yaml:"notify,omitempty"`
	After      StringList `json:"after,omitempty" yaml:"after,omitempty"`
	Become     bool       `json:"become" yaml:"become"`
	BecomeUser string     `json:"become_user,omitempty" yaml:"become_user,omitempty"`
}

// ModuleResult is what each module returns.
type ModuleResult struct {
	TaskName string `json:"task_name"`
	Module   string `json:"module"`
	Changed  bool   `json:"changed"`
	Failed   bool   `json:"failed"`
	Msg      string `json:"msg"`
	Err      error  `json:"-"`
}

// Verdict is the outcome of a read-only state probe.
type Verdict struct {
	Satisfied bool
	Reason    string
}

// Satisfied returns a verdict reporting the desired state is already in place.
func Satisfied(format string, args ...interface{}) Verdict {
	return Verdict{Satisfied: true, Reason: fmt.Sprintf(format, args...)}
}

// Unsatisfied returns a verdict reporting the task has work to do.
func Unsatisfied(format string, args ...interface{}) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, args...)}
}

// StringList accepts either a single scalar or a sequence in YAML.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Value == "" {
			*s = nil
			return nil
		}
		*s = StringList{value.Value}
		return nil
	case yaml.SequenceNode:
		var out []string
		if err := value.Decode(&out); err != nil {
			return err
		}
		*s = out
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", value.Line)
	}
}

// Params are the free-form module parameters of a task.
type Params map[string]interface{}

// UnmarshalYAML implements yaml.Unmarshaler. Top-level integer scalars keep
// their source text, so "mode: 0644" and "mode: 644" both arrive as written.
func (p *Params) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.ShortTag() == "!!null" {
		*p = nil
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: params must be a mapping", value.Line)
	}
	var out map[string]interface{}
	if err := value.Decode(&out); err != nil {
		return err
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		if val.Kind == yaml.ScalarNode && val.ShortTag() == "!!int" {
			out[key.Value] = val.Value
		}
	}
	*p = out
	return nil
}

// String returns the parameter as a string. Scalars are formatted.
func (p Params) String(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns the parameter as a bool, accepting "yes"/"no" style strings.
func (p Params) Bool(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
		return v == "yes" || v == "on"
	default:
		return false
	}
}

// Strings returns the parameter as a list; a single string becomes a one-item list.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}
