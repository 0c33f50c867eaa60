package executor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Status is the outcome of one task on one host.
type Status string

const (
	StatusChanged       Status = "changed"
	StatusSkipped       Status = "skipped"
	StatusFailed        Status = "failed"
	StatusIndeterminate Status = "indeterminate"
)

// SkipReason explains a skipped task.
type SkipReason string

const (
	ReasonSatisfied   SkipReason = "satisfied"
	ReasonHostFailed  SkipReason = "host_failed"
	ReasonUnreachable SkipReason = "unreachable"
	ReasonCancelled   SkipReason = "cancelled"
	ReasonCheckMode   SkipReason = "check_mode"
)

// TaskResult records one task or handler on one host.
type TaskResult struct {
	Task     string        `json:"task"`
	Module   string        `json:"module"`
	Handler  bool          `json:"handler,omitempty"`
	Status   Status        `json:"status"`
	Reason   SkipReason    `json:"reason,omitempty"`
	Msg      string        `json:"msg,omitempty"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

func (t *TaskResult) setErr(err error) {
	t.Err = err
	if err != nil {
		t.Error = err.Error()
	}
}

// HostResult is everything that happened on one host.
type HostResult struct {
	Host     string       `json:"host"`
	Address  string       `json:"address"`
	State    ConnState    `json:"state"`
	Attempts int          `json:"connect_attempts"`
	Err      error        `json:"-"`
	Error    string       `json:"error,omitempty"`
	Tasks    []TaskResult `json:"tasks"`
	Handlers []TaskResult `json:"handlers,omitempty"`
}

func (h *HostResult) setErr(err error) {
	if h.Err != nil || err == nil {
		return
	}
	h.Err = err
	h.Error = err.Error()
}

// Failed reports an unreachable host, a lost connection, or any failed or
// indeterminate task.
func (h *HostResult) Failed() bool {
	if h.State == ConnUnreachable || h.State == ConnFailed {
		return true
	}
	for _, list := range [][]TaskResult{h.Tasks, h.Handlers} {
		for _, t := range list {
			if t.Status == StatusFailed || t.Status == StatusIndeterminate {
				return true
			}
		}
	}
	return false
}

// Counts tallies the host's tasks and handlers.
func (h *HostResult) Counts() Summary {
	var s Summary
	for _, list := range [][]TaskResult{h.Tasks, h.Handlers} {
		for _, t := range list {
			s.add(t)
		}
	}
	if h.State == ConnUnreachable {
		s.Unreachable = 1
	}
	return s
}

// Summary counts task outcomes.
type Summary struct {
	Changed       int `json:"changed"`
	Satisfied     int `json:"satisfied"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
	Indeterminate int `json:"indeterminate"`
	Unreachable   int `json:"unreachable"`
}

func (s *Summary) add(t TaskResult) {
	switch t.Status {
	case StatusChanged:
		s.Changed++
	case StatusFailed:
		s.Failed++
	case StatusIndeterminate:
		s.Indeterminate++
	case StatusSkipped:
		if t.Reason == ReasonSatisfied {
			s.Satisfied++
		} else {
			s.Skipped++
		}
	}
}

// RunResult aggregates one run across hosts. Host results are merged as each
// host finishes.
type RunResult struct {
	ID         string                 `json:"id"`
	Playbook   string                 `json:"playbook"`
	CheckMode  bool                   `json:"check_mode"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Hosts      map[string]*HostResult `json:"hosts"`

	mu sync.Mutex
}

func (r *RunResult) merge(h *HostResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Hosts == nil {
		r.Hosts = make(map[string]*HostResult)
	}
	r.Hosts[h.Host] = h
}

// HostNames returns the hosts in the run, sorted.
func (r *RunResult) HostNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.Hosts))
	for name := range r.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Host returns one host's result.
func (r *RunResult) Host(name string) (*HostResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.Hosts[name]
	return h, ok
}

// Summary totals the counts of every host.
func (r *RunResult) Summary() Summary {
	var total Summary
	for _, name := range r.HostNames() {
		h, _ := r.Host(name)
		c := h.Counts()
		total.Changed += c.Changed
		total.Satisfied += c.Satisfied
		total.Skipped += c.Skipped
		total.Failed += c.Failed
		total.Indeterminate += c.Indeterminate
		total.Unreachable += c.Unreachable
	}
	return total
}

// FailedHosts returns the hosts that failed, sorted.
func (r *RunResult) FailedHosts() []string {
	var out []string
	for _, name := range r.HostNames() {
		if h, _ := r.Host(name); h.Failed() {
			out = append(out, name)
		}
	}
	return out
}

// Failed reports whether any host failed.
func (r *RunResult) Failed() bool {
	return len(r.FailedHosts()) > 0
}

// Duration is the wall-clock time of the run.
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Err aggregates the failure of every failed host, or nil.
func (r *RunResult) Err() error {
	var result *multierror.Error
	for _, name := range r.FailedHosts() {
		h, _ := r.Host(name)
		err := h.Err
		if err == nil {
			err = fmt.Errorf("host %s failed", name)
		}
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
