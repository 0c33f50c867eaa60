package executor

import (
	"fmt"
	"sync"
)

// ConnState is the lifecycle of one host's connection within a run.
type ConnState int

const (
	ConnPending ConnState = iota
	ConnConnected
	ConnUnreachable
	ConnFailed
	ConnClosed
)

var connStateNames = map[ConnState]string{
	ConnPending:     "pending",
	ConnConnected:   "connected",
	ConnUnreachable: "unreachable",
	ConnFailed:      "failed",
	ConnClosed:      "closed",
}

func (s ConnState) String() string {
	if name, ok := connStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// MarshalText renders the state name in JSON output.
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// allowed transitions; anything else would move backwards.
var transitions = map[ConnState][]ConnState{
	ConnPending:   {ConnConnected, ConnUnreachable},
	ConnConnected: {ConnFailed, ConnClosed},
}

// canMoveTo reports whether next is a forward transition from s.
func (s ConnState) canMoveTo(next ConnState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// runState is the per-run context shared by host workers. It replaces any
// process-wide notification bookkeeping.
type runState struct {
	id        string
	checkMode bool

	mu       sync.Mutex
	notified map[string]map[string]bool // host -> handler
}

func newRunState(id string, checkMode bool) *runState {
	return &runState{id: id, checkMode: checkMode, notified: make(map[string]map[string]bool)}
}

// notify records that handlers should run on host. Repeats collapse.
func (r *runState) notify(host string, handlers []string) {
	if len(handlers) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.notified[host]
	if !ok {
		set = make(map[string]bool, len(handlers))
		r.notified[host] = set
	}
	for _, h := range handlers {
		set[h] = true
	}
}

func (r *runState) isNotified(host, handler string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notified[host][handler]
}
