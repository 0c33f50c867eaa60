// Package remotetest provides in-memory transport fakes for tests.
package remotetest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"github.com/c-r-lewis/plumbops/internal/inventory"
	"github.com/c-r-lewis/plumbops/internal/remote"
)

// Session implements remote.Session in memory.
type Session struct {
	// RunFunc decides command outcomes. When nil every command exits 0.
	RunFunc func(ctx context.Context, cmd string) (remote.CommandResult, error)
	// TransferErr, when set, fails every CopyFile and WriteFile.
	TransferErr error

	mu       sync.Mutex
	files    map[string][]byte
	modes    map[string]os.FileMode
	commands []string
	closed   bool
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{files: map[string][]byte{}, modes: map[string]os.FileMode{}}
}

// Run implements remote.Session.
func (s *Session) Run(ctx context.Context, cmd string) (remote.CommandResult, error) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	fn := s.RunFunc
	s.mu.Unlock()

	if fn == nil {
		return remote.CommandResult{}, nil
	}
	return fn(ctx, cmd)
}

// CopyFile implements remote.Session.
func (s *Session) CopyFile(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return s.WriteFile(ctx, data, remotePath, mode)
}

// WriteFile implements remote.Session.
func (s *Session) WriteFile(_ context.Context, data []byte, remotePath string, mode os.FileMode) error {
	if s.TransferErr != nil {
		return s.TransferErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureMaps()
	s.files[remotePath] = append([]byte(nil), data...)
	s.modes[remotePath] = mode
	return nil
}

// Checksum implements remote.Session.
func (s *Session) Checksum(_ context.Context, remotePath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[remotePath]
	if !ok {
		return "", fmt.Errorf("%s: %w", remotePath, os.ErrNotExist)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Close implements remote.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SetFile seeds a remote file.
func (s *Session) SetFile(remotePath string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureMaps()
	s.files[remotePath] = data
}

// File returns a remote file's content.
func (s *Session) File(remotePath string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[remotePath]
	return data, ok
}

// Mode returns the mode a file was last written with.
func (s *Session) Mode(remotePath string) os.FileMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modes[remotePath]
}

// Commands returns every command run so far.
func (s *Session) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) ensureMaps() {
	if s.files == nil {
		s.files = map[string][]byte{}
	}
	if s.modes == nil {
		s.modes = map[string]os.FileMode{}
	}
}

// Connector implements remote.Connector.
type Connector struct {
	// ConnectFunc overrides connection behaviour. When nil, Connect hands out
	// one fresh Session per call, retrievable through Session.
	ConnectFunc func(ctx context.Context, host inventory.Host) (remote.Session, error)

	mu       sync.Mutex
	calls    map[string]int
	sessions map[string]*Session
}

// Connect implements remote.Connector.
func (c *Connector) Connect(ctx context.Context, host inventory.Host) (remote.Session, error) {
	c.mu.Lock()
	if c.calls == nil {
		c.calls = map[string]int{}
		c.sessions = map[string]*Session{}
	}
	c.calls[host.Name]++
	fn := c.ConnectFunc
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, host)
	}

	sess := NewSession()
	c.mu.Lock()
	c.sessions[host.Name] = sess
	c.mu.Unlock()
	return sess, nil
}

// Calls returns the number of Connect calls for a host.
func (c *Connector) Calls(host string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[host]
}

// TotalCalls returns the number of Connect calls across hosts.
func (c *Connector) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

// Session returns the last default session handed out for a host.
func (c *Connector) Session(host string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[host]
}
