// Package remote defines the transport contract between the executor and a
// managed host.
package remote

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/c-r-lewis/plumbops/internal/inventory"
)

// CommandResult is the outcome of a command that ran to completion.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// OK reports a zero exit status.
func (r CommandResult) OK() bool { return r.ExitCode == 0 }

// Session is an established connection to one host. A non-zero exit status is
// reported in CommandResult, not as an error; errors mean the command could
// not be run or its outcome is unknown.
type Session interface {
	Run(ctx context.Context, cmd string) (CommandResult, error)
	CopyFile(ctx context.Context, localPath, remotePath string, mode os.FileMode) error
	WriteFile(ctx context.Context, data []byte, remotePath string, mode os.FileMode) error
	// Checksum returns the hex SHA-256 of a remote file. A missing file
	// yields an error matching os.ErrNotExist.
	Checksum(ctx context.Context, remotePath string) (string, error)
	Close() error
}

// Connector opens sessions.
type Connector interface {
	Connect(ctx context.Context, host inventory.Host) (Session, error)
}

// ConnectionError reports a transport failure. Transient errors may be
// retried at connect time; others (authentication, host key mismatch) not.
type ConnectionError struct {
	Host      string
	Op        string
	Err       error
	Transient bool
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed during %s: %v", e.Host, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err is or wraps a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsTransient reports whether err is a retryable connection failure.
func IsTransient(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) && ce.Transient
}
