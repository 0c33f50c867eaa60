package ssh

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/skeema/knownhosts"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/c-r-lewis/plumbops/internal/inventory"
	"github.com/c-r-lewis/plumbops/internal/logger"
	"github.com/c-r-lewis/plumbops/internal/remote"
)

// Config controls how the Connector dials hosts.
type Config struct {
	ConnectTimeout  time.Duration
	KnownHostsFile  string
	HostKeyChecking bool
}

// Connector opens SSH sessions. It implements remote.Connector.
type Connector struct {
	cfg Config

	once    sync.Once
	hostKey ssh.HostKeyCallback
	algos   func(hostWithPort string) []string
	initErr error
}

// NewConnector returns a Connector for the given configuration.
func NewConnector(cfg Config) *Connector {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Connector{cfg: cfg}
}

func (c *Connector) loadHostKeys() error {
	c.once.Do(func() {
		if !c.cfg.HostKeyChecking {
			logger.Warn("Host key checking is disabled")
			c.hostKey = ssh.InsecureIgnoreHostKey() // #nosec G106 -- explicitly requested by the operator
			return
		}
		kh, err := knownhosts.New(c.cfg.KnownHostsFile)
		if err != nil {
			c.initErr = fmt.Errorf("failed to load known hosts %s: %w", c.cfg.KnownHostsFile, err)
			return
		}
		c.hostKey = kh.HostKeyCallback()
		c.algos = kh.HostKeyAlgorithms
	})
	return c.initErr
}

// authMethods collects user/password, user/key, the default key and the agent.
func authMethods(host inventory.Host) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if host.Password != "" {
		methods = append(methods, ssh.Password(host.Password))
	}

	if host.KeyPath != "" {
		key, err := os.ReadFile(host.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	// Fall back to the default key if no key path is provided
	if host.KeyPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			defaultKeyPath := filepath.Join(home, ".ssh", "id_rsa")
			if key, err := os.ReadFile(defaultKeyPath); err == nil {
				if signer, err := ssh.ParsePrivateKey(key); err == nil {
					methods = append(methods, ssh.PublicKeys(signer))
					logger.Debugf("Using default SSH key %s for %s", defaultKeyPath, host.Name)
				} else {
					logger.Debugf("Failed to parse default SSH key: %v", err)
				}
			}
		}
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			logger.Debugf("Using SSH agent for %s", host.Name)
		} else {
			logger.Debugf("Failed to connect to SSH agent: %v", err)
		}
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication methods available")
	}
	return methods, nil
}

// Connect opens an SSH connection using user/password or user/key auth.
func (c *Connector) Connect(ctx context.Context, host inventory.Host) (remote.Session, error) {
	if err := c.loadHostKeys(); err != nil {
		return nil, &remote.ConnectionError{Host: host.Name, Op: "known_hosts", Err: err}
	}

	auth, err := authMethods(host)
	if err != nil {
		return nil, &remote.ConnectionError{Host: host.Name, Op: "auth", Err: err}
	}

	addr := host.Addr()
	config := &ssh.ClientConfig{
		User:            host.User,
		Auth:            auth,
		HostKeyCallback: c.hostKey,
		Timeout:         c.cfg.ConnectTimeout,
	}
	if c.algos != nil {
		config.HostKeyAlgorithms = c.algos(addr)
	}

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &remote.ConnectionError{Host: host.Name, Op: "dial", Err: err, Transient: ctx.Err() == nil}
	}

	// The handshake has no context of its own; bound it with a deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(c.cfg.ConnectTimeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, &remote.ConnectionError{Host: host.Name, Op: "handshake", Err: err, Transient: transientHandshake(err)}
	}
	_ = conn.SetDeadline(time.Time{})

	logger.Debugf("Connected to %s (%s@%s)", host.Name, host.User, addr)
	return &Session{host: host.Name, client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

// transientHandshake separates "try again later" from authentication and
// host key failures.
func transientHandshake(err error) bool {
	if knownhosts.IsHostKeyChanged(err) || knownhosts.IsHostUnknown(err) {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "knownhosts:") || strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain") {
		return false
	}
	return true
}

// Session is one SSH connection with a lazily opened SFTP subsystem.
type Session struct {
	host   string
	client *ssh.Client

	mu   sync.Mutex
	sftp *sftp.Client
}

func (s *Session) connErr(op string, err error) error {
	return &remote.ConnectionError{Host: s.host, Op: op, Err: err}
}

// Run executes a command on the remote host via SSH.
func (s *Session) Run(ctx context.Context, cmd string) (remote.CommandResult, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return remote.CommandResult{}, s.connErr("exec", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return remote.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}, ctx.Err()
	case err = <-done:
	}

	res := remote.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	}
	return res, s.connErr("exec", err)
}

func (s *Session) sftpClient() (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sftp != nil {
		return s.sftp, nil
	}
	c, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, s.connErr("sftp", err)
	}
	s.sftp = c
	return c, nil
}

// withContext runs fn and abandons it when ctx ends; closing the SFTP client
// unblocks the transfer.
func (s *Session) withContext(ctx context.Context, fn func(c *sftp.Client) error) error {
	c, err := s.sftpClient()
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- fn(c) }()

	select {
	case <-ctx.Done():
		s.mu.Lock()
		_ = c.Close()
		s.sftp = nil
		s.mu.Unlock()
		return ctx.Err()
	case err := <-done:
		if err != nil && lostConnection(err) {
			return s.connErr("sftp", err)
		}
		return err
	}
}

func lostConnection(err error) bool {
	var netErr net.Error
	return errors.Is(err, sftp.ErrSSHFxConnectionLost) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, &netErr)
}

// CopyFile uses SFTP to copy a local file to a remote path.
func (s *Session) CopyFile(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	srcFile, err := os.Open(localPath) // #nosec G304 -- path comes from the operator's playbook
	if err != nil {
		return err
	}
	defer srcFile.Close()

	return s.withContext(ctx, func(c *sftp.Client) error {
		return upload(c, srcFile, remotePath, mode)
	})
}

// WriteFile uses SFTP to copy in-memory bytes to a remote file.
func (s *Session) WriteFile(ctx context.Context, data []byte, remotePath string, mode os.FileMode) error {
	return s.withContext(ctx, func(c *sftp.Client) error {
		return upload(c, bytes.NewReader(data), remotePath, mode)
	})
}

func upload(c *sftp.Client, r io.Reader, remotePath string, mode os.FileMode) error {
	dstFile, err := c.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", remotePath, err)
	}
	if _, err := io.Copy(dstFile, r); err != nil {
		_ = dstFile.Close()
		return fmt.Errorf("write %s: %w", remotePath, err)
	}
	if err := dstFile.Close(); err != nil {
		return fmt.Errorf("close %s: %w", remotePath, err)
	}
	if err := c.Chmod(remotePath, mode.Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", remotePath, err)
	}
	return nil
}

// Checksum streams a remote file over SFTP into SHA-256.
func (s *Session) Checksum(ctx context.Context, remotePath string) (string, error) {
	var sum string
	err := s.withContext(ctx, func(c *sftp.Client) error {
		f, err := c.Open(remotePath)
		if err != nil {
			return fmt.Errorf("open %s: %w", remotePath, err)
		}
		defer f.Close()

		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return fmt.Errorf("read %s: %w", remotePath, err)
		}
		sum = hex.EncodeToString(h.Sum(nil))
		return nil
	})
	return sum, err
}

// Close tears down the SFTP subsystem and the connection.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.sftp != nil {
		_ = s.sftp.Close()
		s.sftp = nil
	}
	s.mu.Unlock()
	return s.client.Close()
}
