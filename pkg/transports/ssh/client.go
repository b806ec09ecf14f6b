package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client is a single SSH connection that runs commands.
type Client struct {
	config *Config

	connMu      sync.RWMutex
	client      *ssh.Client
	proxy       *ssh.Client
	connectedAt time.Time
}

var _ Transport = (*Client)(nil)

// NewClient validates config and returns an unconnected client.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes the SSH connection, through the jump host when one is
// configured.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.client != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := c.config.Address()
	var client, proxy *ssh.Client
	if c.config.IsProxyEnabled() {
		client, proxy, err = c.dialViaProxy(ctx, clientConfig)
	} else {
		log.Debug().Str("address", address).Msg("establishing SSH connection")
		client, err = dial(ctx, address, clientConfig)
	}
	if err != nil {
		return err
	}

	c.client = client
	c.proxy = proxy
	c.connectedAt = time.Now()
	log.Debug().Str("address", address).Msg("SSH connection established")
	return nil
}

// dial performs the TCP dial and SSH handshake under ctx.
func dial(ctx context.Context, address string, clientConfig *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: clientConfig.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}
	return handshake(ctx, conn, address, clientConfig)
}

func handshake(ctx context.Context, conn net.Conn, address string, clientConfig *ssh.ClientConfig) (*ssh.Client, error) {
	deadline := time.Now().Add(clientConfig.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	ncc, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		_ = conn.Close()
		return nil, &TransportError{
			Op:          "handshake",
			Err:         err,
			IsTemporary: isTimeout(err),
			IsAuthError: strings.Contains(err.Error(), "unable to authenticate"),
		}
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(ncc, chans, reqs), nil
}

func (c *Client) dialViaProxy(ctx context.Context, targetConfig *ssh.ClientConfig) (*ssh.Client, *ssh.Client, error) {
	proxyAddress := c.config.ProxyAddress()
	log.Debug().Str("proxy", proxyAddress).Msg("connecting to proxy host")

	proxy, err := dial(ctx, proxyAddress, targetConfig)
	if err != nil {
		return nil, nil, &TransportError{Op: "connect-proxy", Err: err, IsTemporary: true}
	}

	targetAddress := c.config.Address()
	conn, err := proxy.DialContext(ctx, "tcp", targetAddress)
	if err != nil {
		_ = proxy.Close()
		return nil, nil, &TransportError{Op: "connect-via-proxy", Err: err, IsTemporary: true}
	}

	client, err := handshake(ctx, conn, targetAddress, targetConfig)
	if err != nil {
		_ = proxy.Close()
		return nil, nil, err
	}
	return client, proxy, nil
}

// Close closes the connection and the jump host connection, if any.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	if c.proxy != nil {
		_ = c.proxy.Close()
	}
	c.client = nil
	c.proxy = nil

	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

// IsConnected returns true if the transport has an active connection.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.client != nil
}

// Run executes cmd in a new session and returns its trimmed output. A
// non-zero exit status is returned as a TransportError carrying the code.
func (c *Client) Run(ctx context.Context, cmd string) (*ExecResult, error) {
	c.connMu.RLock()
	client := c.client
	c.connMu.RUnlock()
	if client == nil {
		return nil, &TransportError{Op: "execute", Err: fmt.Errorf("not connected")}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{
			Op:          "execute",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	result := &ExecResult{StartedAt: time.Now()}
	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		execErr = ctx.Err()
	case execErr = <-done:
	}

	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Stdout = strings.TrimSpace(stdoutBuf.String())
	result.Stderr = strings.TrimSpace(stderrBuf.String())

	log.Debug().
		Str("command", cmd).
		Dur("duration", result.Duration).
		Err(execErr).
		Msg("command completed")

	var exitErr *ssh.ExitError
	switch {
	case execErr == nil:
		return result, nil
	case errors.As(execErr, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
		return result, &TransportError{
			Op:  "execute",
			Err: fmt.Errorf("command exited with code %d: %s", result.ExitCode, result.Stderr),
		}
	default:
		return result, &TransportError{Op: "execute", Err: execErr, IsTemporary: true}
	}
}

// GetConnectionInfo returns information about the current connection.
func (c *Client) GetConnectionInfo() ConnectionInfo {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	return ConnectionInfo{
		Host:        c.config.Host,
		Port:        c.config.Port,
		User:        c.config.User,
		ConnectedAt: c.connectedAt,
		ViaProxy:    c.proxy != nil,
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
