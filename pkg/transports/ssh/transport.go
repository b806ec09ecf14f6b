// Package ssh checks that declared lab hosts accept SSH logins before they
// are handed to the controller.
package ssh

import (
	"context"
	"time"
)

// Transport is an SSH connection that can run commands.
type Transport interface {
	// Connect establishes an SSH connection to the remote host.
	Connect(ctx context.Context) error

	// Close releases the connection.
	Close() error

	IsConnected() bool

	// Run executes a command on the remote host.
	Run(ctx context.Context, cmd string) (*ExecResult, error)

	GetConnectionInfo() ConnectionInfo
}

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	Host        string
	Port        int
	User        string
	ConnectedAt time.Time
	ViaProxy    bool
}

// ExecResult represents the result of a command execution.
type ExecResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "execute")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
