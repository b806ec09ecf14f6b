package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// testSSHServer provides a minimal SSH server for testing.
type testSSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	hostname string
	done     chan struct{}
}

// newTestSSHServer creates a new test SSH server.
func newTestSSHServer(t *testing.T) *testSSHServer {
	// Generate a test host key
	_, privateKey, err := generateTestKey()
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "testuser" && string(pass) == "testpass" {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			if c.User() == "denied" {
				return nil, fmt.Errorf("public key rejected")
			}
			return nil, nil
		},
	}

	config.AddHostKey(privateKey)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	server := &testSSHServer{
		listener: listener,
		config:   config,
		addr:     listener.Addr().String(),
		hostname: "lab-host",
		done:     make(chan struct{}),
	}

	go server.serve()

	return server
}

// serve handles incoming connections.
func (s *testSSHServer) serve() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}

		go s.handleConnection(conn)
	}
}

// handleConnection handles a single SSH connection.
func (s *testSSHServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}

		go s.handleChannel(channel, requests)
	}
}

// handleChannel handles a single SSH channel.
func (s *testSSHServer) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "exec":
			command := string(req.Payload[4:]) // Skip the length prefix

			if req.WantReply {
				req.Reply(true, nil)
			}

			// Handle specific test commands
			switch command {
			case "true":
				channel.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
			case "echo test":
				channel.Write([]byte("test\n"))
				channel.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
			case "hostname":
				channel.Write([]byte(s.hostname + "\n"))
				channel.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
			case "echo error >&2":
				channel.Stderr().Write([]byte("error\n"))
				channel.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
			case "sleep":
				select {
				case <-s.done:
				case <-time.After(5 * time.Second):
				}
				channel.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
			case "exit 1":
				channel.SendRequest("exit-status", false, []byte{0, 0, 0, 1})
			default:
				channel.Write([]byte("command: " + command + "\n"))
				channel.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
			}

			return

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// close shuts down the test server.
func (s *testSSHServer) close() {
	close(s.done)
	s.listener.Close()
}

// generateTestKey generates a test SSH key pair.
func generateTestKey() (ssh.PublicKey, ssh.Signer, error) {
	// Generate ED25519 key pair dynamically
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	signer, err := ssh.NewSignerFromKey(privKey)
	if err != nil {
		return nil, nil, err
	}

	publicKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, nil, err
	}

	return publicKey, signer, nil
}

// writeTestKey writes a fresh ED25519 private key and returns its path.
func writeTestKey(t *testing.T) string {
	t.Helper()

	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	pemBlock, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
	return keyPath
}

func newConnectedClient(t *testing.T, server *testSSHServer) *Client {
	t.Helper()

	host, port := parseAddress(server.addr)
	config := DefaultConfig(host, "testuser")
	config.Port = port
	config.AuthMethod = AuthMethodPassword
	config.Password = "testpass"
	config.ConnectionTimeout = 5 * time.Second

	client, err := NewClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClientConnect(t *testing.T) {
	server := newTestSSHServer(t)
	defer server.close()

	client := newConnectedClient(t, server)
	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}

	host, _ := parseAddress(server.addr)
	info := client.GetConnectionInfo()
	if info.Host != host {
		t.Errorf("expected host '%s', got '%s'", host, info.Host)
	}
	if info.User != "testuser" {
		t.Errorf("expected user 'testuser', got '%s'", info.User)
	}
	if info.ViaProxy {
		t.Error("expected a direct connection")
	}

	// Connecting again reuses the connection.
	if err := client.Connect(context.Background()); err != nil {
		t.Errorf("second connect failed: %v", err)
	}
}

func TestClientClose(t *testing.T) {
	server := newTestSSHServer(t)
	defer server.close()

	client := newConnectedClient(t, server)
	if err := client.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if client.IsConnected() {
		t.Error("expected client to be disconnected")
	}
	if err := client.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if _, err := client.Run(context.Background(), "true"); err == nil {
		t.Error("expected run on a closed client to fail")
	}
}

func TestClientRun(t *testing.T) {
	server := newTestSSHServer(t)
	defer server.close()

	client := newConnectedClient(t, server)
	ctx := context.Background()

	t.Run("stdout", func(t *testing.T) {
		result, err := client.Run(ctx, "echo test")
		if err != nil {
			t.Fatalf("command failed: %v", err)
		}
		if result.Stdout != "test" {
			t.Errorf("expected stdout 'test', got '%s'", result.Stdout)
		}
		if result.Stderr != "" {
			t.Errorf("expected empty stderr, got '%s'", result.Stderr)
		}
	})

	t.Run("stderr", func(t *testing.T) {
		result, err := client.Run(ctx, "echo error >&2")
		if err != nil {
			t.Fatalf("command failed: %v", err)
		}
		if result.Stderr != "error" {
			t.Errorf("expected stderr 'error', got '%s'", result.Stderr)
		}
	})

	t.Run("exit code", func(t *testing.T) {
		result, err := client.Run(ctx, "exit 1")
		if err == nil {
			t.Fatal("expected error for non-zero exit")
		}
		if result.ExitCode != 1 {
			t.Errorf("expected exit code 1, got %d", result.ExitCode)
		}
		var terr *TransportError
		if !errors.As(err, &terr) || terr.Temporary() {
			t.Errorf("expected a permanent TransportError, got %v", err)
		}
	})

	t.Run("hostname", func(t *testing.T) {
		result, err := client.Run(ctx, DefaultProbeCommand)
		if err != nil {
			t.Fatalf("command failed: %v", err)
		}
		if result.Stdout != "lab-host" {
			t.Errorf("expected 'lab-host', got '%s'", result.Stdout)
		}
	})
}

func TestClientRunTimeout(t *testing.T) {
	server := newTestSSHServer(t)
	defer server.close()

	client := newConnectedClient(t, server)
	client.config.CommandTimeout = 200 * time.Millisecond

	start := time.Now()
	_, err := client.Run(context.Background(), "sleep")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("command timeout was not enforced")
	}
}

func TestClientKeyBasedAuth(t *testing.T) {
	server := newTestSSHServer(t)
	defer server.close()

	host, port := parseAddress(server.addr)
	config := DefaultConfig(host, "testuser")
	config.Port = port
	config.PrivateKeyPath = writeTestKey(t)

	client, err := NewClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect with key auth: %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}
}

func TestClientAuthFailure(t *testing.T) {
	server := newTestSSHServer(t)
	defer server.close()

	host, port := parseAddress(server.addr)
	config := DefaultConfig(host, "denied")
	config.Port = port
	config.PrivateKeyPath = writeTestKey(t)

	client, err := NewClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	err = client.Connect(context.Background())
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !terr.IsAuthError {
		t.Errorf("expected an auth error, got %v", terr)
	}
}

func TestClientConnectRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	host, port := parseAddress(listener.Addr().String())
	listener.Close()

	config := DefaultConfig(host, "testuser")
	config.Port = port
	config.AuthMethod = AuthMethodPassword
	config.Password = "testpass"

	client, err := NewClient(config)
	if err != nil {
		t.Fatal(err)
	}
	err = client.Connect(context.Background())
	var terr *TransportError
	if !errors.As(err, &terr) || !terr.Temporary() {
		t.Errorf("expected a temporary TransportError, got %v", err)
	}
}

// parseAddress splits an address into host and port.
func parseAddress(addr string) (string, int) {
	host, portStr, _ := net.SplitHostPort(addr)
	port := 0
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}
