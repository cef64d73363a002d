// Package tunnel implements the SSH reverse-tunnel manager: it dials an SSH
// server, requests remote listeners for a set of (remotePort, localPort)
// pairs, and relays each accepted remote stream to a local dial. Connection
// lifecycle (keepalive, reconnect-with-cleanup, graceful shutdown) follows
// the teacher's ticker/context-cancel shutdown shape
// (internal/service/health_checker.go's Start/Stop) generalized to a
// single long-lived SSH session instead of a periodic HTTP probe.
package tunnel

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Credential is exactly one of PrivateKeyPath or Password.
type Credential struct {
	PrivateKeyPath string
	Password       string
}

// PortPair is one remote-listen/local-dial forward.
type PortPair struct {
	RemotePort int
	LocalPort  int
}

// Config configures the Manager's upstream SSH server and forwards.
type Config struct {
	Host              string
	Port              int
	Username          string
	Credential        Credential
	Pairs             []PortPair
	ReconnectInterval time.Duration
}

const (
	keepAliveInterval   = 10 * time.Second
	keepAliveMaxMissed  = 3
	readyTimeout        = 15 * time.Second
	forceDestroyTimeout = 2 * time.Second
)

// Manager owns one SSH connection and the listeners/relays built on top of
// it. It is safe to call Shutdown concurrently with an in-progress connect
// or reconnect.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	client    *ssh.Client
	destroyed bool
	reconnect *time.Timer

	wg sync.WaitGroup
}

// New constructs a Manager; call Start to connect.
func New(cfg Config, logger *zap.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger}
}

// Start dials the SSH server and establishes every configured forward. It
// returns once the initial connection attempt completes (success or
// failure); failures thereafter are handled by the internal reconnect loop.
func (m *Manager) Start() error {
	return m.connect()
}

func (m *Manager) connect() error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return fmt.Errorf("tunnel manager already shut down")
	}
	m.mu.Unlock()

	authMethod, err := m.authMethod()
	if err != nil {
		return fmt.Errorf("build ssh auth method: %w", err)
	}

	clientCfg := &ssh.ClientConfig{
		User:            m.cfg.Username,
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         readyTimeout,
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		m.logger.Warn("ssh dial failed", zap.String("addr", addr), zap.Error(err))
		m.scheduleReconnect()
		return err
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		_ = client.Close()
		return fmt.Errorf("tunnel manager already shut down")
	}
	m.client = client
	m.mu.Unlock()

	m.logger.Info("ssh tunnel connected", zap.String("addr", addr), zap.Int("pairs", len(m.cfg.Pairs)))

	for _, pair := range m.cfg.Pairs {
		if err := m.forward(client, pair); err != nil {
			m.logger.Error("failed to establish forward", zap.Int("remote_port", pair.RemotePort), zap.Error(err))
		}
	}

	m.wg.Add(1)
	go m.keepAliveLoop(client)

	m.wg.Add(1)
	go m.waitForDisconnect(client)

	return nil
}

func (m *Manager) authMethod() (ssh.AuthMethod, error) {
	if m.cfg.Credential.PrivateKeyPath != "" {
		path := expandHome(m.cfg.Credential.PrivateKeyPath)
		keyBytes, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read private key %s: %w", path, err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("parse private key %s: %w", path, err)
		}
		return ssh.PublicKeys(signer), nil
	}
	return ssh.Password(m.cfg.Credential.Password), nil
}

// expandHome expands a leading "~" to the invoking user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// forward requests a remote listener on 127.0.0.1:remotePort and relays
// each accepted stream to a local dial of 127.0.0.1:localPort.
func (m *Manager) forward(client *ssh.Client, pair PortPair) error {
	remoteAddr := fmt.Sprintf("127.0.0.1:%d", pair.RemotePort)
	listener, err := client.Listen("tcp", remoteAddr)
	if err != nil {
		return fmt.Errorf("remote listen on %s: %w", remoteAddr, err)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer listener.Close()
		for {
			remoteConn, err := listener.Accept()
			if err != nil {
				return
			}
			m.wg.Add(1)
			go m.relay(remoteConn, pair.LocalPort)
		}
	}()
	return nil
}

func (m *Manager) relay(remoteConn net.Conn, localPort int) {
	defer m.wg.Done()
	defer remoteConn.Close()

	localAddr := fmt.Sprintf("127.0.0.1:%d", localPort)
	localConn, err := net.DialTimeout("tcp", localAddr, readyTimeout)
	if err != nil {
		m.logger.Warn("local dial failed", zap.String("addr", localAddr), zap.Error(err))
		return
	}
	defer localConn.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(localConn, remoteConn)
		closeWrite(localConn)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(remoteConn, localConn)
		closeWrite(remoteConn)
	}()
	wg.Wait()
}

// closeWrite half-closes the write side when the underlying conn supports
// it, letting the peer observe EOF without tearing down the whole relay
// immediately.
func closeWrite(conn net.Conn) {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := conn.(writeCloser); ok {
		_ = wc.CloseWrite()
	}
}

func (m *Manager) keepAliveLoop(client *ssh.Client) {
	defer m.wg.Done()
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	missed := 0
	for range ticker.C {
		m.mu.Lock()
		current := m.client
		destroyed := m.destroyed
		m.mu.Unlock()
		if destroyed || current != client {
			return
		}

		ok, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
		if err != nil || !ok {
			missed++
			if missed >= keepAliveMaxMissed {
				m.logger.Warn("ssh keepalive missed threshold, closing connection", zap.Int("missed", missed))
				_ = client.Close()
				return
			}
			continue
		}
		missed = 0
	}
}

// waitForDisconnect blocks until the SSH connection closes, then schedules
// a reconnect unless the manager has been shut down deliberately.
func (m *Manager) waitForDisconnect(client *ssh.Client) {
	defer m.wg.Done()
	_ = client.Wait()

	m.mu.Lock()
	destroyed := m.destroyed
	if m.client == client {
		m.client = nil
	}
	m.mu.Unlock()

	if destroyed {
		return
	}
	m.logger.Warn("ssh tunnel disconnected, scheduling reconnect")
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	interval := m.cfg.ReconnectInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	if m.reconnect != nil {
		m.reconnect.Stop()
	}
	m.reconnect = time.AfterFunc(interval, func() {
		m.cleanupStaleListeners()
		if err := m.connect(); err != nil {
			m.logger.Warn("reconnect attempt failed", zap.Error(err))
		}
	})
}

// cleanupStaleListeners best-effort kills any server-side listener left
// bound to a configured remote port from a previous session, using a
// throwaway SSH session over a fresh dial (the old client is already gone
// by the time this runs).
func (m *Manager) cleanupStaleListeners() {
	authMethod, err := m.authMethod()
	if err != nil {
		return
	}
	clientCfg := &ssh.ClientConfig{
		User:            m.cfg.Username,
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         readyTimeout,
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return
	}
	defer client.Close()

	for _, pair := range m.cfg.Pairs {
		session, err := client.NewSession()
		if err != nil {
			continue
		}
		cmd := fmt.Sprintf("fuser -k %d/tcp || true", pair.RemotePort)
		_ = session.Run(cmd)
		session.Close()
	}
}

// Shutdown sets the destroyed flag, cancels any pending reconnect timer, and
// closes the SSH client. It waits at most 2s (or until ctx is done) for that
// Close to return; when the wait runs out it returns an error and does
// nothing further to the connection.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.destroyed = true
	if m.reconnect != nil {
		m.reconnect.Stop()
	}
	client := m.client
	m.mu.Unlock()

	if client == nil {
		return nil
	}

	closed := make(chan error, 1)
	go func() { closed <- client.Close() }()

	select {
	case err := <-closed:
		m.wg.Wait()
		return err
	case <-time.After(forceDestroyTimeout):
		return fmt.Errorf("ssh session close did not complete within %s", forceDestroyTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
