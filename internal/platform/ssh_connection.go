package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/opd-ai/go-procmon/internal/monitor"
)

// ConnectionState is the state of the SSH link to a remote host.
type ConnectionState int32

const (
	ConnectionStateDisconnected ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateConnected
	// ConnectionStateReconnecting means the link was lost and is being
	// re-dialled with backoff. Remote ticks fail until it is back.
	ConnectionStateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ConnectionStats describes the SSH link for health reporting.
type ConnectionStats struct {
	State          ConnectionState
	ConnectedSince time.Time
	// ReconnectAttempts counts the attempts of the reconnection in
	// progress; it is zero while connected.
	ReconnectAttempts int64
	Reconnects        int64
	LastError         error
	LastErrorTime     time.Time
	// Commands counts remote commands started, one per session.
	Commands         int64
	CommandsFailed   int64
	KeepalivesSent   int64
	KeepalivesFailed int64
}

// SSHConnectionConfig tunes keepalive and reconnection of the SSH link.
type SSHConnectionConfig struct {
	// KeepAliveInterval is the time between keepalive requests. Default 30s;
	// negative disables keepalives.
	KeepAliveInterval time.Duration
	// KeepAliveTimeout bounds one request. Default 15s.
	KeepAliveTimeout time.Duration
	// MaxReconnectAttempts stops reconnecting after that many failed
	// dials. Zero retries forever.
	MaxReconnectAttempts int
	// InitialReconnectDelay and MaxReconnectDelay bound the exponential
	// backoff between dials. Defaults 1s and 5m.
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	// OnStateChange is called synchronously on every state change.
	OnStateChange func(from, to ConnectionState)
	Logger        monitor.Logger
}

// dialFunc opens an SSH client connection.
type dialFunc func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

var errKeepaliveTimeout = errors.New("ssh keepalive timed out")

// sshLink is the single SSH connection a remote platform runs its procfs
// commands over. It re-dials with backoff when the connection ends or a
// command or keepalive shows the transport is gone.
type sshLink struct {
	addr      string
	clientCfg *ssh.ClientConfig
	cfg       SSHConnectionConfig
	dial      dialFunc
	logger    monitor.Logger

	state atomic.Int32

	mu        sync.Mutex
	client    *ssh.Client
	since     time.Time
	lastErr   error
	lastErrAt time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	commands         atomic.Int64
	commandsFailed   atomic.Int64
	keepalives       atomic.Int64
	keepalivesFailed atomic.Int64
	reconnects       atomic.Int64
	attempts         atomic.Int64
}

func newSSHLink(addr string, clientCfg *ssh.ClientConfig, cfg SSHConnectionConfig) *sshLink {
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = 30 * time.Second
	}
	if cfg.KeepAliveTimeout == 0 {
		cfg.KeepAliveTimeout = 15 * time.Second
	}
	if cfg.InitialReconnectDelay == 0 {
		cfg.InitialReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay == 0 {
		cfg.MaxReconnectDelay = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = monitor.NopLogger()
	}
	return &sshLink{
		addr:      addr,
		clientCfg: clientCfg,
		cfg:       cfg,
		dial:      ssh.Dial,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// open dials the host once. ctx bounds only the dial; the link then
// lives until close.
func (l *sshLink) open(ctx context.Context) error {
	if !l.transition(ConnectionStateDisconnected, ConnectionStateConnecting) {
		return fmt.Errorf("ssh link to %s already %s", l.addr, l.State())
	}

	type result struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := l.dial("tcp", l.addr, l.clientCfg)
		ch <- result{c, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.client != nil {
				_ = r.client.Close()
			}
		}()
		res.err = ctx.Err()
	}
	if res.err != nil {
		l.recordError(res.err)
		l.transition(ConnectionStateConnecting, ConnectionStateDisconnected)
		return fmt.Errorf("failed to connect to %s: %w", l.addr, res.err)
	}

	l.attach(res.client)
	l.transition(ConnectionStateConnecting, ConnectionStateConnected)
	l.logger.Info("ssh connected", "address", l.addr)

	if l.cfg.KeepAliveInterval > 0 {
		l.wg.Add(1)
		go l.keepalive()
	}
	return nil
}

// close stops keepalives and reconnection and closes the client.
// It is safe to call more than once.
func (l *sshLink) close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	l.wg.Wait()

	l.mu.Lock()
	client := l.client
	l.client = nil
	l.mu.Unlock()

	if prev := l.State(); prev != ConnectionStateDisconnected {
		l.transition(prev, ConnectionStateDisconnected)
	}
	if client != nil {
		return client.Close()
	}
	return nil
}

func (l *sshLink) stopped() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

func (l *sshLink) attach(client *ssh.Client) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped() {
		_ = client.Close()
		return
	}
	l.client = client
	l.since = time.Now()
	go l.watch(client)
}

// watch reports the loss of client once its connection ends, unless the
// link has already dropped or replaced it.
func (l *sshLink) watch(client *ssh.Client) {
	err := client.Wait()
	if l.current() != client {
		return
	}
	if err == nil {
		err = io.EOF
	}
	l.lost(err)
}

func (l *sshLink) current() *ssh.Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client
}

// run executes cmd in a new session and returns its stdout. On timeout
// the remote process is killed. A transport failure starts reconnection.
func (l *sshLink) run(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	client := l.current()
	if client == nil {
		return "", fmt.Errorf("%w (%s)", ErrNotConnected, l.State())
	}
	session, err := client.NewSession()
	if err != nil {
		l.commandFailed(err)
		return "", fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()
	l.commands.Add(1)

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case err := <-done:
		if err != nil {
			l.commandFailed(err)
			return "", fmt.Errorf("command failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
		}
		return stdout.String(), nil
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		l.commandsFailed.Add(1)
		return "", fmt.Errorf("command %q: %w", cmd, ctx.Err())
	}
}

func (l *sshLink) commandFailed(err error) {
	l.commandsFailed.Add(1)
	if isTransportError(err) {
		l.lost(err)
	}
}

// State returns the current link state.
func (l *sshLink) State() ConnectionState {
	return ConnectionState(l.state.Load())
}

func (l *sshLink) stats() ConnectionStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ConnectionStats{
		State:             l.State(),
		ConnectedSince:    l.since,
		ReconnectAttempts: l.attempts.Load(),
		Reconnects:        l.reconnects.Load(),
		LastError:         l.lastErr,
		LastErrorTime:     l.lastErrAt,
		Commands:          l.commands.Load(),
		CommandsFailed:    l.commandsFailed.Load(),
		KeepalivesSent:    l.keepalives.Load(),
		KeepalivesFailed:  l.keepalivesFailed.Load(),
	}
}

func (l *sshLink) keepalive() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}
		if l.State() != ConnectionStateConnected {
			continue
		}
		if err := l.ping(); err != nil {
			l.keepalivesFailed.Add(1)
			l.logger.Warn("ssh keepalive failed", "address", l.addr, "error", err)
			l.lost(err)
			continue
		}
		l.keepalives.Add(1)
	}
}

func (l *sshLink) ping() error {
	client := l.current()
	if client == nil {
		return ErrNotConnected
	}
	done := make(chan error, 1)
	go func() {
		_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
		done <- err
	}()

	timer := time.NewTimer(l.cfg.KeepAliveTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		// a rejected request still proves the peer answered
		if isTransportError(err) {
			return err
		}
		return nil
	case <-timer.C:
		return errKeepaliveTimeout
	case <-l.stop:
		return nil
	}
}

// lost drops a dead client and re-dials in the background. Only the first
// report of a loss starts a reconnection.
func (l *sshLink) lost(err error) {
	if l.stopped() {
		return
	}
	l.recordError(err)
	if !l.transition(ConnectionStateConnected, ConnectionStateReconnecting) {
		return
	}
	l.logger.Warn("ssh link lost", "address", l.addr, "error", err)

	l.mu.Lock()
	if l.client != nil {
		_ = l.client.Close()
		l.client = nil
	}
	l.mu.Unlock()

	l.wg.Add(1)
	go l.reconnect()
}

func (l *sshLink) reconnect() {
	defer l.wg.Done()

	for attempt := 1; ; attempt++ {
		if max := l.cfg.MaxReconnectAttempts; max > 0 && attempt > max {
			l.logger.Error("ssh reconnection abandoned", "address", l.addr, "attempts", max)
			l.transition(ConnectionStateReconnecting, ConnectionStateDisconnected)
			return
		}
		l.attempts.Store(int64(attempt))

		client, err := l.dial("tcp", l.addr, l.clientCfg)
		if err == nil {
			l.attach(client)
			l.reconnects.Add(1)
			l.attempts.Store(0)
			l.transition(ConnectionStateReconnecting, ConnectionStateConnected)
			l.logger.Info("ssh reconnected", "address", l.addr, "attempts", attempt)
			return
		}

		l.recordError(err)
		delay := backoff(attempt, l.cfg.InitialReconnectDelay, l.cfg.MaxReconnectDelay)
		l.logger.Warn("ssh reconnection failed", "address", l.addr,
			"attempt", attempt, "retry_in", delay, "error", err)
		select {
		case <-l.stop:
			l.transition(ConnectionStateReconnecting, ConnectionStateDisconnected)
			return
		case <-time.After(delay):
		}
	}
}

func (l *sshLink) transition(from, to ConnectionState) bool {
	if !l.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if l.cfg.OnStateChange != nil {
		l.cfg.OnStateChange(from, to)
	}
	return true
}

func (l *sshLink) recordError(err error) {
	l.mu.Lock()
	l.lastErr = err
	l.lastErrAt = time.Now()
	l.mu.Unlock()
}

// isTransportError reports whether err means the connection itself is
// gone, as opposed to a remote command exiting non-zero.
func isTransportError(err error) bool {
	var exit *ssh.ExitError
	var missing *ssh.ExitMissingError
	switch {
	case err == nil, errors.As(err, &exit):
		return false
	case errors.As(err, &missing),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// backoff returns initial doubled once per earlier attempt, capped at ceiling.
func backoff(attempt int, initial, ceiling time.Duration) time.Duration {
	d := initial
	for i := 1; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	return min(d, ceiling)
}
