package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{ConnectionStateDisconnected, "disconnected"},
		{ConnectionStateConnecting, "connecting"},
		{ConnectionStateConnected, "connected"},
		{ConnectionStateReconnecting, "reconnecting"},
		{ConnectionState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("ConnectionState(%d).String() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestNewSSHLink_Defaults(t *testing.T) {
	l := newSSHLink("example.com:22", nil, SSHConnectionConfig{})

	if l.cfg.KeepAliveInterval != 30*time.Second {
		t.Errorf("KeepAliveInterval = %v, want 30s", l.cfg.KeepAliveInterval)
	}
	if l.cfg.KeepAliveTimeout != 15*time.Second {
		t.Errorf("KeepAliveTimeout = %v, want 15s", l.cfg.KeepAliveTimeout)
	}
	if l.cfg.InitialReconnectDelay != time.Second {
		t.Errorf("InitialReconnectDelay = %v, want 1s", l.cfg.InitialReconnectDelay)
	}
	if l.cfg.MaxReconnectDelay != 5*time.Minute {
		t.Errorf("MaxReconnectDelay = %v, want 5m", l.cfg.MaxReconnectDelay)
	}
	if l.logger == nil {
		t.Error("logger should default to a no-op logger")
	}
}

func TestSSHLink_Transition(t *testing.T) {
	var changes [][2]ConnectionState
	l := newSSHLink("example.com:22", nil, SSHConnectionConfig{
		OnStateChange: func(from, to ConnectionState) {
			changes = append(changes, [2]ConnectionState{from, to})
		},
	})

	if l.State() != ConnectionStateDisconnected {
		t.Errorf("initial State = %v, want disconnected", l.State())
	}
	if !l.transition(ConnectionStateDisconnected, ConnectionStateConnecting) {
		t.Error("transition from the current state should succeed")
	}
	if l.transition(ConnectionStateDisconnected, ConnectionStateConnected) {
		t.Error("transition from a stale state should fail")
	}
	if len(changes) != 1 || changes[0] != [2]ConnectionState{ConnectionStateDisconnected, ConnectionStateConnecting} {
		t.Errorf("state changes = %v, want one disconnected->connecting", changes)
	}
}

func TestSSHLink_OpenFailure(t *testing.T) {
	l := newSSHLink("example.com:22", &ssh.ClientConfig{}, SSHConnectionConfig{})
	dialErr := errors.New("connection refused")
	l.dial = func(string, string, *ssh.ClientConfig) (*ssh.Client, error) {
		return nil, dialErr
	}

	if err := l.open(context.Background()); !errors.Is(err, dialErr) {
		t.Fatalf("open() error = %v, want wrapped dial error", err)
	}
	if l.State() != ConnectionStateDisconnected {
		t.Errorf("State = %v, want disconnected after failed dial", l.State())
	}
	stats := l.stats()
	if !errors.Is(stats.LastError, dialErr) || stats.LastErrorTime.IsZero() {
		t.Errorf("LastError = %v at %v, want dial error with a time", stats.LastError, stats.LastErrorTime)
	}
	if _, err := l.run(context.Background(), "true", time.Second); !errors.Is(err, ErrNotConnected) {
		t.Errorf("run() while disconnected = %v, want ErrNotConnected", err)
	}
	if err := l.close(); err != nil {
		t.Errorf("close() error = %v", err)
	}
}

func TestSSHLink_OpenHonorsContext(t *testing.T) {
	l := newSSHLink("example.com:22", &ssh.ClientConfig{}, SSHConnectionConfig{})
	release := make(chan struct{})
	defer close(release)
	l.dial = func(string, string, *ssh.ClientConfig) (*ssh.Client, error) {
		<-release
		return nil, errors.New("too late")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.open(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("open() error = %v, want deadline exceeded", err)
	}
	if l.State() != ConnectionStateDisconnected {
		t.Errorf("State = %v, want disconnected", l.State())
	}
}

func TestSSHLink_ConcurrentStats(t *testing.T) {
	l := newSSHLink("example.com:22", nil, SSHConnectionConfig{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = l.State()
			_ = l.stats()
		}
	}()
	for i := 0; i < 100; i++ {
		l.state.Store(int32(i % 4))
		l.recordError(errors.New("flap"))
		l.commands.Add(1)
	}
	wg.Wait()

	if got := l.stats().Commands; got != 100 {
		t.Errorf("Commands = %d, want 100", got)
	}
}

func TestSSHLink_CloseIsIdempotent(t *testing.T) {
	l := newSSHLink("example.com:22", nil, SSHConnectionConfig{})
	l.state.Store(int32(ConnectionStateConnected))

	if err := l.close(); err != nil {
		t.Errorf("close() error = %v", err)
	}
	if err := l.close(); err != nil {
		t.Errorf("second close() error = %v", err)
	}
	if !l.stopped() {
		t.Error("link should be stopped after close()")
	}
	if l.State() != ConnectionStateDisconnected {
		t.Errorf("State = %v, want disconnected", l.State())
	}

	// a loss reported after close must not start a reconnection
	l.state.Store(int32(ConnectionStateConnected))
	l.lost(io.EOF)
	if l.State() != ConnectionStateConnected {
		t.Errorf("State after lost() on a closed link = %v, want unchanged", l.State())
	}
}

func TestIsTransportError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"remote exit status", &ssh.ExitError{}, false},
		{"wrapped exit status", fmt.Errorf("command failed: %w", &ssh.ExitError{}), false},
		{"plain error", errors.New("permission denied"), false},
		{"missing exit status", &ssh.ExitMissingError{}, true},
		{"eof", io.EOF, true},
		{"unexpected eof", fmt.Errorf("read packet: %w", io.ErrUnexpectedEOF), true},
		{"closed conn", fmt.Errorf("write: %w", net.ErrClosed), true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"broken pipe", syscall.EPIPE, true},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, true},
		{"net error", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("i/o timeout")}, true},
	}
	for _, tt := range tests {
		if got := isTransportError(tt.err); got != tt.want {
			t.Errorf("isTransportError(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := backoff(tt.attempt, time.Second, 10*time.Second); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestSSHLink_ReconnectGivesUp(t *testing.T) {
	var mu sync.Mutex
	var states []ConnectionState
	l := newSSHLink("example.com:22", &ssh.ClientConfig{}, SSHConnectionConfig{
		MaxReconnectAttempts:  2,
		InitialReconnectDelay: time.Millisecond,
		MaxReconnectDelay:     time.Millisecond,
		OnStateChange: func(_, to ConnectionState) {
			mu.Lock()
			states = append(states, to)
			mu.Unlock()
		},
	})
	dials := 0
	l.dial = func(string, string, *ssh.ClientConfig) (*ssh.Client, error) {
		dials++
		return nil, errors.New("no route to host")
	}
	l.state.Store(int32(ConnectionStateConnected))

	l.lost(syscall.EPIPE)
	l.wg.Wait()

	if l.State() != ConnectionStateDisconnected {
		t.Errorf("State = %v, want disconnected after giving up", l.State())
	}
	if dials != 2 {
		t.Errorf("dials = %d, want 2", dials)
	}
	if got := l.stats().ReconnectAttempts; got != 2 {
		t.Errorf("ReconnectAttempts = %d, want 2", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != ConnectionStateReconnecting || states[1] != ConnectionStateDisconnected {
		t.Errorf("state changes = %v, want [reconnecting disconnected]", states)
	}
	_ = l.close()
}
