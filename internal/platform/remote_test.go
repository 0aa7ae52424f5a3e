package platform

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/opd-ai/go-procmon/internal/monitor"
)

func TestNewSSHPlatform(t *testing.T) {
	tests := []struct {
		name    string
		config  RemoteConfig
		wantErr bool
	}{
		{
			name: "valid config with password auth",
			config: RemoteConfig{
				Host:       "example.com",
				User:       "testuser",
				AuthMethod: PasswordAuth{Password: "testpass"},
			},
		},
		{
			name: "valid config with key auth",
			config: RemoteConfig{
				Host:       "example.com",
				User:       "testuser",
				AuthMethod: KeyAuth{PrivateKeyPath: "/path/to/key"},
			},
		},
		{
			name: "missing host",
			config: RemoteConfig{
				User:       "testuser",
				AuthMethod: PasswordAuth{Password: "testpass"},
			},
			wantErr: true,
		},
		{
			name: "missing user",
			config: RemoteConfig{
				Host:       "example.com",
				AuthMethod: PasswordAuth{Password: "testpass"},
			},
			wantErr: true,
		},
		{
			name: "missing auth method",
			config: RemoteConfig{
				Host: "example.com",
				User: "testuser",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newSSHPlatform(tt.config, Target{}, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("newSSHPlatform() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRemoteConfig_Defaults(t *testing.T) {
	p, err := newSSHPlatform(RemoteConfig{
		Host:       "example.com",
		User:       "testuser",
		AuthMethod: AgentAuth{},
	}, Target{}, nil)
	if err != nil {
		t.Fatalf("newSSHPlatform() error = %v", err)
	}
	if p.config.Port != 22 {
		t.Errorf("Port = %d, want 22", p.config.Port)
	}
	if p.config.CommandTimeout != 5*time.Second {
		t.Errorf("CommandTimeout = %v, want 5s", p.config.CommandTimeout)
	}
	if p.Name() != "remote" {
		t.Errorf("Name() = %q before Initialize, want remote", p.Name())
	}
	if p.hostParams() != defaultHostParams {
		t.Errorf("hostParams() = %+v, want defaults", p.hostParams())
	}
}

func TestSSHPlatform_NotConnected(t *testing.T) {
	p, err := newSSHPlatform(RemoteConfig{
		Host:       "example.com",
		User:       "testuser",
		AuthMethod: PasswordAuth{Password: "x"},
	}, Target{}, nil)
	if err != nil {
		t.Fatalf("newSSHPlatform() error = %v", err)
	}

	if _, err := p.runCommand(context.Background(), "true"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("runCommand() before Initialize = %v, want ErrNotConnected", err)
	}
	if _, err := p.Processes().Processes(context.Background()); err == nil {
		t.Error("Processes() should fail before Initialize")
	}
	if p.Liveness().Alive(1) {
		t.Error("Alive() should be false without a connection")
	}
	if stats := p.ConnectionStats(); stats.State != ConnectionStateDisconnected {
		t.Errorf("ConnectionStats().State = %v, want disconnected", stats.State)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestBuildSSHConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		auth AuthMethod
		env  string
	}{
		{"missing key file", KeyAuth{PrivateKeyPath: filepath.Join(t.TempDir(), "nope")}, "/tmp/agent.sock"},
		{"agent without socket", AgentAuth{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SSH_AUTH_SOCK", tt.env)
			p, err := newSSHPlatform(RemoteConfig{
				Host:                  "example.com",
				User:                  "testuser",
				AuthMethod:            tt.auth,
				InsecureIgnoreHostKey: true,
			}, Target{}, nil)
			if err != nil {
				t.Fatalf("newSSHPlatform() error = %v", err)
			}
			if _, err := p.buildSSHConfig(); err == nil {
				t.Error("buildSSHConfig() expected error")
			}
		})
	}
}

func TestBuildSSHConfig_UnparsableKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := newSSHPlatform(RemoteConfig{
		Host:                  "example.com",
		User:                  "testuser",
		AuthMethod:            KeyAuth{PrivateKeyPath: keyPath},
		InsecureIgnoreHostKey: true,
	}, Target{}, nil)
	if err != nil {
		t.Fatalf("newSSHPlatform() error = %v", err)
	}
	if _, err := p.buildSSHConfig(); err == nil || !strings.Contains(err.Error(), "parse private key") {
		t.Errorf("buildSSHConfig() error = %v, want parse failure", err)
	}
}

func TestBuildHostKeyCallback(t *testing.T) {
	tests := []struct {
		name      string
		config    RemoteConfig
		wantErr   bool
		errSubstr string
	}{
		{
			name: "custom callback takes precedence",
			config: RemoteConfig{
				Host:       "example.com",
				User:       "testuser",
				AuthMethod: PasswordAuth{Password: "testpass"},
				HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
					return nil
				},
			},
		},
		{
			name: "insecure mode with explicit flag",
			config: RemoteConfig{
				Host:                  "example.com",
				User:                  "testuser",
				AuthMethod:            PasswordAuth{Password: "testpass"},
				InsecureIgnoreHostKey: true,
			},
		},
		{
			name: "nonexistent known_hosts file",
			config: RemoteConfig{
				Host:           "example.com",
				User:           "testuser",
				AuthMethod:     PasswordAuth{Password: "testpass"},
				KnownHostsPath: "/nonexistent/path/known_hosts",
			},
			wantErr:   true,
			errSubstr: "known_hosts file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := newSSHPlatform(tt.config, Target{}, nil)
			if err != nil {
				t.Fatalf("newSSHPlatform() error = %v", err)
			}

			callback, err := p.buildHostKeyCallback()
			if (err != nil) != tt.wantErr {
				t.Errorf("buildHostKeyCallback() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && tt.errSubstr != "" && !strings.Contains(err.Error(), tt.errSubstr) {
				t.Errorf("buildHostKeyCallback() error = %v, want error containing %q", err, tt.errSubstr)
			}
			if !tt.wantErr && callback == nil {
				t.Errorf("buildHostKeyCallback() returned nil callback without error")
			}
		})
	}
}

func TestBuildHostKeyCallbackWithValidKnownHosts(t *testing.T) {
	knownHostsPath := filepath.Join(t.TempDir(), "known_hosts")
	knownHostsContent := "example.com ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIBaLR4I4jx/L5oqjNBl0r/QJLCC0BFmPdCLzU4mQD8vS\n"
	if err := os.WriteFile(knownHostsPath, []byte(knownHostsContent), 0o600); err != nil {
		t.Fatalf("Failed to write known_hosts file: %v", err)
	}

	p, err := newSSHPlatform(RemoteConfig{
		Host:           "example.com",
		User:           "testuser",
		AuthMethod:     PasswordAuth{Password: "testpass"},
		KnownHostsPath: knownHostsPath,
	}, Target{}, nil)
	if err != nil {
		t.Fatalf("newSSHPlatform() error = %v", err)
	}

	callback, err := p.buildHostKeyCallback()
	if err != nil {
		t.Errorf("buildHostKeyCallback() error = %v", err)
	}
	if callback == nil {
		t.Errorf("buildHostKeyCallback() returned nil callback")
	}
}

func TestCmdlineCommand(t *testing.T) {
	if got := cmdlineCommand([]int{100, 101}); !strings.HasPrefix(got, "for p in 100 101; do") {
		t.Errorf("cmdlineCommand(pids) = %q", got)
	}
	if got := cmdlineCommand(nil); !strings.HasPrefix(got, "for d in /proc/[0-9]*;") {
		t.Errorf("cmdlineCommand(nil) = %q", got)
	}
}

// fakeHost is an in-process SSH server that answers exec requests from a
// fixed command table.
type fakeHost struct {
	t        *testing.T
	listener net.Listener
	hostKey  ssh.Signer

	mu       sync.Mutex
	commands []string
	conns    []net.Conn
	reply    func(cmd string) (string, uint32)
}

func newFakeHost(t *testing.T, reply func(cmd string) (string, uint32)) *fakeHost {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	h := &fakeHost{t: t, listener: l, hostKey: signer, reply: reply}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) != "secret" {
				return nil, ssh.ErrNoAuth
			}
			return nil, nil
		},
	}
	cfg.AddHostKey(signer)

	go h.serve(cfg)
	t.Cleanup(func() { _ = l.Close() })
	return h
}

func (h *fakeHost) serve(cfg *ssh.ServerConfig) {
	for {
		nc, err := h.listener.Accept()
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conns = append(h.conns, nc)
		h.mu.Unlock()
		go func() {
			_, chans, reqs, err := ssh.NewServerConn(nc, cfg)
			if err != nil {
				_ = nc.Close()
				return
			}
			go ssh.DiscardRequests(reqs)
			for nch := range chans {
				if nch.ChannelType() != "session" {
					_ = nch.Reject(ssh.UnknownChannelType, "session only")
					continue
				}
				ch, chReqs, err := nch.Accept()
				if err != nil {
					continue
				}
				go h.session(ch, chReqs)
			}
		}()
	}
}

func (h *fakeHost) session(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}
		_ = req.Reply(true, nil)

		h.mu.Lock()
		h.commands = append(h.commands, payload.Command)
		h.mu.Unlock()

		out, status := h.reply(payload.Command)
		_, _ = ch.Write([]byte(out))
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
		return
	}
}

// dropConnections closes every accepted connection from the host side.
func (h *fakeHost) dropConnections() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, nc := range h.conns {
		_ = nc.Close()
	}
	h.conns = nil
}

func (h *fakeHost) config() RemoteConfig {
	port := h.listener.Addr().(*net.TCPAddr).Port
	return RemoteConfig{
		Host:            "127.0.0.1",
		Port:            port,
		User:            "monitor",
		AuthMethod:      PasswordAuth{Password: "secret"},
		HostKeyCallback: ssh.FixedHostKey(h.hostKey.PublicKey()),
		CommandTimeout:  5 * time.Second,
		Connection:      SSHConnectionConfig{KeepAliveInterval: -1},
	}
}

// linuxHost answers the commands the remote platform issues against a
// three-process Electron tree.
func linuxHost(cmd string) (string, uint32) {
	switch {
	case cmd == "uname -s":
		return "Linux\n", 0
	case cmd == hostParamsCommand:
		return "100\n4096\nbtime 1700000000\n", 0
	case cmd == statCommand:
		return statLine(1, 0, "systemd", 10, 10, 1, 1, 100) + "\n" +
			statLine(100, 1, "electron", 250, 50, 30, 1000, 2500) + "\n" +
			statLine(101, 100, "electron", 100, 0, 12, 1100, 5000) + "\n" +
			statLine(102, 100, "electron", 20, 0, 8, 1050, 1500) + "\n" +
			"103 (trunc\n", 0
	case strings.HasPrefix(cmd, "for p in 100 101 102;"):
		return "100 /opt/app/electron\n" +
			"101 /opt/app/electron --type=renderer\n" +
			"102 /opt/app/electron --type=gpu-process --no-sandbox\n", 0
	case cmd == psCommand:
		return "    1     0 systemd\n  100     1 electron\n  101   100 electron\n", 0
	case cmd == aliveCommand(100):
		return "alive\n", 0
	case cmd == inspectCommand(101):
		return "/opt/app/electron --type=renderer\nName:\telectron\nState:\tS (sleeping)\nThreads:\t12\nFiles: 40\nExe: /opt/app/electron\n", 0
	case strings.HasPrefix(cmd, "test -d /proc/"):
		return "", 0
	}
	return "", 127
}

func initFakePlatform(t *testing.T, host *fakeHost, target Target) *sshPlatform {
	t.Helper()
	p, err := newSSHPlatform(host.config(), target, nil)
	if err != nil {
		t.Fatalf("newSSHPlatform() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestSSHPlatform_Initialize(t *testing.T) {
	host := newFakeHost(t, linuxHost)
	p := initFakePlatform(t, host, Target{})

	if p.Name() != "remote-linux" {
		t.Errorf("Name() = %q, want remote-linux", p.Name())
	}
	params := p.hostParams()
	if !params.bootTime.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("bootTime = %v", params.bootTime)
	}
	stats := p.ConnectionStats()
	if stats.State != ConnectionStateConnected {
		t.Errorf("State = %v, want connected", stats.State)
	}
	if stats.Commands < 2 {
		t.Errorf("Commands = %d, want at least 2", stats.Commands)
	}
}

func TestSSHPlatform_InitializeRejectsNonLinux(t *testing.T) {
	host := newFakeHost(t, func(cmd string) (string, uint32) {
		if cmd == "uname -s" {
			return "Darwin\n", 0
		}
		return "", 127
	})
	p, err := newSSHPlatform(host.config(), Target{}, nil)
	if err != nil {
		t.Fatalf("newSSHPlatform() error = %v", err)
	}
	err = p.Initialize(context.Background())
	if err == nil || !strings.Contains(err.Error(), "darwin") {
		t.Errorf("Initialize() error = %v, want unsupported OS", err)
	}
}

func TestSSHPlatform_InitializeWrongPassword(t *testing.T) {
	host := newFakeHost(t, linuxHost)
	cfg := host.config()
	cfg.AuthMethod = PasswordAuth{Password: "wrong"}
	p, err := newSSHPlatform(cfg, Target{}, nil)
	if err != nil {
		t.Fatalf("newSSHPlatform() error = %v", err)
	}
	if err := p.Initialize(context.Background()); err == nil {
		t.Error("Initialize() should fail with a rejected password")
	}
}

func TestSSHPlatform_AppMetrics(t *testing.T) {
	host := newFakeHost(t, linuxHost)
	p := initFakePlatform(t, host, Target{RootPID: 100})

	metrics, err := p.AppMetrics().AppMetrics(context.Background())
	if err != nil {
		t.Fatalf("AppMetrics() error = %v", err)
	}
	if len(metrics) != 3 {
		t.Fatalf("got %d metrics, want 3", len(metrics))
	}

	byPID := make(map[int]monitor.RawAppMetric)
	for _, m := range metrics {
		byPID[m.PID] = m
	}
	root := byPID[100]
	if root.Kind != monitor.KindBrowser {
		t.Errorf("root kind = %q, want Browser", root.Kind)
	}
	if root.CumulativeCPU != 3*time.Second {
		t.Errorf("root CumulativeCPU = %v, want 3s", root.CumulativeCPU)
	}
	if root.WorkingSetBytes != 2500*4096 {
		t.Errorf("root WorkingSetBytes = %d", root.WorkingSetBytes)
	}
	if want := time.Unix(1700000000, 0).Add(10 * time.Second); !root.CreationTime.Equal(want) {
		t.Errorf("root CreationTime = %v, want %v", root.CreationTime, want)
	}
	if byPID[101].Kind != monitor.KindTab {
		t.Errorf("101 kind = %q, want Tab", byPID[101].Kind)
	}
	gpu := byPID[102]
	if gpu.Kind != monitor.KindGPU || gpu.Sandboxed == nil || *gpu.Sandboxed {
		t.Errorf("102 = %+v, want unsandboxed GPU", gpu)
	}
}

func TestSSHPlatform_AppMetricsRootMissing(t *testing.T) {
	host := newFakeHost(t, linuxHost)
	p := initFakePlatform(t, host, Target{RootPID: 4242})

	if _, err := p.AppMetrics().AppMetrics(context.Background()); err == nil {
		t.Error("AppMetrics() should fail when the root is not running")
	}
}

func TestSSHPlatform_Processes(t *testing.T) {
	host := newFakeHost(t, linuxHost)
	p := initFakePlatform(t, host, Target{})

	procs, err := p.Processes().Processes(context.Background())
	if err != nil {
		t.Fatalf("Processes() error = %v", err)
	}
	if len(procs) != 3 {
		t.Fatalf("got %d processes, want 3", len(procs))
	}
	if procs[0].ParentPID != nil {
		t.Error("pid 1 should have no parent")
	}
	if procs[2].PID != 101 || procs[2].ParentPID == nil || *procs[2].ParentPID != 100 {
		t.Errorf("procs[2] = %+v", procs[2])
	}
}

func TestSSHPlatform_Liveness(t *testing.T) {
	host := newFakeHost(t, linuxHost)
	p := initFakePlatform(t, host, Target{})

	live := p.Liveness()
	if !live.Alive(100) {
		t.Error("Alive(100) = false, want true")
	}
	if live.Alive(999) {
		t.Error("Alive(999) = true, want false")
	}
	if live.Alive(0) {
		t.Error("Alive(0) = true, want false")
	}
}

func TestSSHPlatform_Diagnostics(t *testing.T) {
	host := newFakeHost(t, linuxHost)
	p := initFakePlatform(t, host, Target{})

	in, err := p.inspect(context.Background(), 101)
	if err != nil {
		t.Fatalf("inspect() error = %v", err)
	}
	if in.Name != "electron" || in.Threads != 12 || in.OpenFiles != 40 || in.Exe != "/opt/app/electron" {
		t.Errorf("inspect() = %+v", *in)
	}

	err = p.Diagnostics().OpenDiagnostics(context.Background(), monitor.DiagnosticsTarget{
		PID:  101,
		Kind: monitor.KindTab,
	})
	if err != nil {
		t.Errorf("OpenDiagnostics() error = %v", err)
	}
	if err := p.Diagnostics().OpenDiagnostics(context.Background(), monitor.DiagnosticsTarget{PID: 555}); err == nil {
		t.Error("OpenDiagnostics() should fail for an uninspectable pid")
	}
}

func TestSSHPlatform_CommandFailure(t *testing.T) {
	host := newFakeHost(t, linuxHost)
	p := initFakePlatform(t, host, Target{})

	_, err := p.runCommand(context.Background(), "false")
	if err == nil {
		t.Fatal("runCommand() should report a non-zero exit")
	}
	if !strings.Contains(err.Error(), "command failed") {
		t.Errorf("runCommand() error = %v", err)
	}

	stats := p.ConnectionStats()
	if stats.State != ConnectionStateConnected {
		t.Errorf("State after non-zero exit = %v, want connected", stats.State)
	}
	if stats.CommandsFailed != 1 {
		t.Errorf("CommandsFailed = %d, want 1", stats.CommandsFailed)
	}

	host.mu.Lock()
	defer host.mu.Unlock()
	last := host.commands[len(host.commands)-1]
	if last != "false" {
		t.Errorf("last command = %q, want false", last)
	}
}

func TestSSHPlatform_ReconnectsAfterDrop(t *testing.T) {
	host := newFakeHost(t, linuxHost)
	p := initFakePlatform(t, host, Target{})

	host.dropConnections()

	deadline := time.Now().Add(5 * time.Second)
	for {
		stats := p.ConnectionStats()
		if stats.State == ConnectionStateConnected && stats.Reconnects == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("link did not reconnect: %+v", stats)
		}
		time.Sleep(10 * time.Millisecond)
	}

	out, err := p.runCommand(context.Background(), "uname -s")
	if err != nil {
		t.Fatalf("runCommand() after reconnect error = %v", err)
	}
	if out != "Linux\n" {
		t.Errorf("runCommand() = %q, want Linux", out)
	}
}
