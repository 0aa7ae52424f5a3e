package platform

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/opd-ai/go-procmon/internal/monitor"
)

// Commands run on the remote host. Everything is read from procfs with
// POSIX tools, so nothing needs to be installed there.
const (
	psCommand         = "ps -eo pid=,ppid=,comm="
	statCommand       = "cat /proc/[0-9]*/stat 2>/dev/null; true"
	hostParamsCommand = "getconf CLK_TCK; getconf PAGESIZE; grep '^btime' /proc/stat"
)

// cmdlineCommand prints "pid args..." for each pid, or for every process
// when pids is nil.
func cmdlineCommand(pids []int) string {
	loop := "for d in /proc/[0-9]*; do p=${d#/proc/};"
	if pids != nil {
		ids := make([]string, len(pids))
		for i, pid := range pids {
			ids[i] = strconv.Itoa(pid)
		}
		loop = "for p in " + strings.Join(ids, " ") + "; do"
	}
	return loop + ` printf '%s ' "$p"; tr '\0' ' ' < /proc/$p/cmdline 2>/dev/null; echo; done`
}

func inspectCommand(pid int) string {
	return fmt.Sprintf(`tr '\0' ' ' < /proc/%[1]d/cmdline; echo; `+
		`grep -E '^(Name|State|Threads):' /proc/%[1]d/status; `+
		`echo "Files: $(ls /proc/%[1]d/fd 2>/dev/null | wc -l)"; `+
		`echo "Exe: $(readlink /proc/%[1]d/exe 2>/dev/null)"`, pid)
}

func aliveCommand(pid int) string {
	return fmt.Sprintf("test -d /proc/%d && echo alive; true", pid)
}

// sshPlatform implements Platform for a remote Linux host via SSH.
// It executes standard shell commands on the remote system and parses
// the output locally.
type sshPlatform struct {
	config RemoteConfig
	target Target
	logger monitor.Logger
	dial   dialFunc

	mu       sync.RWMutex
	conn     *sshLink
	targetOS string
	params   hostParams
}

// newSSHPlatform creates a new SSH-based remote platform.
func newSSHPlatform(config RemoteConfig, target Target, logger monitor.Logger) (*sshPlatform, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if config.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if config.AuthMethod == nil {
		return nil, fmt.Errorf("authentication method is required")
	}

	if config.Port == 0 {
		config.Port = 22
	}
	if config.CommandTimeout == 0 {
		config.CommandTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = monitor.NopLogger()
	}

	return &sshPlatform{
		config: config,
		target: target,
		logger: logger,
		dial:   ssh.Dial,
		params: defaultHostParams,
	}, nil
}

func (p *sshPlatform) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.targetOS != "" {
		return "remote-" + p.targetOS
	}
	return "remote"
}

func (p *sshPlatform) Initialize(ctx context.Context) error {
	sshConfig, err := p.buildSSHConfig()
	if err != nil {
		return fmt.Errorf("failed to build SSH config: %w", err)
	}

	connConfig := p.config.Connection
	if connConfig.Logger == nil {
		connConfig.Logger = p.logger
	}
	addr := net.JoinHostPort(p.config.Host, strconv.Itoa(p.config.Port))
	conn := newSSHLink(addr, sshConfig, connConfig)
	conn.dial = p.dial
	if err := conn.open(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	goos, err := p.detectOS(ctx)
	if err != nil {
		_ = conn.close()
		return fmt.Errorf("failed to detect remote OS: %w", err)
	}
	if goos != "linux" {
		_ = conn.close()
		return fmt.Errorf("unsupported remote OS: %s (procfs required)", goos)
	}

	params := defaultHostParams
	if out, err := p.runCommand(ctx, hostParamsCommand); err != nil {
		p.logger.Warn("remote host parameters unavailable, using defaults", "error", err)
	} else if params, err = parseHostParams(out); err != nil {
		p.logger.Warn("remote host parameters malformed, using defaults", "error", err)
	}

	p.mu.Lock()
	p.targetOS = goos
	p.params = params
	p.mu.Unlock()
	return nil
}

func (p *sshPlatform) buildSSHConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	switch auth := p.config.AuthMethod.(type) {
	case PasswordAuth:
		authMethods = append(authMethods, ssh.Password(auth.Password))
	case KeyAuth:
		key, err := os.ReadFile(auth.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		var signer ssh.Signer
		if auth.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(auth.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	case AgentAuth:
		socket := os.Getenv("SSH_AUTH_SOCK")
		if socket == "" {
			return nil, fmt.Errorf("SSH_AUTH_SOCK not set")
		}
		// Defer the agent connection until it's actually needed
		authMethods = append(authMethods, ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			agentConn, err := net.Dial("unix", socket)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to SSH agent: %w", err)
			}
			defer agentConn.Close()

			signers, err := agent.NewClient(agentConn).Signers()
			if err != nil {
				return nil, fmt.Errorf("failed to get signers from SSH agent: %w", err)
			}
			return signers, nil
		}))
	default:
		return nil, fmt.Errorf("unsupported auth method type: %T", auth)
	}

	hostKeyCallback, err := p.buildHostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            p.config.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         10 * time.Second,
	}, nil
}

// buildHostKeyCallback picks host key verification: an explicit callback,
// then the insecure opt-out, then a known_hosts file.
func (p *sshPlatform) buildHostKeyCallback() (ssh.HostKeyCallback, error) {
	if p.config.HostKeyCallback != nil {
		return p.config.HostKeyCallback, nil
	}
	if p.config.InsecureIgnoreHostKey {
		p.logger.Warn("ssh host key verification disabled", "host", p.config.Host)
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := p.config.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("known_hosts file not found at %s: %w", path, err)
	}
	return knownhosts.New(path)
}

func (p *sshPlatform) detectOS(ctx context.Context) (string, error) {
	output, err := p.runCommand(ctx, "uname -s")
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(output)), nil
}

// runCommand executes a command on the remote system and returns its output.
func (p *sshPlatform) runCommand(ctx context.Context, cmd string) (string, error) {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()

	if conn == nil {
		return "", ErrNotConnected
	}
	return conn.run(ctx, cmd, p.config.CommandTimeout)
}

func (p *sshPlatform) hostParams() hostParams {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.params
}

func (p *sshPlatform) Close() error {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.close()
}

// ConnectionStats reports the state of the SSH connection.
func (p *sshPlatform) ConnectionStats() ConnectionStats {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn == nil {
		return ConnectionStats{State: ConnectionStateDisconnected}
	}
	return conn.stats()
}

func (p *sshPlatform) AppMetrics() monitor.AppMetricsSource { return remoteApps{p} }

func (p *sshPlatform) Processes() monitor.SystemProcessSource { return remoteSystem{p} }

func (p *sshPlatform) Liveness() monitor.LivenessChecker { return remoteLiveness{p} }

func (p *sshPlatform) Diagnostics() monitor.DiagnosticsOpener {
	return &inspector{inspect: p.inspect, logger: p.logger}
}

func (p *sshPlatform) inspect(ctx context.Context, pid int) (*Inspection, error) {
	out, err := p.runCommand(ctx, inspectCommand(pid))
	if err != nil {
		return nil, fmt.Errorf("inspecting pid %d: %w", pid, err)
	}
	return parseStatus(pid, out)
}

// remoteSystem is the remote process table as reported by ps.
type remoteSystem struct{ p *sshPlatform }

// Processes implements monitor.SystemProcessSource.
func (s remoteSystem) Processes(ctx context.Context) ([]monitor.RawSystemProcess, error) {
	out, err := s.p.runCommand(ctx, psCommand)
	if err != nil {
		return nil, err
	}
	procs, err := parsePsOutput(out)
	if err != nil {
		return nil, err
	}
	return toSystemProcesses(procs), nil
}

// remoteApps reads the target's processes from the remote procfs.
type remoteApps struct{ p *sshPlatform }

// AppMetrics implements monitor.AppMetricsSource.
func (a remoteApps) AppMetrics(ctx context.Context) ([]monitor.RawAppMetric, error) {
	out, err := a.p.runCommand(ctx, statCommand)
	if err != nil {
		return nil, err
	}
	procs, skipped := parseStatOutput(out, a.p.hostParams())
	if skipped > 0 {
		a.p.logger.Debug("skipped unreadable stat lines", "count", skipped)
	}

	target := a.p.target
	tree, err := selectTree(procs, target)
	if err != nil {
		return nil, err
	}

	var pids []int
	if !target.IsZero() {
		pids = make([]int, len(tree))
		for i, proc := range tree {
			pids[i] = proc.PID
		}
	}
	if out, err := a.p.runCommand(ctx, cmdlineCommand(pids)); err != nil {
		a.p.logger.Debug("remote command lines unavailable", "error", err)
	} else {
		cmdlines := parseCmdlines(out)
		for i := range tree {
			tree[i].Cmdline = cmdlines[tree[i].PID]
		}
	}
	return toAppMetrics(tree, !target.IsZero()), nil
}

// remoteLiveness checks for the pid's procfs directory.
type remoteLiveness struct{ p *sshPlatform }

// Alive implements monitor.LivenessChecker.
func (l remoteLiveness) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	out, err := l.p.runCommand(context.Background(), aliveCommand(pid))
	return err == nil && strings.TrimSpace(out) == "alive"
}
