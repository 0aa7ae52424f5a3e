package platform

import (
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/opd-ai/go-procmon/internal/monitor"
)

// NewPlatform creates a Platform that reads the local process table.
func NewPlatform(target Target, logger monitor.Logger) Platform {
	return newLocalPlatform(target, logger)
}

// NewRemotePlatform creates a Platform that collects data from a remote
// Linux system via SSH. The remote system does not need procmon
// installed; data is collected using standard shell commands and parsed
// locally.
func NewRemotePlatform(config RemoteConfig, target Target, logger monitor.Logger) (Platform, error) {
	p, err := newSSHPlatform(config, target, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ConnectionReporter is implemented by platforms that hold a network
// connection.
type ConnectionReporter interface {
	ConnectionStats() ConnectionStats
}

// RemoteConfig specifies connection parameters for remote monitoring.
type RemoteConfig struct {
	// Host is the hostname or IP address of the remote system.
	Host string

	// Port is the SSH port (default: 22).
	Port int

	// User is the SSH username.
	User string

	// AuthMethod specifies how to authenticate.
	AuthMethod AuthMethod

	// CommandTimeout is the timeout for individual commands (default: 5s).
	CommandTimeout time.Duration

	// KnownHostsPath is the known_hosts file used to verify the host key.
	// Default: ~/.ssh/known_hosts.
	KnownHostsPath string

	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool

	// HostKeyCallback overrides host key verification entirely.
	HostKeyCallback ssh.HostKeyCallback

	// Connection tunes keepalive and reconnection.
	Connection SSHConnectionConfig
}

// AuthMethod defines SSH authentication methods.
type AuthMethod interface {
	isAuthMethod()
}

// PasswordAuth authenticates using a password.
type PasswordAuth struct {
	Password string
}

func (PasswordAuth) isAuthMethod() {}

// KeyAuth authenticates using an SSH private key.
type KeyAuth struct {
	PrivateKeyPath string
	Passphrase     string // optional, for encrypted keys
}

func (KeyAuth) isAuthMethod() {}

// AgentAuth authenticates using the SSH agent.
type AgentAuth struct{}

func (AgentAuth) isAuthMethod() {}
