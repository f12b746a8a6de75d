package modem

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/satstat/satstat/pkg/logx"
	"github.com/satstat/satstat/pkg/radio"
)

// Executor runs a shell command where the modem is attached and returns its
// combined output.
type Executor interface {
	Run(ctx context.Context, command string) (string, error)
}

// exitError maps well-known shell exit codes to source errors
func exitError(command string, code int, err error) error {
	switch code {
	case 126:
		return fmt.Errorf("%s: %w", command, radio.ErrPermissionDenied)
	case 127:
		return fmt.Errorf("%s: command not found: %w", command, radio.ErrUnsupported)
	}
	return fmt.Errorf("%s: %w", command, err)
}

// LocalExecutor runs commands on this host through sh
type LocalExecutor struct{}

// Run executes command with sh -c
func (LocalExecutor) Run(ctx context.Context, command string) (string, error) {
	out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), exitError(command, exitErr.ExitCode(), err)
		}
		return string(out), fmt.Errorf("%s: %w", command, err)
	}
	return string(out), nil
}

// SSHConfig describes the router that owns the modem
type SSHConfig struct {
	Host       string
	Port       int
	User       string
	KeyFile    string
	KnownHosts string
	Timeout    time.Duration
}

// SSHExecutor runs commands on a remote router. The connection is dialed on
// first use and redialed after a failure.
type SSHExecutor struct {
	config SSHConfig
	logger *logx.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHExecutor creates an executor for the given router
func NewSSHExecutor(config SSHConfig, logger *logx.Logger) *SSHExecutor {
	if config.Port == 0 {
		config.Port = 22
	}
	if config.User == "" {
		config.User = "root"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &SSHExecutor{config: config, logger: logger.With("component", "ssh", "host", config.Host)}
}

func (e *SSHExecutor) clientConfig() (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(e.config.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if e.config.KnownHosts != "" {
		if hostKeyCallback, err = knownhosts.New(e.config.KnownHosts); err != nil {
			return nil, fmt.Errorf("unable to load known hosts: %w", err)
		}
	} else {
		e.logger.Warn("SSH host key is not verified, set modem_ssh_known_hosts")
	}

	return &ssh.ClientConfig{
		User:            e.config.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         e.config.Timeout,
	}, nil
}

func (e *SSHExecutor) connect() (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		return e.client, nil
	}
	cfg, err := e.clientConfig()
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(e.config.Host, strconv.Itoa(e.config.Port))
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	e.logger.Info("Connected to router")
	e.client = client
	return client, nil
}

func (e *SSHExecutor) reset(client *ssh.Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == client {
		e.client.Close()
		e.client = nil
	}
}

// Run executes command in a new session. The session is closed when ctx
// is done.
func (e *SSHExecutor) Run(ctx context.Context, command string) (string, error) {
	client, err := e.connect()
	if err != nil {
		return "", err
	}
	session, err := client.NewSession()
	if err != nil {
		e.reset(client)
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	stop := context.AfterFunc(ctx, func() { session.Close() })
	defer stop()

	out, err := session.CombinedOutput(command)
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return string(out), exitError(command, exitErr.ExitStatus(), err)
		}
		if ctx.Err() != nil {
			return string(out), ctx.Err()
		}
		e.reset(client)
		return string(out), fmt.Errorf("%s: %w", command, err)
	}
	return string(out), nil
}

// Close closes the SSH connection
func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}
