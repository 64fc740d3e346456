package connection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/pablintino/deploy-executor/internal/config"
	"github.com/pablintino/deploy-executor/internal/models"
	"github.com/pablintino/deploy-executor/internal/utils"
	"github.com/pablintino/deploy-executor/logging"
)

// Result is the outcome of one remote command. A non-zero ExitCode is not
// a transport failure: callers decide what to do with it.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (r *Result) CombinedOutput() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

type Connection interface {
	Run(ctx context.Context, cmd string) (*Result, error)
	Upload(ctx context.Context, content io.Reader, cmd string) (*Result, error)
	Close() error
}

type Connector interface {
	Connect(ctx context.Context, host models.HostModel) (Connection, error)
}

type SSHConnector struct {
	sshConfig *config.SSHConfig
}

func NewSSHConnector(sshConfig *config.SSHConfig) *SSHConnector {
	return &SSHConnector{sshConfig: sshConfig}
}

func (c *SSHConnector) Connect(ctx context.Context, host models.HostModel) (Connection, error) {
	clientConfig, err := c.clientConfig(host)
	if err != nil {
		return nil, err
	}
	address := hostAddress(host)

	var client *ssh.Client
	retryConfig := utils.BackoffConfig{
		Attempts:     c.sshConfig.RetryAttempts,
		InitialDelay: time.Duration(c.sshConfig.RetryDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(c.sshConfig.RetryMaxDelayMs) * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       true,
	}
	err = utils.RetryWithBackoff(ctx, retryConfig, func() error {
		dialed, dialErr := c.dial(address, clientConfig)
		if dialErr != nil {
			logging.Logger.Debugw("ssh dial failed", "address", address, "error", dialErr)
			return dialErr
		}
		client = dialed
		return nil
	}, isTransientDialError)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot reach %s: %v", utils.ErrConnection, address, err)
	}
	logging.Logger.Debugw("ssh connection established", "address", address, "user", host.User)
	return &sshConnection{client: client, address: address}, nil
}

func (c *SSHConnector) dial(address string, clientConfig *ssh.ClientConfig) (*ssh.Client, error) {
	conn, err := net.DialTimeout("tcp", address, clientConfig.Timeout)
	if err != nil {
		return nil, err
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

func (c *SSHConnector) clientConfig(host models.HostModel) (*ssh.ClientConfig, error) {
	if host.User == "" {
		return nil, fmt.Errorf("%w: host %s has no ssh user", utils.ErrConnection, host.Address)
	}
	privateKey, err := os.ReadFile(host.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read key %s: %v", utils.ErrConnection, host.KeyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot parse key %s: %v", utils.ErrConnection, host.KeyPath, err)
	}
	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            host.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         time.Duration(c.sshConfig.ConnectTimeout) * time.Second,
	}, nil
}

func (c *SSHConnector) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.sshConfig.InsecureSkipVerify {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := strings.TrimSpace(c.sshConfig.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("%w: known hosts path not set and home dir unavailable", utils.ErrConnection)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot load known hosts %s: %v", utils.ErrConnection, path, err)
	}
	return callback, nil
}

type sshConnection struct {
	client  *ssh.Client
	address string
}

func (c *sshConnection) Run(ctx context.Context, cmd string) (*Result, error) {
	return c.runSession(ctx, nil, cmd)
}

func (c *sshConnection) Upload(ctx context.Context, content io.Reader, cmd string) (*Result, error) {
	return c.runSession(ctx, content, cmd)
}

func (c *sshConnection) Close() error {
	return c.client.Close()
}

func (c *sshConnection) runSession(ctx context.Context, stdin io.Reader, cmd string) (*Result, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open session on %s: %v", utils.ErrConnection, c.address, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = stdin
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()
	select {
	case <-ctx.Done():
		session.Close()
		<-done
		return nil, fmt.Errorf("%w: command on %s aborted: %v", utils.ErrConnection, c.address, ctx.Err())
	case err = <-done:
	}

	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}
	if exitErr, ok := err.(*ssh.ExitError); ok {
		result.ExitCode = exitErr.ExitStatus()
		return result, nil
	}
	if _, ok := err.(*ssh.ExitMissingError); ok {
		// No status returned, the remote side died mid-command.
		result.ExitCode = -1
		return result, nil
	}
	return nil, fmt.Errorf("%w: command on %s failed: %v", utils.ErrConnection, c.address, err)
}

func hostAddress(host models.HostModel) string {
	address := strings.TrimSpace(host.Address)
	if host.Port != "" {
		return net.JoinHostPort(address, host.Port)
	}
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, "22")
}

func isTransientDialError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Refused/unreachable errors are worth retrying while the host boots;
	// auth and host key failures are not.
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "unreachable")
}
