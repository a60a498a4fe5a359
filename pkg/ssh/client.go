// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// default constants
const (
	DefaultTimeout = 10 * time.Second
	DefaultPort    = 22
)

// Client represents ssh client.
type Client struct {
	*ssh.Client

	// password is replayed on stdin to privileged commands.
	password string
	// envFile is sourced before every Execute once BootstrapEnv succeeded.
	envFile string
}

type Config struct {
	User                 string
	Host                 string
	Port                 int
	Timeout              time.Duration
	Password             string
	PrivateKeyPath       string
	PrivateKeyPassphrase string
	HostKeyPolicy        HostKeyPolicy
	KnownHostsPath       string
	hostKeyCallBack      ssh.HostKeyCallback
}

func (c *Config) SetHostKeyCallback(hostKeyCallBack ssh.HostKeyCallback) {
	c.hostKeyCallBack = hostKeyCallBack
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitStatus int
	Stdout     []byte
	Stderr     []byte
}

// NewClient returns new ssh client and error if any. Both the TCP dial and
// the SSH handshake are bounded by config.Timeout.
func NewClient(ctx context.Context, config *Config) (*Client, error) {
	var auth Auth
	var hostKeyCallback ssh.HostKeyCallback
	var err error

	// configure Auth as per users config
	auth, err = configureAuth(config.Password, config.PrivateKeyPath, config.PrivateKeyPassphrase)
	if err != nil {
		return nil, errors.New("failed to configure auth: " + err.Error())
	}

	// configure hostKeyCallback as per users config
	hostKeyCallback, err = configureHostKeyCallback(config)
	if err != nil {
		return nil, errors.New("failed to configure hostKeyCallBack: " + err.Error())
	}

	// configure default timeout
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	// configure default port
	if config.Port == 0 {
		config.Port = DefaultPort
	}

	addr := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if err := conn.SetDeadline(time.Now().Add(config.Timeout)); err != nil {
		conn.Close()
		return nil, err
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            config.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         config.Timeout,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	// the deadline only guards the handshake
	if err := conn.SetDeadline(time.Time{}); err != nil {
		sshConn.Close()
		return nil, err
	}

	return &Client{
		Client:   ssh.NewClient(sshConn, chans, reqs),
		password: config.Password,
	}, nil
}

// Run starts a new SSH session and runs the cmd, it returns CombinedOutput and err if any.
func (c *Client) Run(cmd string) ([]byte, error) {
	var (
		err  error
		sess *ssh.Session
	)
	if sess, err = c.NewSession(); err != nil {
		return nil, err
	}
	defer sess.Close()

	return sess.CombinedOutput(cmd)
}

// Exec runs cmd in a new session, writing stdin (if not nil) to the command
// right after it starts, and collects both output streams. A nonzero exit
// status is not an error; it is reported in Result.ExitStatus. The returned
// error is set only when the command could not run to completion, including
// when ctx is done first, in which case the session is killed.
func (c *Client) Exec(ctx context.Context, cmd string, stdin []byte) (*Result, error) {
	sess, err := c.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	var in io.WriteCloser
	if stdin != nil {
		if in, err = sess.StdinPipe(); err != nil {
			return nil, fmt.Errorf("failed to open stdin: %w", err)
		}
	}

	if err := sess.Start(cmd); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	if in != nil {
		_, werr := in.Write(stdin)
		cerr := in.Close()
		if werr = errors.Join(werr, cerr); werr != nil && !errors.Is(werr, io.EOF) {
			_ = sess.Close()
			return nil, fmt.Errorf("failed to write stdin: %w", werr)
		}
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		return nil, ctx.Err()
	case err = <-done:
	}

	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var ee *ssh.ExitError
		if errors.As(err, &ee) {
			res.ExitStatus = ee.ExitStatus()
			return res, nil
		}
		return res, err
	}
	return res, nil
}

// Execute runs a user command line. It sources the remote environment file
// when one was bootstrapped, and elevates sudo-prefixed commands so that the
// stored password is read from stdin instead of a terminal prompt.
func (c *Client) Execute(ctx context.Context, cmd string) (*Result, error) {
	line, stdin := c.prepare(cmd)
	if c.envFile != "" {
		line = sourceEnvPrefix(c.envFile) + line
	}
	return c.Exec(ctx, line, stdin)
}

func (c *Client) prepare(cmd string) (string, []byte) {
	if !IsPrivileged(cmd) {
		return cmd, nil
	}
	return ElevateCommand(cmd), []byte(c.password + "\n")
}

// newSftp returns new sftp client and error if any.
func (c *Client) newSftp(opts ...sftp.ClientOption) (*sftp.Client, error) {
	return sftp.NewClient(c.Client, opts...)
}

// Close client net connection.
func (c *Client) Close() error {
	return c.Client.Close()
}
