// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package fleet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	cryptossh "golang.org/x/crypto/ssh"

	"github.com/lxlee/parallelMultiRun/pkg/config"
	"github.com/lxlee/parallelMultiRun/pkg/logging"
	"github.com/lxlee/parallelMultiRun/pkg/ssh"
)

var (
	// ErrConnection is returned when a host cannot be dialed or its
	// environment cannot be bootstrapped.
	ErrConnection = errors.New("connection failed")
	// ErrRemoteExec is returned when a remote command exits nonzero.
	ErrRemoteExec = errors.New("remote command failed")
	// ErrTransfer is returned when a file transfer fails.
	ErrTransfer = errors.New("transfer failed")
)

// Handle is a live connection to one host.
type Handle interface {
	// Spec returns the host the handle is bound to.
	Spec() *config.Host
	// Execute runs a command line in the host's environment. A nonzero exit
	// status is returned in the result together with an ErrRemoteExec error.
	Execute(ctx context.Context, cmd string) (*ssh.Result, error)
	// CopyTo uploads a local file or directory.
	CopyTo(ctx context.Context, source, target string) error
	// CopyFrom downloads a remote file or directory.
	CopyFrom(ctx context.Context, source, target string) error
	Close() error
}

// DialOptions tune how a connection is established.
type DialOptions struct {
	Logger         *zap.Logger
	ConnectTimeout time.Duration
	HostKeyPolicy  ssh.HostKeyPolicy
	KnownHostsPath string
	// HostKeyCallback overrides HostKeyPolicy when set.
	HostKeyCallback cryptossh.HostKeyCallback
}

// Connection is the SSH backed Handle.
type Connection struct {
	spec   *config.Host
	client *ssh.Client
	logger *zap.Logger
}

var _ Handle = (*Connection)(nil)

// Dial connects to spec and bootstraps its environment file. Both steps are
// bounded by opts.ConnectTimeout; any failure is an ErrConnection.
func Dial(ctx context.Context, spec *config.Host, opts DialOptions) (*Connection, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = ssh.DefaultTimeout
	}

	cfg := &ssh.Config{
		User:                 spec.Username,
		Host:                 spec.Host,
		Port:                 spec.Port,
		Timeout:              timeout,
		Password:             spec.Password,
		PrivateKeyPath:       spec.PrivateKey,
		PrivateKeyPassphrase: spec.Passphrase,
		HostKeyPolicy:        opts.HostKeyPolicy,
		KnownHostsPath:       opts.KnownHostsPath,
	}
	if opts.HostKeyCallback != nil {
		cfg.SetHostKeyCallback(opts.HostKeyCallback)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := ssh.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, spec.Label(), err)
	}
	if err := client.BootstrapEnv(ctx, spec.Env); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, spec.Label(), err)
	}

	return &Connection{
		spec:   spec,
		client: client,
		logger: logger.With(logging.Host(spec.Label())),
	}, nil
}

func (c *Connection) Spec() *config.Host {
	return c.spec
}

func (c *Connection) Execute(ctx context.Context, cmd string) (*ssh.Result, error) {
	c.logger.Debug("running command", zap.String("command", cmd))

	res, err := c.client.Execute(ctx, cmd)
	if err != nil {
		c.logger.Error("command did not complete", zap.String("command", cmd), zap.Error(err))
		return nil, fmt.Errorf("%s: %q: %w", c.spec.Label(), cmd, err)
	}

	if out := strings.TrimSpace(string(res.Stdout)); out != "" {
		c.logger.Debug("command output", zap.String("stdout", out))
	}
	if res.ExitStatus != 0 {
		stderr := strings.TrimSpace(string(res.Stderr))
		c.logger.Warn("command exited with nonzero status",
			zap.String("command", cmd),
			zap.Int("status", res.ExitStatus),
			zap.String("stderr", stderr))
		return res, fmt.Errorf("%w: %s: %q exited with status %d", ErrRemoteExec, c.spec.Label(), cmd, res.ExitStatus)
	}

	c.logger.Info("command completed", zap.String("command", cmd))
	return res, nil
}

func (c *Connection) CopyTo(ctx context.Context, source, target string) error {
	fields := []zap.Field{zap.String("source", source), zap.String("target", target)}
	if info, err := os.Stat(source); err == nil {
		fields = append(fields, zap.Bool("recursive", ssh.IsRecursive(info.Mode())))
	}
	c.logger.Info("copying to host", fields...)

	if err := c.client.Upload(ctx, source, target); err != nil {
		c.logger.Error("copy to host failed", append(fields, zap.Error(err))...)
		return fmt.Errorf("%w: %s: %s -> %s: %w", ErrTransfer, c.spec.Label(), source, target, err)
	}
	return nil
}

func (c *Connection) CopyFrom(ctx context.Context, source, target string) error {
	fields := []zap.Field{zap.String("source", source), zap.String("target", target)}
	c.logger.Info("copying from host", fields...)

	if err := c.client.Download(ctx, source, target); err != nil {
		c.logger.Error("copy from host failed", append(fields, zap.Error(err))...)
		return fmt.Errorf("%w: %s: %s -> %s: %w", ErrTransfer, c.spec.Label(), source, target, err)
	}
	return nil
}

func (c *Connection) Close() error {
	return c.client.Close()
}
