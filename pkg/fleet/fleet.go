// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

// Package fleet owns the connections to the configured hosts and watches
// their reachability while tasks run.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	cryptossh "golang.org/x/crypto/ssh"

	"github.com/lxlee/parallelMultiRun/pkg/config"
	"github.com/lxlee/parallelMultiRun/pkg/logging"
	"github.com/lxlee/parallelMultiRun/pkg/ssh"
)

// Dialer opens a Handle for one host.
type Dialer func(ctx context.Context, spec *config.Host) (Handle, error)

// Options configure fleet construction and the connectivity monitor.
type Options struct {
	Logger          *zap.Logger
	ConnectTimeout  time.Duration
	HostKeyPolicy   ssh.HostKeyPolicy
	KnownHostsPath  string
	HostKeyCallback cryptossh.HostKeyCallback
	ProbeInterval   time.Duration
	ProbeTimeout    time.Duration

	// Dialer and Prober replace the SSH dialer and the TCP probe.
	Dialer Dialer
	Prober ProbeFunc
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Dialer == nil {
		dialOpts := DialOptions{
			Logger:          o.Logger,
			ConnectTimeout:  o.ConnectTimeout,
			HostKeyPolicy:   o.HostKeyPolicy,
			KnownHostsPath:  o.KnownHostsPath,
			HostKeyCallback: o.HostKeyCallback,
		}
		o.Dialer = func(ctx context.Context, spec *config.Host) (Handle, error) {
			conn, err := Dial(ctx, spec, dialOpts)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}
	}
}

// Fleet is the ordered set of live handles, one per configured host.
type Fleet struct {
	handles []Handle
	monitor *Monitor
	logger  *zap.Logger
}

// New dials every host in order. It stops at the first host that cannot be
// reached and returns the handles built so far together with an
// ErrConnection, so Size is then smaller than len(specs). Once every host is
// connected the connectivity monitor is started.
func New(ctx context.Context, specs []*config.Host, opts Options) (*Fleet, error) {
	opts.setDefaults()
	f := &Fleet{logger: opts.Logger}

	for _, spec := range specs {
		h, err := opts.Dialer(ctx, spec)
		if err != nil {
			opts.Logger.Error("failed to connect", logging.Host(spec.Label()), zap.Error(err))
			if !errors.Is(err, ErrConnection) {
				err = fmt.Errorf("%w: %s: %w", ErrConnection, spec.Label(), err)
			}
			return f, err
		}
		opts.Logger.Info("connected", logging.Host(spec.Label()))
		f.handles = append(f.handles, h)
	}

	f.monitor = NewMonitor(f.Hosts(), opts.ProbeInterval, opts.ProbeTimeout, opts.Prober, opts.Logger)
	f.monitor.Start()
	return f, nil
}

// Size returns the number of live handles.
func (f *Fleet) Size() int {
	return len(f.handles)
}

// Handles returns the handles in configuration order.
func (f *Fleet) Handles() []Handle {
	return append([]Handle(nil), f.handles...)
}

// Hosts returns the specs of the live handles in configuration order.
func (f *Fleet) Hosts() []*config.Host {
	hosts := make([]*config.Host, len(f.handles))
	for i, h := range f.handles {
		hosts[i] = h.Spec()
	}
	return hosts
}

// Close stops the monitor and closes every handle.
func (f *Fleet) Close() error {
	if f.monitor != nil {
		f.monitor.Stop()
	}
	var errs []error
	for _, h := range f.handles {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.Spec().Label(), err))
		}
	}
	return errors.Join(errs...)
}
