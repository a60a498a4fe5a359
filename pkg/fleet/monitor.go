// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package fleet

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lxlee/parallelMultiRun/pkg/config"
	"github.com/lxlee/parallelMultiRun/pkg/logging"
)

// default probe settings
const (
	DefaultProbeInterval = 10 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// ProbeFunc checks that address accepts connections.
type ProbeFunc func(ctx context.Context, address string) error

// TCPProbe opens and closes a TCP connection to address.
func TCPProbe(ctx context.Context, address string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Monitor periodically probes every host and logs the ones that do not
// answer. It only reads host specs and never affects task dispatch.
type Monitor struct {
	hosts    []*config.Host
	interval time.Duration
	timeout  time.Duration
	probe    ProbeFunc
	logger   *zap.Logger

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewMonitor returns a stopped monitor. Zero durations and a nil probe or
// logger select the defaults.
func NewMonitor(hosts []*config.Host, interval, timeout time.Duration, probe ProbeFunc, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if probe == nil {
		probe = TCPProbe
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		hosts:    hosts,
		interval: interval,
		timeout:  timeout,
		probe:    probe,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the probe loop. The first cycle runs one interval later.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.started.Store(true)
		go m.loop()
	})
}

// Stop ends the probe loop and waits for it to exit. It is safe to call more
// than once and on a monitor that was never started.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	if m.started.Load() {
		<-m.done
	}
}

func (m *Monitor) loop() {
	defer close(m.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Cycle(ctx)
		}
	}
}

// Cycle probes all hosts concurrently and returns the labels of the ones
// that failed, in configuration order. Each failure is logged once.
func (m *Monitor) Cycle(ctx context.Context) []string {
	if len(m.hosts) == 0 {
		return nil
	}

	failed := make([]bool, len(m.hosts))
	var g errgroup.Group
	g.SetLimit(len(m.hosts))
	for i, host := range m.hosts {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()

			err := m.probe(probeCtx, host.Address())
			if err == nil || ctx.Err() != nil {
				return nil
			}
			failed[i] = true
			m.logger.Error("host offline", logging.Host(host.Label()), zap.Error(err))
			return nil
		})
	}
	_ = g.Wait()

	var offline []string
	for i, f := range failed {
		if f {
			offline = append(offline, m.hosts[i].Label())
		}
	}
	return offline
}
