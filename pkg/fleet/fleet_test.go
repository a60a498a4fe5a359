// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lxlee/parallelMultiRun/pkg/config"
	"github.com/lxlee/parallelMultiRun/pkg/ssh"
)

type fakeHandle struct {
	spec   *config.Host
	closed atomic.Bool
}

func (h *fakeHandle) Spec() *config.Host { return h.spec }

func (h *fakeHandle) Execute(context.Context, string) (*ssh.Result, error) {
	return &ssh.Result{}, nil
}

func (h *fakeHandle) CopyTo(context.Context, string, string) error   { return nil }
func (h *fakeHandle) CopyFrom(context.Context, string, string) error { return nil }

func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	return nil
}

func makeHosts(n int) []*config.Host {
	hosts := make([]*config.Host, n)
	for i := range hosts {
		hosts[i] = &config.Host{
			Host:     fmt.Sprintf("10.0.0.%d", i+1),
			Port:     22,
			Username: "root",
			Password: "secret",
		}
	}
	return hosts
}

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

// quietProber never fails so the monitor stays silent.
func quietProber(context.Context, string) error { return nil }

func TestNewConnectsEveryHost(t *testing.T) {
	hosts := makeHosts(4)
	var dialed []string
	logger, logs := observed()

	f, err := New(context.Background(), hosts, Options{
		Logger:        logger,
		ProbeInterval: time.Hour,
		Prober:        quietProber,
		Dialer: func(_ context.Context, spec *config.Host) (Handle, error) {
			dialed = append(dialed, spec.Host)
			return &fakeHandle{spec: spec}, nil
		},
	})
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, 4, f.Size())
	require.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}, dialed)
	require.Equal(t, hosts, f.Hosts())
	require.Equal(t, 4, logs.FilterMessage("connected").Len())
	require.NotNil(t, f.monitor)
}

func TestNewStopsAtFirstFailure(t *testing.T) {
	hosts := makeHosts(4)
	dials := 0
	logger, logs := observed()

	f, err := New(context.Background(), hosts, Options{
		Logger: logger,
		Dialer: func(_ context.Context, spec *config.Host) (Handle, error) {
			dials++
			if spec == hosts[2] {
				return nil, errors.New("connection refused")
			}
			return &fakeHandle{spec: spec}, nil
		},
	})
	require.ErrorIs(t, err, ErrConnection)
	require.ErrorContains(t, err, "root@10.0.0.3:22")
	require.Equal(t, 3, dials)
	require.Equal(t, 2, f.Size())
	require.Nil(t, f.monitor)

	failures := logs.FilterLevelExact(zapcore.ErrorLevel).AllUntimed()
	require.Len(t, failures, 1)
	require.Equal(t, "failed to connect", failures[0].Message)
	require.Equal(t, "root@10.0.0.3:22", failures[0].ContextMap()["host"])

	require.NoError(t, f.Close())
}

func TestNewKeepsConnectionErrorUnwrapped(t *testing.T) {
	hosts := makeHosts(1)
	cause := fmt.Errorf("%w: root@10.0.0.1:22: handshake failed", ErrConnection)

	_, err := New(context.Background(), hosts, Options{
		Dialer: func(context.Context, *config.Host) (Handle, error) { return nil, cause },
	})
	require.Equal(t, cause, err)
}

func TestCloseClosesHandlesAndStopsMonitor(t *testing.T) {
	hosts := makeHosts(3)
	var handles []*fakeHandle

	f, err := New(context.Background(), hosts, Options{
		ProbeInterval: time.Millisecond,
		Prober:        quietProber,
		Dialer: func(_ context.Context, spec *config.Host) (Handle, error) {
			h := &fakeHandle{spec: spec}
			handles = append(handles, h)
			return h, nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, f.Close())
	for _, h := range handles {
		require.True(t, h.closed.Load())
	}
	select {
	case <-f.monitor.done:
	default:
		t.Fatal("monitor loop still running after Close")
	}
}

func TestMonitorCycleLogsOfflineHostsOnce(t *testing.T) {
	hosts := makeHosts(3)
	logger, logs := observed()
	down := hosts[1].Address()

	m := NewMonitor(hosts, time.Hour, time.Second, func(_ context.Context, address string) error {
		if address == down {
			return errors.New("i/o timeout")
		}
		return nil
	}, logger)

	require.Equal(t, 0, logs.Len())
	offline := m.Cycle(context.Background())
	require.Equal(t, []string{hosts[1].Label()}, offline)

	lines := logs.FilterMessage("host offline").AllUntimed()
	require.Len(t, lines, 1)
	require.Equal(t, zapcore.ErrorLevel, lines[0].Level)
	require.Equal(t, hosts[1].Label(), lines[0].ContextMap()["host"])
	require.Equal(t, 1, logs.Len())
}

func TestMonitorCycleProbesConcurrently(t *testing.T) {
	hosts := makeHosts(5)
	var wg sync.WaitGroup
	wg.Add(len(hosts))

	m := NewMonitor(hosts, time.Hour, 5*time.Second, func(ctx context.Context, _ string) error {
		// every probe waits for all the others to start
		wg.Done()
		wg.Wait()
		return nil
	}, nil)

	done := make(chan []string)
	go func() { done <- m.Cycle(context.Background()) }()

	select {
	case offline := <-done:
		require.Empty(t, offline)
	case <-time.After(5 * time.Second):
		t.Fatal("probes did not run concurrently")
	}
}

func TestMonitorCycleUsesProbeTimeout(t *testing.T) {
	hosts := makeHosts(1)
	m := NewMonitor(hosts, time.Hour, 50*time.Millisecond, func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}, nil)

	require.Equal(t, []string{hosts[0].Label()}, m.Cycle(context.Background()))
}

func TestMonitorLoop(t *testing.T) {
	hosts := makeHosts(2)
	logger, logs := observed()

	m := NewMonitor(hosts, 50*time.Millisecond, time.Second, func(context.Context, string) error {
		return errors.New("no route to host")
	}, logger)
	m.Start()

	// the first cycle runs one interval after start
	require.Equal(t, 0, logs.FilterMessage("host offline").Len())
	require.Eventually(t, func() bool {
		return logs.FilterMessage("host offline").Len() >= 2
	}, 5*time.Second, 10*time.Millisecond)

	m.Stop()
	n := logs.FilterMessage("host offline").Len()
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, n, logs.FilterMessage("host offline").Len())
}

func TestMonitorStop(t *testing.T) {
	t.Run("NeverStarted", func(t *testing.T) {
		m := NewMonitor(makeHosts(1), 0, 0, quietProber, nil)
		m.Stop()
	})

	t.Run("Twice", func(t *testing.T) {
		m := NewMonitor(makeHosts(1), time.Millisecond, 0, quietProber, nil)
		m.Start()
		m.Stop()
		m.Stop()
	})
}

func TestMonitorCycleNoHosts(t *testing.T) {
	m := NewMonitor(nil, 0, 0, nil, nil)
	require.Nil(t, m.Cycle(context.Background()))
}
