// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package commands

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lxlee/parallelMultiRun/pkg/config"
	"github.com/lxlee/parallelMultiRun/pkg/fleet"
	"github.com/lxlee/parallelMultiRun/pkg/logging"
	"github.com/lxlee/parallelMultiRun/pkg/ssh"
)

// newLogger returns the logger of one invocation, tagged with a fresh run id.
func (s *settings) newLogger() (*zap.Logger, error) {
	logger, err := logging.New(s.Verbose, s.LogFormat)
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("run_id", uuid.NewString())), nil
}

func (s *settings) fleetOptions(logger *zap.Logger) (fleet.Options, error) {
	policy, err := ssh.ParseHostKeyPolicy(s.HostKeyPolicy)
	if err != nil {
		return fleet.Options{}, err
	}
	return fleet.Options{
		Logger:         logger,
		ConnectTimeout: s.ConnectTimeout,
		HostKeyPolicy:  policy,
		KnownHostsPath: s.KnownHosts,
		ProbeInterval:  s.ProbeInterval,
		ProbeTimeout:   s.ProbeTimeout,
	}, nil
}

// loadConfig parses the configuration file and logs the outcome.
func (s *settings) loadConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.ParseFromFile(s.ConfigFile)
	if err != nil {
		logger.Error("[MAIN] cannot load configuration", zap.String("config", s.ConfigFile), zap.Error(err))
		return nil, err
	}
	logger.Info("[MAIN] running with config", zap.String("config", s.ConfigFile),
		zap.Int("hosts", len(cfg.Hosts)), zap.Int("tasks", len(cfg.Tasks)))
	return cfg, nil
}

func hostLabels(hosts []*config.Host) []string {
	labels := make([]string, len(hosts))
	for i, h := range hosts {
		labels[i] = h.Label()
	}
	return labels
}

// checkFleet refuses to go on unless every configured host is connected.
func checkFleet(f *fleet.Fleet, want int, dialErr error) error {
	if f.Size() == want {
		return nil
	}
	if dialErr == nil {
		dialErr = fleet.ErrConnection
	}
	return fmt.Errorf("connected to %d of %d hosts: %w", f.Size(), want, dialErr)
}
