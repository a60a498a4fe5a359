// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package commands

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lxlee/parallelMultiRun/pkg/fleet"
)

// NewCommandPing probes every configured host once without opening an SSH
// session.
func NewCommandPing(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that every configured host accepts connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return pingCommandFunc(cmd, loadSettings(v))
		},
	}
}

func pingCommandFunc(cmd *cobra.Command, s *settings) error {
	logger, err := s.newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := s.loadConfig(logger)
	if err != nil {
		return err
	}

	m := fleet.NewMonitor(cfg.Hosts, s.ProbeInterval, s.ProbeTimeout, nil, logger)
	offline := m.Cycle(cmd.Context())

	out := cmd.OutOrStdout()
	for _, label := range hostLabels(cfg.Hosts) {
		state := "online"
		if slices.Contains(offline, label) {
			state = "offline"
		}
		fmt.Fprintf(out, "%-8s %s\n", state, label)
	}

	if len(offline) > 0 {
		return fmt.Errorf("%d of %d hosts offline", len(offline), len(cfg.Hosts))
	}
	return nil
}
