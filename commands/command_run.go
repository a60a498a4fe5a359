// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lxlee/parallelMultiRun/pkg/cliui"
	"github.com/lxlee/parallelMultiRun/pkg/fleet"
	"github.com/lxlee/parallelMultiRun/pkg/plan"
)

// runCommandFunc connects to every configured host and runs the task script.
// Only configuration and connection problems fail the command; task faults
// are logged and listed in the summary.
func runCommandFunc(cmd *cobra.Command, s *settings) error {
	logger, err := s.newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := s.loadConfig(logger)
	if err != nil {
		return err
	}
	if len(cfg.Tasks) == 0 {
		logger.Warn("[MAIN] no tasks configured")
	}

	opts, err := s.fleetOptions(logger)
	if err != nil {
		return err
	}

	f, err := fleet.New(cmd.Context(), cfg.Hosts, opts)
	defer func() {
		if cerr := f.Close(); cerr != nil {
			logger.Warn("[MAIN] closing connections", zap.Error(cerr))
		}
	}()
	if err := checkFleet(f, len(cfg.Hosts), err); err != nil {
		logger.Error("[MAIN] not all hosts are connected, aborting",
			zap.Int("connected", f.Size()), zap.Int("configured", len(cfg.Hosts)))
		return err
	}
	logger.Info("[MAIN] will run on hosts", zap.Int("hosts", f.Size()))

	p := &plan.ExecutionPlan{
		Name:           filepath.Base(s.ConfigFile),
		Tasks:          cfg.Tasks,
		Exec:           plan.ExecContext{ConfigFile: s.ConfigFile, RemoteHostNum: f.Size()},
		CommandTimeout: s.CommandTimeout,
		Logger:         logger,
		Stdout:         cmd.OutOrStdout(),
		Stderr:         cmd.ErrOrStderr(),
	}
	report, err := p.Execute(cmd.Context(), f)
	fmt.Fprint(cmd.OutOrStdout(), cliui.RenderReport(report))
	if err != nil {
		return err
	}

	logger.Info("[MAIN] work finished", zap.Int("failures", report.Failures()))
	return nil
}
