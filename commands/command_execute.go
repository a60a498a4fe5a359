// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lxlee/parallelMultiRun/pkg/cliui"
	"github.com/lxlee/parallelMultiRun/pkg/config"
	"github.com/lxlee/parallelMultiRun/pkg/fleet"
	"github.com/lxlee/parallelMultiRun/pkg/plan"
	"github.com/lxlee/parallelMultiRun/pkg/task"
)

const allHosts = "all"

// NewCommandExecute executes command against host(s)
// Runs command against single host if user selects specific host
// Runs command against all hosts if user selects all
func NewCommandExecute(v *viper.Viper) *cobra.Command {
	var userCmd string

	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Execute command against host(s)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return executeCommandFunc(cmd, loadSettings(v), userCmd)
		},
	}
	cmd.Flags().StringVarP(&userCmd, "command", "e", "", "command to execute against target host(s)")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

func executeCommandFunc(cmd *cobra.Command, s *settings, userCmd string) error {
	if strings.TrimSpace(userCmd) == "" {
		return errors.New("command must not be empty")
	}

	logger, err := s.newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := s.loadConfig(logger)
	if err != nil {
		return err
	}

	options := append(hostLabels(cfg.Hosts), allHosts)
	idx, _, err := cliui.Select("Select the host to execute the command on:", options)
	if err != nil {
		// user didn't select any host
		return fmt.Errorf("no host selected: %w", err)
	}

	hosts := cfg.Hosts
	if idx < len(cfg.Hosts) {
		hosts = []*config.Host{cfg.Hosts[idx]}
	}

	opts, err := s.fleetOptions(logger)
	if err != nil {
		return err
	}
	f, err := fleet.New(cmd.Context(), hosts, opts)
	defer func() { _ = f.Close() }()
	if err := checkFleet(f, len(hosts), err); err != nil {
		return err
	}

	p := &plan.ExecutionPlan{
		Name:           "exec",
		Tasks:          []task.Task{&task.RemoteCommand{Command: userCmd}},
		CommandTimeout: s.CommandTimeout,
		Logger:         logger,
	}
	report, err := p.Execute(cmd.Context(), f)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, r := range report.Outcomes[0].Results {
		fmt.Fprintf(out, "==> %s <==\n%s", r.Host, r.Stdout)
		if r.Stderr != "" {
			fmt.Fprintf(out, "%s", r.Stderr)
		}
	}
	if n := report.Failures(); n > 0 {
		logger.Warn("command failed on some hosts", zap.Int("failures", n))
		return fmt.Errorf("command failed on %d of %d hosts", n, f.Size())
	}
	return nil
}
