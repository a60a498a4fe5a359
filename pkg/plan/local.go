// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package plan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/lxlee/parallelMultiRun/pkg/task"
)

// LocalShell interprets local command lines.
const LocalShell = "/bin/sh"

// runLocal runs t once on the controller and waits for it. The child sees
// the controller's environment plus the plan's ExecContext.
func (p *ExecutionPlan) runLocal(ctx context.Context, t *task.LocalCommand, logger *zap.Logger) error {
	logger.Info("[RUN] running local command", zap.String("command", t.Command))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, LocalShell, "-c", t.Command)
	cmd.Env = append(os.Environ(), p.Exec.Environ()...)
	cmd.Stdout = p.stdout()
	cmd.Stderr = io.MultiWriter(p.stderr(), &stderr)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.Exited() {
			logger.Warn("local command exited with nonzero status",
				zap.String("command", t.Command),
				zap.Int("status", exitErr.ExitCode()),
				zap.String("stderr", strings.TrimSpace(stderr.String())))
			return fmt.Errorf("local command %q exited with status %d", t.Command, exitErr.ExitCode())
		}
		logger.Error("local command did not complete", zap.String("command", t.Command), zap.Error(err))
		return fmt.Errorf("local command %q: %w", t.Command, err)
	}

	logger.Info("local command completed", zap.String("command", t.Command))
	return nil
}

func (p *ExecutionPlan) stdout() io.Writer {
	if p.Stdout == nil {
		return os.Stdout
	}
	return p.Stdout
}

func (p *ExecutionPlan) stderr() io.Writer {
	if p.Stderr == nil {
		return os.Stderr
	}
	return p.Stderr
}
