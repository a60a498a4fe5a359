// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package plan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/lxlee/parallelMultiRun/pkg/fleet"
	"github.com/lxlee/parallelMultiRun/pkg/task"
)

// ErrUnsupportedTask marks a task whose configuration key is unknown.
var ErrUnsupportedTask = errors.New("unsupported task")

// unit is the work a fan-out task performs on a single host.
type unit func(ctx context.Context, h fleet.Handle) HostResult

// Execute runs the tasks in order against target. Host faults are recorded
// in the report and never stop the run; only ctx cancellation does, in
// which case the report covers the tasks started so far and ctx's error is
// returned.
func (p *ExecutionPlan) Execute(ctx context.Context, target Target) (*Report, error) {
	logger := p.logger()
	handles := target.Handles()
	report := &Report{Name: p.Name}

	logger.Info("[RUN] starting", zap.String("plan", p.Name),
		zap.Int("tasks", len(p.Tasks)), zap.Int("hosts", len(handles)))

	for i, t := range p.Tasks {
		if err := ctx.Err(); err != nil {
			logger.Warn("[RUN] interrupted", zap.Int("remaining", len(p.Tasks)-i), zap.Error(err))
			return report, err
		}

		tl := logger.With(zap.Int("task", i+1), zap.String("kind", t.Name()))
		tl.Info("[RUN] task started", zap.String("step", t.String()))
		start := time.Now()

		outcome := TaskOutcome{Index: i, Task: t}
		switch t := t.(type) {
		case *task.CopyTo:
			outcome.Results = fanOut(ctx, handles, 0, func(ctx context.Context, h fleet.Handle) HostResult {
				return HostResult{Err: h.CopyTo(ctx, t.Source, t.Target)}
			})
		case *task.CopyFrom:
			outcome.Results = fanOut(ctx, handles, 0, func(ctx context.Context, h fleet.Handle) HostResult {
				return HostResult{Err: h.CopyFrom(ctx, t.Source, t.Target)}
			})
		case *task.RemoteCommand:
			outcome.Results = fanOut(ctx, handles, p.CommandTimeout, func(ctx context.Context, h fleet.Handle) HostResult {
				res, err := h.Execute(ctx, t.Command)
				r := HostResult{Err: err}
				if res != nil {
					r.ExitStatus = res.ExitStatus
					r.Stdout = string(res.Stdout)
					r.Stderr = string(res.Stderr)
				}
				return r
			})
		case *task.LocalCommand:
			outcome.Err = p.runLocal(ctx, t, tl)
		case *task.Unsupported:
			tl.Error("[RUN] unsupported task, skipping", zap.String("key", t.Key))
			outcome.Skipped = true
			outcome.Err = fmt.Errorf("%w: %q", ErrUnsupportedTask, t.Key)
		default:
			tl.Error("[RUN] unsupported task, skipping", zap.String("type", fmt.Sprintf("%T", t)))
			outcome.Skipped = true
			outcome.Err = fmt.Errorf("%w: %T", ErrUnsupportedTask, t)
		}
		outcome.Duration = time.Since(start)

		tl.Info("[RUN] task finished",
			zap.Int("failures", outcome.Failures()),
			zap.Duration("elapsed", outcome.Duration))
		report.Outcomes = append(report.Outcomes, outcome)
	}

	logger.Info("[RUN] finished", zap.String("plan", p.Name),
		zap.Int("failures", report.Failures()), zap.Int("skipped", report.Skipped()))
	return report, nil
}

// fanOut runs fn on every handle in a pool sized to the fleet and waits for
// all of them. Results come back in fleet order. A timeout above zero bounds
// each unit separately.
func fanOut(ctx context.Context, handles []fleet.Handle, timeout time.Duration, fn unit) []HostResult {
	if len(handles) == 0 {
		return nil
	}

	p := pool.NewWithResults[HostResult]().WithMaxGoroutines(len(handles))
	for i, h := range handles {
		p.Go(func() (r HostResult) {
			defer func() {
				if v := recover(); v != nil {
					r = HostResult{Err: fmt.Errorf("panic: %v", v)}
				}
				r.Index = i
				r.Host = h.Spec().Label()
			}()

			unitCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				unitCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return fn(unitCtx, h)
		})
	}

	results := p.Wait()
	sort.Slice(results, func(a, b int) bool { return results[a].Index < results[b].Index })
	return results
}

func (p *ExecutionPlan) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}
