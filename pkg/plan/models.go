// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package plan

import (
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lxlee/parallelMultiRun/pkg/fleet"
	"github.com/lxlee/parallelMultiRun/pkg/task"
)

// Target is the set of hosts a plan runs against.
type Target interface {
	Handles() []fleet.Handle
}

// ExecutionPlan is an ordered task script. Tasks run strictly one after
// another; fan-out tasks run on every host at once.
type ExecutionPlan struct {
	Name  string
	Tasks []task.Task
	Exec  ExecContext
	// CommandTimeout bounds each remote command. Zero waits indefinitely.
	CommandTimeout time.Duration
	Logger         *zap.Logger
	// Stdout and Stderr receive the output of local commands. They default
	// to the process streams.
	Stdout io.Writer
	Stderr io.Writer
}

// ExecContext is passed to local commands through their environment.
type ExecContext struct {
	ConfigFile    string
	RemoteHostNum int
}

// Environ returns the variables appended to a local command's environment.
func (c ExecContext) Environ() []string {
	return []string{
		"config_file=" + c.ConfigFile,
		"remote_host_num=" + strconv.Itoa(c.RemoteHostNum),
	}
}

// HostResult is what one fan-out unit produced on one host.
type HostResult struct {
	Index      int
	Host       string
	ExitStatus int
	Stdout     string
	Stderr     string
	Err        error
}

func (r HostResult) Failed() bool {
	return r.Err != nil
}

// TaskOutcome collects the results of one task. Results is set for fan-out
// tasks, in fleet order; Err is set when a local command failed or the task
// was skipped.
type TaskOutcome struct {
	Index    int
	Task     task.Task
	Results  []HostResult
	Skipped  bool
	Err      error
	Duration time.Duration
}

// Failures counts failed hosts, or one for a failed local command. Skipped
// tasks do not count.
func (o TaskOutcome) Failures() int {
	if o.Skipped {
		return 0
	}
	n := 0
	for _, r := range o.Results {
		if r.Failed() {
			n++
		}
	}
	if o.Err != nil {
		n++
	}
	return n
}

// Report is the outcome of a whole run, one entry per task started.
type Report struct {
	Name     string
	Outcomes []TaskOutcome
}

func (r *Report) Failures() int {
	n := 0
	for _, o := range r.Outcomes {
		n += o.Failures()
	}
	return n
}

func (r *Report) Skipped() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Skipped {
			n++
		}
	}
	return n
}
