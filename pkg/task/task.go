// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package task

import (
	"fmt"
)

// Kind is the configuration key that selects a task variant.
type Kind string

const (
	KindCopyTo        Kind = "ScpTo"
	KindCopyFrom      Kind = "ScpFrom"
	KindLocalCommand  Kind = "LocalCmd"
	KindRemoteCommand Kind = "RemoteCmd"
)

// Task is one step of a run script. The set of implementations is closed:
// CopyTo, CopyFrom, LocalCommand, RemoteCommand and Unsupported.
type Task interface {
	Name() string
	String() string
	isTask()
}

// CopyTo transfers Source on the controller to Target on every host.
type CopyTo struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
}

// CopyFrom transfers Source on every host to Target on the controller.
type CopyFrom struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
}

// LocalCommand runs once on the controller.
type LocalCommand struct {
	Command string `validate:"required"`
}

// RemoteCommand runs on every host.
type RemoteCommand struct {
	Command string `validate:"required"`
}

// Unsupported holds a task whose key is not known. It is kept in the
// script so it can be reported and skipped at its position.
type Unsupported struct {
	Key string
}

func (*CopyTo) isTask()        {}
func (*CopyFrom) isTask()      {}
func (*LocalCommand) isTask()  {}
func (*RemoteCommand) isTask() {}
func (*Unsupported) isTask()   {}

func (t *CopyTo) Name() string        { return string(KindCopyTo) }
func (t *CopyFrom) Name() string      { return string(KindCopyFrom) }
func (t *LocalCommand) Name() string  { return string(KindLocalCommand) }
func (t *RemoteCommand) Name() string { return string(KindRemoteCommand) }
func (t *Unsupported) Name() string   { return t.Key }

func (t *CopyTo) String() string {
	return fmt.Sprintf("%s %s -> %s", KindCopyTo, t.Source, t.Target)
}

func (t *CopyFrom) String() string {
	return fmt.Sprintf("%s %s -> %s", KindCopyFrom, t.Source, t.Target)
}

func (t *LocalCommand) String() string {
	return fmt.Sprintf("%s %q", KindLocalCommand, t.Command)
}

func (t *RemoteCommand) String() string {
	return fmt.Sprintf("%s %q", KindRemoteCommand, t.Command)
}

func (t *Unsupported) String() string {
	return fmt.Sprintf("unsupported task %q", t.Key)
}
