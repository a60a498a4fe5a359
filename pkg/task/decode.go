// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package task

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// List is the ordered run script. It decodes from a list of single-key
// objects, e.g. [{"ScpTo": {"source": "a", "target": "b"}}, {"RemoteCmd": "ls"}].
type List []Task

func (l *List) UnmarshalJSON(data []byte) error {
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("tasks must be a list of single-key objects: %w", err)
	}

	tasks := make(List, 0, len(entries))
	for i, entry := range entries {
		if len(entry) != 1 {
			return fmt.Errorf("task #%d: expected exactly one key, got %d", i+1, len(entry))
		}
		for key, raw := range entry {
			t, err := Decode(key, raw)
			if err != nil {
				return fmt.Errorf("task #%d (%s): %w", i+1, key, err)
			}
			tasks = append(tasks, t)
		}
	}

	*l = tasks
	return nil
}

// Decode builds the task selected by key from its raw JSON body. Unknown keys
// decode into *Unsupported without error.
func Decode(key string, raw json.RawMessage) (Task, error) {
	switch Kind(key) {
	case KindCopyTo:
		t := &CopyTo{}
		if err := decodeStrict(raw, t); err != nil {
			return nil, err
		}
		return t, nil
	case KindCopyFrom:
		t := &CopyFrom{}
		if err := decodeStrict(raw, t); err != nil {
			return nil, err
		}
		return t, nil
	case KindLocalCommand:
		cmd, err := decodeCommand(raw)
		if err != nil {
			return nil, err
		}
		return &LocalCommand{Command: cmd}, nil
	case KindRemoteCommand:
		cmd, err := decodeCommand(raw)
		if err != nil {
			return nil, err
		}
		return &RemoteCommand{Command: cmd}, nil
	default:
		return &Unsupported{Key: key}, nil
	}
}

func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func decodeCommand(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var cmd string
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return "", fmt.Errorf("command must be a string: %w", err)
	}
	return cmd, nil
}
