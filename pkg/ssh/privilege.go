// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package ssh

import (
	"strings"
	"unicode"
)

const (
	sudoKeyword = "sudo"
	// -S reads the password from stdin, -p '' drops the prompt text.
	sudoNonInteractive = "sudo -S -p ''"
)

// IsPrivileged reports whether cmd is a sudo invocation.
func IsPrivileged(cmd string) bool {
	fields := strings.Fields(cmd)
	return len(fields) > 0 && fields[0] == sudoKeyword
}

// ElevateCommand rewrites a sudo invocation so it never prompts on a
// terminal. Commands that are not sudo invocations are returned unchanged.
func ElevateCommand(cmd string) string {
	if !IsPrivileged(cmd) {
		return cmd
	}
	rest := strings.TrimSpace(strings.TrimLeftFunc(cmd, unicode.IsSpace)[len(sudoKeyword):])
	return sudoNonInteractive + " " + rest
}
