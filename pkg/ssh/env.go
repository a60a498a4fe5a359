// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package ssh

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
)

// EnvFile is where the remote environment is kept, relative to the login
// user's home directory.
const EnvFile = "$HOME/.parallelrun_env"

var pathAugmentation = []string{
	"PATH=$PATH:/usr/local/bin:/usr/local/sbin:/usr/sbin:/sbin",
	"LD_LIBRARY_PATH=$LD_LIBRARY_PATH:/usr/local/lib:/usr/local/lib64",
}

// BootstrapEnv replaces the remote environment file with one assignment per
// env entry followed by the path augmentation lines. The whole file is
// written by a single command that is waited for, so a later Execute always
// sees the complete file.
func (c *Client) BootstrapEnv(ctx context.Context, env map[string]string) error {
	cmd := fmt.Sprintf("umask 077 && cat > %q", EnvFile)
	res, err := c.Exec(ctx, cmd, EnvFileContent(env))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", EnvFile, err)
	}
	if res.ExitStatus != 0 {
		return fmt.Errorf("failed to write %s: exit status %d: %s",
			EnvFile, res.ExitStatus, strings.TrimSpace(string(res.Stderr)))
	}
	c.envFile = EnvFile
	return nil
}

// EnvFileContent renders the remote environment file, keys in sorted order.
func EnvFileContent(env map[string]string) []byte {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, shellQuote(env[k]))
	}
	for _, line := range pathAugmentation {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// sourceEnvPrefix exports every assignment of file into the command's shell.
func sourceEnvPrefix(file string) string {
	return fmt.Sprintf("set -a; . %q; set +a; ", file)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
