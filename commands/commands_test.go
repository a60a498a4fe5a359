// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package commands

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lxlee/parallelMultiRun/pkg/config"
	"github.com/lxlee/parallelMultiRun/pkg/fleet"
	"github.com/lxlee/parallelMultiRun/pkg/ssh/sshtest"
	"github.com/lxlee/parallelMultiRun/version"
)

const (
	testUser     = "testuser"
	testPassword = "testpass"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func startServer(t *testing.T) *sshtest.Server {
	t.Helper()
	srv, err := sshtest.NewServer(testUser, testPassword, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

// closedPort returns a local port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func writeConfig(t *testing.T, ports []int, tasks string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("hosts:\n")
	for i, p := range ports {
		fmt.Fprintf(&b, "  - name: host-%d\n    ip: 127.0.0.1\n    port: %d\n    username: %s\n    password: %s\n",
			i+1, p, testUser, testPassword)
	}
	b.WriteString(tasks)

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func TestRootHelpDescribesConfigFormat(t *testing.T) {
	out, err := runRoot(t, "--help")
	require.NoError(t, err)
	require.Contains(t, out, "config.yml format:")
	require.Contains(t, out, "--command-timeout")
	require.Contains(t, out, "--host-key-policy")
}

func TestVersionCommand(t *testing.T) {
	out, err := runRoot(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "parallelrun version: "+version.Version)
	require.Contains(t, out, "Go OS/Arch:")
}

func TestRunMissingConfig(t *testing.T) {
	_, err := runRoot(t, "-c", filepath.Join(t.TempDir(), "nope.yml"))
	require.ErrorIs(t, err, config.ErrConfig)
}

func TestRunConfigFromEnvironment(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "from-env.yml")
	t.Setenv("PARALLELRUN_CONFIG", missing)

	_, err := runRoot(t)
	require.ErrorIs(t, err, config.ErrConfig)
	require.ErrorContains(t, err, "from-env.yml")
}

func TestRunRejectsUnknownHostKeyPolicy(t *testing.T) {
	srv := startServer(t)
	cfg := writeConfig(t, []int{srv.Port()}, "")

	_, err := runRoot(t, "-c", cfg, "--host-key-policy", "trust-me")
	require.Error(t, err)
	require.Empty(t, srv.Commands())
}

func TestRunExecutesTasks(t *testing.T) {
	srv := startServer(t)
	cfg := writeConfig(t, []int{srv.Port()}, `tasks:
  - RemoteCmd: echo hi
  - LocalCmd: echo "local $config_file:$remote_host_num"
`)

	out, err := runRoot(t, "-c", cfg, "--host-key-policy", "insecure")
	require.NoError(t, err)

	require.Contains(t, out, "local "+cfg+":1")
	require.Contains(t, out, "Run summary: config.yml")
	require.Contains(t, out, "2 tasks, 0 failures, 0 skipped")

	var ran bool
	for _, c := range srv.Commands() {
		if sshtest.StripEnvPrefix(c) == "echo hi" {
			ran = true
		}
	}
	require.True(t, ran, "remote command not executed: %v", srv.Commands())
}

func TestRunTaskFailureStillSucceeds(t *testing.T) {
	srv := startServer(t)
	srv.SetHandler(func(cmd string, _ []byte) (string, string, int) {
		if strings.Contains(cmd, "exit 3") {
			return "", "boom\n", 3
		}
		return "", "", 0
	})
	cfg := writeConfig(t, []int{srv.Port()}, `tasks:
  - RemoteCmd: exit 3
  - RemoteCmd: "true"
`)

	out, err := runRoot(t, "-c", cfg, "--host-key-policy", "insecure")
	require.NoError(t, err)
	require.Contains(t, out, "1 failed")
	require.Contains(t, out, "2 tasks, 1 failures, 0 skipped")
	require.Len(t, srv.Commands(), 3, "bootstrap plus two commands")
}

func TestRunRefusesPartialFleet(t *testing.T) {
	srv := startServer(t)
	cfg := writeConfig(t, []int{srv.Port(), closedPort(t)}, `tasks:
  - RemoteCmd: echo hi
`)

	_, err := runRoot(t, "-c", cfg, "--host-key-policy", "insecure", "--connect-timeout", "2s")
	require.ErrorIs(t, err, fleet.ErrConnection)
	require.ErrorContains(t, err, "connected to 1 of 2 hosts")
	for _, c := range srv.Commands() {
		require.NotEqual(t, "echo hi", sshtest.StripEnvPrefix(c))
	}
}

func TestPingReportsHostState(t *testing.T) {
	srv := startServer(t)
	cfg := writeConfig(t, []int{srv.Port(), closedPort(t)}, "")

	out, err := runRoot(t, "ping", "-c", cfg, "--probe-timeout", "1s")
	require.ErrorContains(t, err, "1 of 2 hosts offline")
	require.Contains(t, out, fmt.Sprintf("%-8s %s", "online", "host-1"))
	require.Contains(t, out, fmt.Sprintf("%-8s %s", "offline", "host-2"))
}

func TestPingAllOnline(t *testing.T) {
	srv := startServer(t)
	cfg := writeConfig(t, []int{srv.Port()}, "")

	out, err := runRoot(t, "ping", "-c", cfg)
	require.NoError(t, err)
	require.Contains(t, out, "online")
	require.Empty(t, srv.Commands())
}

func TestExecRequiresCommand(t *testing.T) {
	_, err := runRoot(t, "exec")
	require.ErrorContains(t, err, `required flag(s) "command" not set`)

	_, err = runRoot(t, "exec", "-e", "   ")
	require.ErrorContains(t, err, "command must not be empty")
}

func TestCheckFleet(t *testing.T) {
	f, err := fleet.New(t.Context(), nil, fleet.Options{})
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, checkFleet(f, 0, nil))
	err = checkFleet(f, 2, nil)
	require.ErrorIs(t, err, fleet.ErrConnection)
	require.ErrorContains(t, err, "connected to 0 of 2 hosts")
}
