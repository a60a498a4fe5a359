// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package cliui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/lxlee/parallelMultiRun/pkg/plan"
	"github.com/lxlee/parallelMultiRun/pkg/task"
)

var hosts = []string{"All hosts", "root@10.0.0.1:22", "root@10.0.0.2:22"}

func send(m *model, msgs ...tea.Msg) {
	for _, msg := range msgs {
		m.Update(msg)
	}
}

func TestModelEnterSelectsCurrentItem(t *testing.T) {
	m := newModel("Run on:", hosts)
	send(m, tea.KeyMsg{Type: tea.KeyDown}, tea.KeyMsg{Type: tea.KeyEnter})

	require.False(t, m.quitting)
	require.Equal(t, 1, m.index)
	require.Equal(t, "root@10.0.0.1:22", m.choice)
	require.Contains(t, m.View(), "Selected 2: root@10.0.0.1:22")
}

func TestModelDigitSelectsItem(t *testing.T) {
	m := newModel("Run on:", hosts)
	send(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'3'}})

	require.Equal(t, 2, m.index)
	require.Equal(t, "root@10.0.0.2:22", m.choice)
}

func TestModelDigitOutOfRangeIsIgnored(t *testing.T) {
	m := newModel("Run on:", hosts)
	send(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'9'}})

	require.Equal(t, -1, m.index)
	require.Empty(t, m.choice)
	require.False(t, m.quitting)
}

func TestModelCancel(t *testing.T) {
	for name, key := range map[string]tea.KeyMsg{
		"esc":    {Type: tea.KeyEscape},
		"ctrl+c": {Type: tea.KeyCtrlC},
		"q":      {Type: tea.KeyRunes, Runes: []rune{'q'}},
	} {
		t.Run(name, func(t *testing.T) {
			m := newModel("Run on:", hosts)
			send(m, key)
			require.True(t, m.quitting)
			require.Equal(t, -1, m.index)
			require.Contains(t, m.View(), "Selection cancelled.")
		})
	}
}

func TestModelViewListsOptions(t *testing.T) {
	m := newModel("Run on:", hosts)
	view := m.View()
	require.Contains(t, view, "Run on:")
	require.Contains(t, view, "1. All hosts")
	require.Contains(t, view, "2. root@10.0.0.1:22")
}

func TestSelectWithoutOptions(t *testing.T) {
	_, _, err := Select("Run on:", nil)
	require.Error(t, err)
}

func TestRenderReport(t *testing.T) {
	report := &plan.Report{
		Name: "deploy",
		Outcomes: []plan.TaskOutcome{
			{Index: 0, Task: &task.CopyTo{Source: "app.tgz", Target: "/opt"}, Results: []plan.HostResult{
				{Index: 0, Host: "root@10.0.0.1:22"},
				{Index: 1, Host: "root@10.0.0.2:22", Err: errors.New("permission denied")},
			}},
			{Index: 1, Task: &task.Unsupported{Key: "Reboot"}, Skipped: true, Err: plan.ErrUnsupportedTask},
			{Index: 2, Task: &task.LocalCommand{Command: "make"}, Err: errors.New("exited with status 2")},
			{Index: 3, Task: &task.RemoteCommand{Command: "uptime"}, Results: []plan.HostResult{{Host: "root@10.0.0.1:22"}}},
		},
	}

	out := RenderReport(report)
	lines := strings.Split(out, "\n")

	require.Contains(t, lines[0], "Run summary: deploy")
	require.Contains(t, out, "ScpTo app.tgz -> /opt")
	require.Contains(t, out, "1 failed")
	require.Contains(t, out, "root@10.0.0.2:22: permission denied")
	require.NotContains(t, out, "root@10.0.0.1:22: ")
	require.Contains(t, out, "skipped")
	require.Contains(t, out, "exited with status 2")
	require.Contains(t, out, `RemoteCmd "uptime"  ok`)
	require.Contains(t, out, "4 tasks, 2 failures, 1 skipped")
}
