// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package cliui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var quitTextStyle = lipgloss.NewStyle().Margin(1, 0, 2, 4)

type model struct {
	list     list.Model
	index    int
	choice   string
	quitting bool
}

func (m *model) Init() tea.Cmd {
	return nil
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEscape:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			m.choose(m.list.Index())
			return m, tea.Quit
		case tea.KeyRunes:
			// 'q' quits like ctrl+c and ESC; digits pick an option directly
			if len(msg.Runes) != 1 {
				break
			}
			switch r := msg.Runes[0]; {
			case r == 'q':
				m.quitting = true
				return m, tea.Quit
			case r >= '1' && r <= '9':
				if n := int(r - '1'); n < len(m.list.Items()) {
					m.choose(n)
					return m, tea.Quit
				}
			}
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *model) choose(index int) {
	items := m.list.Items()
	if index < 0 || index >= len(items) {
		return
	}
	if i, ok := items[index].(item); ok {
		m.index = index
		m.choice = string(i)
	}
}

func (m *model) View() string {
	if m.choice != "" {
		return quitTextStyle.Render(fmt.Sprintf("Selected %d: %s", m.index+1, m.choice))
	}
	if m.quitting {
		return quitTextStyle.Render("Selection cancelled.")
	}

	return "\n" + m.list.View()
}
