// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package cliui

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	defaultWidth = 20
	listHeight   = 14
)

var (
	titleStyle      = lipgloss.NewStyle().MarginLeft(2)
	paginationStyle = list.DefaultStyles().PaginationStyle.PaddingLeft(4)
	helpStyle       = list.DefaultStyles().HelpStyle.PaddingLeft(4).PaddingBottom(1)
)

// ErrCancelled is returned when the user leaves the menu without choosing.
var ErrCancelled = errors.New("user cancelled")

// Select displays an interactive command-line menu with a given title
// and a list of options, allowing the user to choose one of them.
//
// Parameters:
//   - title: A string that will be displayed as the heading for the menu.
//   - options: A slice of strings representing the selectable options in the menu.
//
// Returns:
//   - int: The zero-based index of the option selected by the user in the `options` slice.
//   - string: The actual string value of the option selected by the user.
//   - error: An error if the selection process fails or is canceled by the user.
//
// Example usage:
//
//	options := []string{"All hosts", "root@10.0.0.1:22", "root@10.0.0.2:22"}
//	idx, choice, err := cliui.Select("Run on:", options)
//	if err != nil {
//	    fmt.Println("Selection canceled or failed:", err)
//	    return
//	}
//	fmt.Printf("You selected option %d: %s\n", idx, choice)
func Select(title string, options []string, opts ...tea.ProgramOption) (int, string, error) {
	if len(options) == 0 {
		return -1, "", errors.New("no options provided")
	}

	m := newModel(title, options)
	if _, err := tea.NewProgram(m, opts...).Run(); err != nil {
		return -1, "", fmt.Errorf("error selecting from CLI menu: %w", err)
	}

	if m.quitting {
		return -1, "", ErrCancelled
	}

	return m.index, m.choice, nil
}

func newModel(title string, options []string) *model {
	items := make([]list.Item, 0, len(options))
	for _, option := range options {
		items = append(items, item(option))
	}

	l := list.New(items, itemDelegate{}, defaultWidth, listHeight)
	l.Title = title
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = titleStyle
	l.Styles.PaginationStyle = paginationStyle
	l.Styles.HelpStyle = helpStyle

	return &model{
		list:  l,
		index: -1,
	}
}
