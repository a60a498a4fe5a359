// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package cliui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lxlee/parallelMultiRun/pkg/plan"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	skipStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	detailStyle = lipgloss.NewStyle().PaddingLeft(6).Faint(true)
)

// RenderReport formats a run summary: one line per task, followed by the
// hosts that failed it.
func RenderReport(r *plan.Report) string {
	var b strings.Builder

	title := "Run summary"
	if r.Name != "" {
		title += ": " + r.Name
	}
	b.WriteString(headerStyle.Render(title))
	b.WriteByte('\n')

	for _, o := range r.Outcomes {
		var status string
		switch n := o.Failures(); {
		case o.Skipped:
			status = skipStyle.Render("skipped")
		case n > 0:
			status = failStyle.Render(fmt.Sprintf("%d failed", n))
		default:
			status = okStyle.Render("ok")
		}
		fmt.Fprintf(&b, "%3d. %s  %s\n", o.Index+1, o.Task, status)

		for _, hr := range o.Results {
			if hr.Failed() {
				b.WriteString(detailStyle.Render(fmt.Sprintf("%s: %v", hr.Host, hr.Err)))
				b.WriteByte('\n')
			}
		}
		if o.Err != nil && !o.Skipped {
			b.WriteString(detailStyle.Render(o.Err.Error()))
			b.WriteByte('\n')
		}
	}

	fmt.Fprintf(&b, "%d tasks, %d failures, %d skipped\n", len(r.Outcomes), r.Failures(), r.Skipped())
	return b.String()
}
