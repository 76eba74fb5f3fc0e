// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux renders srctrace's user-facing terminal output.
//
// Diagnostics belong to pkg/logging on stderr. Everything a user asked
// for (per-file results, status tables, diffs, summaries) goes through a
// Printer on stdout, in one of three modes: styled, plain or machine.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorAdded   = lipgloss.Color("#58D68D")
)

// Icon is a status marker printed before a path.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

type styles struct {
	title   lipgloss.Style
	bold    lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	error   lipgloss.Style
	added   lipgloss.Style
	hunk    lipgloss.Style
	box     lipgloss.Style
}

// Printer writes user-facing output in a fixed Mode.
//
// Styles are bound to a renderer for out, so colors are only emitted
// when out supports them.
//
// Thread Safety: Not safe for concurrent use.
type Printer struct {
	out  io.Writer
	err  io.Writer
	mode Mode
	s    styles
}

// NewPrinter creates a printer writing results to out and problems to
// errOut. An empty mode is detected from out.
func NewPrinter(out, errOut io.Writer, mode Mode) *Printer {
	if mode == "" {
		mode = DetectMode(out)
	}

	r := lipgloss.NewRenderer(out)
	p := &Printer{out: out, err: errOut, mode: mode}
	p.s = styles{
		title:   r.NewStyle().Bold(true).Foreground(ColorTealBright),
		bold:    r.NewStyle().Bold(true),
		muted:   r.NewStyle().Foreground(ColorSlate),
		success: r.NewStyle().Foreground(ColorSuccess),
		warning: r.NewStyle().Foreground(ColorWarning),
		error:   r.NewStyle().Foreground(ColorError),
		added:   r.NewStyle().Foreground(ColorAdded),
		hunk:    r.NewStyle().Foreground(ColorTealPrimary),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorTealDeep).
			Padding(0, 1),
	}
	if mode != ModeStyled {
		plain := r.NewStyle()
		p.s = styles{
			title: plain, bold: plain, muted: plain,
			success: plain, warning: plain, error: plain,
			added: plain, hunk: plain,
			box: plain.Border(lipgloss.RoundedBorder()).Padding(0, 1),
		}
	}
	return p
}

// Mode returns the printer's mode.
func (p *Printer) Mode() Mode {
	return p.mode
}

func (p *Printer) icon(i Icon) string {
	switch i {
	case IconSuccess:
		return p.s.success.Render(string(i))
	case IconWarning:
		return p.s.warning.Render(string(i))
	case IconError:
		return p.s.error.Render(string(i))
	case IconPending:
		return p.s.muted.Render(string(i))
	default:
		return string(i)
	}
}

// Title prints a heading. Machine mode omits it.
func (p *Printer) Title(text string) {
	if p.mode == ModeMachine {
		return
	}
	fmt.Fprintln(p.out, p.s.title.Render(text))
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintln(p.out, text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.s.muted.Render("│"), text)
}

// Success prints a line with a check mark.
func (p *Printer) Success(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.out, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.icon(IconSuccess), p.s.success.Render(text))
}

// Warning prints to the error writer.
func (p *Printer) Warning(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.err, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.err, "%s %s\n", p.icon(IconWarning), p.s.warning.Render(text))
}

// Error prints to the error writer.
func (p *Printer) Error(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.err, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.err, "%s %s\n", p.icon(IconError), p.s.error.Render(text))
}

// FileLine prints one per-file record. In machine mode the fields are
// tab-separated: label, path, detail.
func (p *Printer) FileLine(icon Icon, label, path, detail string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.out, "%s\t%s\t%s\n", label, path, detail)
		return
	}
	line := fmt.Sprintf("%s %-9s %s", p.icon(icon), label, path)
	if detail != "" {
		line += " " + p.s.muted.Render("("+detail+")")
	}
	fmt.Fprintln(p.out, line)
}

// Count is one labeled number in a summary line.
type Count struct {
	Label string
	N     int
	Icon  Icon
}

// Summary prints counts on one line. Zero counts are omitted except in
// machine mode, which prints key=value pairs for every count.
func (p *Printer) Summary(counts ...Count) {
	if p.mode == ModeMachine {
		parts := make([]string, 0, len(counts))
		for _, c := range counts {
			parts = append(parts, fmt.Sprintf("%s=%d", strings.ReplaceAll(c.Label, " ", "_"), c.N))
		}
		fmt.Fprintf(p.out, "SUMMARY: %s\n", strings.Join(parts, " "))
		return
	}

	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		if c.N == 0 {
			continue
		}
		num := p.s.bold.Render(fmt.Sprintf("%d", c.N))
		switch c.Icon {
		case IconSuccess:
			num = p.s.success.Render(fmt.Sprintf("%d", c.N))
		case IconWarning:
			num = p.s.warning.Render(fmt.Sprintf("%d", c.N))
		case IconError:
			num = p.s.error.Render(fmt.Sprintf("%d", c.N))
		}
		parts = append(parts, num+" "+p.s.muted.Render(c.Label))
	}
	if len(parts) == 0 {
		parts = append(parts, p.s.muted.Render("nothing to do"))
	}
	fmt.Fprintf(p.out, "\n%s\n", strings.Join(parts, "  "))
}

// Diff prints a unified diff, coloring added lines and hunk headers in
// styled mode. Machine mode prints it unchanged.
func (p *Printer) Diff(diff string) {
	if diff == "" {
		return
	}
	if p.mode != ModeStyled {
		fmt.Fprint(p.out, diff)
		if !strings.HasSuffix(diff, "\n") {
			fmt.Fprintln(p.out)
		}
		return
	}
	for _, line := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			line = p.s.bold.Render(line)
		case strings.HasPrefix(line, "@@"):
			line = p.s.hunk.Render(line)
		case strings.HasPrefix(line, "+"):
			line = p.s.added.Render(line)
		case strings.HasPrefix(line, "-"):
			line = p.s.error.Render(line)
		}
		fmt.Fprintln(p.out, line)
	}
}

// Box prints content in a rounded box. Machine mode prints "title: content".
func (p *Printer) Box(title, content string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.out, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.out, p.s.box.Render(p.s.title.Render(title)+"\n"+content))
}

// Table prints rows. Styled and plain modes align columns with a header;
// machine mode prints tab-separated rows without one.
func (p *Printer) Table(header []string, rows [][]string) {
	if p.mode == ModeMachine {
		for _, row := range rows {
			fmt.Fprintln(p.out, strings.Join(row, "\t"))
		}
		return
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	render := func(cells []string, style lipgloss.Style) string {
		out := make([]string, len(cells))
		for i, c := range cells {
			if i < len(widths)-1 {
				c += strings.Repeat(" ", widths[i]-lipgloss.Width(c))
			}
			out[i] = style.Render(c)
		}
		return strings.TrimRight(strings.Join(out, "  "), " ")
	}

	fmt.Fprintln(p.out, render(header, p.s.bold))
	for _, row := range rows {
		fmt.Fprintln(p.out, render(row, lipgloss.NewStyle()))
	}
}
