// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// See the LICENSE.txt file for the full license text.
//
// NOTE (GNU AGPL v3 Section 7): Any modified version of this software
// must retain the above copyright notice and license, and must clearly
// display attribution to the original author in any user interface or
// documentation.

// Package ux provides terminal output styling for the modelplane CLI.
//
// Styled output degrades automatically: when stdout is not a terminal
// (pipes, CI, cron) every helper emits plain machine-friendly text.
package ux

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// modelplane color palette - high-altitude blues
var (
	ColorSkyBright  = lipgloss.Color("#4FC3F7") // highlights
	ColorSkyPrimary = lipgloss.Color("#29B6F6") // main brand color
	ColorSkyDeep    = lipgloss.Color("#0288D1") // borders, accents
	ColorSlate      = lipgloss.Color("#546E7A") // muted text
	ColorSuccess    = lipgloss.Color("#4FC3F7")
	ColorWarning    = lipgloss.Color("#F4D03F")
	ColorError      = lipgloss.Color("#E74C3C")
	ColorHealthy    = lipgloss.Color("#66BB6A")
	ColorDegraded   = lipgloss.Color("#FFA726")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorSkyBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorSkyBright).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorSkyDeep).
		Padding(0, 1),
}

// plain disables styling. Initialized from the terminal check;
// SetPlain overrides it (flags, tests).
var plain = !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd())

// SetPlain forces styled or plain output regardless of the terminal.
func SetPlain(v bool) {
	plain = v
}

// Plain reports whether output is unstyled.
func Plain() bool {
	return plain
}

// Icon provides themed status icons.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling.
func (i Icon) Render() string {
	if plain {
		return string(i)
	}
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Title prints a styled title line.
func Title(text string) {
	if plain {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Title.Render(text))
}

// Success prints a success message with checkmark.
func Success(text string) {
	if plain {
		fmt.Printf("OK: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning message.
func Warning(text string) {
	if plain {
		fmt.Fprintf(os.Stderr, "WARN: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error message.
func Error(text string) {
	if plain {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Info prints an informational message.
func Info(text string) {
	if plain {
		fmt.Println(text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Muted.Render("│"), text)
}

// HealthBadge renders a model health state with its conventional
// color: healthy green, warning amber, degraded orange, critical red.
func HealthBadge(state string) string {
	if plain {
		return state
	}
	switch state {
	case "healthy":
		return lipgloss.NewStyle().Foreground(ColorHealthy).Render(state)
	case "warning":
		return lipgloss.NewStyle().Foreground(ColorWarning).Render(state)
	case "degraded":
		return lipgloss.NewStyle().Foreground(ColorDegraded).Render(state)
	case "critical":
		return lipgloss.NewStyle().Foreground(ColorError).Bold(true).Render(state)
	default:
		return Styles.Muted.Render(state)
	}
}

// Box prints text inside a rounded border, or plainly when unstyled.
func Box(text string) {
	if plain {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Box.Render(text))
}
