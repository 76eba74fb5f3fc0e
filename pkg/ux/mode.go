// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode controls how much styling the CLI applies to its output.
type Mode string

const (
	// ModeStyled uses colors, icons and boxes.
	ModeStyled Mode = "styled"

	// ModePlain uses icons but no colors.
	ModePlain Mode = "plain"

	// ModeMachine prints tab-separated records for scripts.
	ModeMachine Mode = "machine"
)

// EnvOutput overrides mode detection.
const EnvOutput = "SRCTRACE_OUTPUT"

// ParseMode converts a mode name. The empty string selects auto-detection.
func ParseMode(s string) (Mode, bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", false, nil
	case "styled", "color", "full":
		return ModeStyled, true, nil
	case "plain", "minimal":
		return ModePlain, true, nil
	case "machine", "quiet":
		return ModeMachine, true, nil
	default:
		return "", false, fmt.Errorf("unknown output mode %q (want styled, plain or machine)", s)
	}
}

// DetectMode picks a mode for w. $SRCTRACE_OUTPUT wins if set to a known
// mode; otherwise terminals get styled output and everything else plain.
// NO_COLOR downgrades styled to plain.
func DetectMode(w io.Writer) Mode {
	if m, ok, err := ParseMode(os.Getenv(EnvOutput)); err == nil && ok {
		return m
	}
	if !IsTerminal(w) {
		return ModePlain
	}
	if os.Getenv("NO_COLOR") != "" {
		return ModePlain
	}
	return ModeStyled
}

// IsTerminal reports whether w is a terminal, including Cygwin ptys.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
