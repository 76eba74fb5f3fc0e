// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package instrument

import (
	"fmt"
	"time"
)

// Mode selects where instrumented output goes.
type Mode int

const (
	// ModeCopy writes a separate traced file and never touches the source.
	ModeCopy Mode = iota

	// ModeInPlace overwrites the source after saving a backup.
	ModeInPlace
)

// String returns "copy" or "in-place".
func (m Mode) String() string {
	switch m {
	case ModeCopy:
		return "copy"
	case ModeInPlace:
		return "in-place"
	default:
		return "unknown"
	}
}

// Operation is the requested state transition.
type Operation int

const (
	OpTrace Operation = iota
	OpUntrace
)

// String returns "trace" or "untrace".
func (o Operation) String() string {
	switch o {
	case OpTrace:
		return "trace"
	case OpUntrace:
		return "untrace"
	default:
		return "unknown"
	}
}

// Outcome is what happened to one file.
type Outcome int

const (
	// OutcomeTraced: instrumented output was written.
	OutcomeTraced Outcome = iota

	// OutcomeRestored: the source was restored from its backup.
	OutcomeRestored

	// OutcomeRemoved: a traced copy was deleted.
	OutcomeRemoved

	// OutcomePlanned: dry run, nothing was written.
	OutcomePlanned

	// OutcomeSkipped: the file was left alone for a reported reason.
	OutcomeSkipped

	// OutcomeFailed: the operation errored; the file is unchanged.
	OutcomeFailed
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeTraced:
		return "traced"
	case OutcomeRestored:
		return "restored"
	case OutcomeRemoved:
		return "removed"
	case OutcomePlanned:
		return "planned"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result describes the outcome of one file operation.
type Result struct {
	// Path is the file the operation was requested for.
	Path string

	// Target is the file written or removed, if any.
	Target string

	Op      Operation
	Mode    Mode
	Outcome Outcome

	// Insertions is the number of trace statements in the plan.
	Insertions int

	// Message is a short human-readable explanation.
	Message string

	// Err is set for skipped and failed outcomes.
	Err error

	// Plan is the edit plan of a trace operation.
	Plan EditPlan

	// Diff is the unified diff preview of a dry-run trace.
	Diff string

	Duration time.Duration
}

// Changed reports whether the operation modified the filesystem.
func (r Result) Changed() bool {
	switch r.Outcome {
	case OutcomeTraced, OutcomeRestored, OutcomeRemoved:
		return true
	default:
		return false
	}
}

// String renders a one-line description.
func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s %s: %s (%v)", r.Op, r.Path, r.Outcome, r.Err)
	}
	return fmt.Sprintf("%s %s: %s", r.Op, r.Path, r.Outcome)
}

// Summary aggregates the results of a batch run.
type Summary struct {
	Results []Result
}

// Add appends r.
func (s *Summary) Add(r Result) {
	s.Results = append(s.Results, r)
}

// Count returns the number of results with outcome o.
func (s *Summary) Count(o Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// Insertions returns the total number of planned or written insertions.
func (s *Summary) Insertions() int {
	n := 0
	for _, r := range s.Results {
		n += r.Insertions
	}
	return n
}

// Total returns the number of results.
func (s *Summary) Total() int {
	return len(s.Results)
}
