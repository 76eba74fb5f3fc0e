// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/AleutianAI/srctrace/pkg/ux"
	"github.com/AleutianAI/srctrace/services/srctrace/instrument"
	"github.com/AleutianAI/srctrace/services/srctrace/journal"
)

// reporter turns engine results into printer output.
type reporter struct {
	p *ux.Printer
}

func newReporter(p *ux.Printer) *reporter {
	return &reporter{p: p}
}

func outcomeIcon(o instrument.Outcome) ux.Icon {
	switch o {
	case instrument.OutcomeTraced, instrument.OutcomeRestored, instrument.OutcomeRemoved:
		return ux.IconSuccess
	case instrument.OutcomePlanned:
		return ux.IconPending
	case instrument.OutcomeSkipped:
		return ux.IconWarning
	default:
		return ux.IconError
	}
}

// result prints one file as soon as the engine finishes it.
func (r *reporter) result(res instrument.Result) {
	detail := res.Message
	if detail == "" && res.Err != nil {
		detail = res.Err.Error()
	}
	if res.Outcome == instrument.OutcomeTraced && res.Target != "" && res.Target != res.Path {
		detail += " " + string(ux.IconArrow) + " " + filepath.Base(res.Target)
	}
	if res.Outcome == instrument.OutcomePlanned && res.Insertions > 0 && detail == "" {
		detail = fmt.Sprintf("would insert %d statements", res.Insertions)
	}

	r.p.FileLine(outcomeIcon(res.Outcome), res.Outcome.String(), res.Path, detail)
	if res.Diff != "" {
		r.p.Diff(res.Diff)
	}
}

func (r *reporter) summary(s *instrument.Summary, dryRun bool) {
	insertLabel := "statements inserted"
	if dryRun {
		insertLabel = "statements planned"
	}
	r.p.Summary(
		ux.Count{Label: "traced", N: s.Count(instrument.OutcomeTraced), Icon: ux.IconSuccess},
		ux.Count{Label: "restored", N: s.Count(instrument.OutcomeRestored), Icon: ux.IconSuccess},
		ux.Count{Label: "removed", N: s.Count(instrument.OutcomeRemoved), Icon: ux.IconSuccess},
		ux.Count{Label: "planned", N: s.Count(instrument.OutcomePlanned), Icon: ux.IconPending},
		ux.Count{Label: "skipped", N: s.Count(instrument.OutcomeSkipped), Icon: ux.IconWarning},
		ux.Count{Label: "failed", N: s.Count(instrument.OutcomeFailed), Icon: ux.IconError},
		ux.Count{Label: insertLabel, N: s.Insertions()},
	)
}

func (r *reporter) statuses(statuses []instrument.FileStatus) {
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		artifact := ""
		switch st.State {
		case instrument.StateTracedInPlace:
			artifact = st.BackupPath
		case instrument.StateTracedAsCopy:
			artifact = st.TracedPath
		}
		rows = append(rows, []string{st.State.String(), st.Path, artifact})
	}
	r.p.Table([]string{"STATE", "PATH", "ARTIFACT"}, rows)
}

func (r *reporter) history(entries []journal.Entry) {
	if len(entries) == 0 {
		r.p.Info("no journal entries")
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		detail := e.Message
		if e.Error != "" {
			detail = e.Error
		}
		rows = append(rows, []string{
			e.Time.Local().Format("2006-01-02 15:04:05"),
			shortSession(e.Session),
			e.Op,
			e.Mode,
			e.Outcome,
			strconv.Itoa(e.Insertions),
			e.Path,
			detail,
		})
	}
	r.p.Table([]string{"TIME", "SESSION", "OP", "MODE", "OUTCOME", "INSERTED", "PATH", "DETAIL"}, rows)
}

// shortSession trims a session uuid to its first group for display.
func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
