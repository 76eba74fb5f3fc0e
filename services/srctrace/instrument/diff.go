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
	"bytes"
	"fmt"
	"sort"

	"github.com/sourcegraph/go-diff/diff"
)

// PreviewDiff renders plan against lines as a unified diff.
//
// Each insertion becomes its own hunk with the target line as context.
// The preview does not emit "No newline at end of file" markers.
func PreviewDiff(origName, newName string, lines []string, plan EditPlan) (string, error) {
	if len(plan) == 0 {
		return "", nil
	}

	asc := make(EditPlan, 0, len(plan))
	for _, pt := range plan {
		if pt.Line >= 0 && pt.Line < len(lines) {
			asc = append(asc, pt)
		}
	}
	sort.SliceStable(asc, func(i, j int) bool { return asc[i].Line < asc[j].Line })

	hunks := make([]*diff.Hunk, 0, len(asc))
	for i, pt := range asc {
		var body bytes.Buffer
		body.WriteString(" " + lines[pt.Line] + "\n")
		body.WriteString("+" + pt.Statement + "\n")

		hunks = append(hunks, &diff.Hunk{
			OrigStartLine: int32(pt.Line + 1),
			OrigLines:     1,
			NewStartLine:  int32(pt.Line + 1 + i),
			NewLines:      2,
			Body:          body.Bytes(),
		})
	}

	fd := &diff.FileDiff{
		OrigName: origName,
		NewName:  newName,
		Hunks:    hunks,
	}
	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("rendering diff: %w", err)
	}
	return string(out), nil
}
