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
	"sort"

	"github.com/AleutianAI/srctrace/services/srctrace/ast"
)

// InsertionPoint inserts Statement as a new line after the 0-based Line.
type InsertionPoint struct {
	Line      int
	Statement string
}

// EditPlan is a list of insertion points sorted by Line, descending.
//
// Applying the points in order never shifts a pending point: every insert
// happens below all points still to be applied.
type EditPlan []InsertionPoint

// Lines returns the 0-based target lines in plan order.
func (p EditPlan) Lines() []int {
	lines := make([]int, len(p))
	for i, pt := range p {
		lines[i] = pt.Line
	}
	return lines
}

// IsDescending reports whether lines are in non-increasing order.
func (p EditPlan) IsDescending() bool {
	return sort.SliceIsSorted(p, func(i, j int) bool { return p[i].Line > p[j].Line })
}

// StatementFunc returns the statement for a 1-based line number.
type StatementFunc func(line int) string

// BoundaryLines returns the claimed 0-based end lines of all insertion
// boundaries under root, in pre-order discovery order. Lines outside
// [0, lineCount) are dropped and each line appears once.
func BoundaryLines(root *ast.SyntaxNode, lineCount int) []int {
	var lines []int
	claimed := make(map[int]struct{})

	root.Walk(func(n *ast.SyntaxNode) bool {
		if !IsBoundary(n) {
			return true
		}
		end := n.EndLine
		if end < 0 || end >= lineCount {
			return true
		}
		if _, ok := claimed[end]; ok {
			return true
		}
		claimed[end] = struct{}{}
		lines = append(lines, end)
		return true
	})

	return lines
}

// Plan builds the edit plan for the tree rooted at root over lines.
//
// Description:
//
//	Nodes are visited in pre-order. Each insertion boundary whose end line
//	is inside the file and not yet claimed contributes one point; the first
//	boundary ending on a line wins and later ones are skipped. The result
//	is sorted by line, descending.
//
// Inputs:
//
//	root  - Parsed tree. A nil root yields an empty plan.
//	lines - The file split into lines. Only its length is used.
//	stmt  - Builds the statement for a 1-based line.
func Plan(root *ast.SyntaxNode, lines []string, stmt StatementFunc) EditPlan {
	if root == nil {
		return EditPlan{}
	}

	boundaries := BoundaryLines(root, len(lines))
	plan := make(EditPlan, 0, len(boundaries))
	for _, line := range boundaries {
		plan = append(plan, InsertionPoint{
			Line:      line,
			Statement: stmt(line + 1),
		})
	}

	sort.Slice(plan, func(i, j int) bool { return plan[i].Line > plan[j].Line })
	return plan
}
