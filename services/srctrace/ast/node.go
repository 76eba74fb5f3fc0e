// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// SyntaxNode is a parsed node detached from the tree-sitter tree.
//
// Description:
//
//	The tree is owned top-down through Children. Parent is a back-reference
//	only and is nil for the root. Lines are 0-based. Consumers must treat
//	the tree as read-only.
type SyntaxNode struct {
	// Type is the grammar's node type tag, e.g. "expression_statement".
	Type string

	// Parent is the enclosing node, nil for the root.
	Parent *SyntaxNode

	// Children holds named and anonymous children in source order.
	Children []*SyntaxNode

	// StartLine is the 0-based line the node starts on.
	StartLine int

	// EndLine is the 0-based line of the node's last character.
	EndLine int

	// HasError is true when the node or a descendant is an ERROR/MISSING node.
	HasError bool

	// Named is false for anonymous tokens such as keywords and punctuation.
	Named bool
}

// NewNode creates a detached named node. Mostly useful in tests.
func NewNode(nodeType string, startLine, endLine int, children ...*SyntaxNode) *SyntaxNode {
	n := &SyntaxNode{
		Type:      nodeType,
		StartLine: startLine,
		EndLine:   endLine,
		Named:     true,
	}
	for _, c := range children {
		n.AddChild(c)
	}
	return n
}

// AddChild appends child and sets its Parent.
func (n *SyntaxNode) AddChild(child *SyntaxNode) {
	if child == nil {
		return
	}
	child.Parent = n
	n.Children = append(n.Children, child)
}

// Walk visits n and its descendants in pre-order. Returning false from fn
// skips the node's children.
func (n *SyntaxNode) Walk(fn func(*SyntaxNode) bool) {
	if n == nil {
		return
	}
	stack := []*SyntaxNode{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(cur) {
			continue
		}
		for i := len(cur.Children) - 1; i >= 0; i-- {
			stack = append(stack, cur.Children[i])
		}
	}
}

// Count returns the number of nodes in the subtree rooted at n.
func (n *SyntaxNode) Count() int {
	count := 0
	n.Walk(func(*SyntaxNode) bool {
		count++
		return true
	})
	return count
}

// convertTree copies a tree-sitter subtree into SyntaxNodes.
//
// Uses an explicit stack; minified bundles nest deeply enough to make
// recursion a risk.
func convertTree(root *sitter.Node) *SyntaxNode {
	if root == nil {
		return nil
	}

	type frame struct {
		src    *sitter.Node
		parent *SyntaxNode
	}

	var out *SyntaxNode
	stack := []frame{{src: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node := &SyntaxNode{
			Type:      f.src.Type(),
			StartLine: int(f.src.StartPoint().Row),
			EndLine:   int(f.src.EndPoint().Row),
			HasError:  f.src.HasError(),
			Named:     f.src.IsNamed(),
		}
		if f.parent == nil {
			out = node
		} else {
			f.parent.AddChild(node)
		}

		count := int(f.src.ChildCount())
		for i := count - 1; i >= 0; i-- {
			child := f.src.Child(i)
			if child == nil {
				continue
			}
			stack = append(stack, frame{src: child, parent: node})
		}
	}
	return out
}
