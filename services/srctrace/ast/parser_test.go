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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFirst(root *SyntaxNode, nodeType string) *SyntaxNode {
	var found *SyntaxNode
	root.Walk(func(n *SyntaxNode) bool {
		if found != nil {
			return false
		}
		if n.Type == nodeType {
			found = n
			return false
		}
		return true
	})
	return found
}

func TestTreeSitterProvider_Parse_JavaScript(t *testing.T) {
	p := NewTreeSitterProvider()
	src := "function f(x) {\n  return x + 1;\n}\nf(2);\n"

	root, err := p.Parse(context.Background(), []byte(src), GrammarJavaScript)
	require.NoError(t, err)
	require.NotNil(t, root)

	assert.Equal(t, "program", root.Type)
	assert.Nil(t, root.Parent)
	assert.False(t, root.HasError)

	fn := findFirst(root, "function_declaration")
	require.NotNil(t, fn)
	assert.Equal(t, 0, fn.StartLine)
	assert.Equal(t, 2, fn.EndLine)
	assert.Same(t, root, fn.Parent)

	ret := findFirst(root, "return_statement")
	require.NotNil(t, ret)
	assert.Equal(t, 1, ret.EndLine)
	assert.Equal(t, "statement_block", ret.Parent.Type)

	call := findFirst(root, "call_expression")
	require.NotNil(t, call)
	assert.Equal(t, "expression_statement", call.Parent.Type)
	assert.Equal(t, 3, call.EndLine)
}

func TestTreeSitterProvider_Parse_ChildOrder(t *testing.T) {
	p := NewTreeSitterProvider()
	src := "a();\nb();\nc();\n"

	root, err := p.Parse(context.Background(), []byte(src), GrammarJavaScript)
	require.NoError(t, err)

	var lines []int
	for _, c := range root.Children {
		if c.Type == "expression_statement" {
			lines = append(lines, c.EndLine)
		}
	}
	assert.Equal(t, []int{0, 1, 2}, lines)
}

func TestTreeSitterProvider_Parse_TypeScript(t *testing.T) {
	p := NewTreeSitterProvider()
	src := "interface User {\n  name: string;\n}\nconst u: User = { name: 'x' };\n"

	root, err := p.Parse(context.Background(), []byte(src), GrammarTypeScript)
	require.NoError(t, err)
	assert.NotNil(t, findFirst(root, "interface_declaration"))
	assert.NotNil(t, findFirst(root, "lexical_declaration"))
}

func TestTreeSitterProvider_Parse_TSX(t *testing.T) {
	p := NewTreeSitterProvider()
	src := "const el = <div>hi</div>;\n"

	root, err := p.Parse(context.Background(), []byte(src), GrammarTSX)
	require.NoError(t, err)
	assert.NotNil(t, findFirst(root, "jsx_element"))
}

func TestTreeSitterProvider_Parse_SyntaxError(t *testing.T) {
	p := NewTreeSitterProvider()
	src := "const x = ;\nfoo(\n"

	root, err := p.Parse(context.Background(), []byte(src), GrammarJavaScript)
	require.NoError(t, err)
	assert.True(t, root.HasError)
	assert.Greater(t, FirstErrorLine(root), 0)
}

func TestTreeSitterProvider_Parse_Errors(t *testing.T) {
	t.Run("unsupported grammar", func(t *testing.T) {
		_, err := NewTreeSitterProvider().Parse(context.Background(), []byte("x"), GrammarNone)
		assert.True(t, IsUnsupportedGrammar(err))
	})

	t.Run("invalid utf8", func(t *testing.T) {
		_, err := NewTreeSitterProvider().Parse(context.Background(), []byte{0xff, 0xfe}, GrammarJavaScript)
		assert.True(t, errors.Is(err, ErrInvalidContent))
	})

	t.Run("too large", func(t *testing.T) {
		p := NewTreeSitterProvider(WithMaxFileSize(4))
		_, err := p.Parse(context.Background(), []byte("a();b();"), GrammarJavaScript)
		assert.True(t, errors.Is(err, ErrFileTooLarge))
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewTreeSitterProvider().Parse(ctx, []byte("a();"), GrammarJavaScript)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestFirstErrorLine_CleanTree(t *testing.T) {
	assert.Equal(t, 0, FirstErrorLine(nil))
	assert.Equal(t, 0, FirstErrorLine(NewNode("program", 0, 0)))
}

func TestWrapParseError(t *testing.T) {
	assert.Nil(t, WrapParseError(nil, "a.js"))

	err := WrapParseError(ErrParseFailed, "a.js")
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "a.js", pe.FilePath)
	assert.True(t, errors.Is(err, ErrParseFailed))
	assert.Equal(t, "a.js: parse failed", err.Error())

	inner := &ParseError{Line: 3, Message: "bad token"}
	wrapped := WrapParseError(inner, "b.ts")
	assert.Same(t, inner, wrapped)
	assert.Equal(t, "b.ts:3: bad token", wrapped.Error())
}

func TestSyntaxNode_WalkPreOrder(t *testing.T) {
	leaf1 := NewNode("b", 1, 1)
	leaf2 := NewNode("c", 2, 2)
	mid := NewNode("a", 0, 2, leaf1, leaf2)
	root := NewNode("root", 0, 3, mid, NewNode("d", 3, 3))

	var order []string
	root.Walk(func(n *SyntaxNode) bool {
		order = append(order, n.Type)
		return true
	})
	assert.Equal(t, []string{"root", "a", "b", "c", "d"}, order)
	assert.Same(t, mid, leaf1.Parent)
	assert.Equal(t, 5, root.Count())

	order = nil
	root.Walk(func(n *SyntaxNode) bool {
		order = append(order, n.Type)
		return n.Type != "a"
	})
	assert.Equal(t, []string{"root", "a", "d"}, order)
}
