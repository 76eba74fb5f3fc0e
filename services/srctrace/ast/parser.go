// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast turns JavaScript and TypeScript source into read-only
// syntax trees for the instrumentation engine.
package ast

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultMaxFileSize is the largest source the provider parses by default.
	DefaultMaxFileSize int64 = 10 * 1024 * 1024

	// WarnFileSize triggers a warning log for large sources.
	WarnFileSize = 1024 * 1024
)

// Provider parses source text into a SyntaxNode tree.
//
// Description:
//
//	Provider is the boundary between the instrumentation engine and the
//	grammar implementation. The engine only needs node types, parent/child
//	links and line positions.
//
// Inputs:
//
//	ctx     - Context for cancellation. Checked before and after parsing.
//	content - Raw source bytes. Must be valid UTF-8.
//	grammar - Grammar to parse with, usually from GrammarResolver.
//
// Outputs:
//
//	*SyntaxNode - Root of the parsed tree. Never nil on success.
//	error       - ErrUnsupportedGrammar, ErrInvalidContent, ErrFileTooLarge,
//	              ErrParseFailed or a context error.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use.
type Provider interface {
	Parse(ctx context.Context, content []byte, grammar Grammar) (*SyntaxNode, error)
}

// TreeSitterOption configures a TreeSitterProvider.
type TreeSitterOption func(*TreeSitterProvider)

// WithMaxFileSize sets the maximum source size the provider accepts.
// Non-positive values are ignored.
func WithMaxFileSize(bytes int64) TreeSitterOption {
	return func(p *TreeSitterProvider) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// WithLogger sets the logger used for large-file warnings.
func WithLogger(logger *slog.Logger) TreeSitterOption {
	return func(p *TreeSitterProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// TreeSitterProvider implements Provider with tree-sitter.
//
// Thread Safety:
//
//	Safe for concurrent use. Each Parse call creates its own tree-sitter
//	parser instance.
type TreeSitterProvider struct {
	maxFileSize int64
	logger      *slog.Logger
}

// NewTreeSitterProvider creates a provider with the given options.
//
// Example:
//
//	provider := ast.NewTreeSitterProvider(ast.WithMaxFileSize(5 * 1024 * 1024))
//	root, err := provider.Parse(ctx, content, ast.GrammarTypeScript)
func NewTreeSitterProvider(opts ...TreeSitterOption) *TreeSitterProvider {
	p := &TreeSitterProvider{
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse parses content with the tree-sitter grammar for grammar.
//
// Syntax errors do not fail the parse: tree-sitter recovers and the
// returned root has HasError set. Callers decide whether that is fatal.
//
// Limitations:
//   - Tree-sitter parsing is synchronous; the context is honoured by the
//     parser's cancellation flag but large files may still take a while.
func (p *TreeSitterProvider) Parse(ctx context.Context, content []byte, grammar Grammar) (*SyntaxNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}

	lang := grammar.language()
	if lang == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGrammar, grammar)
	}

	if int64(len(content)) > p.maxFileSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), p.maxFileSize)
	}

	if len(content) > WarnFileSize {
		p.logger.Warn("parsing large file",
			slog.String("grammar", grammar.String()),
			slog.Int("size_bytes", len(content)))
	}

	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}

	ctx, span := startParseSpan(ctx, grammar, len(content))
	defer span.End()
	start := time.Now()

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		recordParseMetrics(ctx, grammar, time.Since(start), 0, false)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled after tree-sitter: %w", err)
	}

	rootNode := tree.RootNode()
	if rootNode == nil {
		recordParseMetrics(ctx, grammar, time.Since(start), 0, false)
		span.SetStatus(codes.Error, "nil root node")
		return nil, fmt.Errorf("%w: tree-sitter returned nil root node", ErrParseFailed)
	}

	root := convertTree(rootNode)
	count := root.Count()

	span.SetAttributes(
		attribute.Int("ast.node_count", count),
		attribute.Bool("ast.has_error", root.HasError),
	)
	recordParseMetrics(ctx, grammar, time.Since(start), count, true)

	return root, nil
}

// FirstErrorLine returns the 1-based line of the first ERROR or MISSING
// node under root, or 0 when the tree is clean.
func FirstErrorLine(root *SyntaxNode) int {
	if root == nil || !root.HasError {
		return 0
	}
	line := 0
	root.Walk(func(n *SyntaxNode) bool {
		if line != 0 {
			return false
		}
		if n.Type == "ERROR" || (n.HasError && len(n.Children) == 0) {
			line = n.StartLine + 1
			return false
		}
		return n.HasError
	})
	return line
}
