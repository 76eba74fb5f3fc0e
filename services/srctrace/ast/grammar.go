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
	"path/filepath"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Grammar identifies a tree-sitter grammar the provider can parse with.
type Grammar string

const (
	// GrammarNone is returned for unsupported extensions.
	GrammarNone Grammar = ""

	// GrammarJavaScript covers .js, .jsx, .mjs and .cjs sources.
	GrammarJavaScript Grammar = "javascript"

	// GrammarTypeScript covers .ts, .mts and .cts sources.
	GrammarTypeScript Grammar = "typescript"

	// GrammarTSX covers .tsx sources.
	GrammarTSX Grammar = "tsx"
)

// String returns the grammar name.
func (g Grammar) String() string {
	if g == GrammarNone {
		return "none"
	}
	return string(g)
}

// language returns the tree-sitter language for the grammar, or nil.
func (g Grammar) language() *sitter.Language {
	switch g {
	case GrammarJavaScript:
		return javascript.GetLanguage()
	case GrammarTypeScript:
		return typescript.GetLanguage()
	case GrammarTSX:
		return tsx.GetLanguage()
	default:
		return nil
	}
}

// GrammarResolver maps file extensions to grammars.
//
// Description:
//
//	GrammarResolver is the lookup the engine uses to decide whether a file
//	is supported at all. Extensions are matched case-insensitively and
//	include the leading dot.
//
// Thread Safety:
//
//	GrammarResolver is safe for concurrent use. Registration takes a write
//	lock, lookups take a read lock.
type GrammarResolver struct {
	mu          sync.RWMutex
	byExtension map[string]Grammar
}

// NewGrammarResolver creates an empty resolver.
func NewGrammarResolver() *GrammarResolver {
	return &GrammarResolver{
		byExtension: make(map[string]Grammar),
	}
}

// DefaultGrammarResolver returns a resolver with the JavaScript and
// TypeScript extensions registered.
func DefaultGrammarResolver() *GrammarResolver {
	r := NewGrammarResolver()
	r.Register(GrammarJavaScript, ".js", ".jsx", ".mjs", ".cjs")
	r.Register(GrammarTypeScript, ".ts", ".mts", ".cts")
	r.Register(GrammarTSX, ".tsx")
	return r
}

// Register maps each extension to the grammar, overwriting earlier entries.
//
// Extensions without a leading dot are normalized to have one. Empty
// extensions and GrammarNone are ignored.
func (r *GrammarResolver) Register(g Grammar, extensions ...string) {
	if g == GrammarNone {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ext := range extensions {
		ext = normalizeExtension(ext)
		if ext == "" {
			continue
		}
		r.byExtension[ext] = g
	}
}

// Resolve returns the grammar registered for ext.
//
// Returns:
//   - Grammar: the grammar, or GrammarNone when unsupported.
//   - bool: true if the extension is supported.
func (r *GrammarResolver) Resolve(ext string) (Grammar, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.byExtension[normalizeExtension(ext)]
	return g, ok
}

// ResolvePath resolves the grammar for the extension of path.
func (r *GrammarResolver) ResolvePath(path string) (Grammar, bool) {
	return r.Resolve(filepath.Ext(path))
}

// Extensions returns the registered extensions in sorted order.
func (r *GrammarResolver) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.byExtension))
	for ext := range r.byExtension {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
