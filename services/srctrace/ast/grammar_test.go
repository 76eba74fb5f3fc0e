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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultGrammarResolver_Resolve(t *testing.T) {
	r := DefaultGrammarResolver()

	tests := []struct {
		ext  string
		want Grammar
		ok   bool
	}{
		{".js", GrammarJavaScript, true},
		{".jsx", GrammarJavaScript, true},
		{".mjs", GrammarJavaScript, true},
		{".cjs", GrammarJavaScript, true},
		{".ts", GrammarTypeScript, true},
		{".mts", GrammarTypeScript, true},
		{".tsx", GrammarTSX, true},
		{".JS", GrammarJavaScript, true},
		{"js", GrammarJavaScript, true},
		{".py", GrammarNone, false},
		{"", GrammarNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			got, ok := r.Resolve(tt.ext)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGrammarResolver_ResolvePath(t *testing.T) {
	r := DefaultGrammarResolver()

	g, ok := r.ResolvePath("/src/app/main.traced.ts")
	assert.True(t, ok)
	assert.Equal(t, GrammarTypeScript, g)

	_, ok = r.ResolvePath("/src/README")
	assert.False(t, ok)
}

func TestGrammarResolver_Register(t *testing.T) {
	r := NewGrammarResolver()
	r.Register(GrammarJavaScript, "es6", "")
	r.Register(GrammarNone, ".ignored")

	g, ok := r.Resolve(".es6")
	assert.True(t, ok)
	assert.Equal(t, GrammarJavaScript, g)

	_, ok = r.Resolve(".ignored")
	assert.False(t, ok)

	assert.Equal(t, []string{".es6"}, r.Extensions())
}

func TestGrammar_String(t *testing.T) {
	assert.Equal(t, "none", GrammarNone.String())
	assert.Equal(t, "tsx", GrammarTSX.String())
}
