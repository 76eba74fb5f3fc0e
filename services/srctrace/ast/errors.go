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
	"errors"
	"fmt"
)

// Sentinel errors for parse failures.
//
// These errors can be checked using errors.Is() to determine the
// category of failure without inspecting error messages.
var (
	// ErrUnsupportedGrammar indicates that no grammar is available for the
	// requested file extension.
	ErrUnsupportedGrammar = errors.New("unsupported grammar")

	// ErrParseFailed indicates that tree-sitter produced no usable tree.
	ErrParseFailed = errors.New("parse failed")

	// ErrInvalidContent indicates content that cannot be parsed, such as
	// non-UTF-8 bytes.
	ErrInvalidContent = errors.New("invalid content")

	// ErrFileTooLarge indicates content above the provider's size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrSyntax indicates the tree contains ERROR or MISSING nodes.
	// Only returned when the caller asks for strict parsing.
	ErrSyntax = errors.New("source contains syntax errors")
)

// ParseError provides detailed information about a parse failure.
//
// ParseError wraps an underlying error with the file and, when known, the
// line where the problem was found.
//
// Example:
//
//	root, err := provider.Parse(ctx, content, ast.GrammarJavaScript)
//	var parseErr *ast.ParseError
//	if errors.As(err, &parseErr) {
//	    fmt.Printf("%s:%d: %s\n", parseErr.FilePath, parseErr.Line, parseErr.Message)
//	}
type ParseError struct {
	// FilePath is the path of the file being parsed. May be empty.
	FilePath string

	// Line is the 1-indexed line of the problem, 0 if unknown.
	Line int

	// Message describes the error.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error returns "file:line: message", omitting unknown parts.
func (e *ParseError) Error() string {
	file := e.FilePath
	if file == "" {
		file = "<input>"
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", file, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", file, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// WrapParseError attaches a file path to err.
//
// ParseErrors without a path get the path filled in; they are not
// double-wrapped. Returns nil if err is nil.
func WrapParseError(err error, filePath string) error {
	if err == nil {
		return nil
	}

	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		if parseErr.FilePath == "" {
			parseErr.FilePath = filePath
		}
		return err
	}

	return &ParseError{
		FilePath: filePath,
		Message:  err.Error(),
		Cause:    err,
	}
}

// IsUnsupportedGrammar reports whether err is or wraps ErrUnsupportedGrammar.
func IsUnsupportedGrammar(err error) bool {
	return errors.Is(err, ErrUnsupportedGrammar)
}
