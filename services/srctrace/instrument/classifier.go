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
	"github.com/AleutianAI/srctrace/services/srctrace/ast"
)

// StatementKind is the closed set of node categories treated as real code.
type StatementKind int

const (
	// KindNone marks structural nodes: programs, blocks, identifiers,
	// punctuation, declarators and everything else not listed below.
	KindNone StatementKind = iota
	KindExpressionStatement
	KindVariableDeclaration
	KindFunctionDeclaration
	KindClassDeclaration
	KindIf
	KindFor
	KindWhile
	KindTry
	KindReturn
	KindThrow
	KindImport
	KindExport
	KindAssignment
	KindCall
	KindMethodDefinition
	KindFunctionExpression
	KindArrowFunction
)

var kindNames = [...]string{
	KindNone:                "none",
	KindExpressionStatement: "expression_statement",
	KindVariableDeclaration: "variable_declaration",
	KindFunctionDeclaration: "function_declaration",
	KindClassDeclaration:    "class_declaration",
	KindIf:                  "if",
	KindFor:                 "for",
	KindWhile:               "while",
	KindTry:                 "try",
	KindReturn:              "return",
	KindThrow:               "throw",
	KindImport:              "import",
	KindExport:              "export",
	KindAssignment:          "assignment",
	KindCall:                "call",
	KindMethodDefinition:    "method_definition",
	KindFunctionExpression:  "function_expression",
	KindArrowFunction:       "arrow_function",
}

// String returns the kind's name.
func (k StatementKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// statementKinds maps grammar type tags to kinds. The JavaScript, TypeScript
// and TSX grammars share these tags.
var statementKinds = map[string]StatementKind{
	"expression_statement":           KindExpressionStatement,
	"variable_declaration":           KindVariableDeclaration,
	"lexical_declaration":            KindVariableDeclaration,
	"function_declaration":           KindFunctionDeclaration,
	"generator_function_declaration": KindFunctionDeclaration,
	"class_declaration":              KindClassDeclaration,
	"if_statement":                   KindIf,
	"for_statement":                  KindFor,
	"for_in_statement":               KindFor,
	"while_statement":                KindWhile,
	"do_statement":                   KindWhile,
	"try_statement":                  KindTry,
	"return_statement":               KindReturn,
	"throw_statement":                KindThrow,
	"import_statement":               KindImport,
	"export_statement":               KindExport,
	"assignment_expression":          KindAssignment,
	"call_expression":                KindCall,
	"method_definition":              KindMethodDefinition,
	"function_expression":            KindFunctionExpression,
	"arrow_function":                 KindArrowFunction,
}

// Classify maps a node type tag to its statement kind.
func Classify(nodeType string) StatementKind {
	return statementKinds[nodeType]
}

// IsRealCode reports whether node is one of the statement-level kinds.
// Anonymous tokens never are, even when a keyword shares a kind's tag.
func IsRealCode(node *ast.SyntaxNode) bool {
	return node != nil && node.Named && Classify(node.Type) != KindNone
}

// IsBoundary reports whether node is the outermost real-code node in its
// chain of real-code ancestors. A call nested directly in an expression
// statement is not a boundary; the statement is.
func IsBoundary(node *ast.SyntaxNode) bool {
	return IsRealCode(node) && (node.Parent == nil || !IsRealCode(node.Parent))
}
