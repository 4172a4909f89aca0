package jslint

import (
	"fmt"

	"github.com/SnapdragonPartners/lintorch/pkg/engine"
)

type tokenKind int

const (
	tokKeyword tokenKind = iota
	tokIdentifier
	tokOther
)

type token struct {
	kind  tokenKind
	text  string
	start engine.Position
	end   engine.Position
}

var declKeywords = map[string]bool{"let": true, "const": true, "var": true}

// analyze re-derives the full diagnostic set from scratch for text, in a
// single left-to-right pass: a flat (single-scope) declaration table is
// built as declaration keywords are encountered, redeclarations are
// flagged as they're seen, and any other identifier not yet declared is
// flagged once as undeclared.
func analyze(text string) []engine.Diagnostic {
	tokens := tokenize(text)

	diagnostics := make([]engine.Diagnostic, 0)
	declaredAt := make(map[string]engine.Position)
	warnedUndeclared := make(map[string]bool)

	for i, t := range tokens {
		if t.kind != tokIdentifier {
			continue
		}

		precededByDecl := i > 0 && tokens[i-1].kind == tokKeyword && declKeywords[tokens[i-1].text]
		if precededByDecl {
			if _, already := declaredAt[t.text]; already {
				diagnostics = append(diagnostics, engine.Diagnostic{
					Code:     "redeclared-variable",
					Message:  fmt.Sprintf("redeclaration of variable: %s", t.text),
					Severity: engine.SeverityError,
					Start:    t.start,
					End:      t.end,
				})
			} else {
				declaredAt[t.text] = t.start
			}
			continue
		}

		if _, declared := declaredAt[t.text]; !declared && !warnedUndeclared[t.text] {
			diagnostics = append(diagnostics, engine.Diagnostic{
				Code:     "undeclared-variable",
				Message:  fmt.Sprintf("use of undeclared variable: %s", t.text),
				Severity: engine.SeverityWarning,
				Start:    t.start,
				End:      t.end,
			})
			warnedUndeclared[t.text] = true
		}
	}

	return diagnostics
}

// tokenize is a minimal hand-written lexer sufficient to recognize
// declaration keywords and identifiers with accurate line/character
// positions; it is not a general JS tokenizer (no string/regex literals),
// which is fine for a reference engine scoped to spec.md's concrete
// diagnostic scenarios. It does skip "//" line comments, since several of
// those scenarios append a trailing comment and expect it to have no
// effect on the diagnostic set.
func tokenize(text string) []token {
	var tokens []token
	line, col := 0, 0

	advance := func(r byte) {
		if r == '\n' {
			line++
			col = 0
		} else {
			col++
		}
	}

	i := 0
	for i < len(text) {
		c := text[i]

		switch {
		case c == '/' && i+1 < len(text) && text[i+1] == '/':
			for i < len(text) && text[i] != '\n' {
				advance(text[i])
				i++
			}

		case isIdentStart(c):
			startLine, startCol := line, col
			j := i
			for j < len(text) && isIdentPart(text[j]) {
				advance(text[j])
				j++
			}
			word := text[i:j]
			kind := tokIdentifier
			if declKeywords[word] {
				kind = tokKeyword
			}
			tokens = append(tokens, token{
				kind:  kind,
				text:  word,
				start: engine.Position{Line: startLine, Character: startCol},
				end:   engine.Position{Line: line, Character: col},
			})
			i = j

		default:
			advance(c)
			i++
		}
	}

	return tokens
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
