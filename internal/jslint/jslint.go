// Package jslint is a small, real lint engine that implements the
// engine.Engine boundary (spec §6.2). The linting engine itself is
// deliberately out of scope for the orchestrator spec, but the orchestrator
// needs something real to drive in tests and in the cmd/lintwatch demo:
// jslint detects same-scope variable redeclaration (ERROR) and use of an
// undeclared identifier (WARNING), matching the exact diagnostics named in
// spec.md's concrete scenarios.
package jslint

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/SnapdragonPartners/lintorch/pkg/engine"
)

// Engine is an in-process stand-in for the out-of-process linting engine.
// It is safe for concurrent use by multiple worker handles' callers.
type Engine struct {
	mu   sync.Mutex
	docs map[engine.DocHandle]*document
}

type document struct {
	text string
}

// New returns a ready-to-use jslint engine.
func New() *Engine {
	return &Engine{docs: make(map[engine.DocHandle]*document)}
}

var _ engine.Engine = (*Engine)(nil)

func (e *Engine) CreateDocument(_ context.Context, text string) (engine.DocHandle, error) {
	handle := engine.DocHandle(uuid.NewString())
	e.mu.Lock()
	e.docs[handle] = &document{text: text}
	e.mu.Unlock()
	return handle, nil
}

func (e *Engine) ApplyChange(_ context.Context, handle engine.DocHandle, change engine.TextChange) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	doc, ok := e.docs[handle]
	if !ok {
		return fmt.Errorf("jslint: unknown document handle %q", handle)
	}
	doc.text = applyChange(doc.text, change)
	return nil
}

func (e *Engine) Lint(_ context.Context, handle engine.DocHandle) ([]engine.Diagnostic, error) {
	e.mu.Lock()
	doc, ok := e.docs[handle]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("jslint: unknown document handle %q", handle)
	}
	return analyze(doc.text), nil
}

func (e *Engine) DestroyDocument(_ context.Context, handle engine.DocHandle) error {
	e.mu.Lock()
	delete(e.docs, handle)
	e.mu.Unlock()
	return nil
}

// applyChange replaces the text between change.Start and change.End with
// change.Text, using zero-based line/byte-offset-within-line positions.
func applyChange(text string, change engine.TextChange) string {
	start := offsetOf(text, change.Start)
	end := offsetOf(text, change.End)
	if start > len(text) {
		start = len(text)
	}
	if end > len(text) || end < start {
		end = len(text)
	}
	return text[:start] + change.Text + text[end:]
}

// offsetOf converts a line/character position into a byte offset into
// text, assuming '\n'-delimited lines and a byte-offset-within-line
// character count (not UTF-16 code units, unlike a real LSP server — an
// acceptable simplification for this reference engine).
func offsetOf(text string, pos engine.Position) int {
	line := 0
	offset := 0
	for line < pos.Line {
		idx := indexByte(text, offset, '\n')
		if idx < 0 {
			return len(text)
		}
		offset = idx + 1
		line++
	}
	lineEnd := indexByte(text, offset, '\n')
	if lineEnd < 0 {
		lineEnd = len(text)
	}
	charOffset := offset + pos.Character
	if charOffset > lineEnd {
		charOffset = lineEnd
	}
	return charOffset
}

func indexByte(s string, from int, b byte) int {
	for i := from; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
