// Package testutil provides shared fakes for the orchestrator's test suites:
// an in-memory editor document and an enumerator-backed fault injector, used
// to drive pkg/linter's state machine deterministically and exhaustively.
package testutil

import (
	"sync"

	"github.com/SnapdragonPartners/lintorch/pkg/engine"
)

// FakeDocument is a minimal linter.Document backed by an in-memory string,
// safe for concurrent use. Tests mutate Text via SetText to simulate an
// editor applying edits to its own buffer.
type FakeDocument struct {
	mu          sync.Mutex
	text        string
	diagnostics []engine.Diagnostic
}

// NewFakeDocument returns a FakeDocument initialized to text.
func NewFakeDocument(text string) *FakeDocument {
	return &FakeDocument{text: text}
}

// Text returns the current editor text.
func (d *FakeDocument) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

// SetText overwrites the editor text, simulating the editor applying an edit
// to its own buffer before notifying the linter.
func (d *FakeDocument) SetText(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = text
}

// SetDiagnostics replaces the published diagnostic set.
func (d *FakeDocument) SetDiagnostics(diags []engine.Diagnostic) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]engine.Diagnostic, len(diags))
	copy(cp, diags)
	d.diagnostics = cp
}

// RemoveDiagnostics clears the published diagnostic set.
func (d *FakeDocument) RemoveDiagnostics() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.diagnostics = nil
}

// Diagnostics returns the most recently published diagnostic set.
func (d *FakeDocument) Diagnostics() []engine.Diagnostic {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]engine.Diagnostic, len(d.diagnostics))
	copy(cp, d.diagnostics)
	return cp
}
