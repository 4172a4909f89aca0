package main

import (
	"fmt"
	"sync"

	"github.com/SnapdragonPartners/lintorch/pkg/engine"
	"github.com/SnapdragonPartners/lintorch/pkg/logx"
)

// fileDocument adapts an on-disk file to linter.Document, printing published
// diagnostics to stdout.
type fileDocument struct {
	path   string
	logger *logx.Logger

	mu   sync.Mutex
	text string
}

func newFileDocument(path, text string, logger *logx.Logger) *fileDocument {
	return &fileDocument{path: path, text: text, logger: logger}
}

func (d *fileDocument) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

func (d *fileDocument) setText(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = text
}

// lineSplitLen returns the position one past the last character of the
// document's current text, for building a whole-file replacement change.
func (d *fileDocument) lineSplitLen() engine.Position {
	d.mu.Lock()
	text := d.text
	d.mu.Unlock()

	line, char := 0, 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			line++
			char = 0
		} else {
			char++
		}
	}
	return engine.Position{Line: line, Character: char}
}

func (d *fileDocument) SetDiagnostics(diags []engine.Diagnostic) {
	if len(diags) == 0 {
		fmt.Printf("%s: clean\n", d.path)
		return
	}
	for _, diag := range diags {
		fmt.Printf("%s:%d:%d: %s [%s] %s\n",
			d.path, diag.Start.Line+1, diag.Start.Character+1, diag.Severity, diag.Code, diag.Message)
	}
}

func (d *fileDocument) RemoveDiagnostics() {
	fmt.Printf("%s: closed\n", d.path)
}
