// Package linter implements the Document Linter (spec §4.1): the
// per-document asynchronous state machine that serializes editor events
// into a single causal queue, drives the engine across the worker boundary,
// publishes diagnostics, and transparently recovers when the underlying
// worker crashes.
package linter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/SnapdragonPartners/lintorch/pkg/engine"
	"github.com/SnapdragonPartners/lintorch/pkg/lintmetrics"
	"github.com/SnapdragonPartners/lintorch/pkg/logx"
	"github.com/SnapdragonPartners/lintorch/pkg/procmanager"
	"github.com/SnapdragonPartners/lintorch/pkg/worker"
)

// ErrDocumentLinterDisposed is returned by any operation on (or queued
// against) a linter that has been, or is being, disposed.
var ErrDocumentLinterDisposed = errors.New("linter: document linter disposed")

// ErrLintingCrashed is surfaced to a caller of EditorChangedVisibilityAsync
// when the engine could not be brought to a successful lint despite bounded
// recovery attempts (spec §9's asymmetry: textChangedAsync always absorbs).
var ErrLintingCrashed = errors.New("linter: linting crashed")

// defaultMaxRecoveryAttempts bounds consecutive crash-recovery attempts per
// op before LintingCrashed is surfaced (spec §9 "Bounded fault
// exhaustion"). Tests that want unbounded retries should pass a large
// value via WithMaxRecoveryAttempts.
const defaultMaxRecoveryAttempts = 8

// Document is the editor-owned document the linter reads text from and
// writes diagnostics to (spec §6.1). The linter feeds Text to the engine
// only when first materializing an engine-side document or recovering from
// a crash; it never peeks at it to apply an individual change. It also
// reads Text after every publish, solely to compute the digest in a debug
// log line; that read never reaches the engine.
type Document interface {
	// Text returns the current editor text, reflecting all edits applied
	// so far.
	Text() string
	// SetDiagnostics replaces the full published diagnostic set.
	SetDiagnostics(diags []engine.Diagnostic)
	// RemoveDiagnostics clears the published diagnostic set.
	RemoveDiagnostics()
}

// State is one of the Document Linter's states (spec §4.1).
type State int

const (
	StateUnopened State = iota
	StateInitializing
	StateReady
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "Unopened"
	case StateInitializing:
		return "Initializing"
	case StateReady:
		return "Ready"
	case StateDisposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

type opKind int

const (
	opOpenEditor opKind = iota
	opApplyChanges
)

type pendingOp struct {
	kind     opKind
	changes  []engine.TextChange
	ctx      context.Context
	resultCh chan error
}

// DocumentLinter is the per-document state machine described in spec §4.1.
// Construct with New; it starts its serializing executor goroutine
// immediately and that goroutine runs until DisposeAsync settles it.
type DocumentLinter struct {
	doc                 Document
	pm                  *procmanager.Manager
	logger              *logx.Logger
	maxRecoveryAttempts int

	mu               sync.Mutex
	cond             *sync.Cond
	state            State
	worker           *worker.Handle
	docHandle        engine.DocHandle
	hasDocHandle     bool
	everOpened       bool
	queue            []*pendingOp
	disposeRequested bool

	stopped chan struct{}
}

// Option configures a DocumentLinter.
type Option func(*DocumentLinter)

// WithMaxRecoveryAttempts overrides the bounded-retry cap (default 8).
func WithMaxRecoveryAttempts(n int) Option {
	return func(l *DocumentLinter) { l.maxRecoveryAttempts = n }
}

// New creates a DocumentLinter for doc, acquiring workers from pm, and
// starts its executor loop.
func New(doc Document, pm *procmanager.Manager, opts ...Option) *DocumentLinter {
	l := &DocumentLinter{
		doc:                 doc,
		pm:                  pm,
		logger:              logx.NewLogger("linter"),
		maxRecoveryAttempts: defaultMaxRecoveryAttempts,
		state:               StateUnopened,
		stopped:             make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// State returns the linter's current state, for tests and introspection.
func (l *DocumentLinter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// EditorChangedVisibilityAsync signals that the editor opened or
// re-revealed this document. It ensures the engine has a document created
// from the current text and has been asked to lint it, then publishes
// diagnostics. Idempotent: a second call on a Ready linter still
// round-trips through the engine to relint the current text.
//
// It blocks until this call (and only this call) has settled. To enqueue
// several calls back-to-back without waiting on each in turn — exercising
// the FIFO ordering guarantee under concurrency — use
// EditorChangedVisibilityFuture.
func (l *DocumentLinter) EditorChangedVisibilityAsync(ctx context.Context) error {
	return <-l.EditorChangedVisibilityFuture(ctx)
}

// EditorChangedVisibilityFuture enqueues the op and returns immediately
// with a channel that receives its single result once settled, preserving
// enqueue order relative to any other call issued before it returns.
func (l *DocumentLinter) EditorChangedVisibilityFuture(ctx context.Context) <-chan error {
	return l.submit(&pendingOp{kind: opOpenEditor, ctx: ctx, resultCh: make(chan error, 1)})
}

// TextChangedAsync signals that changes have just been applied by the
// editor. It must rely exclusively on changes to mutate the engine-side
// document, never on doc.Text(), because a later call may already have
// been queued by the time this one runs.
//
// It blocks until this call (and only this call) has settled; see
// TextChangedFuture to enqueue without waiting.
func (l *DocumentLinter) TextChangedAsync(ctx context.Context, changes []engine.TextChange) error {
	return <-l.TextChangedFuture(ctx, changes)
}

// TextChangedFuture enqueues changes and returns immediately with a
// channel that receives the single result once settled.
func (l *DocumentLinter) TextChangedFuture(ctx context.Context, changes []engine.TextChange) <-chan error {
	cp := make([]engine.TextChange, len(changes))
	copy(cp, changes)
	return l.submit(&pendingOp{kind: opApplyChanges, changes: cp, ctx: ctx, resultCh: make(chan error, 1)})
}

// submit enqueues op and returns its result channel without waiting. Per
// spec, in-flight ops are never cancelled, so op.ctx is forwarded only to
// the engine calls the op makes, never used to abandon a wait on the
// channel.
func (l *DocumentLinter) submit(op *pendingOp) <-chan error {
	l.mu.Lock()
	if l.disposeRequested || l.state == StateDisposed {
		l.mu.Unlock()
		op.resultCh <- ErrDocumentLinterDisposed
		return op.resultCh
	}
	l.queue = append(l.queue, op)
	l.cond.Broadcast()
	l.mu.Unlock()

	return op.resultCh
}

// DisposeAsync releases the engine-side document if any and returns once
// all pending operations have settled — the in-flight one completes
// normally (or, if it crashes while disposal is underway, is surfaced as
// disposed rather than retried), and any still-queued ones fail with
// ErrDocumentLinterDisposed. Safe to call at any state; never returns a
// non-nil error other than nil, and is idempotent.
func (l *DocumentLinter) DisposeAsync(context.Context) error {
	l.mu.Lock()
	if l.state == StateDisposed {
		l.mu.Unlock()
		return nil
	}
	l.disposeRequested = true
	l.cond.Broadcast()
	stopped := l.stopped
	l.mu.Unlock()

	<-stopped
	return nil
}

// run is the single serializing executor: it processes the queue head of
// line, one op at a time, until disposal drains the queue and finalizes.
func (l *DocumentLinter) run() {
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.disposeRequested {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			// disposeRequested and nothing left queued: finalize.
			l.finalizeDisposeLocked(context.Background())
			l.mu.Unlock()
			close(l.stopped)
			return
		}
		op := l.queue[0]
		l.queue = l.queue[1:]
		disposing := l.disposeRequested
		l.mu.Unlock()

		if disposing {
			op.resultCh <- ErrDocumentLinterDisposed
			continue
		}

		ctx := op.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		op.resultCh <- l.executeOp(ctx, op)
	}
}

// finalizeDisposeLocked destroys the engine-side document, if any, and
// marks the linter Disposed. Called with l.mu held, from the executor
// goroutine only.
func (l *DocumentLinter) finalizeDisposeLocked(ctx context.Context) {
	w := l.worker
	docHandle := l.docHandle
	hasDocHandle := l.hasDocHandle
	l.mu.Unlock()

	if hasDocHandle && w != nil {
		if err := w.DestroyDocument(ctx, docHandle); err != nil {
			l.logger.Debug("destroy document on dispose ignored error: %v", err)
		}
	}
	l.doc.RemoveDiagnostics()

	l.mu.Lock()
	l.worker = nil
	l.hasDocHandle = false
	l.state = StateDisposed
	l.logger.Info("disposed")
}

// executeOp drives op to completion, transparently recovering from worker
// crashes (spec §4.1 "Crash recovery algorithm"). The two op kinds are
// deliberately asymmetric (spec §9's "Open question"): textChangedAsync
// absorbs crashes and keeps retrying with fresh workers no matter how many
// times recovery itself crashes, never surfacing failure to its caller;
// editorChangedVisibilityAsync gives up after maxRecoveryAttempts and
// surfaces ErrLintingCrashed, since an editor reopening a document can retry
// at its own layer instead of hanging forever.
func (l *DocumentLinter) executeOp(ctx context.Context, op *pendingOp) error {
	attempts := 0
	for {
		if l.isDisposing() {
			return ErrDocumentLinterDisposed
		}

		err := l.tryExecute(ctx, op)
		if err == nil {
			return nil
		}
		if !errors.Is(err, engine.ErrProcessCrashed) {
			return err
		}

		attempts++
		l.absorbCrash(ctx)

		if l.isDisposing() {
			return ErrDocumentLinterDisposed
		}
		if op.kind == opOpenEditor && attempts > l.maxRecoveryAttempts {
			lintmetrics.LintingCrashedTotal.Inc()
			l.logger.Error("exceeded %d recovery attempts, surfacing LintingCrashed", l.maxRecoveryAttempts)
			return ErrLintingCrashed
		}
		// Loop: tryExecute re-materializes from doc.Text() since the
		// doc handle was dropped by absorbCrash.
	}
}

func (l *DocumentLinter) isDisposing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disposeRequested
}

// tryExecute makes one attempt at op against whatever worker/doc-handle the
// linter currently holds, ensuring both exist first.
func (l *DocumentLinter) tryExecute(ctx context.Context, op *pendingOp) error {
	w, err := l.ensureWorker(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	hasDocHandle := l.hasDocHandle
	l.state = StateInitializing
	l.mu.Unlock()

	l.mu.Lock()
	everOpened := l.everOpened
	l.mu.Unlock()

	if !hasDocHandle {
		// First materialization (everOpened false) or recovering from a
		// crash (everOpened already true): either way, open with the
		// current editor text (spec §4.1, §9).
		text := l.doc.Text()
		docHandle, err := w.CreateDocument(ctx, text)
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.docHandle = docHandle
		l.hasDocHandle = true
		l.everOpened = true
		l.mu.Unlock()

		// Only on the very first open does this op's own change list
		// still need applying on top: current text is the document's
		// initial state, not yet reflecting this op. On a post-crash
		// re-materialization the editor already applied this change to
		// its own text before calling us, so the fresh doc already
		// reflects it; applying op.changes again would double it
		// (spec §9: "a single lint of the fresh doc is equivalent to
		// applying-then-linting").
		if op.kind == opApplyChanges && !everOpened {
			for _, change := range op.changes {
				if err := w.ApplyChange(ctx, docHandle, change); err != nil {
					return err
				}
			}
		}
	} else if op.kind == opApplyChanges {
		for _, change := range op.changes {
			if err := w.ApplyChange(ctx, l.docHandle, change); err != nil {
				return err
			}
		}
	}
	// opOpenEditor against an already-materialized doc is idempotent:
	// just relint below.

	start := time.Now()
	diags, err := w.Lint(ctx, l.docHandle)
	if err != nil {
		return err
	}
	lintmetrics.LintDuration.Observe(time.Since(start).Seconds())

	l.publish(diags)

	l.mu.Lock()
	l.state = StateReady
	l.mu.Unlock()
	return nil
}

func (l *DocumentLinter) publish(diags []engine.Diagnostic) {
	l.doc.SetDiagnostics(diags)
	if l.logger != nil {
		sum := contentDigest(l.doc.Text())
		l.logger.Debug("published %d diagnostics for text digest %s", len(diags), sum)
	}
}

// contentDigest returns a short hex digest of text, used only for debug
// log lines. publish passes the document's text as read at publish time,
// which is the text the engine analyzed only while the editor's text and
// the engine-side document agree; a linter driven by change lists against
// stale editor text logs the digest of that stale text.
func contentDigest(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return fmt.Sprintf("%x", sum[:8])
}

// ensureWorker returns the linter's current worker, acquiring a fresh one
// from the process manager if it doesn't have one or the one it has is
// crashed.
func (l *DocumentLinter) ensureWorker(ctx context.Context) (*worker.Handle, error) {
	l.mu.Lock()
	w := l.worker
	l.mu.Unlock()
	if w != nil {
		return w, nil
	}

	h, err := l.pm.AcquireWorker(ctx)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.worker = h
	l.mu.Unlock()
	return h, nil
}

// absorbCrash marks the current worker crashed with the process manager,
// drops the linter's worker and doc-handle references, and drives the
// linter back into Initializing so the next tryExecute provisions a fresh
// worker and re-materializes the engine-side document from current text.
func (l *DocumentLinter) absorbCrash(context.Context) {
	l.mu.Lock()
	w := l.worker
	l.worker = nil
	l.hasDocHandle = false
	l.docHandle = ""
	l.state = StateInitializing
	l.mu.Unlock()

	if w != nil {
		l.pm.ReportCrashed(w)
	}
}
