// Package worker implements the Worker Process Handle (spec §4.3): a
// reference to one live worker that owns an engine instance, reporting
// crash through a single sticky failure mode so that callers never race a
// "zombie" engine.
package worker

import (
	"context"
	"sync"

	"github.com/SnapdragonPartners/lintorch/pkg/engine"
	"github.com/SnapdragonPartners/lintorch/pkg/fault"
	"github.com/SnapdragonPartners/lintorch/pkg/logx"
)

// Handle wraps one engine.Engine instance. All operations may fail with
// engine.ErrProcessCrashed; the first such failure marks the handle
// permanently unusable, and every subsequent operation fails synchronously
// with the same error without touching the underlying engine.
type Handle struct {
	id       string
	eng      engine.Engine
	injector fault.Injector
	logger   *logx.Logger

	mu      sync.Mutex
	crashed bool
}

// New wraps eng in a Handle identified by id. injector is consulted at the
// start of every operation (spec §5); pass fault.None for production use.
func New(id string, eng engine.Engine, injector fault.Injector) *Handle {
	if injector == nil {
		injector = fault.None
	}
	return &Handle{
		id:       id,
		eng:      eng,
		injector: injector,
		logger:   logx.NewLogger("worker." + id),
	}
}

// ID returns the handle's identity, stable for its lifetime.
func (h *Handle) ID() string { return h.id }

// Crashed reports whether this handle has ever faulted. Once true, it never
// becomes false again.
func (h *Handle) Crashed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.crashed
}

// MarkCrashed marks the handle terminally crashed. Exported so the process
// manager can mark a handle crashed when it learns of the fault from a
// document linter rather than from its own engine call.
func (h *Handle) MarkCrashed() { h.markCrashed() }

func (h *Handle) markCrashed() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.crashed {
		h.logger.Error("worker crashed, marking handle permanently unusable")
	}
	h.crashed = true
}

// gate runs the fault injector for op and returns engine.ErrProcessCrashed
// if the handle is already crashed or the injector decides to crash it now.
// It must be called before the operation commits any visible effect.
func (h *Handle) gate(ctx context.Context, op string) error {
	if h.Crashed() {
		return engine.ErrProcessCrashed
	}
	if err := h.injector.MaybeInjectFault(ctx, h.id, op); err != nil {
		h.markCrashed()
		return engine.ErrProcessCrashed
	}
	return nil
}

// CreateDocument creates an engine-side document initialized to text.
func (h *Handle) CreateDocument(ctx context.Context, text string) (engine.DocHandle, error) {
	if err := h.gate(ctx, "createDocument"); err != nil {
		return "", err
	}
	docHandle, err := h.eng.CreateDocument(ctx, text)
	if err != nil {
		h.markCrashed()
		return "", engine.ErrProcessCrashed
	}
	return docHandle, nil
}

// ApplyChange incrementally mutates the engine-side document's text.
func (h *Handle) ApplyChange(ctx context.Context, docHandle engine.DocHandle, change engine.TextChange) error {
	if err := h.gate(ctx, "applyChange"); err != nil {
		return err
	}
	if err := h.eng.ApplyChange(ctx, docHandle, change); err != nil {
		h.markCrashed()
		return engine.ErrProcessCrashed
	}
	return nil
}

// Lint returns diagnostics for the engine-side document's current text.
func (h *Handle) Lint(ctx context.Context, docHandle engine.DocHandle) ([]engine.Diagnostic, error) {
	if err := h.gate(ctx, "lint"); err != nil {
		return nil, err
	}
	diags, err := h.eng.Lint(ctx, docHandle)
	if err != nil {
		h.markCrashed()
		return nil, engine.ErrProcessCrashed
	}
	return diags, nil
}

// DestroyDocument releases engine resources for docHandle. Per spec §6.2 a
// ProcessCrashed from this call is ignored by callers; DestroyDocument
// itself still marks the handle crashed so later operations fail fast.
func (h *Handle) DestroyDocument(ctx context.Context, docHandle engine.DocHandle) error {
	if err := h.gate(ctx, "destroyDocument"); err != nil {
		return err
	}
	if err := h.eng.DestroyDocument(ctx, docHandle); err != nil {
		h.markCrashed()
		return engine.ErrProcessCrashed
	}
	return nil
}
