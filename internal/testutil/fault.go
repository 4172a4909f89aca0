package testutil

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/SnapdragonPartners/lintorch/pkg/enumerator"
)

// ErrInjectedFault is returned by injectors in this package when they decide
// to crash the calling worker.
var ErrInjectedFault = errors.New("testutil: injected fault")

// EnumeratedInjector drives worker crash decisions from an Enumerator,
// letting a test exhaustively walk every combination of "does this op
// crash?" across a bounded sequence of operations (spec §4.4's exhaustive
// fault-injection harness).
type EnumeratedInjector struct {
	e *enumerator.Enumerator
}

// NewEnumeratedInjector wraps e.
func NewEnumeratedInjector(e *enumerator.Enumerator) *EnumeratedInjector {
	return &EnumeratedInjector{e: e}
}

// MaybeInjectFault draws the next coin flip from the enumerator; true means
// crash.
func (i *EnumeratedInjector) MaybeInjectFault(_ context.Context, _ string, _ string) error {
	if i.e.NextCoinFlip() {
		return ErrInjectedFault
	}
	return nil
}

// CrashOnNth crashes exactly once, on the N-th call across all workers it
// gates (1-indexed), and never again afterward. Useful for testing that a
// single crash is absorbed and recovered from without permanently wedging
// the linter.
type CrashOnNth struct {
	n       int64
	counter atomic.Int64
}

// NewCrashOnNth returns an injector that crashes only on call number n.
func NewCrashOnNth(n int64) *CrashOnNth {
	return &CrashOnNth{n: n}
}

// MaybeInjectFault increments the call counter and crashes iff this call is
// the configured n-th one.
func (c *CrashOnNth) MaybeInjectFault(_ context.Context, _ string, _ string) error {
	if c.counter.Add(1) == c.n {
		return ErrInjectedFault
	}
	return nil
}
