// Package fault implements the process-wide fault-injection hook described
// in spec §5: a callable invoked at the start of every engine operation,
// before that operation commits any visible effect, so that a thrown crash
// leaves the engine-side state unchanged.
package fault

import "context"

// Injector decides whether the engine operation named op, against the
// worker identified by workerID, should fail with a simulated crash. A nil
// error means the operation proceeds normally.
type Injector interface {
	MaybeInjectFault(ctx context.Context, workerID, op string) error
}

// Nop is the default, production Injector: it never injects a fault.
type Nop struct{}

func (Nop) MaybeInjectFault(context.Context, string, string) error { return nil }

// None is the shared no-op injector instance.
var None Injector = Nop{}
