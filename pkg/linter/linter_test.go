package linter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SnapdragonPartners/lintorch/internal/jslint"
	"github.com/SnapdragonPartners/lintorch/internal/testutil"
	"github.com/SnapdragonPartners/lintorch/pkg/engine"
	"github.com/SnapdragonPartners/lintorch/pkg/enumerator"
	"github.com/SnapdragonPartners/lintorch/pkg/fault"
	"github.com/SnapdragonPartners/lintorch/pkg/procmanager"
)

func newManager(injector fault.Injector) *procmanager.Manager {
	factory := func(context.Context) (engine.Engine, error) {
		return jslint.New(), nil
	}
	if injector == nil {
		return procmanager.New(factory)
	}
	return procmanager.New(factory, procmanager.WithInjector(injector))
}

func endPosition(text string) engine.Position {
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

func TestBasicLint(t *testing.T) {
	doc := testutil.NewFakeDocument("let x;let x;")
	l := New(doc, newManager(nil))
	defer l.DisposeAsync(context.Background())

	require.NoError(t, l.EditorChangedVisibilityAsync(context.Background()))

	diags := doc.Diagnostics()
	require.Len(t, diags, 1)
	require.Equal(t, "redeclaration of variable: x", diags[0].Message)
}

func TestSeverityMix(t *testing.T) {
	doc := testutil.NewFakeDocument("let x;let x;\nundeclaredVariable")
	l := New(doc, newManager(nil))
	defer l.DisposeAsync(context.Background())

	require.NoError(t, l.EditorChangedVisibilityAsync(context.Background()))

	diags := doc.Diagnostics()
	require.Len(t, diags, 2)
	require.Equal(t, "redeclaration of variable: x", diags[0].Message)
	require.Equal(t, engine.SeverityError, diags[0].Severity)
	require.Equal(t, "use of undeclared variable: undeclaredVariable", diags[1].Message)
	require.Equal(t, engine.SeverityWarning, diags[1].Severity)
}

func TestOrderedConcurrentEdits(t *testing.T) {
	doc := testutil.NewFakeDocument("let x;")
	l := New(doc, newManager(nil))
	defer l.DisposeAsync(context.Background())

	require.NoError(t, l.EditorChangedVisibilityAsync(context.Background()))

	appended := "let x; // done"
	text := doc.Text()
	channels := make([]<-chan error, len(appended))
	for i, r := range appended {
		pos := endPosition(text)
		change := engine.TextChange{Start: pos, End: pos, Text: string(r)}
		channels[i] = l.TextChangedFuture(context.Background(), []engine.TextChange{change})
		text += string(r)
	}
	for _, ch := range channels {
		require.NoError(t, <-ch)
	}

	diags := doc.Diagnostics()
	require.Len(t, diags, 1)
	require.Equal(t, "redeclaration of variable: x", diags[0].Message)
	require.Equal(t, engine.Position{Line: 0, Character: 10}, diags[0].Start)
	require.Equal(t, engine.Position{Line: 0, Character: 11}, diags[0].End)
}

func TestChangeListOnlyInvariant(t *testing.T) {
	doc := testutil.NewFakeDocument("let x;")
	l := New(doc, newManager(nil))
	defer l.DisposeAsync(context.Background())

	at6 := engine.Position{Line: 0, Character: 6}
	at9 := engine.Position{Line: 0, Character: 9}
	at12 := engine.Position{Line: 0, Character: 12}
	require.NoError(t, l.TextChangedAsync(context.Background(), []engine.TextChange{{Start: at6, End: at6, Text: "let"}}))
	require.NoError(t, l.TextChangedAsync(context.Background(), []engine.TextChange{{Start: at9, End: at9, Text: " x;"}}))
	require.NoError(t, l.TextChangedAsync(context.Background(), []engine.TextChange{{Start: at12, End: at12, Text: " // done"}}))

	diags := doc.Diagnostics()
	require.Len(t, diags, 1)
	require.Equal(t, "redeclaration of variable: x", diags[0].Message)
}

func TestOpeningTwiceIsIdempotent(t *testing.T) {
	doc := testutil.NewFakeDocument("let x;let x;")
	l := New(doc, newManager(nil))
	defer l.DisposeAsync(context.Background())

	require.NoError(t, l.EditorChangedVisibilityAsync(context.Background()))
	first := doc.Diagnostics()
	require.NoError(t, l.EditorChangedVisibilityAsync(context.Background()))
	second := doc.Diagnostics()

	require.Equal(t, first, second)
}

func TestDisposeIsIdempotent(t *testing.T) {
	doc := testutil.NewFakeDocument("let x;")
	l := New(doc, newManager(nil))

	require.NoError(t, l.DisposeAsync(context.Background()))
	require.NoError(t, l.DisposeAsync(context.Background()))
	require.Equal(t, StateDisposed, l.State())
}

func TestDisposeSettlesQueuedOps(t *testing.T) {
	doc := testutil.NewFakeDocument("let x;")
	l := New(doc, newManager(nil))

	require.NoError(t, l.EditorChangedVisibilityAsync(context.Background()))
	ch := l.EditorChangedVisibilityFuture(context.Background())
	require.NoError(t, l.DisposeAsync(context.Background()))

	err := <-ch
	require.True(t, err == nil || errors.Is(err, ErrDocumentLinterDisposed))

	afterDispose := l.TextChangedAsync(context.Background(), nil)
	require.ErrorIs(t, afterDispose, ErrDocumentLinterDisposed)
}

// TestTextChangedAbsorbsASingleCrashSilently verifies textChangedAsync never
// surfaces a worker crash to its caller: it transparently provisions a fresh
// worker and re-materializes the document, per spec's absorb-on-recovery
// rule.
func TestTextChangedAbsorbsASingleCrashSilently(t *testing.T) {
	// Crash exactly once, on the 3rd gated engine call overall: the open's
	// createDocument and lint (calls 1-2) succeed, then the edit's
	// applyChange (call 3) crashes. Recovery re-materializes (call 4) and
	// relints (call 5) against a fresh worker.
	injector := testutil.NewCrashOnNth(3)
	pm := newManager(injector)
	doc := testutil.NewFakeDocument("let x;let x;")
	l := New(doc, pm)
	defer l.DisposeAsync(context.Background())

	require.NoError(t, l.EditorChangedVisibilityAsync(context.Background()))
	require.EqualValues(t, 1, pm.NumberOfProcessesEverCreated())

	doc.SetText("let x;let x;let y;")
	pos := engine.Position{Line: 0, Character: 12}
	err := l.TextChangedAsync(context.Background(), []engine.TextChange{{Start: pos, End: pos, Text: "let y;"}})
	require.NoError(t, err)
	require.EqualValues(t, 2, pm.NumberOfProcessesEverCreated())

	diags := doc.Diagnostics()
	require.Len(t, diags, 1)
	require.Equal(t, "redeclaration of variable: x", diags[0].Message)
}

// TestOpenGivesUpAfterBoundedCrashes verifies the documented asymmetry:
// editorChangedVisibilityAsync surfaces ErrLintingCrashed once recovery
// attempts are exhausted, leaving diagnostics untouched.
func TestOpenGivesUpAfterBoundedCrashes(t *testing.T) {
	doc := testutil.NewFakeDocument("let x;let x;")
	pm := newManager(alwaysCrashInjector{})
	l := New(doc, pm, WithMaxRecoveryAttempts(3))
	defer l.DisposeAsync(context.Background())

	err := l.EditorChangedVisibilityAsync(context.Background())
	require.ErrorIs(t, err, ErrLintingCrashed)
	require.Empty(t, doc.Diagnostics())
}

type alwaysCrashInjector struct{}

func (alwaysCrashInjector) MaybeInjectFault(context.Context, string, string) error {
	return testutil.ErrInjectedFault
}

// TestIsolatedPerDocumentCrash exercises scenario 6: two linters share one
// manager; a crash is injected only for the first linter's lint call (the
// second gated call overall), and the first linter is configured not to
// retry at all, so it rejects while the second linter still succeeds
// against a freshly reprovisioned worker.
func TestIsolatedPerDocumentCrash(t *testing.T) {
	injector := testutil.NewCrashOnNth(2)
	pm := newManager(injector)

	doc1 := testutil.NewFakeDocument("let x;let x;")
	l1 := New(doc1, pm, WithMaxRecoveryAttempts(0))
	defer l1.DisposeAsync(context.Background())

	err1 := l1.EditorChangedVisibilityAsync(context.Background())
	require.ErrorIs(t, err1, ErrLintingCrashed)

	doc2 := testutil.NewFakeDocument("let y;let y;")
	l2 := New(doc2, pm)
	defer l2.DisposeAsync(context.Background())

	err2 := l2.EditorChangedVisibilityAsync(context.Background())
	require.NoError(t, err2)
	require.Len(t, doc2.Diagnostics(), 1)
	require.Equal(t, "redeclaration of variable: y", doc2.Diagnostics()[0].Message)

	require.EqualValues(t, 2, pm.NumberOfProcessesEverCreated())
}

// TestExhaustiveOpenCrashOutcomes walks every boolean sequence the
// enumerator produces, gating editorChangedVisibilityAsync's engine calls
// (and the destroyDocument that DisposeAsync issues after a successful
// open), and checks the final diagnostics are always one of the two valid
// outcomes: [] (gave up, LintingCrashed) or the expected redeclaration.
func TestExhaustiveOpenCrashOutcomes(t *testing.T) {
	e := enumerator.New()
	injector := testutil.NewEnumeratedInjector(e)

	laps := 0
	for !e.IsDone() && laps < 2000 {
		laps++
		pm := newManager(injector)
		doc := testutil.NewFakeDocument("let x;let x;")
		l := New(doc, pm, WithMaxRecoveryAttempts(4))

		err := l.EditorChangedVisibilityAsync(context.Background())
		diags := doc.Diagnostics()

		if err != nil {
			require.ErrorIs(t, err, ErrLintingCrashed)
			require.Empty(t, diags)
		} else {
			require.Len(t, diags, 1)
			require.Equal(t, "redeclaration of variable: x", diags[0].Message)
		}

		require.NoError(t, l.DisposeAsync(context.Background()))
		e.Lap()
	}
}

// TestExhaustiveOpenAndEditCrashOutcomes is spec §8 scenario 5: gate
// maybeInjectFault across both editorChangedVisibilityAsync and the
// textChangedAsync that follows it, for the first 200 sequences in the
// enumerator's order (textChangedAsync retries without bound, so the
// enumeration never runs out on its own), starting from
// "let x;let x;\n" and editing to "let x;let x;\nlet y;let y;". The final
// diagnostic set must always be one of the three outcomes scenario 5 names:
// [] (crashed on open, surfaced), [xRedeclaration] (crashed before the edit
// linted), or [xRedeclaration, yRedeclaration] (fully recovered).
func TestExhaustiveOpenAndEditCrashOutcomes(t *testing.T) {
	const initial = "let x;let x;\n"
	const edited = "let x;let x;\nlet y;let y;"

	e := enumerator.New()
	injector := testutil.NewEnumeratedInjector(e)

	laps := 0
	for !e.IsDone() && laps < 200 {
		laps++
		pm := newManager(injector)
		doc := testutil.NewFakeDocument(initial)
		l := New(doc, pm, WithMaxRecoveryAttempts(4))

		err := l.EditorChangedVisibilityAsync(context.Background())
		if err != nil {
			require.ErrorIs(t, err, ErrLintingCrashed)
			require.Empty(t, doc.Diagnostics())
		} else {
			doc.SetText(edited)
			pos := endPosition(initial)
			change := engine.TextChange{Start: pos, End: pos, Text: "let y;let y;"}
			require.NoError(t, l.TextChangedAsync(context.Background(), []engine.TextChange{change}))

			diags := doc.Diagnostics()
			switch len(diags) {
			case 1:
				require.Equal(t, "redeclaration of variable: x", diags[0].Message)
			case 2:
				require.Equal(t, "redeclaration of variable: x", diags[0].Message)
				require.Equal(t, "redeclaration of variable: y", diags[1].Message)
			default:
				t.Fatalf("unexpected diagnostic set: %+v", diags)
			}
		}

		require.NoError(t, l.DisposeAsync(context.Background()))
		e.Lap()
	}
}
