package procmanager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SnapdragonPartners/lintorch/internal/jslint"
	"github.com/SnapdragonPartners/lintorch/pkg/engine"
)

func factoryFor(t *testing.T) EngineFactory {
	t.Helper()
	return func(context.Context) (engine.Engine, error) {
		return jslint.New(), nil
	}
}

func TestAcquireWorkerProvisionsOnce(t *testing.T) {
	m := New(factoryFor(t))

	h1, err := m.AcquireWorker(context.Background())
	require.NoError(t, err)
	h2, err := m.AcquireWorker(context.Background())
	require.NoError(t, err)

	require.Same(t, h1, h2)
	require.EqualValues(t, 1, m.NumberOfProcessesEverCreated())
}

func TestAcquireWorkerReprovisionsAfterReportCrashed(t *testing.T) {
	m := New(factoryFor(t))

	h1, err := m.AcquireWorker(context.Background())
	require.NoError(t, err)

	m.ReportCrashed(h1)
	require.True(t, h1.Crashed())

	h2, err := m.AcquireWorker(context.Background())
	require.NoError(t, err)

	require.NotSame(t, h1, h2)
	require.False(t, h2.Crashed())
	require.EqualValues(t, 2, m.NumberOfProcessesEverCreated())
}

func TestReportCrashedTwiceOnSameHandleIsSafe(t *testing.T) {
	m := New(factoryFor(t))
	h1, err := m.AcquireWorker(context.Background())
	require.NoError(t, err)

	m.ReportCrashed(h1)
	m.ReportCrashed(h1) // second report on the same already-crashed handle: no panic, no double reprovision trigger
	require.True(t, h1.Crashed())
}

func TestConcurrentAcquireCollapsesOntoOneProvision(t *testing.T) {
	var calls int
	factory := func(context.Context) (engine.Engine, error) {
		calls++
		return jslint.New(), nil
	}
	m := New(factory)

	const n = 20
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := m.AcquireWorker(context.Background())
			results <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-results)
	}

	require.EqualValues(t, 1, m.NumberOfProcessesEverCreated())
}

func TestProvisionRetriesTransientFactoryFailures(t *testing.T) {
	var attempts int
	factory := func(context.Context) (engine.Engine, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient spawn failure")
		}
		return jslint.New(), nil
	}
	m := New(factory)

	h, err := m.AcquireWorker(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h)
	require.Equal(t, 3, attempts)
}
