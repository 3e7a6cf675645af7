package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riftindex/chainindexer/internal/config"
)

func newTestBase() *base {
	return &base{name: "test_monitor", cfg: config.Default(), state: StateInit}
}

// TestProcessRange_BisectsOnRangeTooLarge mirrors spec.md §4.4 step 2: a
// RangeTooLarge classification on a multi-block range is recovered by
// splitting in half and retrying each half, not by surfacing an error.
func TestProcessRange_BisectsOnRangeTooLarge(t *testing.T) {
	b := newTestBase()
	var seen [][2]uint64

	err := b.processRange(context.Background(), 1, 4, func(ctx context.Context, from, to uint64) error {
		seen = append(seen, [2]uint64{from, to})
		if from == 1 && to == 4 {
			return errors.New("read limit exceeded")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, [][2]uint64{{1, 4}, {1, 2}, {3, 4}}, seen)
}

// TestProcessRange_SingleBlockRangeTooLargeEscalatesToFatal is spec.md
// §8's boundary case: "RangeTooLarge on [a,b] with a==b escalates to
// fatal (cannot bisect)".
func TestProcessRange_SingleBlockRangeTooLargeEscalatesToFatal(t *testing.T) {
	b := newTestBase()

	err := b.processRange(context.Background(), 7, 7, func(ctx context.Context, from, to uint64) error {
		return errors.New("log response size exceeded")
	})

	require.ErrorIs(t, err, errFatal)
}

// TestProcessRange_RetriesTransientThenSucceeds exercises the per-block
// retry counter within RetryAttempts (spec.md §4.4).
func TestProcessRange_RetriesTransientThenSucceeds(t *testing.T) {
	b := newTestBase()
	b.cfg.RetryAttempts = 3
	b.cfg.RetryDelayMS = 0

	attempts := 0
	err := b.processRange(context.Background(), 1, 1, func(ctx context.Context, from, to uint64) error {
		attempts++
		if attempts < 2 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

// TestProcessRange_ExhaustsRetriesAndSurfacesError asserts the cap named
// in spec.md §4.4: after retry_attempts, the range surfaces its error
// instead of retrying forever.
func TestProcessRange_ExhaustsRetriesAndSurfacesError(t *testing.T) {
	b := newTestBase()
	b.cfg.RetryAttempts = 2
	b.cfg.RetryDelayMS = 0

	attempts := 0
	err := b.processRange(context.Background(), 1, 1, func(ctx context.Context, from, to uint64) error {
		attempts++
		return errors.New("connection reset")
	})

	require.Error(t, err)
	require.Equal(t, 3, attempts) // initial attempt + 2 retries
}

// TestProcessRange_PanicIsRecoveredAsError checks that a panic inside
// processFn is returned as an error rather than crashing the monitor.
func TestProcessRange_PanicIsRecoveredAsError(t *testing.T) {
	b := newTestBase()
	b.cfg.RetryAttempts = 0

	err := b.processRange(context.Background(), 1, 1, func(ctx context.Context, from, to uint64) error {
		panic("decode: malformed log")
	})

	require.Error(t, err)
}

// TestProcessHead_AdvancesCursorAndReportsLive exercises base.processHead,
// the shared head-to-range-to-commit step base.run's ticker and streaming
// branches both call (spec.md §4.4).
func TestProcessHead_AdvancesCursorAndReportsLive(t *testing.T) {
	b := newTestBase()
	b.nextRow = 191

	var seen [2]uint64
	err := b.processHead(context.Background(), 200, func(ctx context.Context, from, to uint64) error {
		seen = [2]uint64{from, to}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, [2]uint64{191, 197}, seen)
	require.Equal(t, uint64(198), b.nextRow)
	require.Equal(t, StateLive, b.state)
}

// TestProcessHead_NoWorkStillReportsLive covers the case where the
// confirmed head hasn't advanced past the cursor: the monitor is caught up
// and reports LIVE without calling processFn.
func TestProcessHead_NoWorkStillReportsLive(t *testing.T) {
	b := newTestBase()
	b.nextRow = 191
	b.state = StateCatchingUp

	called := false
	err := b.processHead(context.Background(), 192, func(ctx context.Context, from, to uint64) error {
		called = true
		return nil
	})

	require.NoError(t, err)
	require.False(t, called)
	require.Equal(t, StateLive, b.state)
}

// TestNextWindow_SuppressesReorgWindow is spec.md §8 scenario 5:
// confirmations=3, head=200, cursor=190 -> only [191,197] is processed;
// block 198 stays untouched until head advances.
func TestNextWindow_SuppressesReorgWindow(t *testing.T) {
	from, to, hasWork, lagging := nextWindow(200, 3, 191, 100)

	require.True(t, hasWork)
	require.False(t, lagging)
	require.Equal(t, uint64(191), from)
	require.Equal(t, uint64(197), to)
}

// TestNextWindow_NoWorkWhenConfirmedHeadBehindCursor covers the case
// where the confirmed head hasn't reached the monitor's cursor yet.
func TestNextWindow_NoWorkWhenConfirmedHeadBehindCursor(t *testing.T) {
	_, _, hasWork, _ := nextWindow(192, 3, 191, 100)
	require.False(t, hasWork)
}

// TestNextWindow_CapsWindowAtBatchSize ensures CATCHING_UP windows never
// exceed the configured batch size even when far behind head.
func TestNextWindow_CapsWindowAtBatchSize(t *testing.T) {
	from, to, hasWork, lagging := nextWindow(10_000, 3, 1, 100)

	require.True(t, hasWork)
	require.True(t, lagging)
	require.Equal(t, uint64(1), from)
	require.Equal(t, uint64(100), to)
}
