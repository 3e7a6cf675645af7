package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestHolderSetLRU_BumpAppliesIncrementalDelta exercises the cache's
// incremental-update path TransferMonitor.processRangeLogs relies on to
// skip a COUNT query when the entry is still fresh.
func TestHolderSetLRU_BumpAppliesIncrementalDelta(t *testing.T) {
	h := newHolderSetLRU(time.Hour)
	h.set("0xtoken", 10)

	count, ok := h.bump("0xtoken", 1)
	require.True(t, ok)
	require.EqualValues(t, 11, count)

	count, ok = h.get("0xtoken")
	require.True(t, ok)
	require.EqualValues(t, 11, count)
}

// TestHolderSetLRU_BumpMissesOnExpiredEntry exercises the TTL-miss path:
// bump reports ok=false once an entry is older than ttl, forcing the
// caller back to a full recompute.
func TestHolderSetLRU_BumpMissesOnExpiredEntry(t *testing.T) {
	h := newHolderSetLRU(time.Nanosecond)
	h.set("0xtoken", 10)
	time.Sleep(time.Millisecond)

	_, ok := h.bump("0xtoken", 1)
	require.False(t, ok)

	_, ok = h.get("0xtoken")
	require.False(t, ok)
}

// TestHolderSetLRU_BumpMissesOnUnknownToken exercises the cache-miss path
// for a token that was never set, e.g. its first observed transfer.
func TestHolderSetLRU_BumpMissesOnUnknownToken(t *testing.T) {
	h := newHolderSetLRU(time.Hour)
	_, ok := h.bump("0xnew", 1)
	require.False(t, ok)
}
