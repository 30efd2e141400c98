package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlidingWindowAcceptsMonotonicCounters(t *testing.T) {
	var w slidingWindow
	for i := uint64(0); i < 2000; i++ {
		require.NoError(t, w.CheckAndSet(i))
	}
}

func TestSlidingWindowRejectsExactReplay(t *testing.T) {
	var w slidingWindow
	require.NoError(t, w.CheckAndSet(5))
	require.ErrorIs(t, w.CheckAndSet(5), ErrNonceReplayed)
}

func TestSlidingWindowAcceptsOutOfOrderWithinWidth(t *testing.T) {
	var w slidingWindow
	require.NoError(t, w.CheckAndSet(100))
	require.NoError(t, w.CheckAndSet(90))
	require.NoError(t, w.CheckAndSet(95))
	require.ErrorIs(t, w.CheckAndSet(90), ErrNonceReplayed)
}

func TestSlidingWindowRejectsBelowWidth(t *testing.T) {
	var w slidingWindow
	require.NoError(t, w.CheckAndSet(ReplayWindowWidth+500))
	require.ErrorIs(t, w.CheckAndSet(10), ErrNonceReplayed)
}

func TestSlidingWindowHandlesLargeJumpForward(t *testing.T) {
	var w slidingWindow
	require.NoError(t, w.CheckAndSet(0))
	require.NoError(t, w.CheckAndSet(1_000_000))
	require.NoError(t, w.CheckAndSet(1_000_000-1))
	require.ErrorIs(t, w.CheckAndSet(0), ErrNonceReplayed)
}
