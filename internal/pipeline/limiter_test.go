package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterFirstCallAdmits(t *testing.T) {
	r := NewRateLimiter(500 * time.Millisecond)
	require.True(t, r.Admit(time.Unix(1000, 0)))
}

func TestRateLimiterRejectLeavesStateUnchanged(t *testing.T) {
	r := NewRateLimiter(500 * time.Millisecond)
	base := time.Unix(1000, 0)

	require.True(t, r.Admit(base))
	require.False(t, r.Admit(base.Add(100*time.Millisecond)))
	require.False(t, r.Admit(base.Add(499*time.Millisecond)))
	// Exactly one interval since the last admitted frame, not since the
	// last rejected one.
	require.True(t, r.Admit(base.Add(500*time.Millisecond)))
}

func TestRateLimiterFrameSequence(t *testing.T) {
	// Frames every 400ms against a 500ms sampling interval: admitted at
	// 0, 800, 1600, 2400, 3200.
	r := NewRateLimiter(500 * time.Millisecond)
	base := time.Unix(1000, 0)

	want := []bool{true, false, true, false, true, false, true, false, true, false}
	admitted := 0
	for i, w := range want {
		got := r.Admit(base.Add(time.Duration(i) * 400 * time.Millisecond))
		require.Equal(t, w, got, "frame %d", i)
		if got {
			admitted++
		}
	}
	require.Equal(t, 5, admitted)
}

func TestRateLimiterReset(t *testing.T) {
	r := NewRateLimiter(time.Hour)
	base := time.Unix(1000, 0)

	require.True(t, r.Admit(base))
	require.False(t, r.Admit(base.Add(time.Second)))
	r.Reset()
	require.True(t, r.Admit(base.Add(2*time.Second)))
}
