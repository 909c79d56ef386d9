package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// newTestBreaker returns a breaker with a controllable clock.
func newTestBreaker(threshold int, recovery time.Duration) (*Breaker, *time.Time) {
	b := New(threshold, recovery)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestCall_OpensAfterThresholdFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		err := b.Call(func() error { return errBoom })
		assert.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	// While open, the operation must not be invoked.
	invoked := false
	err := b.Call(func() error { invoked = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, invoked)
}

func TestCall_SuccessResetsConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	require.Error(t, b.Call(func() error { return errBoom }))
	require.Error(t, b.Call(func() error { return errBoom }))
	require.NoError(t, b.Call(func() error { return nil }))

	// Two more failures must not open: the success reset the count.
	require.Error(t, b.Call(func() error { return errBoom }))
	require.Error(t, b.Call(func() error { return errBoom }))
	assert.Equal(t, StateClosed, b.State())

	require.Error(t, b.Call(func() error { return errBoom }))
	assert.Equal(t, StateOpen, b.State())
}

func TestCall_ProbeSuccessClosesCircuit(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)

	require.Error(t, b.Call(func() error { return errBoom }))
	require.Equal(t, StateOpen, b.State())

	// Before the recovery timeout the breaker fails fast.
	*now = now.Add(30 * time.Second)
	assert.ErrorIs(t, b.Call(func() error { return nil }), ErrOpen)

	// After the timeout the probe is allowed through.
	*now = now.Add(31 * time.Second)
	require.NoError(t, b.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestCall_ProbeFailureReopensCircuit(t *testing.T) {
	b, now := newTestBreaker(2, time.Minute)

	require.Error(t, b.Call(func() error { return errBoom }))
	require.Error(t, b.Call(func() error { return errBoom }))
	require.Equal(t, StateOpen, b.State())

	*now = now.Add(2 * time.Minute)
	require.ErrorIs(t, b.Call(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, b.State())

	// The failed probe restarts the recovery clock.
	invoked := false
	err := b.Call(func() error { invoked = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, invoked)
}

func TestCall_HalfOpenAdmitsSingleProbe(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)

	require.Error(t, b.Call(func() error { return errBoom }))
	require.Equal(t, StateOpen, b.State())
	*now = now.Add(2 * time.Minute)

	// The first caller becomes the probe and blocks on the gate; callers
	// arriving while it is outstanding must be rejected, not let through.
	gate := make(chan struct{})
	probeStarted := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- b.Call(func() error {
			close(probeStarted)
			<-gate
			return nil
		})
	}()
	<-probeStarted

	invoked := false
	err := b.Call(func() error { invoked = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, invoked)

	close(gate)
	require.NoError(t, <-probeDone)
	assert.Equal(t, StateClosed, b.State())
}

func TestNew_DefaultsApplied(t *testing.T) {
	b := New(0, 0)
	assert.Equal(t, DefaultFailureThreshold, b.failureThreshold)
	assert.Equal(t, DefaultRecoveryTimeout, b.recoveryTimeout)
	assert.Equal(t, StateClosed, b.State())
}
