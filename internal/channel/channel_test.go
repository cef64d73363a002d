package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChannel(strategy KeyStrategy, keys ...string) *Channel {
	return New("A", "http://upstream.example", 10, false, true, keys, strategy)
}

func TestPickKeyRoundRobinAdvancesCursor(t *testing.T) {
	ch := newTestChannel(StrategyRoundRobin, "k1", "k2", "k3")

	v1, i1, ok := ch.PickKey()
	require.True(t, ok)
	v2, i2, ok := ch.PickKey()
	require.True(t, ok)

	assert.NotEqual(t, i1, i2)
	assert.Contains(t, []string{"k1", "k2", "k3"}, v1)
	assert.Contains(t, []string{"k1", "k2", "k3"}, v2)
}

func TestPickKeyNoneWhenAllDead(t *testing.T) {
	ch := newTestChannel(StrategyRoundRobin, "k1")
	_, idx, ok := ch.PickKey()
	require.True(t, ok)
	ch.MarkKeyFailed(idx)
	ch.MarkKeyFailed(idx)
	ch.MarkKeyFailed(idx)

	_, _, ok = ch.PickKey()
	assert.False(t, ok)
}

func TestMarkKeyFailedThresholdDisables(t *testing.T) {
	ch := newTestChannel(StrategyRoundRobin, "k1")
	ch.MarkKeyFailed(0)
	ch.MarkKeyFailed(0)
	_, _, ok := ch.PickKey()
	assert.True(t, ok, "still alive before third failure")

	ch.MarkKeyFailed(0)
	_, _, ok = ch.PickKey()
	assert.False(t, ok, "disabled at third consecutive failure")

	// Idempotent beyond threshold.
	ch.MarkKeyFailed(0)
	_, _, ok = ch.PickKey()
	assert.False(t, ok)
}

func TestMarkKeySuccessReEnables(t *testing.T) {
	ch := newTestChannel(StrategyRoundRobin, "k1")
	ch.MarkKeyFailed(0)
	ch.MarkKeyFailed(0)
	ch.MarkKeyFailed(0)
	require.Equal(t, 0, ch.AliveKeys())

	ch.MarkKeySuccess(0)
	assert.Equal(t, 1, ch.AliveKeys())
}

func TestRemoveKeyAtCursorResetsCursor(t *testing.T) {
	ch := newTestChannel(StrategyRoundRobin, "k1", "k2", "k3")
	ch.PickKey() // cursor now at 1

	ok := ch.RemoveKey(1)
	require.True(t, ok)
	assert.Equal(t, 0, ch.rrCursor)
}

func TestAddThenRemoveLastRestoresPool(t *testing.T) {
	ch := newTestChannel(StrategyRoundRobin, "k1", "k2")
	before := ch.TotalKeys()

	ch.AddKey("k3")
	ok := ch.RemoveKey(ch.TotalKeys() - 1)
	require.True(t, ok)

	assert.Equal(t, before, ch.TotalKeys())
}

func TestRecordSuccessAndFailureKeepInvariant(t *testing.T) {
	ch := newTestChannel(StrategyRoundRobin, "k1")
	ch.RecordSuccess(12.5)
	ch.RecordFailure("boom")
	ch.RecordSuccess(8)

	s := ch.StatsSnapshot()
	assert.Equal(t, s.SuccessCount+s.FailCount, s.TotalRequests)
	assert.Equal(t, int64(3), s.TotalRequests)
}

func TestRecordFailureThresholdDemotesHealth(t *testing.T) {
	ch := newTestChannel(StrategyRoundRobin, "k1")
	ch.RecordFailure("e1")
	ch.RecordFailure("e2")
	assert.NotEqual(t, HealthUnhealthy, ch.HealthState())

	ch.RecordFailure("e3")
	assert.Equal(t, HealthUnhealthy, ch.HealthState())
}

func TestIsAvailableInvariant(t *testing.T) {
	ch := newTestChannel(StrategyRoundRobin, "k1")
	assert.True(t, ch.IsAvailable())

	ch.SetEnabled(false)
	assert.False(t, ch.IsAvailable())
	ch.SetEnabled(true)

	ch.SetHealth(HealthUnhealthy, nil)
	assert.False(t, ch.IsAvailable())
	ch.SetHealth(HealthHealthy, nil)

	ch.MarkKeyFailed(0)
	ch.MarkKeyFailed(0)
	ch.MarkKeyFailed(0)
	assert.False(t, ch.IsAvailable())
}

func TestToggleIsInvolution(t *testing.T) {
	ch := newTestChannel(StrategyRoundRobin, "k1")
	start := ch.IsEnabled()
	ch.Toggle()
	ch.Toggle()
	assert.Equal(t, start, ch.IsEnabled())
}

func TestToJSONNeverExposesCredentialValue(t *testing.T) {
	ch := newTestChannel(StrategyRoundRobin, "super-secret-key")
	v := ch.ToJSON()
	assert.Equal(t, 1, v.TotalKeys)
	assert.NotContains(t, toJSONString(v), "super-secret-key")
}

func toJSONString(v View) string {
	return v.Name + v.Target + v.Strategy + v.Health
}

func TestFirstAliveCredentialDoesNotAdvanceCursor(t *testing.T) {
	ch := newTestChannel(StrategyRoundRobin, "k1", "k2", "k3")

	v := ch.FirstAliveCredential()
	assert.Equal(t, "k1", v)
	assert.Equal(t, "k1", ch.FirstAliveCredential(), "repeated calls must keep returning the same first-alive credential")
	assert.Equal(t, 0, ch.rrCursor, "must not touch the round-robin cursor used by PickKey")
}

func TestFirstAliveCredentialSkipsDeadOnes(t *testing.T) {
	ch := newTestChannel(StrategyRoundRobin, "k1", "k2")
	ch.MarkKeyFailed(0)
	ch.MarkKeyFailed(0)
	ch.MarkKeyFailed(0)

	assert.Equal(t, "k2", ch.FirstAliveCredential())
}

func TestFirstAliveCredentialEmptyWhenAllDead(t *testing.T) {
	ch := newTestChannel(StrategyRoundRobin, "k1")
	ch.MarkKeyFailed(0)
	ch.MarkKeyFailed(0)
	ch.MarkKeyFailed(0)

	assert.Equal(t, "", ch.FirstAliveCredential())
}

func TestRegistryReplaceSwapsAtomically(t *testing.T) {
	r := NewRegistry()
	r.Put(newTestChannel(StrategyRoundRobin, "k1"))

	a := newTestChannel(StrategyRoundRobin, "k1")
	a.Name = "A"
	b := newTestChannel(StrategyRoundRobin, "k2")
	b.Name = "B"
	r.Replace([]*Channel{a, b})

	_, ok := r.Get("A")
	assert.True(t, ok)
	_, ok = r.Get("B")
	assert.True(t, ok)
	assert.Len(t, r.All(), 2)
}
