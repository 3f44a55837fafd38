package heater

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHeater(t *testing.T, ambient float64) *Heater {
	t.Helper()

	h, err := New("Hotend1", ambient, WithHeatUpTime(100*time.Millisecond), WithRampInterval(5*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(h.Stop)

	return h
}

func TestHeater_Initial(t *testing.T) {
	h := newTestHeater(t, 27)

	st := h.Snapshot()
	assert.Equal(t, "Hotend1", st.Name)
	assert.InDelta(t, 27.0, st.Current, 1e-9)
	assert.InDelta(t, 0.0, st.Target, 1e-9)
	assert.Equal(t, "Hotend1", h.Name())
}

func TestHeater_RampsToTarget(t *testing.T) {
	h := newTestHeater(t, 27)

	h.SetTarget(200)
	assert.InDelta(t, 200.0, h.Target(), 1e-9)

	assert.Eventually(t, func() bool {
		c := h.Current()
		return c > 27 && c < 200
	}, time.Second, time.Millisecond, "heater should pass through intermediate temperatures")

	assert.Eventually(t, func() bool {
		return h.Current() == 200
	}, time.Second, 5*time.Millisecond)
}

func TestHeater_CoolsToAmbient(t *testing.T) {
	h := newTestHeater(t, 26)

	h.SetTarget(60)
	require.Eventually(t, func() bool { return h.Current() == 60 }, time.Second, 5*time.Millisecond)

	h.SetTarget(0)
	require.Eventually(t, func() bool { return h.Current() == 26 }, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 0.0, h.Target(), 1e-9)
}

func TestHeater_StopIsIdempotent(t *testing.T) {
	h, err := New("HeatedBed", 26)
	require.NoError(t, err)

	h.Stop()
	h.Stop()

	h.SetTarget(100)
	time.Sleep(2 * DefaultRampInterval)
	assert.InDelta(t, 26.0, h.Current(), 1e-9, "stopped heater must not ramp")
}

func TestHeater_InvalidOptions(t *testing.T) {
	_, err := New("x", 20, WithHeatUpTime(0))
	require.Error(t, err)

	_, err = New("x", 20, WithRampInterval(-time.Second))
	require.Error(t, err)
}
