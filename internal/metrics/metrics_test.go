package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterAccumulatesAndSnapshots(t *testing.T) {
	c := NewRegisteredCounter("test/counter_accumulates")
	c.Inc(1)
	c.Inc(2)
	assert.EqualValues(t, 3, c.Count())

	snap := Snapshot()
	assert.EqualValues(t, 3, snap["test/counter_accumulates"])
}

func TestGaugeTracksLastUpdate(t *testing.T) {
	g := NewRegisteredGauge("test/gauge_tracks")
	g.Update(5)
	g.Update(9)
	assert.EqualValues(t, 9, g.Value())

	snap := Snapshot()
	assert.EqualValues(t, 9, snap["test/gauge_tracks"])
}

func TestNewRegisteredCounterReturnsSameInstance(t *testing.T) {
	a := NewRegisteredCounter("test/counter_shared")
	b := NewRegisteredCounter("test/counter_shared")
	a.Inc(4)
	assert.EqualValues(t, 4, b.Count())
}
