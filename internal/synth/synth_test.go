package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riffscribe/riffcore/internal/model"
)

func TestGeneratePattern(t *testing.T) {
	notes := Generate(4)
	require.Len(t, notes, 6)

	for i := 0; i < 4; i++ {
		assert.Equal(t, model.Guitar, notes[i].Instrument)
		assert.Equal(t, 60+i, notes[i].Pitch)
		assert.Equal(t, float64(i)*0.5, notes[i].StartTime)
		assert.Equal(t, 0.5, notes[i].Duration())
		assert.Equal(t, 80, notes[i].Velocity)
	}
	assert.Equal(t, model.Bass, notes[4].Instrument)
	assert.Equal(t, 36+4, notes[4].Pitch)
	assert.Equal(t, 2.0, notes[4].StartTime)
	assert.Equal(t, 1.0, notes[4].Duration())
	assert.Equal(t, 90, notes[4].Velocity)
	assert.Equal(t, 36+5, notes[5].Pitch)
}

func TestGenerateIsDeterministic(t *testing.T) {
	assert.Equal(t, Generate(183.4), Generate(183.4))
}

func TestGenerateNeverEmpty(t *testing.T) {
	for _, d := range []float64{0, -3, 0.2} {
		assert.Len(t, Generate(d), 6, "duration %v", d)
	}
}

func TestGenerateScalesWithDuration(t *testing.T) {
	notes := Generate(60)
	// 120 slots, 15 full cycles of 6 notes
	assert.Len(t, notes, 90)
	for _, n := range notes {
		assert.Equal(t, Confidence, n.Confidence)
		assert.Less(t, n.StartTime, 60.0)
	}
	assert.Equal(t, 60+8%12, notes[6].Pitch)
}
