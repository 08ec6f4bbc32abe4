package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/riffscribe/riffcore/internal/model"
	"github.com/riffscribe/riffcore/internal/signal"
)

func evenOnsets(n int, spacing float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i) * spacing
	}
	return out
}

func TestEstimateTempoHalfSecondSpacing(t *testing.T) {
	assert.Equal(t, 120.0, EstimateTempo(evenOnsets(10, 0.5)))
}

func TestEstimateTempoBounds(t *testing.T) {
	// 0.25s spacing is 240 BPM, clamped
	assert.Equal(t, 200.0, EstimateTempo(evenOnsets(10, 0.25)))
	// 1.5s spacing is 40 BPM, clamped
	assert.Equal(t, 60.0, EstimateTempo(evenOnsets(10, 1.5)))
	assert.InDelta(t, 100.0, EstimateTempo(evenOnsets(10, 0.6)), 0.01)
}

func TestEstimateTempoTooFewIntervals(t *testing.T) {
	assert.Equal(t, model.DefaultTempo, EstimateTempo(nil))
	assert.Equal(t, model.DefaultTempo, EstimateTempo([]float64{0, 0.5, 1.0, 1.5}))
	// intervals outside [0.2, 2.0] are discarded
	assert.Equal(t, model.DefaultTempo, EstimateTempo([]float64{0, 0.1, 0.15, 3, 6, 9, 9.05}))
}

func TestEstimateTempoUsesFirstFiftyOnsets(t *testing.T) {
	onsets := evenOnsets(50, 0.5)
	last := onsets[len(onsets)-1]
	for i := 1; i <= 200; i++ {
		onsets = append(onsets, last+float64(i)*1.0)
	}
	assert.Equal(t, 120.0, EstimateTempo(onsets))
}

func TestEstimateKey(t *testing.T) {
	var cMajor [12]float64
	cMajor[0], cMajor[4], cMajor[7] = 1.0, 0.6, 0.7
	assert.Equal(t, "C major", EstimateKey(cMajor))

	var aMinor [12]float64
	aMinor[9], aMinor[0], aMinor[4] = 1.0, 0.8, 0.5
	assert.Equal(t, "A minor", EstimateKey(aMinor))

	assert.Equal(t, model.UnknownKey, EstimateKey([12]float64{}))
}

func TestNoteChromaIgnoresDrums(t *testing.T) {
	notes := []model.NoteEvent{
		{Pitch: 45, StartTime: 0, EndTime: 1, Velocity: 100, Instrument: model.Guitar},
		{Pitch: 62, StartTime: 0, EndTime: 0.01, Velocity: 127, Instrument: model.Drum},
	}
	chroma := NoteChroma(notes)
	assert.Greater(t, chroma[9], 0.0)
	assert.Equal(t, 0.0, chroma[2])
}

func TestEstimateDuration(t *testing.T) {
	assert.Equal(t, 42.0, EstimateDuration(42, 40, 1000))
	assert.Equal(t, 40.0, EstimateDuration(0, 40, 1000))
	assert.Equal(t, 10.0, EstimateDuration(0, 0, 160000))
	assert.Equal(t, 0.0, EstimateDuration(0, 0, 0))
}

func TestEstimatePrecedence(t *testing.T) {
	features := &signal.Features{Tempo: 90, Duration: 61}
	features.Chroma[7] = 1

	song := Estimate(Input{
		Hints:    Hints{Tempo: 140, Key: "E minor"},
		Features: features,
		FileSize: 16000,
	})
	assert.Equal(t, 140.0, song.Tempo)
	assert.Equal(t, "E minor", song.Key)
	assert.Equal(t, "4/4", song.TimeSignature)
	assert.Equal(t, 61.0, song.Duration)

	song = Estimate(Input{Hints: Hints{Key: "unknown"}, Features: features})
	assert.Equal(t, 90.0, song.Tempo)
	assert.Equal(t, "G major", song.Key)
}

func TestEstimateFromNotesOnly(t *testing.T) {
	var notes []model.NoteEvent
	for i := 0; i < 12; i++ {
		notes = append(notes, model.NoteEvent{Pitch: 52, StartTime: float64(i) * 0.5, EndTime: float64(i)*0.5 + 0.4, Velocity: 90, Instrument: model.Guitar})
	}
	song := Estimate(Input{Notes: notes, FileSize: 32000})

	assert.Equal(t, 120.0, song.Tempo)
	assert.Equal(t, "E major", song.Key)
	assert.Equal(t, 2.0, song.Duration)
}

func TestEstimateClampsHintTempo(t *testing.T) {
	song := Estimate(Input{Hints: Hints{Tempo: 400}})
	assert.Equal(t, 200.0, song.Tempo)
	assert.Equal(t, model.UnknownKey, song.Key)
}
