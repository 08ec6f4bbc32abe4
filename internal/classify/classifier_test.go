package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riffscribe/riffcore/internal/model"
	"github.com/riffscribe/riffcore/internal/tab"
)

func note(pitch int, dur float64) model.NoteEvent {
	return model.NoteEvent{Pitch: pitch, StartTime: 0, EndTime: dur, Velocity: 90, Instrument: model.Unclassified}
}

func TestPitchBoundaries(t *testing.T) {
	c := New(DefaultOptions())

	assert.Equal(t, model.Guitar, c.Note(note(40, 0.5)).Instrument)
	assert.Equal(t, model.Guitar, c.Note(note(84, 0.5)).Instrument)
	assert.Equal(t, model.Bass, c.Note(note(39, 0.5)).Instrument)
	assert.Equal(t, model.Bass, c.Note(note(28, 0.5)).Instrument)
	assert.Equal(t, model.Unclassified, c.Note(note(85, 0.5)).Instrument)
	assert.Equal(t, model.Unclassified, c.Note(note(27, 0.5)).Instrument)
}

func TestShortNotesBecomeDrums(t *testing.T) {
	c := New(DefaultOptions())

	got := c.Note(note(64, 0.1))
	assert.Equal(t, model.Drum, got.Instrument)
	assert.Equal(t, model.Snare, got.DrumPiece)
	assert.False(t, got.HasTab)

	// exactly at the threshold stays pitched
	assert.Equal(t, model.Guitar, c.Note(note(64, 0.2)).Instrument)
}

func TestDrumOverrideCanBeDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.DrumMaxDuration = 0
	c := New(opts)

	assert.Equal(t, model.Guitar, c.Note(note(64, 0)).Instrument)
}

func TestBackendLabelPrecedence(t *testing.T) {
	labelled := note(90, 0.05)
	labelled.Instrument = model.Bass

	trusting := New(DefaultOptions())
	got := trusting.Note(labelled)
	assert.Equal(t, model.Bass, got.Instrument)
	assert.True(t, got.HasTab)

	opts := DefaultOptions()
	opts.TrustBackendLabels = false
	assert.Equal(t, model.Drum, New(opts).Note(labelled).Instrument)
}

func TestTablatureAssigned(t *testing.T) {
	c := New(DefaultOptions())

	g := c.Note(note(64, 1))
	require.True(t, g.HasTab)
	assert.Equal(t, 1, g.String)
	assert.Equal(t, 0, g.Fret)

	b := c.Note(note(33, 1))
	require.True(t, b.HasTab)
	assert.Equal(t, 3, b.String)
	assert.Equal(t, 0, b.Fret)
}

func TestAlternateTuning(t *testing.T) {
	drop, err := tab.GuitarTuning("drop_d")
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.Guitar = drop
	c := New(opts)

	// 40 on drop D is the 2nd fret of the sixth string
	got := c.Note(note(40, 1))
	assert.Equal(t, 6, got.String)
	assert.Equal(t, 2, got.Fret)
}

func TestClassifyKeepsEveryNote(t *testing.T) {
	c := New(DefaultOptions())
	in := []model.NoteEvent{note(10, 1), note(64, 1), note(120, 1), note(36, 0.05)}

	out := c.Classify(in)
	require.Len(t, out, len(in))
	assert.Equal(t, model.Unclassified, out[0].Instrument)
	assert.Equal(t, model.Unclassified, out[2].Instrument)
	assert.Equal(t, model.Kick, out[3].DrumPiece)
	// input untouched
	assert.Equal(t, model.Unclassified, in[1].Instrument)
}

func TestDrumPieceBuckets(t *testing.T) {
	assert.Equal(t, model.Kick, DrumPiece(59))
	assert.Equal(t, model.Snare, DrumPiece(60))
	assert.Equal(t, model.Snare, DrumPiece(79))
	assert.Equal(t, model.HiHat, DrumPiece(80))
	assert.Equal(t, model.HiHat, DrumPiece(99))
	assert.Equal(t, model.Crash, DrumPiece(100))
}
