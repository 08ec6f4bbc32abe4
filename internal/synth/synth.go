// Package synth produces the placeholder transcription used when no real
// backend yields notes.
package synth

import (
	"math"

	"github.com/riffscribe/riffcore/internal/model"
)

const (
	NotesPerSecond = 2
	cycle          = 8
	minSlots       = cycle
	slotSeconds    = 1.0 / NotesPerSecond

	// Confidence marks synthesized results as low quality.
	Confidence = 0.6
	Key        = "C major"
	Tempo      = model.DefaultTempo
)

// Generate lays out a fixed guitar-and-bass pattern over duration seconds.
// Each cycle of eight slots holds four guitar notes, two bass notes and two
// rests. The output is never empty and the same duration always yields the
// same notes.
func Generate(duration float64) []model.NoteEvent {
	slots := minSlots
	if duration > 0 && !math.IsInf(duration, 0) {
		if n := int(duration * NotesPerSecond); n > slots {
			slots = n
		}
	}

	notes := make([]model.NoteEvent, 0, slots*3/4)
	for i := 0; i < slots; i++ {
		start := float64(i) * slotSeconds
		switch pos := i % cycle; {
		case pos < 4:
			notes = append(notes, model.NoteEvent{
				Pitch:      60 + i%12,
				StartTime:  start,
				EndTime:    start + 0.5,
				Velocity:   80,
				Instrument: model.Guitar,
				Confidence: Confidence,
			})
		case pos < 6:
			notes = append(notes, model.NoteEvent{
				Pitch:      36 + i%8,
				StartTime:  start,
				EndTime:    start + 1.0,
				Velocity:   90,
				Instrument: model.Bass,
				Confidence: Confidence,
			})
		}
	}
	return notes
}

// Song is the metadata attached to a synthesized result.
func Song(duration float64) model.Song {
	return model.Song{
		Tempo:         Tempo,
		Key:           Key,
		TimeSignature: model.DefaultTimeSignature,
		Duration:      duration,
	}
}
