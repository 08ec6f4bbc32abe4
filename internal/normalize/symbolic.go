package normalize

import (
	"github.com/riffscribe/riffcore/internal/model"
	"github.com/riffscribe/riffcore/internal/symbolic"
)

// DefaultPreciseConfidence is attached to notes decoded from a symbolic stream.
const DefaultPreciseConfidence = 0.9

// FromStream pairs each note-on with the next note-off on the same channel
// and pitch. A note-on without a matching note-off becomes a zero-length
// note. Instruments are left unclassified.
func FromStream(stream symbolic.Stream) []model.NoteEvent {
	events := stream.Events
	used := make([]bool, len(events))
	notes := make([]model.NoteEvent, 0, len(events)/2)

	for i, ev := range events {
		if ev.Kind != symbolic.NoteOn {
			continue
		}
		start := ticksToSeconds(ev.Tick)
		end := start
		for j := i + 1; j < len(events); j++ {
			off := events[j]
			if used[j] || off.Kind != symbolic.NoteOff || off.Channel != ev.Channel || off.Pitch != ev.Pitch {
				continue
			}
			used[j] = true
			end = ticksToSeconds(off.Tick)
			break
		}
		notes = append(notes, model.NoteEvent{
			Pitch:      model.ClampMIDI(int(ev.Pitch)),
			StartTime:  start,
			EndTime:    end,
			Velocity:   model.ClampMIDI(int(ev.Velocity)),
			Instrument: model.Unclassified,
			Confidence: DefaultPreciseConfidence,
		})
	}
	model.SortNotes(notes)
	return notes
}

func ticksToSeconds(tick uint64) float64 {
	return float64(tick) / symbolic.TicksPerSecond
}
