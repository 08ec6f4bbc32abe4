package export

import (
	"io"
	"math"
	"sort"

	"github.com/riffscribe/riffcore/internal/model"
	"github.com/riffscribe/riffcore/internal/symbolic"
)

// drums go on the General MIDI percussion channel
var channels = map[model.Instrument]uint8{
	model.Guitar:       0,
	model.Bass:         1,
	model.Unclassified: 2,
	model.Drum:         9,
}

// MIDI writes res as a Standard MIDI File at the result's tempo.
func MIDI(w io.Writer, res *model.Result) error {
	return symbolic.WriteSMF(w, ToStream(res))
}

// ToStream converts note times to ticks at the result's tempo. Every note
// lasts at least one tick, and note-offs sort ahead of note-ons on the
// same tick.
func ToStream(res *model.Result) symbolic.Stream {
	tempo := model.ClampTempo(res.Tempo)
	perSecond := tempo / 60 * symbolic.TicksPerSecond

	events := make([]symbolic.Event, 0, 2*len(res.Notes))
	for _, n := range res.Notes {
		ch, ok := channels[n.Instrument]
		if !ok {
			ch = channels[model.Unclassified]
		}
		pitch := uint8(model.ClampMIDI(n.Pitch))
		on := toTick(n.StartTime, perSecond)
		off := max(toTick(n.EndTime, perSecond), on+1)
		events = append(events,
			symbolic.Event{Tick: on, Channel: ch, Pitch: pitch, Velocity: uint8(max(1, model.ClampMIDI(n.Velocity))), Kind: symbolic.NoteOn},
			symbolic.Event{Tick: off, Channel: ch, Pitch: pitch, Kind: symbolic.NoteOff},
		)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Tick != events[j].Tick {
			return events[i].Tick < events[j].Tick
		}
		return events[i].Kind == symbolic.NoteOff && events[j].Kind == symbolic.NoteOn
	})
	return symbolic.Stream{Events: events, TempoBPM: tempo}
}

func toTick(seconds, perSecond float64) uint64 {
	return uint64(math.Round(math.Max(0, seconds) * perSecond))
}
