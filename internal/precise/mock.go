package precise

import (
	"context"

	"github.com/riffscribe/riffcore/internal/symbolic"
)

type mockBackend struct {
	stream symbolic.Stream
}

// NewMock returns a Backend that always yields the same short riff: an E
// minor pentatonic guitar line over a two-note bass figure.
func NewMock() Backend {
	return &mockBackend{stream: mockRiff()}
}

// NewFixed returns a Backend that yields stream for every recording.
func NewFixed(stream symbolic.Stream) Backend {
	return &mockBackend{stream: stream}
}

func (m *mockBackend) Name() string { return Name }

func (m *mockBackend) Transcribe(ctx context.Context, _ string) (symbolic.Stream, error) {
	if err := ctx.Err(); err != nil {
		return symbolic.Stream{}, err
	}
	out := symbolic.Stream{TempoBPM: m.stream.TempoBPM, Events: make([]symbolic.Event, len(m.stream.Events))}
	copy(out.Events, m.stream.Events)
	return out, nil
}

func mockRiff() symbolic.Stream {
	const beat = symbolic.TicksPerSecond / 2
	guitar := []uint8{64, 67, 69, 71, 74, 71, 69, 67}
	bass := []uint8{40, 43}

	var s symbolic.Stream
	s.TempoBPM = 120
	for i, p := range guitar {
		on := uint64(i * beat)
		s.Events = append(s.Events,
			symbolic.Event{Tick: on, Pitch: p, Velocity: 96, Kind: symbolic.NoteOn},
			symbolic.Event{Tick: on + beat - 24, Pitch: p, Kind: symbolic.NoteOff},
		)
	}
	for i, p := range bass {
		on := uint64(i * 4 * beat)
		s.Events = append(s.Events,
			symbolic.Event{Tick: on, Channel: 1, Pitch: p, Velocity: 100, Kind: symbolic.NoteOn},
			symbolic.Event{Tick: on + 4*beat, Channel: 1, Pitch: p, Kind: symbolic.NoteOff},
		)
	}
	s.Sort()
	return s
}
