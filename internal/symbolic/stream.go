// Package symbolic holds the timestamped note-on/note-off stream produced by
// symbolic transcription backends, and its Standard MIDI File encoding.
package symbolic

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// TicksPerSecond is the fixed resolution used to convert ticks to seconds.
const TicksPerSecond = 480

// Kind separates note-on from note-off events.
type Kind uint8

const (
	NoteOn Kind = iota
	NoteOff
)

// Event is a single note boundary at an absolute tick.
type Event struct {
	Tick     uint64
	Channel  uint8
	Pitch    uint8
	Velocity uint8
	Kind     Kind
}

// Stream is an ordered list of note boundaries.
type Stream struct {
	Events   []Event
	TempoBPM float64
}

// Sort orders events by tick, keeping file order for equal ticks.
func (s *Stream) Sort() {
	sort.SliceStable(s.Events, func(i, j int) bool {
		return s.Events[i].Tick < s.Events[j].Tick
	})
}

// ReadSMF decodes a Standard MIDI File, merging every track into one
// stream. A note-on with zero velocity is recorded as a note-off.
func ReadSMF(r io.Reader) (stream Stream, err error) {
	// the decoder panics on some truncated files
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("decode midi: %v", rec)
		}
	}()

	data, err := io.ReadAll(r)
	if err != nil {
		return Stream{}, fmt.Errorf("read midi: %w", err)
	}
	if len(data) == 0 {
		return Stream{}, errors.New("decode midi: empty file")
	}
	file, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return Stream{}, fmt.Errorf("decode midi: %w", err)
	}

	for _, track := range file.Tracks {
		var abs uint64
		for _, ev := range track {
			abs += uint64(ev.Delta)
			var ch, key, vel uint8
			var bpm float64
			switch {
			case ev.Message.GetNoteOn(&ch, &key, &vel):
				kind := NoteOn
				if vel == 0 {
					kind = NoteOff
				}
				stream.Events = append(stream.Events, Event{Tick: abs, Channel: ch, Pitch: key, Velocity: vel, Kind: kind})
			case ev.Message.GetNoteOff(&ch, &key, &vel):
				stream.Events = append(stream.Events, Event{Tick: abs, Channel: ch, Pitch: key, Velocity: vel, Kind: NoteOff})
			case ev.Message.GetMetaTempo(&bpm):
				if stream.TempoBPM == 0 {
					stream.TempoBPM = bpm
				}
			}
		}
	}
	stream.Sort()
	return stream, nil
}

// ReadSMFFile decodes the MIDI file at path.
func ReadSMFFile(path string) (Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stream{}, fmt.Errorf("open midi: %w", err)
	}
	defer f.Close()
	return ReadSMF(f)
}

// WriteSMF encodes the stream as a single-track MIDI file at
// TicksPerSecond ticks per quarter note.
func WriteSMF(w io.Writer, stream Stream) error {
	events := make([]Event, len(stream.Events))
	copy(events, stream.Events)
	sorted := Stream{Events: events}
	sorted.Sort()

	var track smf.Track
	if stream.TempoBPM > 0 {
		track.Add(0, smf.MetaTempo(stream.TempoBPM))
	}
	var last uint64
	for _, ev := range sorted.Events {
		delta := uint32(ev.Tick - last)
		last = ev.Tick
		if ev.Kind == NoteOn {
			track.Add(delta, midi.NoteOn(ev.Channel, ev.Pitch, ev.Velocity))
		} else {
			track.Add(delta, midi.NoteOff(ev.Channel, ev.Pitch))
		}
	}
	track.Close(0)

	file := smf.New()
	file.TimeFormat = smf.MetricTicks(TicksPerSecond)
	if err := file.Add(track); err != nil {
		return fmt.Errorf("encode midi: %w", err)
	}
	if _, err := file.WriteTo(w); err != nil {
		return fmt.Errorf("write midi: %w", err)
	}
	return nil
}
