package model

import "encoding/json"

// Instrument labels a note's source.
type Instrument string

const (
	Guitar       Instrument = "guitar"
	Bass         Instrument = "bass"
	Drum         Instrument = "drum"
	Unclassified Instrument = "unclassified"
)

// TrackInstruments lists the instruments that own a track, in reporting order.
var TrackInstruments = []Instrument{Guitar, Bass, Drum}

// ParseInstrument maps a backend label onto an Instrument. Unknown labels
// map to Unclassified.
func ParseInstrument(label string) Instrument {
	switch label {
	case "guitar", "Guitar", "electric_guitar", "acoustic_guitar", "lead_guitar", "rhythm_guitar":
		return Guitar
	case "bass", "Bass", "bass_guitar":
		return Bass
	case "drum", "drums", "Drums", "Drum", "percussion":
		return Drum
	default:
		return Unclassified
	}
}

// DrumPiece is a coarse drum-kit bucket.
type DrumPiece string

const (
	Kick  DrumPiece = "kick"
	Snare DrumPiece = "snare"
	HiHat DrumPiece = "hihat"
	Crash DrumPiece = "crash"
)

// NoteEvent is one sounded note in the canonical schema. String and Fret
// are only meaningful when HasTab is set.
type NoteEvent struct {
	Pitch      int
	StartTime  float64
	EndTime    float64
	Velocity   int
	Instrument Instrument
	HasTab     bool
	String     int
	Fret       int
	DrumPiece  DrumPiece
	Confidence float64
}

type noteJSON struct {
	Pitch      int        `json:"pitch"`
	StartTime  float64    `json:"start_time"`
	EndTime    float64    `json:"end_time"`
	Velocity   int        `json:"velocity"`
	Instrument Instrument `json:"instrument"`
	String     *int       `json:"string,omitempty"`
	Fret       *int       `json:"fret,omitempty"`
	DrumPiece  DrumPiece  `json:"drum_piece,omitempty"`
	Confidence float64    `json:"confidence"`
}

// MarshalJSON omits string and fret for notes without tablature.
func (n NoteEvent) MarshalJSON() ([]byte, error) {
	out := noteJSON{
		Pitch:      n.Pitch,
		StartTime:  n.StartTime,
		EndTime:    n.EndTime,
		Velocity:   n.Velocity,
		Instrument: n.Instrument,
		DrumPiece:  n.DrumPiece,
		Confidence: n.Confidence,
	}
	if n.HasTab {
		str, fret := n.String, n.Fret
		out.String, out.Fret = &str, &fret
	}
	return json.Marshal(out)
}

func (n *NoteEvent) UnmarshalJSON(data []byte) error {
	var in noteJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*n = NoteEvent{
		Pitch:      in.Pitch,
		StartTime:  in.StartTime,
		EndTime:    in.EndTime,
		Velocity:   in.Velocity,
		Instrument: in.Instrument,
		DrumPiece:  in.DrumPiece,
		Confidence: in.Confidence,
	}
	if in.String != nil && in.Fret != nil {
		n.HasTab = true
		n.String, n.Fret = *in.String, *in.Fret
	}
	return nil
}

// Duration returns the sounded length in seconds.
func (n NoteEvent) Duration() float64 {
	return n.EndTime - n.StartTime
}

// Shift returns a copy moved by offset seconds.
func (n NoteEvent) Shift(offset float64) NoteEvent {
	n.StartTime += offset
	n.EndTime += offset
	return n
}

// ClampMIDI bounds v to the MIDI data range 0-127.
func ClampMIDI(v int) int {
	if v < 0 {
		return 0
	}
	if v > 127 {
		return 127
	}
	return v
}

// ClampUnit bounds v to 0.0-1.0.
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
