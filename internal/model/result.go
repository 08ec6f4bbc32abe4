package model

import (
	"encoding/json"
	"sort"
)

// SourceBackend names the path that produced a Result.
type SourceBackend string

const (
	SourcePrecise    SourceBackend = "precise"
	SourceGenerative SourceBackend = "generative"
	SourceSynthetic  SourceBackend = "synthetic-fallback"
)

const (
	MinTempo             = 60.0
	MaxTempo             = 200.0
	DefaultTempo         = 120.0
	DefaultTimeSignature = "4/4"
	UnknownKey           = "unknown"
)

// Song carries song-level metadata attached to a Result.
type Song struct {
	Tempo         float64
	Key           string
	TimeSignature string
	Duration      float64
}

// Result is the canonical transcription of one recording. Tracks hold
// indices into Notes; a Result is not modified after it is returned.
type Result struct {
	Notes               []NoteEvent
	Tracks              map[Instrument][]int
	Tempo               float64
	Duration            float64
	Key                 string
	TimeSignature       string
	InstrumentsDetected []Instrument
	Confidence          float64
	SourceBackend       SourceBackend
	Samples             int
	Warnings            []string
}

// NewResult sorts notes by onset, builds per-instrument views and derives
// the detected instrument set.
func NewResult(notes []NoteEvent, song Song, source SourceBackend, confidence float64) *Result {
	sorted := make([]NoteEvent, len(notes))
	copy(sorted, notes)
	SortNotes(sorted)

	tracks := make(map[Instrument][]int, len(TrackInstruments))
	for i, n := range sorted {
		switch n.Instrument {
		case Guitar, Bass, Drum:
			tracks[n.Instrument] = append(tracks[n.Instrument], i)
		}
	}

	key := song.Key
	if key == "" {
		key = UnknownKey
	}
	ts := song.TimeSignature
	if ts == "" {
		ts = DefaultTimeSignature
	}
	duration := song.Duration
	if duration < 0 {
		duration = 0
	}

	return &Result{
		Notes:               sorted,
		Tracks:              tracks,
		Tempo:               ClampTempo(song.Tempo),
		Duration:            duration,
		Key:                 key,
		TimeSignature:       ts,
		InstrumentsDetected: DetectInstruments(sorted),
		Confidence:          ClampUnit(confidence),
		SourceBackend:       source,
	}
}

// DetectInstruments returns the track instruments with at least one note,
// in reporting order, defaulting to guitar.
func DetectInstruments(notes []NoteEvent) []Instrument {
	seen := make(map[Instrument]bool, len(TrackInstruments))
	for _, n := range notes {
		seen[n.Instrument] = true
	}
	var out []Instrument
	for _, inst := range TrackInstruments {
		if seen[inst] {
			out = append(out, inst)
		}
	}
	if len(out) == 0 {
		return []Instrument{Guitar}
	}
	return out
}

// Track materializes the notes of one instrument in onset order.
func (r *Result) Track(inst Instrument) []NoteEvent {
	idx := r.Tracks[inst]
	out := make([]NoteEvent, 0, len(idx))
	for _, i := range idx {
		out = append(out, r.Notes[i])
	}
	return out
}

// ClampTempo bounds bpm to the supported tempo range. Non-positive values
// map to the default tempo.
func ClampTempo(bpm float64) float64 {
	if bpm <= 0 {
		return DefaultTempo
	}
	if bpm < MinTempo {
		return MinTempo
	}
	if bpm > MaxTempo {
		return MaxTempo
	}
	return bpm
}

// SortNotes orders notes by onset, keeping the relative order of ties.
func SortNotes(notes []NoteEvent) {
	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].StartTime < notes[j].StartTime
	})
}

type resultJSON struct {
	Notes               []NoteEvent   `json:"notes"`
	GuitarNotes         []NoteEvent   `json:"guitar_notes"`
	BassNotes           []NoteEvent   `json:"bass_notes"`
	DrumNotes           []NoteEvent   `json:"drum_notes"`
	Tempo               float64       `json:"tempo"`
	Duration            float64       `json:"duration"`
	Key                 string        `json:"key"`
	TimeSignature       string        `json:"time_signature"`
	InstrumentsDetected []Instrument  `json:"instruments_detected"`
	Confidence          float64       `json:"confidence"`
	SourceBackend       SourceBackend `json:"source_backend"`
	Samples             int           `json:"samples,omitempty"`
	Warnings            []string      `json:"warnings,omitempty"`
}

// MarshalJSON renders the persisted transcription shape.
func (r *Result) MarshalJSON() ([]byte, error) {
	notes := r.Notes
	if notes == nil {
		notes = []NoteEvent{}
	}
	return json.Marshal(resultJSON{
		Notes:               notes,
		GuitarNotes:         r.Track(Guitar),
		BassNotes:           r.Track(Bass),
		DrumNotes:           r.Track(Drum),
		Tempo:               r.Tempo,
		Duration:            r.Duration,
		Key:                 r.Key,
		TimeSignature:       r.TimeSignature,
		InstrumentsDetected: r.InstrumentsDetected,
		Confidence:          r.Confidence,
		SourceBackend:       r.SourceBackend,
		Samples:             r.Samples,
		Warnings:            r.Warnings,
	})
}

// UnmarshalJSON restores a Result from its persisted shape, rebuilding the
// track views from the full note list.
func (r *Result) UnmarshalJSON(data []byte) error {
	var raw resultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rebuilt := NewResult(raw.Notes, Song{
		Tempo:         raw.Tempo,
		Key:           raw.Key,
		TimeSignature: raw.TimeSignature,
		Duration:      raw.Duration,
	}, raw.SourceBackend, raw.Confidence)
	rebuilt.Samples = raw.Samples
	rebuilt.Warnings = raw.Warnings
	*r = *rebuilt
	return nil
}
