package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	apperrors "github.com/riffscribe/riffcore/internal/errors"
	"github.com/riffscribe/riffcore/internal/model"
)

const (
	DefaultVelocity             = 80
	DefaultGenerativeConfidence = 0.8
	snippetLength               = 120
)

// Analysis is the normalized form of one generative backend response.
type Analysis struct {
	Notes          []model.NoteEvent
	Tempo          float64
	Key            string
	TimeSignature  string
	Duration       float64
	Structure      []string
	Detected       []model.Instrument
	RhythmSections []RhythmSection
}

// RhythmSection describes a span of the recording with its own feel.
type RhythmSection struct {
	Start       float64
	End         float64
	Tempo       float64
	Complexity  string
	NoteDensity float64
}

// Shift returns a copy of a with every time moved by offset seconds.
func (a Analysis) Shift(offset float64) Analysis {
	out := a
	out.Notes = make([]model.NoteEvent, len(a.Notes))
	for i, n := range a.Notes {
		out.Notes[i] = n.Shift(offset)
	}
	out.RhythmSections = make([]RhythmSection, len(a.RhythmSections))
	for i, rs := range a.RhythmSections {
		rs.Start += offset
		rs.End += offset
		out.RhythmSections[i] = rs
	}
	return out
}

// FallbackAnalysis is the structure substituted when a response cannot be
// parsed at all.
func FallbackAnalysis() Analysis {
	return Analysis{
		Tempo:         model.DefaultTempo,
		Key:           "C major",
		TimeSignature: model.DefaultTimeSignature,
		Detected:      []model.Instrument{model.Guitar},
	}
}

type wireAnalysis struct {
	Song           json.RawMessage   `json:"song_analysis"`
	Instruments    json.RawMessage   `json:"instruments"`
	Notes          []json.RawMessage `json:"complete_notes"`
	RhythmSections []json.RawMessage `json:"rhythm_sections"`
}

type wireSong struct {
	Tempo         number   `json:"tempo"`
	Key           string   `json:"key"`
	TimeSignature string   `json:"time_signature"`
	TotalDuration number   `json:"total_duration"`
	Structure     []string `json:"song_structure"`
}

type wireInstruments struct {
	Detected []string `json:"detected"`
	Primary  string   `json:"primary"`
}

type wireNote struct {
	MidiNote   *number `json:"midi_note"`
	Pitch      *number `json:"pitch"`
	StartTime  number  `json:"start_time"`
	Start      *number `json:"start"`
	EndTime    *number `json:"end_time"`
	End        *number `json:"end"`
	Duration   *number `json:"duration"`
	Velocity   *number `json:"velocity"`
	Instrument string  `json:"instrument"`
	Confidence *number `json:"confidence"`
}

type wireRhythm struct {
	StartTime   number `json:"start_time"`
	EndTime     number `json:"end_time"`
	Tempo       number `json:"tempo"`
	Complexity  string `json:"complexity"`
	NoteDensity number `json:"note_density"`
}

// ParseAnalysis decodes a generative backend response. Surrounding prose
// and markdown fences are ignored, numbers may arrive as strings, and
// individual malformed notes are skipped. When no JSON object can be
// decoded it returns FallbackAnalysis together with a
// MalformedBackendOutputError.
func ParseAnalysis(backend, text string) (Analysis, error) {
	raw, err := extractObject(text)
	if err != nil {
		return FallbackAnalysis(), malformed(backend, text, err)
	}
	var wire wireAnalysis
	if err := json.Unmarshal(raw, &wire); err != nil {
		return FallbackAnalysis(), malformed(backend, text, err)
	}

	var song wireSong
	if len(wire.Song) > 0 {
		// a malformed song block only loses metadata
		_ = json.Unmarshal(wire.Song, &song)
	}
	a := Analysis{
		Tempo:         float64(song.Tempo),
		Key:           strings.TrimSpace(song.Key),
		TimeSignature: strings.TrimSpace(song.TimeSignature),
		Duration:      float64(song.TotalDuration),
		Structure:     song.Structure,
		Detected:      parseDetected(wire.Instruments),
	}

	for _, rawNote := range wire.Notes {
		var wn wireNote
		if err := json.Unmarshal(rawNote, &wn); err != nil {
			continue
		}
		if n, ok := wn.toNote(); ok {
			a.Notes = append(a.Notes, n)
		}
	}
	model.SortNotes(a.Notes)

	for _, rawSection := range wire.RhythmSections {
		var wr wireRhythm
		if err := json.Unmarshal(rawSection, &wr); err != nil {
			continue
		}
		a.RhythmSections = append(a.RhythmSections, RhythmSection{
			Start:       float64(wr.StartTime),
			End:         float64(wr.EndTime),
			Tempo:       float64(wr.Tempo),
			Complexity:  wr.Complexity,
			NoteDensity: float64(wr.NoteDensity),
		})
	}
	return a, nil
}

func (wn wireNote) toNote() (model.NoteEvent, bool) {
	pitch := wn.MidiNote
	if pitch == nil {
		pitch = wn.Pitch
	}
	if pitch == nil {
		return model.NoteEvent{}, false
	}

	start := float64(wn.StartTime)
	if wn.Start != nil && start == 0 {
		start = float64(*wn.Start)
	}
	if start < 0 {
		start = 0
	}
	end := start
	switch {
	case wn.EndTime != nil:
		end = float64(*wn.EndTime)
	case wn.End != nil:
		end = float64(*wn.End)
	case wn.Duration != nil:
		end = start + float64(*wn.Duration)
	}
	if end < start {
		end = start
	}

	velocity := DefaultVelocity
	if wn.Velocity != nil {
		velocity = model.ClampMIDI(int(*wn.Velocity))
	}
	confidence := DefaultGenerativeConfidence
	if wn.Confidence != nil {
		confidence = model.ClampUnit(float64(*wn.Confidence))
	}

	return model.NoteEvent{
		Pitch:      model.ClampMIDI(int(*pitch)),
		StartTime:  start,
		EndTime:    end,
		Velocity:   velocity,
		Instrument: model.ParseInstrument(strings.TrimSpace(wn.Instrument)),
		Confidence: confidence,
	}, true
}

func parseDetected(raw json.RawMessage) []model.Instrument {
	if len(raw) == 0 {
		return nil
	}
	var labels []string
	var obj wireInstruments
	if err := json.Unmarshal(raw, &obj); err == nil {
		labels = obj.Detected
	} else if err := json.Unmarshal(raw, &labels); err != nil {
		return nil
	}
	var out []model.Instrument
	seen := make(map[model.Instrument]bool)
	for _, l := range labels {
		inst := model.ParseInstrument(strings.TrimSpace(l))
		if inst == model.Unclassified || seen[inst] {
			continue
		}
		seen[inst] = true
		out = append(out, inst)
	}
	return out
}

// extractObject returns the outermost JSON object in text.
func extractObject(text string) ([]byte, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON object in response")
	}
	return []byte(text[start : end+1]), nil
}

func malformed(backend, text string, cause error) error {
	snippet := strings.TrimSpace(text)
	if len(snippet) > snippetLength {
		snippet = snippet[:snippetLength] + "..."
	}
	return &apperrors.MalformedBackendOutputError{Backend: backend, Snippet: snippet, Cause: cause}
}

// number accepts JSON numbers, null, and strings with a numeric prefix
// such as "120 BPM".
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if f, ok := leadingFloat(s); ok {
			*n = number(f)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = number(f)
	return nil
}

func leadingFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || c == '.' || (end == 0 && (c == '-' || c == '+')) {
			end++
			continue
		}
		break
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
