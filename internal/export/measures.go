package export

import (
	"strconv"
	"strings"

	"github.com/riffscribe/riffcore/internal/model"
)

// Meter is the bar layout of a transcription. Tempo counts beats of
// BeatUnit per minute.
type Meter struct {
	Tempo    float64
	Beats    int
	BeatUnit int
}

// ParseMeter reads a "beats/unit" time signature, falling back to 4/4.
func ParseMeter(tempo float64, timeSignature string) Meter {
	m := Meter{Tempo: model.ClampTempo(tempo), Beats: 4, BeatUnit: 4}
	num, den, ok := strings.Cut(timeSignature, "/")
	if !ok {
		return m
	}
	beats, err := strconv.Atoi(strings.TrimSpace(num))
	if err != nil || beats <= 0 {
		return m
	}
	unit, err := strconv.Atoi(strings.TrimSpace(den))
	if err != nil || unit <= 0 {
		return m
	}
	m.Beats, m.BeatUnit = beats, unit
	return m
}

func (m Meter) BeatSeconds() float64 { return 60 / m.Tempo }

func (m Meter) BarSeconds() float64 { return m.BeatSeconds() * float64(m.Beats) }

// SlotsPerBar is the number of sixteenth-note columns in one bar.
func (m Meter) SlotsPerBar() int { return m.Beats * m.slotsPerBeat() }

func (m Meter) slotsPerBeat() int { return max(1, 16/m.BeatUnit) }

// Slot quantizes an offset from the start of a bar to a column.
func (m Meter) Slot(offset float64) int {
	slot := int(offset / (m.BeatSeconds() / float64(m.slotsPerBeat())))
	return max(0, min(slot, m.SlotsPerBar()-1))
}

// Measure is one bar of notes. Start is in seconds.
type Measure struct {
	Number int
	Start  float64
	Notes  []model.NoteEvent
}

// GroupMeasures splits notes into consecutive bars from the first one up
// to the bar holding the last onset. Empty bars are kept.
func GroupMeasures(notes []model.NoteEvent, m Meter) []Measure {
	return group(notes, m, barCount(notes, m))
}

func barCount(notes []model.NoteEvent, m Meter) int {
	if len(notes) == 0 {
		return 0
	}
	last := 0
	for _, n := range notes {
		last = max(last, barIndex(n.StartTime, m))
	}
	return last + 1
}

func barIndex(t float64, m Meter) int {
	if t <= 0 {
		return 0
	}
	return int(t / m.BarSeconds())
}

func group(notes []model.NoteEvent, m Meter, bars int) []Measure {
	if bars == 0 {
		return nil
	}
	out := make([]Measure, bars)
	for i := range out {
		out[i] = Measure{Number: i + 1, Start: float64(i) * m.BarSeconds()}
	}
	for _, n := range notes {
		if i := barIndex(n.StartTime, m); i < bars {
			out[i].Notes = append(out[i].Notes, n)
		}
	}
	return out
}
