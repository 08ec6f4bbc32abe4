package metadata

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/riffscribe/riffcore/internal/model"
	"github.com/riffscribe/riffcore/internal/signal"
)

const (
	maxTempoOnsets     = 50
	minInterval        = 0.2
	maxInterval        = 2.0
	minUsableIntervals = 4

	// BytesPerSecond is the compressed-audio rate assumed when no decoder
	// can measure a recording.
	BytesPerSecond = 16000
)

var pitchClasses = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// EstimateTempo derives BPM from the median spacing of the first onsets.
// Intervals outside [0.2s, 2.0s] are ignored; fewer than four usable
// intervals yields the default tempo.
func EstimateTempo(onsets []float64) float64 {
	if len(onsets) > maxTempoOnsets {
		onsets = onsets[:maxTempoOnsets]
	}
	var intervals []float64
	for i := 1; i < len(onsets); i++ {
		d := onsets[i] - onsets[i-1]
		if d >= minInterval && d <= maxInterval {
			intervals = append(intervals, d)
		}
	}
	if len(intervals) < minUsableIntervals {
		return model.DefaultTempo
	}
	sort.Float64s(intervals)
	median := stat.Quantile(0.5, stat.Empirical, intervals, nil)
	return model.ClampTempo(60 / median)
}

// EstimateKey picks the strongest pitch class as tonal centre and decides
// the mode by comparing its major and minor thirds.
func EstimateKey(chroma [12]float64) string {
	if floats.Sum(chroma[:]) <= 0 {
		return model.UnknownKey
	}
	root := floats.MaxIdx(chroma[:])
	mode := "major"
	if chroma[(root+3)%12] > chroma[(root+4)%12] {
		mode = "minor"
	}
	return fmt.Sprintf("%s %s", pitchClasses[root], mode)
}

// NoteChroma accumulates pitched note energy (length times velocity) per
// pitch class. Drum hits are ignored.
func NoteChroma(notes []model.NoteEvent) [12]float64 {
	var chroma [12]float64
	for _, n := range notes {
		if n.Instrument == model.Drum {
			continue
		}
		length := n.Duration()
		if length < 0.05 {
			length = 0.05
		}
		chroma[n.Pitch%12] += length * float64(n.Velocity+1) / 128
	}
	return chroma
}

// EstimateDuration prefers a signal-derived length, then the container length,
// and finally approximates from the file size.
func EstimateDuration(signalSeconds, containerSeconds float64, fileSize int64) float64 {
	switch {
	case signalSeconds > 0:
		return signalSeconds
	case containerSeconds > 0:
		return containerSeconds
	case fileSize > 0:
		return float64(fileSize) / BytesPerSecond
	default:
		return 0
	}
}

// Hints are song-level values reported by a backend.
type Hints struct {
	Tempo         float64
	Key           string
	TimeSignature string
	Duration      float64
}

// Input gathers every source the estimator may draw on.
type Input struct {
	Hints          Hints
	Features       *signal.Features
	Notes          []model.NoteEvent
	ContainerDuration float64
	FileSize       int64
}

// Estimate resolves song metadata. Backend hints win over signal features,
// which win over statistics of the notes themselves.
func Estimate(in Input) model.Song {
	song := model.Song{
		Tempo:         in.Hints.Tempo,
		Key:           strings.TrimSpace(in.Hints.Key),
		TimeSignature: strings.TrimSpace(in.Hints.TimeSignature),
	}

	if song.Tempo <= 0 && in.Features != nil && in.Features.Tempo > 0 {
		song.Tempo = in.Features.Tempo
	}
	if song.Tempo <= 0 {
		onsets := noteOnsets(in.Notes)
		if in.Features != nil && len(in.Features.Onsets) > minUsableIntervals {
			onsets = in.Features.Onsets
		}
		song.Tempo = EstimateTempo(onsets)
	}
	song.Tempo = model.ClampTempo(song.Tempo)

	if song.Key == "" || strings.EqualFold(song.Key, model.UnknownKey) {
		if in.Features.HasChroma() {
			song.Key = EstimateKey(in.Features.Chroma)
		} else {
			song.Key = EstimateKey(NoteChroma(in.Notes))
		}
	}
	if song.TimeSignature == "" {
		song.TimeSignature = model.DefaultTimeSignature
	}

	var signalSeconds float64
	if in.Features != nil {
		signalSeconds = in.Features.Duration
	}
	container := in.ContainerDuration
	if container <= 0 {
		container = in.Hints.Duration
	}
	song.Duration = EstimateDuration(signalSeconds, container, in.FileSize)
	return song
}

func noteOnsets(notes []model.NoteEvent) []float64 {
	onsets := make([]float64, 0, len(notes))
	for _, n := range notes {
		onsets = append(onsets, n.StartTime)
	}
	sort.Float64s(onsets)
	return onsets
}
