package classify

import (
	"github.com/riffscribe/riffcore/internal/model"
	"github.com/riffscribe/riffcore/internal/tab"
)

// Pitch ranges, inclusive.
const (
	GuitarLow  = 40
	GuitarHigh = 84
	BassLow    = 28
	BassHigh   = 67

	DefaultDrumMaxDuration = 0.2
)

// Options tunes classification.
type Options struct {
	// TrustBackendLabels keeps a valid instrument label supplied by the
	// backend instead of re-deriving it from pitch and duration.
	TrustBackendLabels bool
	// DrumMaxDuration is the sounded length below which a note is treated
	// as a drum hit. Zero disables the override.
	DrumMaxDuration float64
	Guitar          tab.Tuning
	Bass            tab.Tuning
}

// DefaultOptions returns standard tunings with backend labels trusted.
func DefaultOptions() Options {
	return Options{
		TrustBackendLabels: true,
		DrumMaxDuration:    DefaultDrumMaxDuration,
		Guitar:             tab.GuitarStandard,
		Bass:               tab.BassStandard,
	}
}

// Classifier assigns instruments, tablature and drum pieces to notes.
type Classifier struct {
	opts Options
}

func New(opts Options) *Classifier {
	if len(opts.Guitar.Strings) == 0 {
		opts.Guitar = tab.GuitarStandard
	}
	if len(opts.Bass.Strings) == 0 {
		opts.Bass = tab.BassStandard
	}
	if opts.DrumMaxDuration < 0 {
		opts.DrumMaxDuration = 0
	}
	return &Classifier{opts: opts}
}

// Classify returns a labelled copy of notes. Notes are never dropped; a
// note no rule claims stays unclassified.
func (c *Classifier) Classify(notes []model.NoteEvent) []model.NoteEvent {
	out := make([]model.NoteEvent, len(notes))
	for i, n := range notes {
		out[i] = c.Note(n)
	}
	return out
}

// Note labels a single note.
func (c *Classifier) Note(n model.NoteEvent) model.NoteEvent {
	inst := n.Instrument
	if !c.opts.TrustBackendLabels || !isTrack(inst) {
		inst = c.heuristic(n)
	}

	n.Instrument = inst
	n.HasTab, n.String, n.Fret = false, 0, 0
	n.DrumPiece = ""

	switch inst {
	case model.Guitar:
		pos := tab.Map(n.Pitch, c.opts.Guitar)
		n.HasTab, n.String, n.Fret = true, pos.String, pos.Fret
	case model.Bass:
		pos := tab.Map(n.Pitch, c.opts.Bass)
		n.HasTab, n.String, n.Fret = true, pos.String, pos.Fret
	case model.Drum:
		n.DrumPiece = DrumPiece(n.Pitch)
	}
	return n
}

func (c *Classifier) heuristic(n model.NoteEvent) model.Instrument {
	if c.opts.DrumMaxDuration > 0 && n.Duration() < c.opts.DrumMaxDuration {
		return model.Drum
	}
	return ByPitch(n.Pitch)
}

// ByPitch classifies on pitch alone. Guitar takes the guitar/bass overlap.
func ByPitch(pitch int) model.Instrument {
	switch {
	case pitch >= GuitarLow && pitch <= GuitarHigh:
		return model.Guitar
	case pitch >= BassLow && pitch <= BassHigh:
		return model.Bass
	default:
		return model.Unclassified
	}
}

// DrumPiece buckets a drum hit by pitch.
func DrumPiece(pitch int) model.DrumPiece {
	switch {
	case pitch < 60:
		return model.Kick
	case pitch < 80:
		return model.Snare
	case pitch < 100:
		return model.HiHat
	default:
		return model.Crash
	}
}

func isTrack(inst model.Instrument) bool {
	return inst == model.Guitar || inst == model.Bass || inst == model.Drum
}
