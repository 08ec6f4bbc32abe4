package export

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/riffscribe/riffcore/internal/classify"
	"github.com/riffscribe/riffcore/internal/model"
	"github.com/riffscribe/riffcore/internal/tab"
)

const defaultMeasuresPerLine = 4

// TabOptions controls ASCII rendering. Zero tunings mean standard.
type TabOptions struct {
	Guitar          tab.Tuning
	Bass            tab.Tuning
	MeasuresPerLine int
}

var pitchNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

var drumLines = []struct {
	label string
	piece model.DrumPiece
	mark  byte
}{
	{"CR", model.Crash, 'X'},
	{"HH", model.HiHat, 'x'},
	{"SD", model.Snare, 'o'},
	{"BD", model.Kick, 'o'},
}

// Tab writes guitar and bass tablature and a drum grid, one column per
// sixteenth note. All parts share the same bar numbering.
func Tab(w io.Writer, res *model.Result, opts TabOptions) error {
	if len(opts.Guitar.Strings) == 0 {
		opts.Guitar = tab.GuitarStandard
	}
	if len(opts.Bass.Strings) == 0 {
		opts.Bass = tab.BassStandard
	}
	if opts.MeasuresPerLine <= 0 {
		opts.MeasuresPerLine = defaultMeasuresPerLine
	}

	meter := ParseMeter(res.Tempo, res.TimeSignature)
	bars := barCount(res.Notes, meter)

	var b strings.Builder
	fmt.Fprintf(&b, "Tempo: %.0f BPM\nTime: %d/%d\nKey: %s\n", meter.Tempo, meter.Beats, meter.BeatUnit, res.Key)
	if bars == 0 {
		b.WriteString("\nNo notes detected\n")
	}

	parts := []struct {
		inst   model.Instrument
		tuning tab.Tuning
	}{
		{model.Guitar, opts.Guitar},
		{model.Bass, opts.Bass},
	}
	for _, part := range parts {
		notes := res.Track(part.inst)
		if len(notes) == 0 {
			continue
		}
		title := fmt.Sprintf("%s (%s tuning)", strings.ToUpper(string(part.inst[:1]))+string(part.inst[1:]), part.tuning.Name)
		grid := stringGrid(group(notes, meter, bars), meter, part.tuning)
		writeBlock(&b, title, stringLabels(part.tuning), grid, opts.MeasuresPerLine)
	}
	if drums := res.Track(model.Drum); len(drums) > 0 {
		labels := make([]string, len(drumLines))
		for i, line := range drumLines {
			labels[i] = line.label
		}
		writeBlock(&b, "Drums", labels, drumGrid(group(drums, meter, bars), meter), opts.MeasuresPerLine)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// stringGrid returns one cell per string and bar. Notes without a
// playable position on tuning are left out.
func stringGrid(measures []Measure, m Meter, tuning tab.Tuning) [][]string {
	grid := make([][]string, len(tuning.Strings))
	for s := range grid {
		grid[s] = make([]string, len(measures))
	}
	for mi, bar := range measures {
		cells := blankCells(len(tuning.Strings), m.SlotsPerBar())
		for _, n := range bar.Notes {
			pos := tab.Position{String: n.String, Fret: n.Fret}
			if !n.HasTab || !tab.Playable(pos, tuning) {
				continue
			}
			copy(cells[pos.String-1][m.Slot(n.StartTime-bar.Start):], strconv.Itoa(pos.Fret))
		}
		for s := range cells {
			grid[s][mi] = string(cells[s])
		}
	}
	return grid
}

func drumGrid(measures []Measure, m Meter) [][]string {
	grid := make([][]string, len(drumLines))
	for i := range grid {
		grid[i] = make([]string, len(measures))
	}
	for mi, bar := range measures {
		cells := blankCells(len(drumLines), m.SlotsPerBar())
		for _, n := range bar.Notes {
			piece := n.DrumPiece
			if piece == "" {
				piece = classify.DrumPiece(n.Pitch)
			}
			for i, line := range drumLines {
				if line.piece == piece {
					cells[i][m.Slot(n.StartTime-bar.Start)] = line.mark
				}
			}
		}
		for i := range cells {
			grid[i][mi] = string(cells[i])
		}
	}
	return grid
}

func blankCells(rows, width int) [][]byte {
	cells := make([][]byte, rows)
	for i := range cells {
		cells[i] = bytes.Repeat([]byte{'-'}, width)
	}
	return cells
}

// stringLabels names each open string, highest first. The highest string
// is lower-cased when it shares a name with the lowest, as in e-B-G-D-A-E.
func stringLabels(tuning tab.Tuning) []string {
	labels := make([]string, len(tuning.Strings))
	for i, open := range tuning.Strings {
		labels[i] = pitchNames[((open%12)+12)%12]
	}
	if n := len(labels); n > 1 && labels[0] == labels[n-1] {
		labels[0] = strings.ToLower(labels[0])
	}
	return labels
}

func writeBlock(b *strings.Builder, title string, labels []string, grid [][]string, perLine int) {
	width := 0
	for _, l := range labels {
		width = max(width, len(l))
	}
	fmt.Fprintf(b, "\n%s\n", title)
	bars := len(grid[0])
	for start := 0; start < bars; start += perLine {
		end := min(start+perLine, bars)
		if start > 0 {
			b.WriteString("\n")
		}
		for i, label := range labels {
			fmt.Fprintf(b, "%-*s|%s|\n", width, label, strings.Join(grid[i][start:end], "|"))
		}
	}
}
