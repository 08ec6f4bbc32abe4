package tab

// Map places pitch on the first string, scanning from the highest, whose
// open pitch is at or below it within MaxFret frets. Pitches no string can
// reach fall back to the highest string with the fret floored at zero.
func Map(pitch int, tuning Tuning) Position {
	if len(tuning.Strings) == 0 {
		return Position{String: 1, Fret: max(0, pitch)}
	}
	for i, open := range tuning.Strings {
		if open <= pitch && pitch-open <= MaxFret {
			return Position{String: i + 1, Fret: pitch - open}
		}
	}
	return Position{String: 1, Fret: max(0, pitch-tuning.Strings[0])}
}

// Playable reports whether pos lies on the neck of tuning.
func Playable(pos Position, tuning Tuning) bool {
	return pos.String >= 1 && pos.String <= len(tuning.Strings) && pos.Fret >= 0 && pos.Fret <= MaxFret
}
