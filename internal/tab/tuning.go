package tab

import (
	"fmt"
	"sort"
	"strings"
)

// MaxFret is the highest playable fret.
const MaxFret = 24

// Tuning lists open-string pitches from the highest string to the lowest.
type Tuning struct {
	Name    string
	Strings []int
}

// Position is a tablature location. String 1 is the highest string.
type Position struct {
	String int
	Fret   int
}

var (
	GuitarStandard = Tuning{Name: "standard", Strings: []int{64, 59, 55, 50, 45, 40}}
	BassStandard   = Tuning{Name: "standard", Strings: []int{43, 38, 33, 28}}
)

var guitarTunings = map[string]Tuning{
	"standard":       GuitarStandard,
	"drop_d":         {Name: "drop_d", Strings: []int{64, 59, 55, 50, 45, 38}},
	"half_step_down": {Name: "half_step_down", Strings: []int{63, 58, 54, 49, 44, 39}},
	"open_g":         {Name: "open_g", Strings: []int{62, 59, 55, 50, 43, 38}},
	"dadgad":         {Name: "dadgad", Strings: []int{62, 57, 55, 50, 45, 38}},
}

var bassTunings = map[string]Tuning{
	"standard":       BassStandard,
	"drop_d":         {Name: "drop_d", Strings: []int{43, 38, 33, 26}},
	"half_step_down": {Name: "half_step_down", Strings: []int{42, 37, 32, 27}},
}

// GuitarTuning resolves a guitar tuning preset by name; empty means standard.
func GuitarTuning(name string) (Tuning, error) {
	return lookup(guitarTunings, "guitar", name)
}

// BassTuning resolves a bass tuning preset by name; empty means standard.
func BassTuning(name string) (Tuning, error) {
	return lookup(bassTunings, "bass", name)
}

func lookup(presets map[string]Tuning, kind, name string) (Tuning, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = "standard"
	}
	t, ok := presets[key]
	if !ok {
		names := make([]string, 0, len(presets))
		for n := range presets {
			names = append(names, n)
		}
		sort.Strings(names)
		return Tuning{}, fmt.Errorf("unknown %s tuning %q (known: %s)", kind, name, strings.Join(names, ", "))
	}
	return t, nil
}
