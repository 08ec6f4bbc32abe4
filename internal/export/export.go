// Package export renders a finished transcription for people and tools:
// indented JSON, a Standard MIDI File, or ASCII tablature.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/riffscribe/riffcore/internal/model"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatMIDI Format = "midi"
	FormatTab  Format = "tab"
)

// ParseFormat accepts json, midi (or mid) and tab (or txt).
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return FormatJSON, nil
	case "midi", "mid":
		return FormatMIDI, nil
	case "tab", "txt":
		return FormatTab, nil
	}
	return "", fmt.Errorf("unknown export format %q (known: json, midi, tab)", name)
}

// Write renders res to w in format f. opts only affects tablature.
func Write(w io.Writer, res *model.Result, f Format, opts TabOptions) error {
	switch f {
	case FormatJSON:
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatMIDI:
		return MIDI(w, res)
	case FormatTab:
		return Tab(w, res, opts)
	}
	return fmt.Errorf("unknown export format %q", f)
}
