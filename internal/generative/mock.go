package generative

import "context"

const mockAnalysis = `{
  "song_analysis": {"tempo": 96, "key": "A minor", "time_signature": "4/4", "total_duration": 4.0},
  "instruments": {"detected": ["guitar", "bass"], "primary": "guitar"},
  "complete_notes": [
    {"instrument": "guitar", "midi_note": 69, "start_time": 0.0, "end_time": 0.5, "velocity": 84},
    {"instrument": "guitar", "midi_note": 72, "start_time": 0.5, "end_time": 1.0, "velocity": 80},
    {"instrument": "guitar", "midi_note": 76, "start_time": 1.0, "end_time": 1.5, "velocity": 82},
    {"instrument": "guitar", "midi_note": 74, "start_time": 1.5, "end_time": 2.0, "velocity": 78},
    {"instrument": "bass", "midi_note": 33, "start_time": 0.0, "end_time": 2.0, "velocity": 92},
    {"instrument": "bass", "midi_note": 29, "start_time": 2.0, "end_time": 4.0, "velocity": 90}
  ]
}`

type mockBackend struct{}

// NewMock returns a Backend that answers every clip with the same short
// A minor phrase.
func NewMock() Backend { return mockBackend{} }

func (mockBackend) Name() string { return Name }

func (mockBackend) Analyze(ctx context.Context, _ Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return mockAnalysis, nil
}
