package generative

import (
	"fmt"
	"strconv"
)

const basePrompt = `COMPREHENSIVE MUSIC TRANSCRIPTION TASK:

Analyze this musical recording and transcribe every note you can hear.
Reply with a single JSON object and nothing else:
{
  "song_analysis": {
    "tempo": <BPM number>,
    "key": "<key signature, e.g. E minor>",
    "time_signature": "<e.g. 4/4>",
    "total_duration": <seconds>,
    "song_structure": ["intro", "verse", "chorus"]
  },
  "instruments": {
    "detected": ["guitar", "bass", "drums"],
    "primary": "guitar"
  },
  "complete_notes": [
    {
      "instrument": "guitar",
      "midi_note": 64,
      "start_time": 0.0,
      "end_time": 0.5,
      "velocity": 80
    }
  ],
  "rhythm_sections": [
    {"start_time": 0.0, "end_time": 30.0, "tempo": 120, "complexity": "moderate", "note_density": 4.0}
  ]
}

Times are seconds from the start of the audio you were given.
Include notes for every detected instrument over the whole clip.`

// Prompt builds the instructions for one clip. A negative sampleIndex means
// the clip is the whole recording; otherwise the clip is identified as
// sample sampleIndex+1 starting offset seconds into the song.
func Prompt(sampleIndex int, offset float64) string {
	if sampleIndex < 0 {
		return basePrompt
	}
	return fmt.Sprintf("%s\n\nANALYZING SAMPLE %d from position %ss",
		basePrompt, sampleIndex+1, strconv.FormatFloat(offset, 'f', -1, 64))
}
