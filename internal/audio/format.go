package audio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/riffscribe/riffcore/internal/errors"
)

// Format represents an audio container format
type Format string

const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatFLAC    Format = "flac"
	FormatOGG     Format = "ogg"
	FormatM4A     Format = "m4a"
	FormatAIFF    Format = "aiff"
	FormatUnknown Format = "unknown"
)

// ParseFormat maps a format name or file extension onto a Format.
func ParseFormat(name string) Format {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), ".") {
	case "wav", "wave":
		return FormatWAV
	case "mp3":
		return FormatMP3
	case "flac":
		return FormatFLAC
	case "ogg", "oga", "opus":
		return FormatOGG
	case "m4a", "mp4", "aac", "mov,mp4,m4a,3gp,3g2,mj2":
		return FormatM4A
	case "aif", "aiff", "aifc":
		return FormatAIFF
	default:
		return FormatUnknown
	}
}

// DetectFormat checks file magic bytes, falling back to the extension.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("%w: %v", apperrors.ErrCorruptedFile, err)
	}
	defer f.Close()

	header := make([]byte, 12)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return FormatUnknown, fmt.Errorf("%w: could not read file header", apperrors.ErrCorruptedFile)
	}
	if format := detectHeader(header[:n]); format != FormatUnknown {
		return format, nil
	}
	return ParseFormat(filepath.Ext(path)), nil
}

func detectHeader(h []byte) Format {
	switch {
	case len(h) >= 12 && string(h[:4]) == "RIFF" && string(h[8:12]) == "WAVE":
		return FormatWAV
	case len(h) >= 12 && string(h[:4]) == "FORM" && (string(h[8:12]) == "AIFF" || string(h[8:12]) == "AIFC"):
		return FormatAIFF
	case len(h) >= 4 && string(h[:4]) == "fLaC":
		return FormatFLAC
	case len(h) >= 4 && string(h[:4]) == "OggS":
		return FormatOGG
	case len(h) >= 8 && string(h[4:8]) == "ftyp":
		return FormatM4A
	case len(h) >= 3 && string(h[:3]) == "ID3":
		return FormatMP3
	case len(h) >= 2 && h[0] == 0xFF && h[1]&0xE0 == 0xE0:
		return FormatMP3
	default:
		return FormatUnknown
	}
}
