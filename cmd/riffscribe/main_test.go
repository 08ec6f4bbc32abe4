package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func writeRecording(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()
	data := make([]int, 16000)
	for i := range data {
		data[i] = (i % 100) * 150
	}
	enc := wav.NewEncoder(f, 8000, 16, 1, 1)
	if err := enc.Write(&audio.IntBuffer{Format: &audio.Format{NumChannels: 1, SampleRate: 8000}, Data: data, SourceBitDepth: 16}); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != version {
		t.Fatalf("expected %q, got %q", version, out)
	}
}

func writeMockConfig(t *testing.T, dir string) string {
	t.Helper()
	cfgPath := filepath.Join(dir, "riffcore.yaml")
	body := `
telemetry:
  log_level: error
audio:
  ffmpeg_command: ""
  ffprobe_command: ""
  temp_dir: ` + dir + `
precise:
  mode: mock
generative:
  mode: mock
`
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestTranscribeLocal(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeMockConfig(t, dir)
	recording := filepath.Join(dir, "take.wav")
	writeRecording(t, recording)

	out, err := execute(t, "transcribe", "--config", cfgPath, "--format", "json", "--output=", recording)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if result["source_backend"] != "precise" {
		t.Fatalf("expected precise source, got %v", result["source_backend"])
	}
}

func TestTranscribeTab(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeMockConfig(t, dir)
	recording := filepath.Join(dir, "take.wav")
	writeRecording(t, recording)

	out, err := execute(t, "transcribe", "--config", cfgPath, "--format", "tab", "--output=", recording)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if !strings.HasPrefix(out, "Tempo: ") || !strings.Contains(out, "Guitar (standard tuning)") || !strings.Contains(out, "\ne|") {
		t.Fatalf("unexpected tab output:\n%s", out)
	}
}

func TestTranscribeMIDIToFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeMockConfig(t, dir)
	recording := filepath.Join(dir, "take.wav")
	writeRecording(t, recording)
	target := filepath.Join(dir, "take.mid")

	if _, err := execute(t, "transcribe", "--config", cfgPath, "--format", "midi", "--output", target, recording); err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read midi: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("MThd")) {
		t.Fatalf("expected a MIDI header, got %q", data[:min(len(data), 8)])
	}
}

func TestTranscribeRejectsUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeMockConfig(t, dir)
	_, err := execute(t, "transcribe", "--config", cfgPath, "--format", "pdf", "--output=", filepath.Join(dir, "take.wav"))
	if err == nil || !strings.Contains(err.Error(), "unknown export format") {
		t.Fatalf("expected an unknown format error, got %v", err)
	}
}

func TestTranscribeRequiresPath(t *testing.T) {
	if _, err := execute(t, "transcribe"); err == nil {
		t.Fatal("expected an error without an audio path")
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("debug").String() != "DEBUG" || parseLevel("bogus").String() != "INFO" {
		t.Fatal("unexpected level mapping")
	}
}
