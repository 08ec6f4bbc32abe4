package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/riffscribe/riffcore/internal/bus"
	"github.com/riffscribe/riffcore/internal/config"
	"github.com/riffscribe/riffcore/internal/export"
	"github.com/riffscribe/riffcore/internal/model"
	"github.com/riffscribe/riffcore/internal/protocol"
	"github.com/riffscribe/riffcore/internal/runtime"
	"github.com/riffscribe/riffcore/internal/tab"
)

var (
	remote        bool
	outputPath    string
	outputFormat  string
	remoteTimeout time.Duration
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <audio-file>",
	Short: "Transcribe one recording and print the result",
	Long: `Transcribe one recording. By default the backends run in this process;
with --remote the request is sent to a running worker over the message bus
and the worker must be able to read the same path.

The result is printed as JSON, or with --format as a MIDI file or ASCII
tablature using the configured guitar and bass tunings.

Examples:
  riffscribe transcribe riff.wav
  riffscribe transcribe -o riff.json --config riffcore.yaml take2.mp3
  riffscribe transcribe -f tab take2.mp3
  riffscribe transcribe -f midi -o take2.mid take2.mp3
  riffscribe transcribe --remote /shared/takes/take3.wav`,
	Args: cobra.ExactArgs(1),
	RunE: runTranscribe,
}

func init() {
	transcribeCmd.Flags().BoolVar(&remote, "remote", false, "Send the request to a worker over the bus")
	transcribeCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the result to a file (default: stdout)")
	transcribeCmd.Flags().StringVarP(&outputFormat, "format", "f", "json", "Output format: json, midi or tab")
	transcribeCmd.Flags().DurationVar(&remoteTimeout, "timeout", 0, "How long to wait for a remote worker (default: worker.request_timeout_ms)")
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	format, err := export.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	tabOpts, err := tabOptions(cfg.Classifier)
	if err != nil {
		return err
	}
	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	var result *model.Result
	if remote {
		result, err = transcribeRemote(cmd.Context(), cfg, path)
	} else {
		result, err = transcribeLocal(cmd.Context(), cfg, path)
	}
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	return export.Write(out, result, format, tabOpts)
}

func tabOptions(cfg config.ClassifierConfig) (export.TabOptions, error) {
	guitar, err := tab.GuitarTuning(cfg.GuitarTuning)
	if err != nil {
		return export.TabOptions{}, err
	}
	bass, err := tab.BassTuning(cfg.BassTuning)
	if err != nil {
		return export.TabOptions{}, err
	}
	return export.TabOptions{Guitar: guitar, Bass: bass}, nil
}

func transcribeLocal(ctx context.Context, cfg config.Config, path string) (*model.Result, error) {
	// stdout carries the result, so logs go to stderr
	logger := newLogger(os.Stderr, cfg.Telemetry)
	orch, err := runtime.BuildOrchestrator(cfg, logger)
	if err != nil {
		return nil, err
	}
	return orch.Transcribe(ctx, path)
}

func transcribeRemote(ctx context.Context, cfg config.Config, path string) (*model.Result, error) {
	logger := newLogger(os.Stderr, cfg.Telemetry)
	busCfg := cfg.Bus
	if busCfg.Embedded {
		host := busCfg.Host
		if host == "" {
			host = "127.0.0.1"
		}
		busCfg.Servers = []string{fmt.Sprintf("nats://%s:%d", host, busCfg.Port)}
	}
	client, err := bus.Connect(busCfg, "riffscribe-cli", logger)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	timeout := remoteTimeout
	if timeout <= 0 {
		timeout = time.Duration(cfg.Worker.RequestTimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := json.Marshal(protocol.TranscribeRequest{
		RequestID: uuid.NewString(),
		AudioPath: path,
	})
	if err != nil {
		return nil, err
	}
	data, err := client.Request(ctx, cfg.Worker.Subject, req)
	if err != nil {
		return nil, fmt.Errorf("request transcription: %w", err)
	}

	var resp protocol.TranscribeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode worker response: %w", err)
	}
	if resp.Status != protocol.StatusCompleted {
		return nil, fmt.Errorf("worker %s (%s): %s", resp.Status, resp.ErrorKind, resp.Error)
	}

	var result model.Result
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}
