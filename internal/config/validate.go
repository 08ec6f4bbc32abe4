package config

import (
	"errors"
	"fmt"
)

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Telemetry.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	switch cfg.Telemetry.LogFormat {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}

	if cfg.Audio.MaxPayloadBytes <= 0 {
		return errors.New("audio.max_payload_bytes must be positive")
	}
	if len(cfg.Audio.AllowedFormats) == 0 {
		return errors.New("audio.allowed_formats must not be empty")
	}
	if cfg.Audio.SampleSeconds <= 0 {
		return errors.New("audio.sample_seconds must be positive")
	}
	if cfg.Audio.MaxSamples < 1 {
		return errors.New("audio.max_samples must be >= 1")
	}
	if cfg.Audio.MaxBitrateKbps <= 0 || cfg.Audio.MaxBitrateKbps > 320 {
		return errors.New("audio.max_bitrate_kbps must be between 1 and 320")
	}

	if cfg.Precise.Enabled {
		switch cfg.Precise.Mode {
		case "mock", "exec":
		default:
			return errors.New("precise.mode must be one of mock|exec")
		}
		if cfg.Precise.Mode == "exec" && cfg.Precise.Command == "" {
			return errors.New("precise.command must be set when mode=exec")
		}
		if cfg.Precise.TimeoutMS <= 0 {
			return errors.New("precise.timeout_ms must be positive")
		}
	}

	if cfg.Generative.Enabled {
		switch cfg.Generative.Mode {
		case "mock", "openai", "exec":
		default:
			return errors.New("generative.mode must be one of mock|openai|exec")
		}
		if cfg.Generative.Mode == "openai" && cfg.Generative.Endpoint == "" {
			return errors.New("generative.endpoint must be set when mode=openai")
		}
		if cfg.Generative.Mode == "exec" && cfg.Generative.Command == "" {
			return errors.New("generative.command must be set when mode=exec")
		}
		if cfg.Generative.TimeoutMS <= 0 {
			return errors.New("generative.timeout_ms must be positive")
		}
		if cfg.Generative.Retries < 0 {
			return errors.New("generative.retries must be >= 0")
		}
		if cfg.Generative.MaxConcurrency < 1 || cfg.Generative.MaxConcurrency > 3 {
			return errors.New("generative.max_concurrency must be between 1 and 3")
		}
		if cfg.Generative.RequestsPerMinute < 0 {
			return errors.New("generative.requests_per_minute must be >= 0")
		}
	}

	switch cfg.Signal.Mode {
	case "none", "":
	case "exec":
		if cfg.Signal.Command == "" {
			return errors.New("signal.command must be set when mode=exec")
		}
	default:
		return errors.New("signal.mode must be one of none|exec")
	}

	if cfg.Classifier.DrumMaxDuration < 0 {
		return errors.New("classifier.drum_max_duration must be >= 0")
	}

	seen := make(map[string]bool)
	for _, name := range cfg.Orchestrator.Order {
		switch name {
		case "precise", "generative":
		default:
			return fmt.Errorf("orchestrator.order contains unknown backend %q", name)
		}
		if seen[name] {
			return fmt.Errorf("orchestrator.order lists %q twice", name)
		}
		seen[name] = true
	}
	switch cfg.Orchestrator.MetadataPolicy {
	case "first", "consensus":
	default:
		return errors.New("orchestrator.metadata_policy must be one of first|consensus")
	}

	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}

	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}

	if cfg.Worker.Enabled {
		if cfg.Worker.Subject == "" || cfg.Worker.ResultSubject == "" {
			return errors.New("worker.subject and worker.result_subject must not be empty")
		}
		if cfg.Worker.MaxConcurrency <= 0 {
			return errors.New("worker.max_concurrency must be >= 1")
		}
		if cfg.Worker.RequestTimeoutMS <= 0 {
			return errors.New("worker.request_timeout_ms must be positive")
		}
	}

	if cfg.Fleet.Enabled {
		if cfg.Fleet.HeartbeatIntervalMS <= 0 {
			return errors.New("fleet.heartbeat_interval_ms must be positive")
		}
		if cfg.Fleet.HeartbeatTimeoutMS <= cfg.Fleet.HeartbeatIntervalMS {
			return errors.New("fleet.heartbeat_timeout_ms must exceed heartbeat_interval_ms")
		}
	}

	if cfg.Events.Enabled {
		if cfg.Events.Topic == "" {
			return errors.New("events.topic must not be empty when events are enabled")
		}
		if cfg.Events.WriteTimeoutMS <= 0 {
			return errors.New("events.write_timeout_ms must be positive")
		}
	}
	return nil
}
