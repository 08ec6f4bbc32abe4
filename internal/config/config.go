package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/riffscribe/riffcore/internal/errors"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"` // json, text
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName  string             `yaml:"runtime_name"`
	Environment  string             `yaml:"environment"`
	HTTP         HTTPConfig         `yaml:"http"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Audio        AudioConfig        `yaml:"audio"`
	Precise      PreciseConfig      `yaml:"precise"`
	Generative   GenerativeConfig   `yaml:"generative"`
	Signal       SignalConfig       `yaml:"signal"`
	Classifier   ClassifierConfig   `yaml:"classifier"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Bus          BusConfig          `yaml:"bus"`
	EventStore   EventStoreConfig   `yaml:"event_store"`
	Worker       WorkerConfig       `yaml:"worker"`
	Fleet        FleetConfig        `yaml:"fleet"`
	Events       EventsConfig       `yaml:"events"`
}

type AudioConfig struct {
	MaxPayloadBytes int64    `yaml:"max_payload_bytes"`
	AllowedFormats  []string `yaml:"allowed_formats"`
	SampleSeconds   float64  `yaml:"sample_seconds"`
	MaxSamples      int      `yaml:"max_samples"`
	MaxBitrateKbps  int      `yaml:"max_bitrate_kbps"`
	FFmpegCommand   string   `yaml:"ffmpeg_command"`
	FFprobeCommand  string   `yaml:"ffprobe_command"`
	TempDir         string   `yaml:"temp_dir"`
}

type PreciseConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type GenerativeConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Mode              string  `yaml:"mode"` // mock, openai, exec
	Endpoint          string  `yaml:"endpoint"`
	APIKey            string  `yaml:"api_key"`
	Model             string  `yaml:"model"`
	Command           string  `yaml:"command"`
	TimeoutMS         int     `yaml:"timeout_ms"`
	Retries           int     `yaml:"retries"`
	MaxConcurrency    int     `yaml:"max_concurrency"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	Temperature       float64 `yaml:"temperature"`
}

type SignalConfig struct {
	Mode      string `yaml:"mode"` // none, exec
	Command   string `yaml:"command"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type ClassifierConfig struct {
	TrustBackendLabels bool    `yaml:"trust_backend_labels"`
	DrumMaxDuration    float64 `yaml:"drum_max_duration"`
	GuitarTuning       string  `yaml:"guitar_tuning"`
	BassTuning         string  `yaml:"bass_tuning"`
}

type OrchestratorConfig struct {
	Order          []string `yaml:"order"`
	MetadataPolicy string   `yaml:"metadata_policy"` // first, consensus
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type WorkerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Subject          string `yaml:"subject"`
	ResultSubject    string `yaml:"result_subject"`
	QueueGroup       string `yaml:"queue_group"`
	MaxConcurrency   int    `yaml:"max_concurrency"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
}

// FleetConfig controls how this node advertises its backends to peers.
// An empty ID is replaced with a generated one at startup.
type FleetConfig struct {
	Enabled             bool   `yaml:"enabled"`
	ID                  string `yaml:"id"`
	HeartbeatIntervalMS int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMS  int    `yaml:"heartbeat_timeout_ms"`
}

// EventsConfig controls the Kafka sink for finished transcriptions. With
// no brokers the sink only logs.
type EventsConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Brokers        []string `yaml:"brokers"`
	Topic          string   `yaml:"topic"`
	WriteTimeoutMS int      `yaml:"write_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "riffcore",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			LogFormat:    "json",
			OTLPInsecure: true,
		},
		Audio: AudioConfig{
			MaxPayloadBytes: 25 * 1024 * 1024,
			AllowedFormats:  []string{"mp3", "wav"},
			SampleSeconds:   30,
			MaxSamples:      3,
			MaxBitrateKbps:  320,
			FFmpegCommand:   "ffmpeg",
			FFprobeCommand:  "ffprobe",
		},
		Precise: PreciseConfig{
			Enabled:   true,
			Mode:      "exec",
			Command:   "basic-pitch-cli",
			TimeoutMS: 300000,
		},
		Generative: GenerativeConfig{
			Enabled:           true,
			Mode:              "openai",
			Endpoint:          "https://api.openai.com",
			Model:             "gpt-4o-audio-preview",
			TimeoutMS:         120000,
			Retries:           2,
			MaxConcurrency:    3,
			RequestsPerMinute: 50,
			Temperature:       0.1,
		},
		Signal: SignalConfig{
			Mode:      "none",
			TimeoutMS: 60000,
		},
		Classifier: ClassifierConfig{
			TrustBackendLabels: true,
			DrumMaxDuration:    0.2,
			GuitarTuning:       "standard",
			BassTuning:         "standard",
		},
		Orchestrator: OrchestratorConfig{
			Order:          []string{"precise", "generative"},
			MetadataPolicy: "first",
		},
		Bus: BusConfig{
			Embedded:       true,
			Host:           "127.0.0.1",
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/riffcore-runs.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRuns:       10000,
		},
		Worker: WorkerConfig{
			Enabled:          true,
			Subject:          "riffcore.transcribe.request",
			ResultSubject:    "riffcore.transcribe.result",
			QueueGroup:       "riffcore-workers",
			MaxConcurrency:   2,
			RequestTimeoutMS: 900000,
		},
		Fleet: FleetConfig{
			Enabled:             true,
			HeartbeatIntervalMS: 5000,
			HeartbeatTimeoutMS:  15000,
		},
		Events: EventsConfig{
			Topic:          "riffcore.transcriptions",
			WriteTimeoutMS: 10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, fmt.Errorf("%w: %w", apperrors.ErrInvalidConfig, err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "RIFF_RUNTIME_NAME")
	overrideString(&cfg.Environment, "RIFF_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "RIFF_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "RIFF_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "RIFF_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "RIFF_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "RIFF_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "RIFF_TELEMETRY_OTLP_INSECURE")
	overrideInt64(&cfg.Audio.MaxPayloadBytes, "RIFF_AUDIO_MAX_PAYLOAD_BYTES")
	overrideStringSlice(&cfg.Audio.AllowedFormats, "RIFF_AUDIO_ALLOWED_FORMATS")
	overrideFloat(&cfg.Audio.SampleSeconds, "RIFF_AUDIO_SAMPLE_SECONDS")
	overrideInt(&cfg.Audio.MaxSamples, "RIFF_AUDIO_MAX_SAMPLES")
	overrideInt(&cfg.Audio.MaxBitrateKbps, "RIFF_AUDIO_MAX_BITRATE_KBPS")
	overrideString(&cfg.Audio.FFmpegCommand, "RIFF_AUDIO_FFMPEG_COMMAND")
	overrideString(&cfg.Audio.FFprobeCommand, "RIFF_AUDIO_FFPROBE_COMMAND")
	overrideString(&cfg.Audio.TempDir, "RIFF_AUDIO_TEMP_DIR")
	overrideBool(&cfg.Precise.Enabled, "RIFF_PRECISE_ENABLED")
	overrideString(&cfg.Precise.Mode, "RIFF_PRECISE_MODE")
	overrideString(&cfg.Precise.Command, "RIFF_PRECISE_COMMAND")
	overrideString(&cfg.Precise.ModelPath, "RIFF_PRECISE_MODEL_PATH")
	overrideInt(&cfg.Precise.TimeoutMS, "RIFF_PRECISE_TIMEOUT_MS")
	overrideBool(&cfg.Generative.Enabled, "RIFF_GENERATIVE_ENABLED")
	overrideString(&cfg.Generative.Mode, "RIFF_GENERATIVE_MODE")
	overrideString(&cfg.Generative.Endpoint, "RIFF_GENERATIVE_ENDPOINT")
	overrideString(&cfg.Generative.APIKey, "RIFF_GENERATIVE_API_KEY")
	overrideString(&cfg.Generative.APIKey, "OPENAI_API_KEY")
	overrideString(&cfg.Generative.Model, "RIFF_GENERATIVE_MODEL")
	overrideString(&cfg.Generative.Command, "RIFF_GENERATIVE_COMMAND")
	overrideInt(&cfg.Generative.TimeoutMS, "RIFF_GENERATIVE_TIMEOUT_MS")
	overrideInt(&cfg.Generative.Retries, "RIFF_GENERATIVE_RETRIES")
	overrideInt(&cfg.Generative.MaxConcurrency, "RIFF_GENERATIVE_MAX_CONCURRENCY")
	overrideInt(&cfg.Generative.RequestsPerMinute, "RIFF_GENERATIVE_REQUESTS_PER_MINUTE")
	overrideFloat(&cfg.Generative.Temperature, "RIFF_GENERATIVE_TEMPERATURE")
	overrideString(&cfg.Signal.Mode, "RIFF_SIGNAL_MODE")
	overrideString(&cfg.Signal.Command, "RIFF_SIGNAL_COMMAND")
	overrideInt(&cfg.Signal.TimeoutMS, "RIFF_SIGNAL_TIMEOUT_MS")
	overrideBool(&cfg.Classifier.TrustBackendLabels, "RIFF_CLASSIFIER_TRUST_BACKEND_LABELS")
	overrideFloat(&cfg.Classifier.DrumMaxDuration, "RIFF_CLASSIFIER_DRUM_MAX_DURATION")
	overrideString(&cfg.Classifier.GuitarTuning, "RIFF_CLASSIFIER_GUITAR_TUNING")
	overrideString(&cfg.Classifier.BassTuning, "RIFF_CLASSIFIER_BASS_TUNING")
	overrideStringSlice(&cfg.Orchestrator.Order, "RIFF_ORCHESTRATOR_ORDER")
	overrideString(&cfg.Orchestrator.MetadataPolicy, "RIFF_ORCHESTRATOR_METADATA_POLICY")
	overrideBool(&cfg.Bus.Embedded, "RIFF_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "RIFF_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "RIFF_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "RIFF_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "RIFF_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "RIFF_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "RIFF_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "RIFF_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "RIFF_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "RIFF_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "RIFF_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "RIFF_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRuns, "RIFF_EVENT_STORE_MAX_RUNS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "RIFF_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Worker.Enabled, "RIFF_WORKER_ENABLED")
	overrideString(&cfg.Worker.Subject, "RIFF_WORKER_SUBJECT")
	overrideString(&cfg.Worker.ResultSubject, "RIFF_WORKER_RESULT_SUBJECT")
	overrideString(&cfg.Worker.QueueGroup, "RIFF_WORKER_QUEUE_GROUP")
	overrideInt(&cfg.Worker.MaxConcurrency, "RIFF_WORKER_MAX_CONCURRENCY")
	overrideInt(&cfg.Worker.RequestTimeoutMS, "RIFF_WORKER_REQUEST_TIMEOUT_MS")

	overrideBool(&cfg.Fleet.Enabled, "RIFF_FLEET_ENABLED")
	overrideString(&cfg.Fleet.ID, "RIFF_FLEET_ID")
	overrideInt(&cfg.Fleet.HeartbeatIntervalMS, "RIFF_FLEET_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Fleet.HeartbeatTimeoutMS, "RIFF_FLEET_HEARTBEAT_TIMEOUT_MS")

	overrideBool(&cfg.Events.Enabled, "RIFF_EVENTS_ENABLED")
	overrideStringSlice(&cfg.Events.Brokers, "RIFF_EVENTS_BROKERS")
	overrideString(&cfg.Events.Topic, "RIFF_EVENTS_TOPIC")
	overrideInt(&cfg.Events.WriteTimeoutMS, "RIFF_EVENTS_WRITE_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}
