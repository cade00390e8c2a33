package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
	Traces         bool   `yaml:"traces"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Audio       AudioConfig      `yaml:"audio"`
	VAD         VADConfig        `yaml:"vad"`
	Scheduler   SchedulerConfig  `yaml:"scheduler"`
	STT         STTConfig        `yaml:"stt"`
	Sink        SinkConfig       `yaml:"sink"`
	Trigger     TriggerConfig    `yaml:"trigger"`
	Notify      NotifyConfig     `yaml:"notify"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
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
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type AudioConfig struct {
	SampleRate int     `yaml:"sample_rate"`
	MaxSeconds float64 `yaml:"max_seconds"`
	// Capture selects the audio source: malgo or none.
	Capture          string `yaml:"capture"`
	DeviceSampleRate int    `yaml:"device_sample_rate"`
	DeviceChannels   int    `yaml:"device_channels"`
	BlockFrames      int    `yaml:"block_frames"`
}

type VADConfig struct {
	WindowMS         int     `yaml:"window_ms"`
	InitialThreshold float64 `yaml:"initial_threshold"`
	MinThreshold     float64 `yaml:"min_threshold"`
	MaxThreshold     float64 `yaml:"max_threshold"`
	RiseFactor       float64 `yaml:"rise_factor"`
	DecayFactor      float64 `yaml:"decay_factor"`
}

type SchedulerConfig struct {
	Streaming        bool `yaml:"streaming"`
	WarmupMS         int  `yaml:"warmup_ms"`
	PollMS           int  `yaml:"poll_ms"`
	MinIntervalMS    int  `yaml:"min_interval_ms"`
	MaxIntervalMS    int  `yaml:"max_interval_ms"`
	MinProcessableMS int  `yaml:"min_processable_ms"`
	PartialWindowMS  int  `yaml:"partial_window_ms"`
	SubmitTimeoutMS  int  `yaml:"submit_timeout_ms"`
	FinalTimeoutMS   int  `yaml:"final_timeout_ms"`
}

type DecodeConfig struct {
	BeamSize          int     `yaml:"beam_size"`
	BestOf            int     `yaml:"best_of"`
	Temperature       float64 `yaml:"temperature"`
	NoSpeechThreshold float64 `yaml:"no_speech_threshold"`
	Model             string  `yaml:"model"`
}

type STTConfig struct {
	Mode          string       `yaml:"mode"` // mock, exec, bus, google, whisper
	Command       string       `yaml:"command"`
	ModelPath     string       `yaml:"model_path"`
	Language      string       `yaml:"language"`
	Threads       int          `yaml:"threads"`
	LoadTimeoutMS int          `yaml:"load_timeout_ms"`
	Subject       string       `yaml:"subject"`
	Worker        bool         `yaml:"worker"`
	Fast          DecodeConfig `yaml:"fast"`
	Quality       DecodeConfig `yaml:"quality"`
}

type SinkConfig struct {
	Mode             string `yaml:"mode"` // clipboard, stdout, none
	PasteModifier    string `yaml:"paste_modifier"`
	PasteDelayMS     int    `yaml:"paste_delay_ms"`
	RestoreDelayMS   int    `yaml:"restore_delay_ms"`
	RestoreClipboard bool   `yaml:"restore_clipboard"`
}

type TriggerConfig struct {
	HTTP  bool `yaml:"http"`
	Bus   bool `yaml:"bus"`
	Stdin bool `yaml:"stdin"`
}

type NotifyConfig struct {
	Desktop   bool   `yaml:"desktop"`
	AppName   string `yaml:"app_name"`
	WebSocket bool   `yaml:"websocket"`
	Bus       bool   `yaml:"bus"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-dictate",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8085,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-dictate.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Audio: AudioConfig{
			SampleRate:       16000,
			MaxSeconds:       30,
			Capture:          "malgo",
			DeviceSampleRate: 48000,
			DeviceChannels:   1,
			BlockFrames:      1024,
		},
		VAD: VADConfig{
			WindowMS:         200,
			InitialThreshold: 0.01,
			MinThreshold:     0.0005,
			MaxThreshold:     0.1,
			RiseFactor:       1.1,
			DecayFactor:      0.98,
		},
		Scheduler: SchedulerConfig{
			Streaming:        true,
			WarmupMS:         50,
			PollMS:           100,
			MinIntervalMS:    500,
			MaxIntervalMS:    2000,
			MinProcessableMS: 30,
			PartialWindowMS:  750,
			SubmitTimeoutMS:  15000,
			FinalTimeoutMS:   45000,
		},
		STT: STTConfig{
			Mode:          "mock",
			Language:      "en",
			Threads:       4,
			LoadTimeoutMS: 30000,
			Subject:       "stt.transcribe",
			Fast: DecodeConfig{
				BeamSize:          1,
				BestOf:            1,
				Temperature:       0,
				NoSpeechThreshold: 0.8,
				Model:             "latest_short",
			},
			Quality: DecodeConfig{
				BeamSize:          5,
				BestOf:            5,
				Temperature:       0,
				NoSpeechThreshold: 0.6,
				Model:             "latest_long",
			},
		},
		Sink: SinkConfig{
			Mode:             "clipboard",
			PasteModifier:    "super",
			PasteDelayMS:     80,
			RestoreDelayMS:   120,
			RestoreClipboard: true,
		},
		Trigger: TriggerConfig{
			HTTP: true,
		},
		Notify: NotifyConfig{
			Desktop:   true,
			AppName:   "Loqa Dictate",
			WebSocket: true,
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
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "LOQA_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Telemetry.Traces, "LOQA_TELEMETRY_TRACES")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Audio.SampleRate, "LOQA_AUDIO_SAMPLE_RATE")
	overrideFloat(&cfg.Audio.MaxSeconds, "LOQA_AUDIO_MAX_SECONDS")
	overrideString(&cfg.Audio.Capture, "LOQA_AUDIO_CAPTURE")
	overrideInt(&cfg.Audio.DeviceSampleRate, "LOQA_AUDIO_DEVICE_SAMPLE_RATE")
	overrideInt(&cfg.Audio.DeviceChannels, "LOQA_AUDIO_DEVICE_CHANNELS")
	overrideInt(&cfg.Audio.BlockFrames, "LOQA_AUDIO_BLOCK_FRAMES")
	overrideInt(&cfg.VAD.WindowMS, "LOQA_VAD_WINDOW_MS")
	overrideFloat(&cfg.VAD.InitialThreshold, "LOQA_VAD_INITIAL_THRESHOLD")
	overrideFloat(&cfg.VAD.MinThreshold, "LOQA_VAD_MIN_THRESHOLD")
	overrideFloat(&cfg.VAD.MaxThreshold, "LOQA_VAD_MAX_THRESHOLD")
	overrideFloat(&cfg.VAD.RiseFactor, "LOQA_VAD_RISE_FACTOR")
	overrideFloat(&cfg.VAD.DecayFactor, "LOQA_VAD_DECAY_FACTOR")
	overrideBool(&cfg.Scheduler.Streaming, "LOQA_SCHEDULER_STREAMING")
	overrideInt(&cfg.Scheduler.WarmupMS, "LOQA_SCHEDULER_WARMUP_MS")
	overrideInt(&cfg.Scheduler.PollMS, "LOQA_SCHEDULER_POLL_MS")
	overrideInt(&cfg.Scheduler.MinIntervalMS, "LOQA_SCHEDULER_MIN_INTERVAL_MS")
	overrideInt(&cfg.Scheduler.MaxIntervalMS, "LOQA_SCHEDULER_MAX_INTERVAL_MS")
	overrideInt(&cfg.Scheduler.MinProcessableMS, "LOQA_SCHEDULER_MIN_PROCESSABLE_MS")
	overrideInt(&cfg.Scheduler.PartialWindowMS, "LOQA_SCHEDULER_PARTIAL_WINDOW_MS")
	overrideInt(&cfg.Scheduler.SubmitTimeoutMS, "LOQA_SCHEDULER_SUBMIT_TIMEOUT_MS")
	overrideInt(&cfg.Scheduler.FinalTimeoutMS, "LOQA_SCHEDULER_FINAL_TIMEOUT_MS")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideInt(&cfg.STT.Threads, "LOQA_STT_THREADS")
	overrideInt(&cfg.STT.LoadTimeoutMS, "LOQA_STT_LOAD_TIMEOUT_MS")
	overrideString(&cfg.STT.Subject, "LOQA_STT_SUBJECT")
	overrideBool(&cfg.STT.Worker, "LOQA_STT_WORKER")
	overrideString(&cfg.Sink.Mode, "LOQA_SINK_MODE")
	overrideString(&cfg.Sink.PasteModifier, "LOQA_SINK_PASTE_MODIFIER")
	overrideInt(&cfg.Sink.PasteDelayMS, "LOQA_SINK_PASTE_DELAY_MS")
	overrideInt(&cfg.Sink.RestoreDelayMS, "LOQA_SINK_RESTORE_DELAY_MS")
	overrideBool(&cfg.Sink.RestoreClipboard, "LOQA_SINK_RESTORE_CLIPBOARD")
	overrideBool(&cfg.Trigger.HTTP, "LOQA_TRIGGER_HTTP")
	overrideBool(&cfg.Trigger.Bus, "LOQA_TRIGGER_BUS")
	overrideBool(&cfg.Trigger.Stdin, "LOQA_TRIGGER_STDIN")
	overrideBool(&cfg.Notify.Desktop, "LOQA_NOTIFY_DESKTOP")
	overrideString(&cfg.Notify.AppName, "LOQA_NOTIFY_APP_NAME")
	overrideBool(&cfg.Notify.WebSocket, "LOQA_NOTIFY_WEBSOCKET")
	overrideBool(&cfg.Notify.Bus, "LOQA_NOTIFY_BUS")
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

// Validate checks a config assembled or adjusted outside Load.
func (c Config) Validate() error {
	return validate(c)
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.MaxSeconds <= 0 {
		return errors.New("audio.max_seconds must be positive")
	}
	switch cfg.Audio.Capture {
	case "malgo", "none":
	default:
		return errors.New("audio.capture must be one of malgo|none")
	}
	if cfg.Audio.Capture == "malgo" {
		if cfg.Audio.DeviceSampleRate <= 0 {
			return errors.New("audio.device_sample_rate must be positive")
		}
		if cfg.Audio.DeviceChannels <= 0 {
			return errors.New("audio.device_channels must be positive")
		}
	}
	if cfg.VAD.WindowMS <= 0 {
		return errors.New("vad.window_ms must be positive")
	}
	if cfg.VAD.MinThreshold <= 0 || cfg.VAD.MaxThreshold < cfg.VAD.MinThreshold {
		return errors.New("vad.min_threshold and vad.max_threshold must satisfy 0 < min <= max")
	}
	if cfg.VAD.InitialThreshold < cfg.VAD.MinThreshold || cfg.VAD.InitialThreshold > cfg.VAD.MaxThreshold {
		return errors.New("vad.initial_threshold must lie within [min_threshold, max_threshold]")
	}
	if cfg.VAD.RiseFactor < 1 {
		return errors.New("vad.rise_factor must be >= 1")
	}
	if cfg.VAD.DecayFactor <= 0 || cfg.VAD.DecayFactor > 1 {
		return errors.New("vad.decay_factor must be in (0, 1]")
	}
	if cfg.Scheduler.PollMS <= 0 {
		return errors.New("scheduler.poll_ms must be positive")
	}
	if cfg.Scheduler.WarmupMS < 0 {
		return errors.New("scheduler.warmup_ms must be >= 0")
	}
	if cfg.Scheduler.MinIntervalMS <= 0 {
		return errors.New("scheduler.min_interval_ms must be positive")
	}
	if cfg.Scheduler.MaxIntervalMS < cfg.Scheduler.MinIntervalMS {
		return errors.New("scheduler.max_interval_ms must be >= min_interval_ms")
	}
	if cfg.Scheduler.PartialWindowMS < 0 {
		return errors.New("scheduler.partial_window_ms must be >= 0")
	}
	if cfg.Scheduler.FinalTimeoutMS <= 0 || cfg.Scheduler.SubmitTimeoutMS <= 0 {
		return errors.New("scheduler timeouts must be positive")
	}
	switch cfg.STT.Mode {
	case "mock", "exec", "bus", "google", "whisper":
	default:
		return errors.New("stt.mode must be one of mock|exec|bus|google|whisper")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.STT.Mode == "whisper" && cfg.STT.ModelPath == "" {
		return errors.New("stt.model_path must be set when mode=whisper")
	}
	if (cfg.STT.Mode == "bus" || cfg.STT.Worker) && !cfg.Bus.Enabled {
		return errors.New("bus.enabled must be true when stt.mode=bus or stt.worker is set")
	}
	if cfg.STT.Mode == "bus" && cfg.STT.Worker {
		return errors.New("stt.worker cannot serve requests with stt.mode=bus")
	}
	if cfg.STT.LoadTimeoutMS <= 0 {
		return errors.New("stt.load_timeout_ms must be positive")
	}
	switch cfg.Sink.Mode {
	case "clipboard", "stdout", "none":
	default:
		return errors.New("sink.mode must be one of clipboard|stdout|none")
	}
	switch cfg.Sink.PasteModifier {
	case "super", "ctrl":
	default:
		return errors.New("sink.paste_modifier must be one of super|ctrl")
	}
	if (cfg.Trigger.Bus || cfg.Notify.Bus) && !cfg.Bus.Enabled {
		return errors.New("bus.enabled must be true when the bus trigger or bus notifications are enabled")
	}
	if (cfg.Trigger.HTTP || cfg.Notify.WebSocket) && !cfg.HTTP.Enabled {
		return errors.New("http.enabled must be true when the http trigger or websocket notifications are enabled")
	}
	return nil
}
