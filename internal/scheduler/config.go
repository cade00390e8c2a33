package scheduler

import (
	"errors"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// Config controls cadence and request bounds.
type Config struct {
	// Streaming enables partial transcripts. When false the scheduler goes
	// straight from Armed to Finalizing and issues only the final request.
	Streaming      bool
	Warmup         time.Duration
	Poll           time.Duration
	MinInterval    time.Duration
	MaxInterval    time.Duration
	MinProcessable time.Duration
	// PartialWindow bounds the audio sent with partial requests. Zero sends
	// the whole buffer.
	PartialWindow time.Duration
	SubmitTimeout time.Duration
	FinalTimeout  time.Duration
}

func DefaultConfig() Config {
	return FromConfig(config.Default().Scheduler)
}

func FromConfig(cfg config.SchedulerConfig) Config {
	return Config{
		Streaming:      cfg.Streaming,
		Warmup:         ms(cfg.WarmupMS),
		Poll:           ms(cfg.PollMS),
		MinInterval:    ms(cfg.MinIntervalMS),
		MaxInterval:    ms(cfg.MaxIntervalMS),
		MinProcessable: ms(cfg.MinProcessableMS),
		PartialWindow:  ms(cfg.PartialWindowMS),
		SubmitTimeout:  ms(cfg.SubmitTimeoutMS),
		FinalTimeout:   ms(cfg.FinalTimeoutMS),
	}
}

func (c Config) Validate() error {
	if c.Poll <= 0 {
		return errors.New("scheduler poll interval must be positive")
	}
	if c.MinInterval <= 0 || c.MaxInterval < c.MinInterval {
		return errors.New("scheduler intervals must satisfy 0 < min <= max")
	}
	if c.Warmup < 0 || c.MinProcessable < 0 || c.PartialWindow < 0 {
		return errors.New("scheduler durations must not be negative")
	}
	return nil
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
