package scheduler

import (
	"time"

	"github.com/loqalabs/loqa-dictate/internal/vad"
)

// Decision is the outcome of one tick.
type Decision struct {
	// Evaluated is false when too little audio was buffered to classify.
	Evaluated bool
	Speech    bool
	Submit    bool
}

// Planner decides when to submit: every MinInterval while speech is
// detected and every MaxInterval otherwise. It holds no timers so it can be
// driven by a synthetic clock.
type Planner struct {
	minInterval    time.Duration
	maxInterval    time.Duration
	minProcessable time.Duration
	vad            *vad.Estimator
	last           time.Time
}

// NewPlanner starts the cadence at start, which counts as the previous
// submission.
func NewPlanner(cfg Config, est *vad.Estimator, start time.Time) *Planner {
	return &Planner{
		minInterval:    cfg.MinInterval,
		maxInterval:    cfg.MaxInterval,
		minProcessable: cfg.MinProcessable,
		vad:            est,
		last:           start,
	}
}

// Next classifies recent and reports whether a request is due at now.
func (p *Planner) Next(now time.Time, buffered time.Duration, recent []float32) Decision {
	if buffered < p.minProcessable || buffered == 0 {
		return Decision{}
	}
	speech := p.vad.Classify(recent)
	interval := p.maxInterval
	if speech {
		interval = p.minInterval
	}
	return Decision{Evaluated: true, Speech: speech, Submit: now.Sub(p.last) >= interval}
}

// Submitted records a request issued at now.
func (p *Planner) Submitted(now time.Time) {
	p.last = now
}

// Window is how much trailing audio Next expects.
func (p *Planner) Window() time.Duration {
	return p.vad.Window()
}
