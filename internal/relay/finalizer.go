package relay

import (
	"context"
	"time"
)

// Finalize reasons, also used as metric labels
const (
	ReasonSilence    = "silence"
	ReasonMaxSegment = "max_segment"
)

// FinalizerConfig holds the finalize policy for one session
type FinalizerConfig struct {
	Tick       time.Duration // Check interval
	Silence    time.Duration // Gap without audio that triggers a finalize
	MaxSegment time.Duration // Open segment age that triggers a finalize, 0 disables
}

// Finalizer asks the upstream to end the current utterance when the client
// goes quiet or a segment runs too long. It only sends hints; the segment
// itself ends when the provider answers with a boundary marker.
type Finalizer struct {
	config FinalizerConfig

	lastAudio     func() time.Time
	segmentOpened func() time.Time
	finalize      func(reason string) error
	now           func() time.Time

	// Only touched by the goroutine calling Check
	lastFired    time.Time
	lastMaxFired time.Time
}

// NewFinalizer creates a finalizer. lastAudio returns the time the last
// audio chunk arrived. segmentOpened returns when the current segment first
// showed text, or the zero time when none is open.
func NewFinalizer(cfg FinalizerConfig, lastAudio, segmentOpened func() time.Time, finalize func(reason string) error) *Finalizer {
	if segmentOpened == nil {
		segmentOpened = func() time.Time { return time.Time{} }
	}
	return &Finalizer{
		config:        cfg,
		lastAudio:     lastAudio,
		segmentOpened: segmentOpened,
		finalize:      finalize,
		now:           time.Now,
	}
}

// Check runs one tick. It fires at most one directive per call.
func (f *Finalizer) Check() {
	now := f.now()

	ref := f.lastAudio()
	if f.lastFired.After(ref) {
		ref = f.lastFired
	}
	if now.Sub(ref) > f.config.Silence {
		f.lastFired = now
		f.fire(ReasonSilence)
		return
	}

	if f.config.MaxSegment <= 0 {
		return
	}
	opened := f.segmentOpened()
	if opened.IsZero() {
		return
	}
	if f.lastMaxFired.After(opened) {
		opened = f.lastMaxFired
	}
	if now.Sub(opened) >= f.config.MaxSegment {
		f.lastMaxFired = now
		f.fire(ReasonMaxSegment)
	}
}

func (f *Finalizer) fire(reason string) {
	// A failed directive is not retried; the next period sends another
	_ = f.finalize(reason)
}

// Run checks on every tick until ctx is done
func (f *Finalizer) Run(ctx context.Context) {
	tick := f.config.Tick
	if tick <= 0 {
		tick = 500 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Check()
		}
	}
}
