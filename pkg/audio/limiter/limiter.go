// Package limiter implements a streaming peak limiter: a single-pole envelope
// follower that smooths a per-sample gain so the output amplitude stays at or
// below a threshold.
//
// The gain state carries from one sample to the next, so a [Limiter] is a
// causal filter: buffers must be processed in stream order, and one Limiter
// must not be shared between streams. A Limiter is not safe for concurrent use.
package limiter

import "math"

// Default parameters used by the capture source when a session starts.
const (
	DefaultThresholdDB = -60
	DefaultAttackMs    = 5
	DefaultReleaseMs   = 50
)

// Limiter holds the envelope state of one stream.
type Limiter struct {
	threshold    float32 // linear amplitude threshold
	attackCoeff  float32 // smoothing applied while gain is being reduced
	releaseCoeff float32 // smoothing applied while gain recovers
	gain         float32 // current smoothed gain, in (0, 1]
}

// New returns a Limiter initialised by [Limiter.Init].
func New(thresholdDB, attackMs, releaseMs, sampleRate float64) *Limiter {
	l := &Limiter{}
	l.Init(thresholdDB, attackMs, releaseMs, sampleRate)
	return l
}

// Init (re)initialises the limiter. The decibel threshold is converted to a
// linear amplitude, the attack and release times become exponential smoothing
// coefficients exp(-1/(t·rate)), and the gain is reset to unity.
func (l *Limiter) Init(thresholdDB, attackMs, releaseMs, sampleRate float64) {
	l.threshold = float32(math.Pow(10, thresholdDB/20))
	l.attackCoeff = float32(math.Exp(-1 / (attackMs / 1000 * sampleRate)))
	l.releaseCoeff = float32(math.Exp(-1 / (releaseMs / 1000 * sampleRate)))
	l.gain = 1
}

// ProcessSample advances the envelope by one sample and returns x scaled by
// the updated gain.
func (l *Limiter) ProcessSample(x float32) float32 {
	a := float32(math.Abs(float64(x)))

	desired := float32(1)
	if a > l.threshold/l.gain {
		desired = l.threshold / a
	}

	// Falling gain means the signal got louder: clamp fast. Otherwise release slowly.
	coeff := l.releaseCoeff
	if desired < l.gain {
		coeff = l.attackCoeff
	}

	l.gain = coeff*l.gain + (1-coeff)*desired
	return x * l.gain
}

// ProcessBuffer applies [Limiter.ProcessSample] to every element of buf in
// place, left to right.
func (l *Limiter) ProcessBuffer(buf []float32) {
	for i, x := range buf {
		buf[i] = l.ProcessSample(x)
	}
}

// Gain returns the current smoothed gain.
func (l *Limiter) Gain() float32 {
	return l.gain
}

// Threshold returns the linear amplitude threshold.
func (l *Limiter) Threshold() float32 {
	return l.threshold
}

// Coefficients returns the attack and release smoothing coefficients.
func (l *Limiter) Coefficients() (attack, release float32) {
	return l.attackCoeff, l.releaseCoeff
}
