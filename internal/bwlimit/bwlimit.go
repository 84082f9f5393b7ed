// Package bwlimit implements the per-peer bandwidth shaping contract
// of spec §4.2 (component C2): a monotone, work-conserving credit
// scheme over the five outbound priority classes, with additive-
// increase / multiplicative-decrease adjustment driven by ack/retry
// feedback.
package bwlimit

import (
	"sync"
	"time"
)

// Priority mirrors the five outbound classes from spec §4.3.2,
// lowest first.
type Priority int

const (
	UnreliableLow Priority = iota
	Unreliable
	UnreliableHigh
	Reliable
	Ack
	numPriorities
)

// reserveFrac is how much of one tick's credit budget a class at each
// priority may consume per check; higher-priority traffic reserves
// fewer credits so low-priority bulk traffic doesn't starve it.
var reserveFrac = [numPriorities]float64{
	UnreliableLow:  1.0,
	Unreliable:     0.9,
	UnreliableHigh: 0.75,
	Reliable:       0.5,
	Ack:            0.1,
}

const (
	initialBytesPerSec = 20_000.0
	floorBytesPerSec   = 2_000.0
	ceilBytesPerSec    = 2_000_000.0

	// multiplicative decrease on retry, additive increase per ack.
	decreaseFactor  = 0.85
	increaseBytesPS = 1_500.0
)

// Limiter is a single peer's bandwidth budget. The zero value is not
// usable; use New.
type Limiter struct {
	mu sync.Mutex

	rate    float64 // effective bytes/sec, clamped to [floor, ceil]
	credit  float64 // accumulated byte-credits, capped at one second's worth
	lastTick time.Time

	// how many reliable packets beyond the last acked sequence number
	// may be in flight at once; grows with a healthy rate estimate.
	reliableWindowBase int
}

// New creates a Limiter starting at the initial conservative rate.
func New(now time.Time) *Limiter {
	return &Limiter{
		rate:               initialBytesPerSec,
		lastTick:           now,
		reliableWindowBase: 4,
	}
}

// Tick advances credit accumulation since the last tick. Credits are
// capped at one second's worth of the current rate so a long-idle
// peer cannot burst unboundedly once it resumes sending.
func (l *Limiter) Tick(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tickLocked(now)
}

func (l *Limiter) tickLocked(now time.Time) {
	dt := now.Sub(l.lastTick).Seconds()
	if dt <= 0 {
		return
	}
	l.lastTick = now
	l.credit += l.rate * dt
	if cap := l.rate; l.credit > cap {
		l.credit = cap
	}
}

// Check reports whether a send of size bytes at priority pri is
// currently within budget. It does not deduct credit; call Spend after
// the send actually happens (Check/Spend are split so the caller can
// decide to drop a droppable packet without charging the budget for a
// refused send).
func (l *Limiter) Check(now time.Time, size int, pri Priority) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tickLocked(now)
	return l.credit >= float64(size)*reserveFrac[pri]
}

// Spend deducts the full size (not the reserved fraction) from the
// credit pool for a send that was allowed by Check.
func (l *Limiter) Spend(size int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit -= float64(size)
	if l.credit < 0 {
		l.credit = 0
	}
}

// AdjustForAck widens the estimated effective bandwidth (additive
// increase), used whenever a reliable packet is acked.
func (l *Limiter) AdjustForAck() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rate += increaseBytesPS
	if l.rate > ceilBytesPerSec {
		l.rate = ceilBytesPerSec
	}
	if l.reliableWindowBase < 64 {
		l.reliableWindowBase++
	}
}

// AdjustForRetry narrows the estimated effective bandwidth
// (multiplicative decrease), used on a reliable retransmit.
func (l *Limiter) AdjustForRetry() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rate *= decreaseFactor
	if l.rate < floorBytesPerSec {
		l.rate = floorBytesPerSec
	}
	if l.reliableWindowBase > 1 {
		l.reliableWindowBase /= 2
	}
}

// CanBufferReliableAhead reports how many reliable packets past the
// last-acked sequence number may be queued right now. The count starts
// at 4, grows by one per ack (up to 64) and halves on each retry (never
// below 1), so a
// steadily acking peer gets a deeper pipeline.
func (l *Limiter) CanBufferReliableAhead() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reliableWindowBase
}

// Rate returns the current effective rate estimate, for diagnostics.
func (l *Limiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}
