package bwlimit

import (
	"testing"
	"time"
)

func TestCheckRespectsBudget(t *testing.T) {
	now := time.Now()
	l := New(now)
	// give it one full second of credit at the initial rate
	l.Tick(now.Add(time.Second))

	if !l.Check(now.Add(time.Second), 100, Ack) {
		t.Fatal("expected small ack send to be within budget")
	}
	if l.Check(now.Add(time.Second), int(ceilBytesPerSec), UnreliableLow) {
		t.Fatal("expected oversized low-priority send to be refused")
	}
}

func TestRetryDecreasesAckIncreasesRate(t *testing.T) {
	now := time.Now()
	l := New(now)
	start := l.Rate()

	l.AdjustForRetry()
	if l.Rate() >= start {
		t.Fatalf("expected rate to decrease after retry, got %v from %v", l.Rate(), start)
	}

	afterRetry := l.Rate()
	l.AdjustForAck()
	if l.Rate() <= afterRetry {
		t.Fatalf("expected rate to increase after ack, got %v from %v", l.Rate(), afterRetry)
	}
}

func TestRateStaysWithinFloorAndCeiling(t *testing.T) {
	now := time.Now()
	l := New(now)
	for i := 0; i < 10_000; i++ {
		l.AdjustForRetry()
	}
	if l.Rate() < floorBytesPerSec {
		t.Fatalf("rate fell below floor: %v", l.Rate())
	}
	for i := 0; i < 10_000; i++ {
		l.AdjustForAck()
	}
	if l.Rate() > ceilBytesPerSec {
		t.Fatalf("rate exceeded ceiling: %v", l.Rate())
	}
}

func TestReliableWindowGrowsAndShrinks(t *testing.T) {
	now := time.Now()
	l := New(now)
	base := l.CanBufferReliableAhead()

	l.AdjustForAck()
	grown := l.CanBufferReliableAhead()
	if grown <= base {
		t.Fatal("expected window to grow on ack")
	}

	l.AdjustForRetry()
	if l.CanBufferReliableAhead() >= grown {
		t.Fatal("expected window to shrink on retry")
	}
}
