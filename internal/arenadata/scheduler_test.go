package arenadata

import (
	"testing"
	"time"

	"github.com/gigamon-dev/SubspaceServer-sub009/internal/broker"
)

func newTestRegistry() (*Registry, *Scheduler) {
	reg := NewRegistry(broker.NewGlobal(), nil, nil)
	return reg, NewScheduler(reg, nil)
}

func runUntilState(t *testing.T, s *Scheduler, a *Arena, want State, maxSteps int) {
	t.Helper()
	now := time.Now()
	for i := 0; i < maxSteps; i++ {
		if a.State() == want {
			return
		}
		s.Tick(now)
	}
	t.Fatalf("arena stuck at %v after %d ticks, wanted %v", a.State(), maxSteps, want)
}

func TestArenaReachesRunningWithoutPersistence(t *testing.T) {
	reg, s := newTestRegistry()
	a, err := reg.CreateOrGet("duel3")
	if err != nil {
		t.Fatal(err)
	}
	runUntilState(t, s, a, Running, 20)
}

func TestHoldsBlockWaitHolds0(t *testing.T) {
	reg, s := newTestRegistry()
	a, _ := reg.CreateOrGet("duel3")
	reg.AddHold(a)

	now := time.Now()
	for i := 0; i < 10; i++ {
		s.Tick(now)
	}
	if a.State() != WaitHolds0 {
		t.Fatalf("expected stuck at WaitHolds0 while held, got %v", a.State())
	}
	reg.RemoveHold(a)
	runUntilState(t, s, a, Running, 10)
}

func TestReaperClosesEmptyArena(t *testing.T) {
	reg, s := newTestRegistry()
	a, _ := reg.CreateOrGet("duel3")
	runUntilState(t, s, a, Running, 20)

	a.SetPopulations(0, 0)
	s.Reap(time.Now())
	if a.State() != Closing {
		t.Fatalf("expected Closing after reap, got %v", a.State())
	}

	now := time.Now()
	for i := 0; i < 20 && a.State() != Destroyed; i++ {
		s.Tick(now)
	}
	if a.State() != Destroyed {
		t.Fatalf("expected Destroyed, got %v", a.State())
	}
}

func TestReaperSkipsKeepAlive(t *testing.T) {
	reg, s := newTestRegistry()
	a, _ := reg.CreateOrGet("0")
	runUntilState(t, s, a, Running, 20)
	a.SetKeepAlive(true)
	a.SetPopulations(0, 0)

	s.Reap(time.Now())
	if a.State() != Running {
		t.Fatalf("expected keep-alive arena to stay Running, got %v", a.State())
	}
}

func TestResurrectAfterDestroy(t *testing.T) {
	reg, s := newTestRegistry()
	a, _ := reg.CreateOrGet("duel3")
	runUntilState(t, s, a, Running, 20)

	reg.FlagResurrect("duel3")
	s.Close(a)

	now := time.Now()
	for i := 0; i < 20; i++ {
		s.Tick(now)
		if a.State() == DoInit0 {
			break
		}
	}
	if a.State() != DoInit0 {
		t.Fatalf("expected resurrect to route back to DoInit0, got %v", a.State())
	}
}
