package arenadata

import (
	"time"

	"github.com/gigamon-dev/SubspaceServer-sub009/internal/broker"
)

// PopulationSource supplies live per-arena player counts and per-freq
// occupancy so the reaper and the team-target pruner see real state
// instead of whatever was last pushed by hand. The real implementation
// is playerdata.Registry.
type PopulationSource interface {
	// ArenaPopulations returns, per arena name, (total, playing).
	ArenaPopulations() map[string][2]int
	// ArenaOccupiedFreqs returns, per arena name, the set of freqs
	// with at least one player currently on them.
	ArenaOccupiedFreqs() map[string]map[int16]bool
}

// Scheduler drives the periodic state tick and reaper described in
// spec §4.5. It holds no goroutines of its own; mainloop (C6) calls
// Tick and Reap on its own timers, matching spec §4.6's "single
// cooperative scheduler" design and the "state-machine transitions are
// serialized per arena" guarantee from spec §5 (both run on the
// mainloop thread, never concurrently with each other).
type Scheduler struct {
	reg *Registry
	pop PopulationSource
}

// NewScheduler creates a Scheduler over reg. pop may be nil, in which
// case arena populations are only ever those explicitly pushed via
// Arena.SetPopulations (used by tests that manage populations by
// hand); cmd/zoneserver passes playerdata.Registry so the reaper sees
// real counts.
func NewScheduler(reg *Registry, pop PopulationSource) *Scheduler {
	return &Scheduler{reg: reg, pop: pop}
}

// refreshPopulations pulls a fresh total/playing count per arena name
// from pop and pushes it into every matching Arena, so Populations()
// (and thus Reap) never lags behind actual player state.
func (s *Scheduler) refreshPopulations() {
	if s.pop == nil {
		return
	}
	counts := s.pop.ArenaPopulations()
	s.reg.Each(func(a *Arena) {
		c := counts[a.Name()]
		a.SetPopulations(c[0], c[1])
	})
}

// pruneTeamTargets gives every arena's team-target cache a chance to
// drop entries for freqs nobody occupies anymore, per the cadence
// DESIGN.md settled on: every 30s, or sooner if the arena's population
// has swung by more than 8 since its last prune.
func (s *Scheduler) pruneTeamTargets(now time.Time) {
	if s.pop == nil {
		return
	}
	occupied := s.pop.ArenaOccupiedFreqs()
	s.reg.Each(func(a *Arena) {
		total, _ := a.Populations()
		a.MaybePruneTeamTargets(now, total, occupied[a.Name()])
	})
}

// StateTickPeriod and ReaperPeriod are the default mainloop timer
// periods from spec §4.5 ("default 20 ms" / "default 1.7 s").
func (s *Scheduler) StateTickPeriod() time.Duration { return defaultStateTickPeriod }
func (s *Scheduler) ReaperPeriod() time.Duration    { return defaultReaperPeriod }

// Tick advances every arena's state machine by at most one step. It
// never blocks: states that need asynchronous work (DoInit0,
// WaitHolds0/1/2, DoInit1/2, DoDestroy1/2, WaitSync1/2) only check
// whether that work has completed and otherwise return immediately.
func (s *Scheduler) Tick(now time.Time) {
	s.refreshPopulations()
	s.pruneTeamTargets(now)

	// step takes the registry's write lock (BrokerFor, takeResurrect),
	// so it runs on a snapshot taken under Each's read lock.
	var all []*Arena
	s.reg.Each(func(a *Arena) { all = append(all, a) })

	var toRemove []*Arena
	for _, a := range all {
		if s.step(a, now) {
			if a.state == Destroyed {
				toRemove = append(toRemove, a)
			}
		}
	}
	for _, a := range toRemove {
		s.reg.remove(a)
	}
}

// step advances a by one state if it can, and reports whether a
// transition occurred.
func (s *Scheduler) step(a *Arena, now time.Time) bool {
	switch a.state {
	case Uninitialized:
		a.state = DoInit0
		return true

	case DoInit0:
		if s.reg.config != nil {
			handle, attach, err := s.reg.config.OpenArenaConfig(a.name)
			if err == nil {
				a.persistHandle = handle
				a.pendingAttach = attach
			}
		}
		b := s.reg.BrokerFor(a)
		broker.InvokeCallback(b, ActionEvent{Arena: a, Action: PreCreate})
		a.state = WaitHolds0
		return true

	case WaitHolds0:
		if a.holds > 0 {
			return false
		}
		if s.reg.loader != nil && len(a.pendingAttach) > 0 {
			_ = s.reg.loader.AttachModules(a, a.pendingAttach)
		}
		a.state = DoInit1
		return true

	case DoInit1:
		b := s.reg.BrokerFor(a)
		broker.InvokeCallback(b, ActionEvent{Arena: a, Action: Create})
		a.state = WaitHolds1
		return true

	case WaitHolds1:
		if a.holds > 0 {
			return false
		}
		a.state = DoInit2
		return true

	case DoInit2:
		if a.persistHandle != nil {
			a.BeginSync1()
			a.state = WaitSync1
		} else {
			a.state = Running
		}
		return true

	case WaitSync1:
		// CompleteSync1 clears waitingSync1; here we just check the
		// flag.
		if a.waitingSync1 {
			return false
		}
		a.state = Running
		return true

	case Running:
		return false // advance only via Close() / reaper

	case Closing:
		a.state = DoWriteData
		return true

	case DoWriteData:
		if a.persistHandle != nil {
			a.BeginSync2()
			a.state = WaitSync2
		} else {
			a.state = DoDestroy1
		}
		return true

	case WaitSync2:
		if a.waitingSync2 {
			return false
		}
		a.state = DoDestroy1
		return true

	case DoDestroy1:
		b := s.reg.BrokerFor(a)
		broker.InvokeCallback(b, ActionEvent{Arena: a, Action: Destroy})
		a.state = WaitHolds2
		return true

	case WaitHolds2:
		if a.holds > 0 {
			return false
		}
		if s.reg.loader != nil && len(a.pendingAttach) > 0 {
			_ = s.reg.loader.DetachModules(a, a.pendingAttach)
		}
		a.state = DoDestroy2
		return true

	case DoDestroy2:
		b := s.reg.BrokerFor(a)
		broker.InvokeCallback(b, ActionEvent{Arena: a, Action: PostDestroy})
		if s.reg.takeResurrect(a.name) {
			a.state = DoInit0
		} else {
			a.state = Destroyed
		}
		return true

	default:
		return false
	}
}

// Close requests a as Running transition into the teardown path.
func (s *Scheduler) Close(a *Arena) {
	if a.state == Running {
		a.state = Closing
	}
}

// Reap marks empty, non-keep-alive arenas for teardown (spec §4.5,
// default period 1.7s). If a player is currently trying to enter an
// arena flagged for reap, the caller is expected to have already
// called Registry.FlagResurrect so the arena re-creates itself after
// DoDestroy2 instead of vanishing out from under the entrant.
func (s *Scheduler) Reap(now time.Time) {
	s.refreshPopulations()
	s.reg.Each(func(a *Arena) {
		if a.state != Running || a.keepAlive {
			return
		}
		total, _ := a.Populations()
		if total == 0 {
			s.Close(a)
		}
	})
}
