// Package arenadata implements the arena registry and scheduler (spec
// §4.5, component C5): arena objects, name parsing (name.go), arena
// extra-data slots, the periodic state-machine tick, and the reaper.
package arenadata

import (
	"sync"
	"time"

	"github.com/gigamon-dev/SubspaceServer-sub009/internal/extradata"
)

// State is the arena life-cycle state machine from spec §4.8.1.
type State int

const (
	Uninitialized State = iota
	DoInit0
	WaitHolds0
	DoInit1
	WaitHolds1
	DoInit2
	WaitSync1
	Running
	Closing
	DoWriteData
	WaitSync2
	DoDestroy1
	WaitHolds2
	DoDestroy2
	Destroyed
)

func (s State) String() string {
	names := [...]string{
		"Uninitialized", "DoInit0", "WaitHolds0", "DoInit1", "WaitHolds1",
		"DoInit2", "WaitSync1", "Running", "Closing", "DoWriteData",
		"WaitSync2", "DoDestroy1", "WaitHolds2", "DoDestroy2", "Destroyed",
	}
	if int(s) < 0 || int(s) >= len(names) {
		return "Unknown"
	}
	return names[s]
}

// Action is the enum tag for broker events fired at fixed life-cycle
// points (spec §4.8.2).
type Action int

const (
	PreCreate Action = iota
	ConfChanged
	Create
	Destroy
	PostDestroy
)

// ActionEvent is broadcast through the broker whenever an arena fires
// one of the Action points.
type ActionEvent struct {
	Arena  *Arena
	Action Action
}

// TeamTarget is a memoized, immutable per-freq targeting object
// (spec §3: "Team targets"). It is opaque to this package; components
// populate it however their targeting logic requires.
type TeamTarget struct {
	Freq int16
	Data any
}

// Arena is owned exclusively by Registry (spec §3).
type Arena struct {
	id   int
	name string
	ParsedName

	state     State
	persistHandle any // nil until DoInit0 completes; opaque to this package
	pendingAttach []string
	waitingSync1  bool
	waitingSync2  bool
	holds     int
	keepAlive bool

	mu       sync.RWMutex
	total    int
	playing  int

	teamTargets map[int16]*TeamTarget

	extra *extradata.Store

	// lastPruneAt / populationAtLastPrune support the team-target
	// prune cadence decided in DESIGN.md (prune every 30s or on a
	// population swing of more than 8 since the last prune, whichever
	// comes first).
	lastPruneAt           time.Time
	populationAtLastPrune int
}

func newArena(id int, name string, parsed ParsedName, extra *extradata.Store) *Arena {
	return &Arena{
		id:          id,
		name:        name,
		ParsedName:  parsed,
		state:       Uninitialized,
		teamTargets: make(map[int16]*TeamTarget),
		extra:       extra,
	}
}

// Name returns the arena's full name, satisfying playerdata.ArenaHandle.
func (a *Arena) Name() string { return a.name }

// ID returns the arena's registry id.
func (a *Arena) ID() int { return a.id }

// State returns the arena's current life-cycle state.
func (a *Arena) State() State { return a.state }

// Holds returns the current hold counter.
func (a *Arena) Holds() int { return a.holds }

// KeepAlive reports whether this arena is permanent (skips the
// reaper).
func (a *Arena) KeepAlive() bool { return a.keepAlive }

// SetKeepAlive marks the arena permanent or not.
func (a *Arena) SetKeepAlive(v bool) { a.keepAlive = v }

// Populations returns (total, playing) under a short lock, per the
// "readers take a short lock" contract in spec §3.
func (a *Arena) Populations() (total, playing int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.total, a.playing
}

// SetPopulations is called by the arena manager to refresh counts.
func (a *Arena) SetPopulations(total, playing int) {
	a.mu.Lock()
	a.total, a.playing = total, playing
	a.mu.Unlock()
}

// ExtraData returns the per-arena extra-data store.
func (a *Arena) ExtraData() *extradata.Store { return a.extra }

// BeginSync1 / CompleteSync1 bracket the WaitSync1 persistence round
// trip (arena data load); BeginSync2 / CompleteSync2 bracket the
// WaitSync2 save. The persistence collaborator (internal/persist)
// calls Complete* from its own goroutine; the scheduler only reads the
// flag on its own tick, so no extra locking is needed beyond the
// happens-before edge the mainloop's work-queue post already provides.
func (a *Arena) BeginSync1()    { a.waitingSync1 = true }
func (a *Arena) CompleteSync1() { a.waitingSync1 = false }
func (a *Arena) BeginSync2()    { a.waitingSync2 = true }
func (a *Arena) CompleteSync2() { a.waitingSync2 = false }

// TeamTarget returns the memoized target for freq, creating one via
// newFn if absent.
func (a *Arena) TeamTarget(freq int16, newFn func() any) *TeamTarget {
	a.mu.Lock()
	defer a.mu.Unlock()
	tt, ok := a.teamTargets[freq]
	if !ok {
		tt = &TeamTarget{Freq: freq, Data: newFn()}
		a.teamTargets[freq] = tt
	}
	return tt
}

// MaybePruneTeamTargets calls PruneEmptyTeamTargets when due, per the
// cadence DESIGN.md settled the team-target pruning Open Question
// with: every 30s, or sooner if total has swung by more than 8 since
// the last prune. now and total are supplied by the caller (the
// scheduler) rather than read internally.
func (a *Arena) MaybePruneTeamTargets(now time.Time, total int, occupiedFreqs map[int16]bool) {
	a.mu.Lock()
	due := a.lastPruneAt.IsZero() || now.Sub(a.lastPruneAt) >= 30*time.Second
	swung := intAbs(total-a.populationAtLastPrune) > 8
	shouldPrune := due || swung
	if shouldPrune {
		a.lastPruneAt = now
		a.populationAtLastPrune = total
	}
	a.mu.Unlock()

	if shouldPrune {
		a.PruneEmptyTeamTargets(occupiedFreqs)
	}
}

func intAbs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// PruneEmptyTeamTargets removes cached targets for freqs with no
// players, per spec §9's "pruned when freq becomes empty" invariant.
// occupiedFreqs is the current set of freqs with at least one player.
func (a *Arena) PruneEmptyTeamTargets(occupiedFreqs map[int16]bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for freq := range a.teamTargets {
		if !occupiedFreqs[freq] {
			delete(a.teamTargets, freq)
		}
	}
}
