package playerdata

import (
	"sync"

	"github.com/gigamon-dev/SubspaceServer-sub009/internal/extradata"
)

// Registry allocates, looks up, and owns Player objects (spec §4.4).
// Ids are reused only after a player clears TimeWait (spec §3).
type Registry struct {
	mu      sync.RWMutex
	players map[int]*Player
	free    []int
	nextID  int

	extra *extradata.Store
}

// NewRegistry creates an empty player registry.
func NewRegistry() *Registry {
	return &Registry{
		players: make(map[int]*Player),
		extra:   extradata.NewStore(),
		nextID:  1,
	}
}

// New allocates a new player, reusing an id freed by a prior FreeID
// call (i.e. a player that reached TimeWait) when available.
func (r *Registry) New() *Player {
	r.mu.Lock()
	defer r.mu.Unlock()

	var id int
	if n := len(r.free); n > 0 {
		id = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		id = r.nextID
		r.nextID++
	}

	p := newPlayer(id, r.extra)
	r.players[id] = p
	r.extra.Adopt(id)
	return p
}

// FreeID releases id back to the allocator. Callers must only invoke
// this once the corresponding player has reached TimeWait and is being
// removed from the registry (spec §3: "reused after TimeWait").
func (r *Registry) FreeID(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.players[id]; !ok {
		return
	}
	delete(r.players, id)
	r.extra.Forget(id)
	r.free = append(r.free, id)
}

// Get looks up a player by id.
func (r *Registry) Get(id int) (*Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	return p, ok
}

// Each calls fn for every player under a read lock. fn must not call
// back into Registry methods that take the write lock (New/FreeID) or
// it will deadlock; this mirrors the "read-lock, iterate, unlock"
// contract of spec §4.4.
func (r *Registry) Each(fn func(*Player)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.players {
		fn(p)
	}
}

// Count returns the number of live players.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// ExtraData returns the shared extra-data store, for use with
// extradata.Allocate / Get / Set / Free.
func (r *Registry) ExtraData() *extradata.Store { return r.extra }

// ArenaPopulations counts, per arena name, (total, playing) across
// every live player: total is anyone currently assigned to that arena
// at all (spec §4.7's DoFreqAndArenaSync through LeavingArena states),
// playing is the subset actually in the Playing state. The arena
// scheduler's reaper uses this to decide whether an arena is truly
// empty (spec §4.5), since nothing else in the registry tracks
// per-arena counts on its own.
func (r *Registry) ArenaPopulations() map[string][2]int {
	counts := make(map[string][2]int)
	r.Each(func(p *Player) {
		if p.Arena == nil {
			return
		}
		name := p.Arena.Name()
		c := counts[name]
		c[0]++
		if p.State() == Playing {
			c[1]++
		}
		counts[name] = c
	})
	return counts
}

// ArenaOccupiedFreqs returns, per arena name, the set of freqs with at
// least one player currently on them. The arena scheduler's
// team-target pruner (spec §9's "pruned when freq becomes empty")
// uses this to decide which cached targets are still live.
func (r *Registry) ArenaOccupiedFreqs() map[string]map[int16]bool {
	out := make(map[string]map[int16]bool)
	r.Each(func(p *Player) {
		if p.Arena == nil {
			return
		}
		name := p.Arena.Name()
		set, ok := out[name]
		if !ok {
			set = make(map[int16]bool)
			out[name] = set
		}
		set[p.Freq] = true
	})
	return out
}

// --- life-cycle transitions: serialized per player by requiring the
// registry's write lock for any state change (spec §5: "Player
// state-machine transitions are serialized per player"). ---

// SetState forces p into state st. Used by the orchestrator (C7),
// which is the sole owner of valid transitions; Registry itself does
// not validate the state graph (that lives in package connector).
func (r *Registry) SetState(p *Player, st State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.state = st
}

// AddHold increments p's hold counter. Transition out of
// WaitConnectHolds or WaitDisconnectHolds is gated on holds == 0.
func (r *Registry) AddHold(p *Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.holds++
}

// RemoveHold decrements p's hold counter. It is a logic error to drop
// below zero; callers must pair every AddHold with exactly one
// RemoveHold.
func (r *Registry) RemoveHold(p *Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.holds > 0 {
		p.holds--
	}
}
