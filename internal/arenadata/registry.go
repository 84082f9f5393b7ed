package arenadata

import (
	"sync"
	"time"

	"github.com/gigamon-dev/SubspaceServer-sub009/internal/broker"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/extradata"
)

const (
	defaultStateTickPeriod = 20 * time.Millisecond
	defaultReaperPeriod    = 1700 * time.Millisecond
)

// ModuleLoader attaches/detaches named modules to an arena, per the
// "Modules:AttachModules" setting read between WaitHolds0 and DoInit1
// (spec §4.8.2). The real implementation lives in an external
// component; this interface is the core's boundary onto it.
type ModuleLoader interface {
	AttachModules(a *Arena, names []string) error
	DetachModules(a *Arena, names []string) error
}

// ConfigSource resolves the "Modules:AttachModules" setting (and any
// other per-arena config) for an arena being initialized. The real
// implementation is internal/config; this is the narrow slice the
// arena scheduler needs.
type ConfigSource interface {
	OpenArenaConfig(arenaName string) (handle any, attachModules []string, err error)
}

// Registry owns Arena objects (spec §4.5) and drives their life-cycle
// state machines on a periodic tick.
type Registry struct {
	mu     sync.RWMutex
	arenas map[int]*Arena
	byName map[string]*Arena
	nextID int

	globalBroker *broker.Broker
	brokers      map[int]*broker.Broker

	extra *extradata.Store

	loader ModuleLoader
	config ConfigSource

	resurrect map[string]bool // arena names flagged to re-create after DoDestroy2
}

// NewRegistry creates an empty arena registry attached to globalBroker.
func NewRegistry(globalBroker *broker.Broker, loader ModuleLoader, config ConfigSource) *Registry {
	return &Registry{
		arenas:       make(map[int]*Arena),
		byName:       make(map[string]*Arena),
		globalBroker: globalBroker,
		brokers:      make(map[int]*broker.Broker),
		extra:        extradata.NewStore(),
		loader:       loader,
		config:       config,
		resurrect:    make(map[string]bool),
		nextID:       1,
	}
}

// Find returns the arena named name if it is Running, else nil.
func (r *Registry) Find(name string) *Arena {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[name]
	if !ok || a.State() != Running {
		return nil
	}
	return a
}

// ExtraData returns the shared per-arena extra-data store.
func (r *Registry) ExtraData() *extradata.Store { return r.extra }

// BrokerFor returns the arena-scoped broker for a, creating it if this
// is the arena's first time through DoInit0.
func (r *Registry) BrokerFor(a *Arena) *broker.Broker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.brokers[a.id]
	if !ok {
		b = broker.NewChild(r.globalBroker)
		r.brokers[a.id] = b
	}
	return b
}

// CreateOrGet returns the Running or in-progress arena for name,
// creating a fresh one in Uninitialized state if none exists. This is
// the entry point used by SendToArena / the connector when a player
// requests an arena that may not exist yet.
func (r *Registry) CreateOrGet(name string) (*Arena, error) {
	parsed, ok := ParseName(name)
	if !ok {
		return nil, errInvalidName(name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.byName[name]; ok {
		return a, nil
	}

	id := r.nextID
	r.nextID++
	a := newArena(id, name, parsed, r.extra)
	r.arenas[id] = a
	r.byName[name] = a
	r.extra.Adopt(id)
	return a, nil
}

// AddHold / RemoveHold gate WaitHolds0/1/2 advance, mirroring
// playerdata's contract.
func (r *Registry) AddHold(a *Arena) {
	r.mu.Lock()
	a.holds++
	r.mu.Unlock()
}

func (r *Registry) RemoveHold(a *Arena) {
	r.mu.Lock()
	if a.holds > 0 {
		a.holds--
	}
	r.mu.Unlock()
}

// FlagResurrect marks name so that, once its current arena finishes
// tearing down (DoDestroy2), the state tick sends it back to DoInit0
// instead of Destroyed — the "resurrect" rule of spec §4.5, used when
// a player is actively trying to enter an arena that is closing.
func (r *Registry) FlagResurrect(name string) {
	r.mu.Lock()
	r.resurrect[name] = true
	r.mu.Unlock()
}

func (r *Registry) takeResurrect(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resurrect[name] {
		delete(r.resurrect, name)
		return true
	}
	return false
}

type errInvalidName string

func (e errInvalidName) Error() string { return "arenadata: invalid arena name: " + string(e) }

// Each calls fn for every arena under a read lock.
func (r *Registry) Each(fn func(*Arena)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.arenas {
		fn(a)
	}
}

func (r *Registry) remove(a *Arena) {
	r.mu.Lock()
	delete(r.arenas, a.id)
	delete(r.byName, a.name)
	delete(r.brokers, a.id)
	r.mu.Unlock()
	r.extra.Forget(a.id)
}
