// Package connector implements the connection orchestrator (spec §4.10,
// component C7): the single place that drives a player through the
// 21-state life cycle of spec §4.7, consulting the authenticator,
// persistence, and arena registry collaborators along the way. It is
// the glue between the transport's raw peer-up/peer-down events and
// the rest of the zone.
//
// Grounded on the teacher's connection/disconnection handling in
// networking/server/server.go (HandleConnect/HandleDisconnect run a
// client through a fixed setup/teardown sequence); generalized here
// into an explicit state machine because the target life cycle has
// many more steps, several of them asynchronous.
package connector

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gigamon-dev/SubspaceServer-sub009/internal/arenadata"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/auth"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/broker"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/mainloop"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/persist"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/playerdata"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/transport"
)

// ConnectEvent fires on the global broker once a player's global data
// has loaded, before WaitConnectHolds (spec §4.7's "DoGlobalCallbacks").
type ConnectEvent struct{ Player *playerdata.Player }

// DisconnectEvent fires on the global broker when a player begins
// leaving the zone.
type DisconnectEvent struct{ Player *playerdata.Player }

// EnterArenaEvent fires on the arena's broker (so arena-scoped handlers
// see it before global ones) once arena-scoped data has loaded, at
// ArenaRespAndCBS.
type EnterArenaEvent struct {
	Player *playerdata.Player
	Arena  *arenadata.Arena
}

// LeaveArenaEvent fires on the arena's broker when a player leaves an
// arena it was actually Playing in (the "notify peers: yes" row of the
// leave-while-entering table).
type LeaveArenaEvent struct {
	Player *playerdata.Player
	Arena  *arenadata.Arena
}

// EnterGameEvent fires on the arena's broker when the first position
// packet moves a player from ArenaRespAndCBS to Playing.
type EnterGameEvent struct {
	Player *playerdata.Player
	Arena  *arenadata.Arena
}

// LoginResponder lets an external protocol layer emit the actual
// login-response packet at SendLoginResponse; the wire format for that
// packet is a game-protocol concern outside this package's scope.
type LoginResponder func(p *playerdata.Player)

const (
	defaultHoldPollPeriod = 20 * time.Millisecond
	// defaultTimeWaitGrace is how long a player's id and endpoint entry
	// are held reserved after LeavingZone completes, before the slot is
	// eligible for reuse. spec.md doesn't number this; chosen to be
	// comfortably longer than a dropped ack's retry window so a player
	// reconnecting right after a transient timeout gets a clean new
	// player rather than racing the old one's teardown.
	defaultTimeWaitGrace = 5 * time.Second
)

// Orchestrator is the C7 connection orchestrator.
type Orchestrator struct {
	Players   *playerdata.Registry
	Arenas    *arenadata.Registry
	Store     persist.Store
	Auth      auth.Authenticator
	Loop      *mainloop.Loop
	Transport *transport.Server
	Global    *broker.Broker

	OnLoginResponse LoginResponder

	Log func(format string, args ...any)

	HoldPollPeriod time.Duration
	TimeWaitGrace  time.Duration

	mu        sync.Mutex
	endpoints map[string]*playerdata.Player
	peers     map[int]*transport.Peer
}

// New builds an Orchestrator over its collaborators and registers its
// hold-poll timer with loop. Callers still need to wire HandleNewPeer
// and HandleKick onto the transport.Server's OnNewPeer/OnKick fields.
func New(players *playerdata.Registry, arenas *arenadata.Registry, store persist.Store, authn auth.Authenticator, loop *mainloop.Loop, global *broker.Broker, tr *transport.Server, log func(string, ...any)) *Orchestrator {
	o := &Orchestrator{
		Players:        players,
		Arenas:         arenas,
		Store:          store,
		Auth:           authn,
		Loop:           loop,
		Transport:      tr,
		Global:         global,
		Log:            log,
		HoldPollPeriod: defaultHoldPollPeriod,
		TimeWaitGrace:  defaultTimeWaitGrace,
		endpoints:      make(map[string]*playerdata.Player),
		peers:          make(map[int]*transport.Peer),
	}
	loop.AddTimer(0, o.HoldPollPeriod, nil, func(any) bool {
		o.tick()
		return true
	})
	return o
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.Log != nil {
		o.Log(format, args...)
	}
}

// HandleNewPeer implements transport.NewPeerHook: the entry point into
// the player life cycle (spec §4.10).
func (o *Orchestrator) HandleNewPeer(addr *net.UDPAddr, l *transport.Listener) *transport.Peer {
	key := addr.String()

	o.mu.Lock()
	existing, known := o.endpoints[key]
	if known {
		if existing.State() != playerdata.Connected {
			o.mu.Unlock()
			o.logf("connector: refusing reconnect from %v, player %d is in state %v", addr, existing.ID, existing.State())
			return nil
		}
		peer := transport.NewPeer(addr, l, time.Now())
		peer.UserData = existing
		o.peers[existing.ID] = peer
		o.mu.Unlock()
		return peer
	}

	p := o.Players.New()
	p.Addr = addr
	o.Players.SetState(p, playerdata.Connected)
	o.endpoints[key] = p
	peer := transport.NewPeer(addr, l, time.Now())
	peer.UserData = p
	o.peers[p.ID] = peer
	o.mu.Unlock()

	return peer
}

// HandleKick implements transport.KickHook: the transport has decided
// this peer must be torn down (timeout, retry exhaustion, outlist
// overflow, explicit disconnect request).
func (o *Orchestrator) HandleKick(peer *transport.Peer, reason string) {
	p, ok := peer.UserData.(*playerdata.Player)
	if !ok {
		return
	}
	o.logf("connector: kicking player %d: %s", p.ID, reason)
	o.beginLeavingZone(p)
}

// Login drives Connected → NeedAuth → WaitAuth and dispatches the
// authenticator call, to be invoked once a login-packet handler (a
// game-protocol concern outside this package) has parsed the
// credentials off the wire.
func (o *Orchestrator) Login(p *playerdata.Player, loginName, password string) {
	o.mu.Lock()
	if p.State() != playerdata.Connected {
		o.mu.Unlock()
		return
	}
	o.Players.SetState(p, playerdata.NeedAuth)
	o.Players.SetState(p, playerdata.WaitAuth)
	o.mu.Unlock()

	go func() {
		result, err := o.Auth.Authenticate(context.Background(), loginName, password)
		o.Loop.PostWork(func(any) { o.onAuthComplete(p, result, err) }, nil)
	}()
}

func (o *Orchestrator) onAuthComplete(p *playerdata.Player, result auth.Result, err error) {
	o.mu.Lock()
	if p.State() != playerdata.WaitAuth {
		o.mu.Unlock()
		return
	}
	if err != nil || !result.OK {
		retryAllowed := err == nil && result.Reason == "bad password"
		if !retryAllowed {
			o.mu.Unlock()
			o.beginLeavingZone(p)
			return
		}
		o.Players.SetState(p, playerdata.Connected)
		o.mu.Unlock()
		return
	}

	p.Flags.Authenticated = true
	o.Players.SetState(p, playerdata.NeedGlobalSync)
	o.Players.SetState(p, playerdata.WaitGlobalSync1)
	o.mu.Unlock()

	if o.Store == nil {
		o.Loop.PostWork(func(any) { o.onGlobalLoadComplete(p) }, nil)
		return
	}
	o.Store.LoadGlobal(context.Background(), p.ID, func(data []byte, err error) {
		o.Loop.PostWork(func(any) { o.onGlobalLoadComplete(p) }, nil)
	})
}

func (o *Orchestrator) onGlobalLoadComplete(p *playerdata.Player) {
	o.mu.Lock()
	if p.State() != playerdata.WaitGlobalSync1 {
		o.mu.Unlock()
		return
	}
	o.Players.SetState(p, playerdata.DoGlobalCallbacks)
	o.mu.Unlock()

	broker.InvokeCallback(o.Global, ConnectEvent{Player: p})

	o.mu.Lock()
	o.Players.SetState(p, playerdata.WaitConnectHolds)
	o.mu.Unlock()
}

// RequestArena drives LoggedIn → DoFreqAndArenaSync → WaitArenaSync1,
// to be invoked once an arena-request packet names the target arena.
func (o *Orchestrator) RequestArena(p *playerdata.Player, arenaName string) error {
	o.mu.Lock()
	if p.State() != playerdata.LoggedIn {
		o.mu.Unlock()
		return errNotLoggedIn
	}
	o.Players.SetState(p, playerdata.DoFreqAndArenaSync)
	o.mu.Unlock()

	arena, err := o.Arenas.CreateOrGet(arenaName)
	if err != nil {
		o.mu.Lock()
		o.Players.SetState(p, playerdata.LoggedIn)
		o.mu.Unlock()
		return err
	}

	o.mu.Lock()
	p.Arena = arena // valid DoFreqAndArenaSync..WaitArenaSync2, spec §4.7
	p.NewArena = arena
	o.Players.SetState(p, playerdata.WaitArenaSync1)
	o.mu.Unlock()

	if o.Store == nil {
		o.Loop.PostWork(func(any) { o.onArenaLoadComplete(p, arena) }, nil)
		return nil
	}
	o.Store.LoadArena(context.Background(), p.ID, arena.Base, func(data []byte, err error) {
		o.Loop.PostWork(func(any) { o.onArenaLoadComplete(p, arena) }, nil)
	})
	return nil
}

func (o *Orchestrator) onArenaLoadComplete(p *playerdata.Player, arena *arenadata.Arena) {
	o.mu.Lock()
	if p.State() != playerdata.WaitArenaSync1 {
		o.mu.Unlock()
		return
	}
	leaveRequested := p.Flags.LeaveArenaWhenDoneWaiting
	p.Flags.LeaveArenaWhenDoneWaiting = false
	if leaveRequested {
		o.Players.SetState(p, playerdata.DoArenaSync2)
		o.mu.Unlock()
		o.beginArenaSave(p, arena)
		return
	}
	o.Players.SetState(p, playerdata.ArenaRespAndCBS)
	o.mu.Unlock()

	b := o.Arenas.BrokerFor(arena)
	broker.InvokeCallback(b, EnterArenaEvent{Player: p, Arena: arena})
	// Stays in ArenaRespAndCBS until OnFirstPosition fires Playing.
}

// OnFirstPosition drives ArenaRespAndCBS → Playing, to be invoked once
// a position packet arrives for a player waiting there (spec §4.7:
// "first position packet → also fires EnterGame").
func (o *Orchestrator) OnFirstPosition(p *playerdata.Player) {
	o.mu.Lock()
	if p.State() != playerdata.ArenaRespAndCBS {
		o.mu.Unlock()
		return
	}
	arena, _ := p.Arena.(*arenadata.Arena)
	o.Players.SetState(p, playerdata.Playing)
	o.mu.Unlock()

	if arena != nil {
		b := o.Arenas.BrokerFor(arena)
		broker.InvokeCallback(b, EnterGameEvent{Player: p, Arena: arena})
	}
}

// RequestLeaveArena implements the leave-while-entering rewind table of
// spec §4.7.
func (o *Orchestrator) RequestLeaveArena(p *playerdata.Player) {
	o.mu.Lock()
	switch p.State() {
	case playerdata.LoggedIn, playerdata.DoFreqAndArenaSync:
		o.Players.SetState(p, playerdata.LoggedIn)
		o.mu.Unlock()

	case playerdata.WaitArenaSync1:
		p.Flags.LeaveArenaWhenDoneWaiting = true
		o.mu.Unlock()

	case playerdata.ArenaRespAndCBS:
		arena, _ := p.Arena.(*arenadata.Arena)
		o.Players.SetState(p, playerdata.DoArenaSync2)
		o.mu.Unlock()
		if arena != nil {
			o.beginArenaSave(p, arena)
		}

	case playerdata.Playing:
		arena, _ := p.Arena.(*arenadata.Arena)
		o.Players.SetState(p, playerdata.LeavingArena)
		o.mu.Unlock()
		if arena != nil {
			b := o.Arenas.BrokerFor(arena)
			broker.InvokeCallback(b, LeaveArenaEvent{Player: p, Arena: arena})
		}
		o.mu.Lock()
		o.Players.SetState(p, playerdata.DoArenaSync2)
		o.mu.Unlock()
		if arena != nil {
			o.beginArenaSave(p, arena)
		}

	default:
		// LeavingArena through WaitGlobalSync2 (and anything already
		// torn down further than that): no change, per the table.
		o.mu.Unlock()
	}
}

func (o *Orchestrator) beginArenaSave(p *playerdata.Player, arena *arenadata.Arena) {
	if o.Store == nil {
		o.Loop.PostWork(func(any) { o.onArenaSaveComplete(p) }, nil)
		return
	}
	o.Store.SaveArena(context.Background(), p.ID, arena.Base, nil, func(data []byte, err error) {
		o.Loop.PostWork(func(any) { o.onArenaSaveComplete(p) }, nil)
	})
}

func (o *Orchestrator) onArenaSaveComplete(p *playerdata.Player) {
	o.mu.Lock()
	if p.State() != playerdata.DoArenaSync2 {
		o.mu.Unlock()
		return
	}
	o.Players.SetState(p, playerdata.WaitArenaSync2)
	o.Players.SetState(p, playerdata.LoggedIn)
	p.Arena = nil
	p.NewArena = nil
	o.mu.Unlock()
}

// RequestDisconnect starts the zone-leaving half of the life cycle
// (LeavingZone onward), to be invoked by an explicit quit request from
// the player, or internally by HandleKick.
func (o *Orchestrator) RequestDisconnect(p *playerdata.Player) {
	o.beginLeavingZone(p)
}

func (o *Orchestrator) beginLeavingZone(p *playerdata.Player) {
	o.mu.Lock()
	switch p.State() {
	case playerdata.LeavingZone, playerdata.WaitDisconnectHolds, playerdata.WaitGlobalSync2,
		playerdata.TimeWait, playerdata.Uninitialized:
		o.mu.Unlock()
		return // already tearing down
	}
	wasPlaying := p.State() == playerdata.Playing
	arena, _ := p.Arena.(*arenadata.Arena)
	o.Players.SetState(p, playerdata.LeavingZone)
	peer := o.peers[p.ID]
	o.mu.Unlock()

	if wasPlaying && arena != nil {
		b := o.Arenas.BrokerFor(arena)
		broker.InvokeCallback(b, LeaveArenaEvent{Player: p, Arena: arena})
	}
	broker.InvokeCallback(o.Global, DisconnectEvent{Player: p})

	if peer != nil && o.Transport != nil {
		o.Transport.Disconnect(peer)
	}

	o.mu.Lock()
	o.Players.SetState(p, playerdata.WaitDisconnectHolds)
	o.mu.Unlock()
}

// tick polls the hold-gated wait states once per HoldPollPeriod (spec
// §4.7: "do not advance while holds > 0"), mirroring arenadata.
// Scheduler's own tick-driven state advance.
func (o *Orchestrator) tick() {
	var readyConnect, readyDisconnect []*playerdata.Player
	o.Players.Each(func(p *playerdata.Player) {
		switch p.State() {
		case playerdata.WaitConnectHolds:
			if p.Holds() == 0 {
				readyConnect = append(readyConnect, p)
			}
		case playerdata.WaitDisconnectHolds:
			if p.Holds() == 0 {
				readyDisconnect = append(readyDisconnect, p)
			}
		}
	})
	for _, p := range readyConnect {
		o.completeConnectHolds(p)
	}
	for _, p := range readyDisconnect {
		o.completeDisconnectHolds(p)
	}
}

func (o *Orchestrator) completeConnectHolds(p *playerdata.Player) {
	o.mu.Lock()
	if p.State() != playerdata.WaitConnectHolds || p.Holds() != 0 {
		o.mu.Unlock()
		return
	}
	o.Players.SetState(p, playerdata.SendLoginResponse)
	o.mu.Unlock()

	if o.OnLoginResponse != nil {
		o.OnLoginResponse(p)
	}

	o.mu.Lock()
	o.Players.SetState(p, playerdata.LoggedIn)
	o.mu.Unlock()
}

func (o *Orchestrator) completeDisconnectHolds(p *playerdata.Player) {
	o.mu.Lock()
	if p.State() != playerdata.WaitDisconnectHolds || p.Holds() != 0 {
		o.mu.Unlock()
		return
	}
	o.Players.SetState(p, playerdata.WaitGlobalSync2)
	o.mu.Unlock()

	if o.Store == nil {
		o.Loop.PostWork(func(any) { o.onGlobalSaveComplete(p) }, nil)
		return
	}
	o.Store.SaveGlobal(context.Background(), p.ID, nil, func(data []byte, err error) {
		o.Loop.PostWork(func(any) { o.onGlobalSaveComplete(p) }, nil)
	})
}

func (o *Orchestrator) onGlobalSaveComplete(p *playerdata.Player) {
	o.mu.Lock()
	if p.State() != playerdata.WaitGlobalSync2 {
		o.mu.Unlock()
		return
	}
	o.Players.SetState(p, playerdata.TimeWait)
	o.mu.Unlock()

	o.Loop.AddTimer(o.TimeWaitGrace, 0, nil, func(any) bool {
		o.finishTimeWait(p)
		return false
	})
}

func (o *Orchestrator) finishTimeWait(p *playerdata.Player) {
	o.mu.Lock()
	peer := o.peers[p.ID]
	delete(o.peers, p.ID)
	if p.Addr != nil {
		delete(o.endpoints, p.Addr.String())
	}
	o.Players.FreeID(p.ID)
	o.Players.SetState(p, playerdata.Uninitialized)
	o.mu.Unlock()

	if peer != nil && o.Transport != nil {
		o.Transport.RemovePeer(peer)
	}
}

type connectorError string

func (e connectorError) Error() string { return string(e) }

const errNotLoggedIn connectorError = "connector: arena request is only valid from LoggedIn"
