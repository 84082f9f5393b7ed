// Package playerdata implements the player registry (spec §4.4,
// component C4) and the player life-cycle state enum (spec §4.7).
package playerdata

import (
	"net"

	"github.com/gigamon-dev/SubspaceServer-sub009/internal/extradata"
)

// ClientType classifies the connecting endpoint.
type ClientType int

const (
	ClientUnknown ClientType = iota
	ClientFake
	ClientVIE
	ClientContinuum
	ClientChat
)

// State is the player life-cycle state machine from spec §4.7.
type State int

const (
	Uninitialized State = iota
	Connected
	NeedAuth
	WaitAuth
	NeedGlobalSync
	WaitGlobalSync1
	DoGlobalCallbacks
	WaitConnectHolds
	SendLoginResponse
	LoggedIn
	DoFreqAndArenaSync
	WaitArenaSync1
	ArenaRespAndCBS
	Playing
	LeavingArena
	DoArenaSync2
	WaitArenaSync2
	LeavingZone
	WaitDisconnectHolds
	WaitGlobalSync2
	TimeWait
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Connected:
		return "Connected"
	case NeedAuth:
		return "NeedAuth"
	case WaitAuth:
		return "WaitAuth"
	case NeedGlobalSync:
		return "NeedGlobalSync"
	case WaitGlobalSync1:
		return "WaitGlobalSync1"
	case DoGlobalCallbacks:
		return "DoGlobalCallbacks"
	case WaitConnectHolds:
		return "WaitConnectHolds"
	case SendLoginResponse:
		return "SendLoginResponse"
	case LoggedIn:
		return "LoggedIn"
	case DoFreqAndArenaSync:
		return "DoFreqAndArenaSync"
	case WaitArenaSync1:
		return "WaitArenaSync1"
	case ArenaRespAndCBS:
		return "ArenaRespAndCBS"
	case Playing:
		return "Playing"
	case LeavingArena:
		return "LeavingArena"
	case DoArenaSync2:
		return "DoArenaSync2"
	case WaitArenaSync2:
		return "WaitArenaSync2"
	case LeavingZone:
		return "LeavingZone"
	case WaitDisconnectHolds:
		return "WaitDisconnectHolds"
	case WaitGlobalSync2:
		return "WaitGlobalSync2"
	case TimeWait:
		return "TimeWait"
	default:
		return "Unknown"
	}
}

// Flags is the player bit-set from spec §3.
type Flags struct {
	Authenticated          bool
	DuringChange           bool
	WantAllLVZ             bool
	DuringQuery            bool
	NoShip                 bool
	NoFlagsBalls           bool
	SentPosition           bool
	SentWeapon             bool
	SeeAllPositions        bool
	SeeOwnPosition         bool
	LeaveArenaWhenDoneWaiting bool
	ObscenityFilter        bool
	IsDead                 bool
}

// Position is the per-tick game position payload from spec §3.
type Position struct {
	X, Y         int16
	XSpeed, YSpeed int16
	Rotation     uint8 // 0..39
	Bounty       uint16
	Status       uint16
	Energy       int16
	ServerTick   uint32
}

const (
	DefaultSpecFreq = 8025
	MaxNameLen      = 24 // includes null terminator
)

// ArenaHandle is the minimal view the player needs of its arena,
// satisfied by *arenadata.Arena without an import cycle.
type ArenaHandle interface {
	Name() string
}

// Player is owned exclusively by Registry; every other package holds a
// non-owning *Player obtained through registry lookups.
type Player struct {
	ID int

	Name  string
	Squad string

	Addr     *net.UDPAddr
	Listener any // opaque transport listener handle
	Type     ClientType

	state State

	// Arena is valid only from DoFreqAndArenaSync through
	// WaitArenaSync2 (spec §4.7 invariant); NewArena is the pending
	// target arena requested via SendToArena.
	Arena    ArenaHandle
	NewArena ArenaHandle
	SpawnX, SpawnY int16

	Ship  int8
	Freq  int16
	Pos   Position
	Flags Flags

	holds int

	extra *extradata.Store
}

func newPlayer(id int, extra *extradata.Store) *Player {
	return &Player{
		ID:    id,
		Freq:  DefaultSpecFreq,
		Ship:  -1,
		extra: extra,
	}
}

// State returns the player's current life-cycle state.
func (p *Player) State() State { return p.state }

// Holds returns the current hold counter.
func (p *Player) Holds() int { return p.holds }
