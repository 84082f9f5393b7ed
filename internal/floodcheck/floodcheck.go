// Package floodcheck implements a small fixed-window chat-flood
// counter so the Chat:FloodLimit / Chat:FloodShutup configuration keys
// from spec.md §6 have a concrete consumer even though the chat engine
// itself is out of scope. Chat:CommandLimit is accepted and stored,
// but no method counts commands against it. It is built on
// playerdata's typed extra-data slots (spec.md §4.9) so one instance
// tracks every player without its own id-keyed map, exercising the
// extra-data contract from a second, independent component.
package floodcheck

import (
	"time"

	"github.com/gigamon-dev/SubspaceServer-sub009/internal/extradata"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/playerdata"
)

type counterState struct {
	windowStart time.Time
	count       int
	shutupUntil time.Time
}

// Checker tracks one rate-limited counter per player.
type Checker struct {
	limit        int
	window       time.Duration
	shutup       time.Duration
	commandLimit int
	key          extradata.Key[*counterState]
}

// New attaches a Checker's per-player state to reg's extra-data store.
// limit is Chat:FloodLimit, window the period messages are counted
// over (the count restarts with the first message that arrives more
// than window after the current window began; the original resets
// once per second), shutup is Chat:FloodShutup as a duration, and
// commandLimit is Chat:CommandLimit, which is stored but not checked:
// only Message is counted.
func New(reg *playerdata.Registry, limit int, window, shutup time.Duration, commandLimit int) *Checker {
	key := extradata.Allocate(reg.ExtraData(), func() *counterState { return &counterState{} })
	return &Checker{limit: limit, window: window, shutup: shutup, commandLimit: commandLimit, key: key}
}

// state returns p's counter, lazily constructing one if p connected
// before this Checker was wired in (the ordinary case is that every
// collaborator's extra-data slot is allocated at startup, before the
// registry creates any players, so this fallback is defensive rather
// than the expected path).
func (c *Checker) state(reg *playerdata.Registry, p *playerdata.Player) *counterState {
	st, ok := extradata.Get(reg.ExtraData(), p.ID, c.key)
	if !ok || st == nil {
		st = &counterState{}
		extradata.Set(reg.ExtraData(), p.ID, c.key, st)
	}
	return st
}

// Message records one chat message from p at now and reports whether
// it should be allowed. Once FloodLimit is exceeded within window, the
// player is "shut up" for shutup and every message is refused until
// that expires, matching the original's flood-then-mute behavior.
func (c *Checker) Message(reg *playerdata.Registry, p *playerdata.Player, now time.Time) bool {
	st := c.state(reg, p)

	if now.Before(st.shutupUntil) {
		return false
	}
	if now.Sub(st.windowStart) > c.window {
		st.windowStart = now
		st.count = 0
	}
	st.count++
	if st.count > c.limit {
		st.shutupUntil = now.Add(c.shutup)
		return false
	}
	return true
}

// Remaining reports how long until a currently-shut-up player may
// speak again, or zero if they aren't shut up.
func (c *Checker) Remaining(reg *playerdata.Registry, p *playerdata.Player, now time.Time) time.Duration {
	st := c.state(reg, p)
	if now.After(st.shutupUntil) {
		return 0
	}
	return st.shutupUntil.Sub(now)
}
