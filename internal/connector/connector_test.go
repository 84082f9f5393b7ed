package connector

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gigamon-dev/SubspaceServer-sub009/internal/arenadata"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/auth"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/broker"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/mainloop"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/persist"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/playerdata"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/transport"
)

type harness struct {
	o       *Orchestrator
	players *playerdata.Registry
	arenas  *arenadata.Registry
	loop    *mainloop.Loop
	done    chan mainloop.ExitCode
}

func newHarness(t *testing.T, store persist.Store, authn auth.Authenticator) *harness {
	t.Helper()
	players := playerdata.NewRegistry()
	global := broker.NewGlobal()
	arenas := arenadata.NewRegistry(global, nil, nil)
	loop := mainloop.New(2 * time.Millisecond)
	o := New(players, arenas, store, authn, loop, global, nil, nil)
	o.TimeWaitGrace = 20 * time.Millisecond

	done := make(chan mainloop.ExitCode, 1)
	go func() { done <- loop.Run() }()

	h := &harness{o: o, players: players, arenas: arenas, loop: loop, done: done}
	t.Cleanup(func() {
		loop.Quit(mainloop.ExitNone)
		<-done
	})
	return h
}

func waitForState(t *testing.T, p *playerdata.Player, want playerdata.State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("player %d: state = %v, want %v", p.ID, p.State(), want)
}

func testAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func TestHandleNewPeerAllocatesConnectedPlayer(t *testing.T) {
	h := newHarness(t, persist.NewMemStore(), auth.NewTableAuthenticator())
	peer := h.o.HandleNewPeer(testAddr(11000), &transport.Listener{})
	if peer == nil {
		t.Fatal("expected a peer")
	}
	p, ok := peer.UserData.(*playerdata.Player)
	if !ok || p.State() != playerdata.Connected {
		t.Fatalf("expected a Connected player, got %+v", p)
	}
}

func TestHandleNewPeerReusesPlayerWhileConnected(t *testing.T) {
	h := newHarness(t, persist.NewMemStore(), auth.NewTableAuthenticator())
	addr := testAddr(11001)
	peer1 := h.o.HandleNewPeer(addr, &transport.Listener{})
	p1 := peer1.UserData.(*playerdata.Player)

	peer2 := h.o.HandleNewPeer(addr, &transport.Listener{})
	if peer2 == nil {
		t.Fatal("expected reconnect to be accepted while Connected")
	}
	p2 := peer2.UserData.(*playerdata.Player)
	if p1 != p2 {
		t.Fatalf("expected the same player to be reused, got ids %d and %d", p1.ID, p2.ID)
	}
}

func TestHandleNewPeerRefusesReconnectInLaterState(t *testing.T) {
	h := newHarness(t, persist.NewMemStore(), auth.NewTableAuthenticator())
	addr := testAddr(11002)
	peer1 := h.o.HandleNewPeer(addr, &transport.Listener{})
	p1 := peer1.UserData.(*playerdata.Player)
	h.players.SetState(p1, playerdata.NeedAuth)

	if peer2 := h.o.HandleNewPeer(addr, &transport.Listener{}); peer2 != nil {
		t.Fatal("expected reconnect to be refused once past Connected")
	}
}

func TestLoginSuccessReachesLoggedIn(t *testing.T) {
	authn := auth.NewTableAuthenticator()
	if err := authn.AddAccount("alice", "hunter2", 1); err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, persist.NewMemStore(), authn)
	peer := h.o.HandleNewPeer(testAddr(11010), &transport.Listener{})
	p := peer.UserData.(*playerdata.Player)

	h.o.Login(p, "alice", "hunter2")
	waitForState(t, p, playerdata.LoggedIn, time.Second)
	if !p.Flags.Authenticated {
		t.Fatal("expected Flags.Authenticated to be set")
	}
}

func TestLoginBadPasswordReturnsToConnected(t *testing.T) {
	authn := auth.NewTableAuthenticator()
	if err := authn.AddAccount("alice", "hunter2", 1); err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, persist.NewMemStore(), authn)
	peer := h.o.HandleNewPeer(testAddr(11011), &transport.Listener{})
	p := peer.UserData.(*playerdata.Player)

	h.o.Login(p, "alice", "wrong")
	waitForState(t, p, playerdata.Connected, time.Second)
}

func TestLoginUnknownAccountTearsDownToUninitialized(t *testing.T) {
	h := newHarness(t, persist.NewMemStore(), auth.NewTableAuthenticator())
	peer := h.o.HandleNewPeer(testAddr(11012), &transport.Listener{})
	p := peer.UserData.(*playerdata.Player)

	h.o.Login(p, "nobody", "whatever")
	waitForState(t, p, playerdata.Uninitialized, time.Second)
	if _, ok := h.players.Get(p.ID); ok {
		t.Fatal("expected the player to be freed from the registry")
	}
}

func loginPlayer(t *testing.T, h *harness, port int, login, password string) *playerdata.Player {
	t.Helper()
	peer := h.o.HandleNewPeer(testAddr(port), &transport.Listener{})
	p := peer.UserData.(*playerdata.Player)
	h.o.Login(p, login, password)
	waitForState(t, p, playerdata.LoggedIn, time.Second)
	return p
}

func TestArenaEnterThenLeaveFromPlaying(t *testing.T) {
	authn := auth.NewTableAuthenticator()
	authn.AddAccount("alice", "hunter2", 1)
	h := newHarness(t, persist.NewMemStore(), authn)
	p := loginPlayer(t, h, 11020, "alice", "hunter2")

	if err := h.o.RequestArena(p, "turf"); err != nil {
		t.Fatal(err)
	}
	waitForState(t, p, playerdata.ArenaRespAndCBS, time.Second)
	if p.Arena == nil || p.Arena.Name() != "turf" {
		t.Fatalf("expected player.Arena to be set to turf, got %+v", p.Arena)
	}

	h.o.OnFirstPosition(p)
	waitForState(t, p, playerdata.Playing, time.Second)

	h.o.RequestLeaveArena(p)
	waitForState(t, p, playerdata.LoggedIn, time.Second)
	if p.Arena != nil {
		t.Fatal("expected player.Arena to be cleared after leaving")
	}
}

func TestLeaveWhileLoggedInIsNoop(t *testing.T) {
	authn := auth.NewTableAuthenticator()
	authn.AddAccount("alice", "hunter2", 1)
	h := newHarness(t, persist.NewMemStore(), authn)
	p := loginPlayer(t, h, 11021, "alice", "hunter2")

	h.o.RequestLeaveArena(p)
	waitForState(t, p, playerdata.LoggedIn, time.Second)
}

// blockingStore delays LoadArena until release is closed, so a test can
// reliably observe a player parked in WaitArenaSync1.
type blockingStore struct {
	*persist.MemStore
	release chan struct{}
}

func (b *blockingStore) LoadArena(ctx context.Context, playerID int, base string, onDone persist.OnDone) {
	go func() {
		<-b.release
		b.MemStore.LoadArena(ctx, playerID, base, onDone)
	}()
}

func TestLeaveDuringWaitArenaSync1MarksFlagInsteadOfNotifying(t *testing.T) {
	authn := auth.NewTableAuthenticator()
	authn.AddAccount("alice", "hunter2", 1)
	store := &blockingStore{MemStore: persist.NewMemStore(), release: make(chan struct{})}
	h := newHarness(t, store, authn)
	p := loginPlayer(t, h, 11022, "alice", "hunter2")

	if err := h.o.RequestArena(p, "turf"); err != nil {
		t.Fatal(err)
	}
	waitForState(t, p, playerdata.WaitArenaSync1, time.Second)

	h.o.RequestLeaveArena(p)
	if !p.Flags.LeaveArenaWhenDoneWaiting {
		t.Fatal("expected leave-when-done-waiting flag to be set")
	}
	if p.State() != playerdata.WaitArenaSync1 {
		t.Fatalf("expected state to remain WaitArenaSync1, got %v", p.State())
	}

	close(store.release)
	waitForState(t, p, playerdata.LoggedIn, time.Second)
	if p.Arena != nil {
		t.Fatal("expected player.Arena to be cleared")
	}
}

func TestDisconnectReachesUninitializedAndFreesID(t *testing.T) {
	authn := auth.NewTableAuthenticator()
	authn.AddAccount("alice", "hunter2", 1)
	h := newHarness(t, persist.NewMemStore(), authn)
	p := loginPlayer(t, h, 11023, "alice", "hunter2")
	id := p.ID

	h.o.RequestDisconnect(p)
	waitForState(t, p, playerdata.Uninitialized, time.Second)
	if _, ok := h.players.Get(id); ok {
		t.Fatal("expected player to be freed from the registry")
	}

	// The id should now be reusable.
	addr := testAddr(11024)
	peer := h.o.HandleNewPeer(addr, &transport.Listener{})
	reused := peer.UserData.(*playerdata.Player)
	if reused.ID != id {
		t.Fatalf("expected freed id %d to be reused, got %d", id, reused.ID)
	}
}
