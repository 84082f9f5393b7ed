package persist

import (
	"context"
	"testing"
)

func TestMemStoreGlobalRoundTrip(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	m.SaveGlobal(ctx, 1, []byte("profile-blob"), func(_ []byte, err error) {
		if err != nil {
			t.Fatalf("SaveGlobal: %v", err)
		}
	})

	var got []byte
	m.LoadGlobal(ctx, 1, func(data []byte, err error) {
		if err != nil {
			t.Fatalf("LoadGlobal: %v", err)
		}
		got = data
	})
	if string(got) != "profile-blob" {
		t.Fatalf("got %q, want profile-blob", got)
	}
}

func TestMemStoreArenaScopedByBaseName(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	m.SaveArena(ctx, 1, "duel", []byte("duel-stats"), nil)
	m.SaveArena(ctx, 1, "league", []byte("league-stats"), nil)

	var duel, league []byte
	m.LoadArena(ctx, 1, "duel", func(data []byte, _ error) { duel = data })
	m.LoadArena(ctx, 1, "league", func(data []byte, _ error) { league = data })

	if string(duel) != "duel-stats" || string(league) != "league-stats" {
		t.Fatalf("duel=%q league=%q", duel, league)
	}
}

func TestMemStoreLoadMissingReturnsNilNoError(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()
	var called bool
	m.LoadGlobal(ctx, 42, func(data []byte, err error) {
		called = true
		if data != nil || err != nil {
			t.Fatalf("data=%v err=%v, want nil,nil", data, err)
		}
	})
	if !called {
		t.Fatalf("onDone never invoked")
	}
}
