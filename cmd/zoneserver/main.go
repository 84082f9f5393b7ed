// Command zoneserver runs one zone server process: it wires the
// transport, player/arena registries, broker, mainloop, and the
// connection orchestrator together and blocks until told to stop
// (spec.md §4.16).
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gigamon-dev/SubspaceServer-sub009/internal/arenadata"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/auth"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/broker"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/config"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/connector"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/floodcheck"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/mainloop"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/persist"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/playerdata"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/transport"
	"github.com/gigamon-dev/SubspaceServer-sub009/internal/zlog"
)

func main() {
	configPath := flag.String("config", "zone.toml", "path to the zone configuration file")
	flag.Parse()

	code := run(*configPath)
	os.Exit(int(code))
}

func run(configPath string) mainloop.ExitCode {
	log := zlog.New(zapcore.InfoLevel)
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("loading configuration", zap.Error(err))
		return mainloop.ExitGeneral
	}

	store := openStore(cfg, log)
	if closer, ok := store.(interface{ Close() }); ok {
		defer closer.Close()
	}

	authn := buildAuthenticator(cfg)

	global := broker.NewGlobal()
	players := playerdata.NewRegistry()
	arenaCfgSrc := &arenaConfigSource{cfg: cfg}
	arenas := arenadata.NewRegistry(global, nil, arenaCfgSrc)
	scheduler := arenadata.NewScheduler(arenas, players)

	loop := mainloop.New(5 * time.Millisecond)

	tr := transport.NewServer(global, log.Logf)
	tr.DropTimeout = cfg.GetDuration("Net", "DropTimeout", tr.DropTimeout)
	tr.MaxOutlistSize = cfg.GetInt("Net", "MaxOutlistSize", tr.MaxOutlistSize)
	tr.MaxRetries = cfg.GetInt("Net", "MaxRetries", tr.MaxRetries)
	tr.PerPacketOverhead = cfg.GetInt("Net", "PerPacketOverhead", tr.PerPacketOverhead)
	tr.Population = func() uint32 { return uint32(players.Count()) }

	orch := connector.New(players, arenas, store, authn, loop, global, tr, log.Logf)
	tr.OnNewPeer = orch.HandleNewPeer
	tr.OnKick = orch.HandleKick

	_ = floodcheck.New(players, cfg.GetInt("Chat", "FloodLimit", 10), time.Second,
		cfg.GetDuration("Chat", "FloodShutup", 60*time.Second), cfg.GetInt("Chat", "CommandLimit", 5))

	listenerSpecs := cfg.Listeners()
	if len(listenerSpecs) == 0 {
		log.Error("no usable listener blocks in configuration")
		return mainloop.ExitGeneral
	}
	boundAny := false
	for _, spec := range listenerSpecs {
		l, err := bindListener(spec)
		if err != nil {
			log.Error("binding listener", zap.Error(err))
			continue
		}
		tr.AddListener(l)
		boundAny = true
	}
	if !boundAny {
		log.Error("every configured listener failed to bind")
		return mainloop.ExitGeneral
	}

	loop.AddTimer(0, scheduler.StateTickPeriod(), nil, func(any) bool {
		scheduler.Tick(time.Now())
		return true
	})
	loop.AddTimer(0, scheduler.ReaperPeriod(), nil, func(any) bool {
		scheduler.Reap(time.Now())
		return true
	})

	ctx, cancelTransport := context.WithCancel(context.Background())
	transportDone := make(chan error, 1)
	go func() { transportDone <- tr.Start(ctx) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		loop.Quit(mainloop.ExitGeneral)
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			reloadConfig(arenaCfgSrc, arenas, log)
		}
	}()

	exitCode := loop.Run()
	cancelTransport()
	<-transportDone

	if exitCode == mainloop.ExitRecycle {
		recycle()
	}
	return exitCode
}

// recycle re-execs the running binary with the same arguments, letting
// the host OS's process supervisor hand off to a fresh process with a
// clean address space (spec.md §4.16's "host restarts the process").
func recycle() {
	exe, err := os.Executable()
	if err != nil {
		return
	}
	_ = syscall.Exec(exe, os.Args, os.Environ())
}

func openStore(cfg *config.Config, log *zlog.Log) persist.Store {
	dsn := cfg.GetString("Persist", "DSN", "")
	if dsn == "" {
		return persist.NewMemStore()
	}
	store, err := persist.OpenPgStore(context.Background(), dsn)
	if err != nil {
		log.Error("opening persistence store, falling back to in-memory", zap.Error(err))
		return persist.NewMemStore()
	}
	return store
}

// buildAuthenticator loads the [Auth] section as loginName -> password
// entries (spec.md §4.14). A production zone would point Authenticator
// at an external account service instead; TableAuthenticator is the
// reference implementation wired by default.
func buildAuthenticator(cfg *config.Config) auth.Authenticator {
	table := auth.NewTableAuthenticator()
	for loginName, password := range cfg.Section("Auth") {
		_ = table.AddAccount(loginName, password, 0)
	}
	return table
}

// arenaConfigSource adapts *config.Config to arenadata.ConfigSource: an
// arena's attach-module list is the AttachModules key (comma-separated)
// in the TOML section named after the arena itself, e.g. [turf] in
// zone.toml for the "turf" arena. cfg is swapped out wholesale by
// reloadConfig on SIGHUP, so every access goes through the lock.
type arenaConfigSource struct {
	mu  sync.RWMutex
	cfg *config.Config
}

func (a *arenaConfigSource) current() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

func (a *arenaConfigSource) OpenArenaConfig(arenaName string) (any, []string, error) {
	raw := a.current().GetString(arenaName, "AttachModules", "")
	if raw == "" {
		return arenaName, nil, nil
	}
	parts := strings.Split(raw, ",")
	modules := make([]string, 0, len(parts))
	for _, m := range parts {
		if m = strings.TrimSpace(m); m != "" {
			modules = append(modules, m)
		}
	}
	return arenaName, modules, nil
}

// reloadConfig re-reads the zone file and fires ConfChanged (spec.md
// §4.8.2) on every running arena whose own section changed, fulfilling
// the contract config.Config.Reload's doc comment defers to this
// caller. An arena whose section is untouched by the edit is left
// alone so a one-arena config change doesn't churn the whole zone.
func reloadConfig(src *arenaConfigSource, arenas *arenadata.Registry, log *zlog.Log) {
	old := src.current()
	fresh, err := old.Reload()
	if err != nil {
		log.Error("reloading configuration, keeping previous", zap.Error(err))
		return
	}

	src.mu.Lock()
	src.cfg = fresh
	src.mu.Unlock()

	var changed []*arenadata.Arena
	arenas.Each(func(a *arenadata.Arena) {
		if a.State() != arenadata.Running {
			return
		}
		if reflect.DeepEqual(old.Section(a.Name()), fresh.Section(a.Name())) {
			return
		}
		changed = append(changed, a)
	})
	for _, a := range changed {
		b := arenas.BrokerFor(a)
		broker.InvokeCallback(b, arenadata.ActionEvent{Arena: a, Action: arenadata.ConfChanged})
	}
	log.Info("configuration reloaded")
}

func bindListener(spec config.ListenerSpec) (*transport.Listener, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(spec.BindAddress), Port: spec.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s:%d: %w", spec.BindAddress, spec.Port, err)
	}

	pingAddr := &net.UDPAddr{IP: net.ParseIP(spec.BindAddress), Port: spec.Port + 1}
	pingConn, err := net.ListenUDP("udp", pingAddr)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("listen ping %s:%d: %w", spec.BindAddress, spec.Port+1, err)
	}

	return &transport.Listener{Conn: conn, PingConn: pingConn, ConnectAs: spec.ConnectAs}, nil
}
