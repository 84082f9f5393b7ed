package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gigamon-dev/SubspaceServer-sub009/internal/broker"
)

// Listener is one bound game-protocol socket (spec §4.3.9: "the
// transport may bind more than one socket, e.g. for VIE vs. Continuum
// clients on different ports"). PingConn, if non-nil, answers the
// one-datagram-in, one-datagram-out ping protocol on game_port+1
// (spec §4.3.8).
type Listener struct {
	Conn     *net.UDPConn
	PingConn *net.UDPConn

	// ConnectAs tags which client population this socket serves
	// (spec §4.3.9's "ConnectAs" grouping, e.g. "" for the primary
	// zone or a subspace-style alternate population name).
	ConnectAs string
}

// NewPeerHook is invoked the first time a datagram arrives from an
// address the server has never seen, before any core-packet
// processing happens (spec §4.3.9 / the connector's entry point into
// C7). It returns the Peer to use going forward, or nil to refuse the
// connection outright (the datagram is then dropped).
type NewPeerHook func(addr *net.UDPAddr, l *Listener) *Peer

// KickHook is invoked when the transport itself decides a peer must be
// torn down (lag timeout, retry exhaustion, outlist overflow, explicit
// disconnect) so that the connector can run the peer through the
// leaving half of the player life cycle (spec §4.3.10, §4.7).
type KickHook func(p *Peer, reason string)

// PopulationHook reports the current zone population for the ping
// responder (spec §6: response body is "{u32 population, <4 bytes
// echoed>}").
type PopulationHook func() uint32

// Logf is how the transport reports malicious input and drops without
// depending on a concrete logging package (spec §4.12's zlog is wired
// in by cmd/zoneserver).
type Logf func(format string, args ...any)

// Server is the C3 transport: a peer registry plus the fixed set of
// periodic tasks that drive sends, retries, and timeouts (spec
// §4.3.9).
type Server struct {
	Broker *broker.Broker
	Log    Logf

	OnNewPeer   NewPeerHook
	OnKick      KickHook
	Population  PopulationHook

	DropTimeout       time.Duration
	MaxRetries        int
	MaxOutlistSize    int
	PerPacketOverhead int
	SendSweepPeriod   time.Duration

	mu        sync.RWMutex
	peers     map[string]*Peer
	listeners []*Listener
}

// NewServer constructs a Server with spec-default timing and limits.
func NewServer(b *broker.Broker, log Logf) *Server {
	if log == nil {
		log = func(string, ...any) {}
	}
	return &Server{
		Broker:            b,
		Log:               log,
		peers:             make(map[string]*Peer),
		DropTimeout:       3 * time.Second, // Net:DropTimeout default, spec §6
		MaxRetries:        defaultMaxRetries,
		MaxOutlistSize:    200, // Net:MaxOutlistSize default, spec §6
		PerPacketOverhead: 28,  // Net:PerPacketOverhead default, spec §6
		SendSweepPeriod:   10 * time.Millisecond,
	}
}

// Logf is a convenience passthrough used by dispatch.go.
func (s *Server) Logf(format string, args ...any) {
	if s.Log != nil {
		s.Log(format, args...)
	}
}

// AddListener registers a bound socket with the server. Call before
// Start.
func (s *Server) AddListener(l *Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func peerKey(addr *net.UDPAddr) string { return addr.String() }

func (s *Server) lookupPeer(addr *net.UDPAddr) (*Peer, bool) {
	s.mu.RLock()
	p, ok := s.peers[peerKey(addr)]
	s.mu.RUnlock()
	return p, ok
}

func (s *Server) addPeer(p *Peer) {
	s.mu.Lock()
	s.peers[peerKey(p.Addr)] = p
	s.mu.Unlock()
}

// RemovePeer drops p from the registry. The connector calls this once
// it has finished running p through the leaving half of the player
// life cycle.
func (s *Server) RemovePeer(p *Peer) {
	s.mu.Lock()
	delete(s.peers, peerKey(p.Addr))
	s.mu.Unlock()
}

func (s *Server) eachPeer(fn func(*Peer)) {
	s.mu.RLock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()
	for _, p := range peers {
		fn(p)
	}
}

// Start runs the receive loop (and, where PingConn is set, the ping
// responder) for every listener plus the send-sweep task, which also
// runs reliable retries, and the lag-timeout task, all under one
// errgroup so a fatal error in any of them (a socket closing, the
// context being cancelled) tears the rest down together (spec
// §4.3.9's fixed task set). The mainloop is not part of this group.
func (s *Server) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	s.mu.RLock()
	listeners := append([]*Listener(nil), s.listeners...)
	s.mu.RUnlock()

	for _, l := range listeners {
		l := l
		g.Go(func() error { return s.receiveTask(ctx, l) })
		if l.PingConn != nil {
			g.Go(func() error { return s.pingTask(ctx, l) })
		}
	}
	g.Go(func() error { return s.sendSweepTask(ctx) })
	g.Go(func() error { return s.timeoutTask(ctx) })

	return g.Wait()
}

// receiveTask reads datagrams off l.Conn until ctx is cancelled,
// decrypting and dispatching each one (spec §4.3.9).
func (s *Server) receiveTask(ctx context.Context, l *Listener) error {
	buf := make([]byte, MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		l.Conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, addr, err := l.Conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		if n == 0 {
			continue
		}

		now := time.Now()
		data := make([]byte, n)
		copy(data, buf[:n])

		p, ok := s.lookupPeer(addr)
		if !ok {
			if s.OnNewPeer == nil {
				continue
			}
			p = s.OnNewPeer(addr, l)
			if p == nil {
				continue
			}
			s.addPeer(p)
		}

		if p.Encryption != nil {
			data = p.Encryption.Recv(data)
			if len(data) == 0 {
				continue
			}
		}

		p.Touch(now)
		p.Stats.PacketsRecv++
		p.Stats.BytesRecv += uint64(n)

		s.HandleDatagram(p, data, now)
	}
}

// HandleDatagram is the single entry point for a datagram already
// decrypted and attributed to p: it unwraps the core-packet envelope
// (spec §4.3.1) and recurses into itself for grouped sub-packets,
// delegating to dispatchApplication for anything that isn't a core
// subtype.
func (s *Server) HandleDatagram(p *Peer, data []byte, now time.Time) {
	if len(data) == 0 {
		return
	}
	if data[0] != CoreMarker {
		s.dispatchApplication(p, data, now)
		return
	}
	if len(data) < 2 {
		s.Logf("malicious: truncated core packet from %v", p.Addr)
		return
	}
	sub := data[1]
	payload := data[2:]

	switch sub {
	case SubReliable:
		if len(payload) < 4 {
			s.Logf("malicious: truncated reliable header from %v", p.Addr)
			return
		}
		seq := getU32(payload[0:4])
		p.ReceiveReliable(seq, payload[4:], now,
			func(inner []byte) { s.Deliver(p, inner, now) },
			func(ackSeq uint32) { s.sendAck(p, ackSeq) },
		)

	case SubAck:
		if len(payload) < 4 {
			s.Logf("malicious: truncated ack from %v", p.Addr)
			return
		}
		p.HandleAck(getU32(payload[0:4]), now)

	case SubTimeSyncRequest:
		s.handleTimeSync(p, payload, now)

	case SubDisconnect:
		if s.OnKick != nil {
			s.OnKick(p, "peer requested disconnect")
		}

	case SubBigData, SubBigDataFinal:
		err := p.ReceiveBigChunk(payload, sub == SubBigDataFinal, func(reassembled []byte) {
			s.dispatchApplication(p, reassembled, now)
		})
		if err != nil {
			s.Logf("malicious: %v from %v", err, p.Addr)
		}

	case SubSized:
		if len(payload) < 4 {
			s.Logf("malicious: truncated sized header from %v", p.Addr)
			return
		}
		total := getU32(payload[0:4])
		chunk := payload[4:]
		var handler SizedChunkHandler
		if len(chunk) > 0 {
			if h, ok := broker.GetInterface[SizedChunkHandler](s.Broker, handlerKey(chunk[0])); ok {
				handler = h.Value()
				defer broker.ReleaseInterface(h)
			}
		}
		p.ReceiveSizedChunk(total, chunk, handler)

	case SubCancelSizedReq:
		if ack, had := p.CancelSizedSend(); had {
			p.SendReliable(ack, nil)
		}

	case SubCancelSizedAck:
		// Server never sends 0x0B, so this never legitimately arrives.

	case SubGrouped:
		elems, err := UnpackGrouped(payload)
		if err != nil {
			s.Logf("malicious: %v from %v", err, p.Addr)
		}
		for _, e := range elems {
			s.HandleDatagram(p, e, now)
		}

	case SubKeyInit, SubKeyResponse, SubContinuumKeyResp:
		if h, ok := broker.GetInterface[PacketHandler](s.Broker, coreHandlerKey(sub)); ok {
			h.Value().HandlePacket(p, data, now)
			broker.ReleaseInterface(h)
		}

	default:
		s.Logf("malicious: unknown core subtype %d from %v", sub, p.Addr)
	}
}

func (s *Server) sendAck(p *Peer, seq uint32) {
	wire := make([]byte, 6)
	wire[0] = CoreMarker
	wire[1] = SubAck
	putU32(wire[2:6], seq)
	p.Enqueue(wire, Ack, false)
}

// handleTimeSync answers a 0x05 time-sync request with a 0x06 response
// echoing the client's timestamp alongside the server's own (spec
// §4.3.8's sibling protocol, used for in-session clock sync as opposed
// to the ping responder's separate liveness check).
func (s *Server) handleTimeSync(p *Peer, payload []byte, now time.Time) {
	wire := make([]byte, 2+len(payload)+4)
	wire[0] = CoreMarker
	wire[1] = SubTimeSyncResponse
	copy(wire[2:], payload)
	putU32(wire[2+len(payload):], uint32(now.UnixMilli()&0xffffffff))
	p.Enqueue(wire, Ack, false)
}

// pingTask answers the ping protocol on l.PingConn (spec §4.3.8, §6):
// a 4-byte request gets an 8-byte reply of {u32 population, the 4
// request bytes echoed back}.
func (s *Server) pingTask(ctx context.Context, l *Listener) error {
	buf := make([]byte, 4)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		l.PingConn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, addr, err := l.PingConn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		var population uint32
		if s.Population != nil {
			population = s.Population()
		}
		reply := make([]byte, 8)
		putU32(reply[0:4], population)
		copy(reply[4:], buf[:n])
		l.PingConn.WriteToUDP(reply, addr)
	}
}

// sendSweepTask drains each peer's outbound queues on SendSweepPeriod,
// groups what can be grouped, and writes datagrams out (spec §4.3.3,
// §4.3.9).
func (s *Server) sendSweepTask(ctx context.Context) error {
	ticker := time.NewTicker(s.SendSweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.eachPeer(func(p *Peer) {
				s.sweepPeer(p, now)
			})
		}
	}
}

func (s *Server) sweepPeer(p *Peer, now time.Time) {
	p.Limiter.Tick(now)

	toGroup, toSendDirect, drops := p.DrainOutbound(now, s.PerPacketOverhead)
	p.Stats.Drops += uint64(drops)

	for _, envelope := range FinalizeGrouping(toGroup) {
		s.writeDatagram(p, envelope)
	}
	for _, raw := range toSendDirect {
		s.writeDatagram(p, raw)
	}

	if p.Limiter.Check(now, 6+MaxGroupedElementSize+s.PerPacketOverhead, UnreliableLow) {
		if wire, ok := p.PumpSizedSend(MaxGroupedElementSize); ok {
			p.Limiter.Spend(len(wire) + s.PerPacketOverhead)
			s.writeDatagram(p, wire)
		}
	}

	reason := p.RetrySweep(now, s.MaxRetries, func(wire []byte) { s.writeDatagram(p, wire) })
	if reason == "" && s.MaxOutlistSize > 0 && p.OutlistLen() > s.MaxOutlistSize {
		reason = "too many outgoing packets"
	}
	if reason != "" && s.OnKick != nil {
		s.OnKick(p, reason)
	}
}

func (s *Server) writeDatagram(p *Peer, data []byte) {
	if p.Encryption != nil {
		data = p.Encryption.Send(data)
		if len(data) == 0 {
			return
		}
	}
	n, err := p.listener.Conn.WriteToUDP(data, p.Addr)
	if err != nil {
		s.Logf("write to %v failed: %v", p.Addr, err)
		return
	}
	p.Stats.PacketsSent++
	p.Stats.BytesSent += uint64(n)
}

// timeoutTask kicks peers that have gone quiet past DropTimeout (spec
// §4.3.10).
func (s *Server) timeoutTask(ctx context.Context) error {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.eachPeer(func(p *Peer) {
				if s.DropTimeout > 0 && p.Idle(now) > s.DropTimeout && s.OnKick != nil {
					s.OnKick(p, "no data")
				}
			})
		}
	}
}

// Disconnect sends the 0x07 disconnect datagram and abandons
// outstanding reliable sends. It leaves the peer's Encryption handle
// and its queued unreliable packets in place. The caller (the connector, via
// OnKick) is responsible for calling RemovePeer once it has finished
// running the player life cycle's leaving states.
func (s *Server) Disconnect(p *Peer) {
	s.writeDatagram(p, []byte{CoreMarker, SubDisconnect})
	p.Abandon()
}
