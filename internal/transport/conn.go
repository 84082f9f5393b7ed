package transport

import (
	"net"
	"sync"
	"time"

	"github.com/gigamon-dev/SubspaceServer-sub009/internal/bwlimit"
)

// Encryption is the per-peer encryption hook from spec §3/§4.3.3. Send
// applies the transform in place and may shrink the buffer; a
// zero-length result means "skip this send". Recv is the inverse,
// applied to bytes as they arrive off the wire.
type Encryption interface {
	Send(buf []byte) []byte
	Recv(buf []byte) []byte
}

// Stats are the per-peer counters from spec §3.
type Stats struct {
	BytesSent, BytesRecv     uint64
	PacketsSent, PacketsRecv uint64
	Retries, Dups, Drops     uint64
}

// ReliableCompletion is invoked once a reliable send either gets acked
// (success=true) or is abandoned because the peer is being torn down
// (success=false), per spec §7's error-propagation rule.
type ReliableCompletion func(success bool)

type outboundPacket struct {
	data     []byte
	pri      bwlimit.Priority
	reliable bool
	droppable bool
	urgent    bool
	onComplete ReliableCompletion
}

type pendingReliable struct {
	seq      uint32
	data     []byte // wire bytes: 00 03 <seq> <inner>
	tries    int
	lastSent time.Time
	onComplete ReliableCompletion
}

type reorderSlot struct {
	occupied bool
	data     []byte
}

// Peer is one UDP client connection (spec §3 "Transport per-peer
// connection"). All fields guarded by a mutex are documented next to
// the mutex; the lock order outMu -> bigMu -> reorderMu must be
// respected, and no task may hold more than one across a user
// callback (spec §5).
type Peer struct {
	Addr     *net.UDPAddr
	listener *Listener

	Encryption Encryption
	Limiter    *bwlimit.Limiter

	UserData any // opaque back-pointer, e.g. *playerdata.Player

	lastRecv time.Time

	rttAvg, rttDev time.Duration

	Stats Stats

	closing bool

	// outMu guards: s2cn, the five priority queues, the reliable
	// outlist (pendingReliable by seq), and max-outlist accounting.
	outMu       sync.Mutex
	s2cn        uint32
	queues      [5][]*outboundPacket
	outlist     map[uint32]*pendingReliable

	// bigMu guards: big-message reassembly buffer and the sized
	// send/recv state machines (spec §3: "Big-message reassembly",
	// "Sized-receive cursor", "Sized-send queue").
	bigMu    sync.Mutex
	bigBuf   []byte
	sizedRecv sizedRecvState
	sizedSendQ []*sizedSend

	// reorderMu guards: c2sn (expected inbound seq) and the fixed-size
	// reorder window.
	reorderMu sync.Mutex
	c2sn      uint32
	window    [ReorderWindowSize]reorderSlot
}

// NewPeer constructs a peer bound to addr on listener, with a fresh
// bandwidth limiter.
func NewPeer(addr *net.UDPAddr, listener *Listener, now time.Time) *Peer {
	return &Peer{
		Addr:     addr,
		listener: listener,
		Limiter:  bwlimit.New(now),
		lastRecv: now,
		outlist:  make(map[uint32]*pendingReliable),
		rttAvg:   200 * time.Millisecond,
		rttDev:   50 * time.Millisecond,
	}
}

// Touch records that a datagram was just received from the peer,
// resetting its lag-timeout clock (spec §4.3.10).
func (p *Peer) Touch(now time.Time) {
	p.outMu.Lock()
	p.lastRecv = now
	p.outMu.Unlock()
}

// Idle reports how long it has been since the last inbound datagram.
func (p *Peer) Idle(now time.Time) time.Duration {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	return now.Sub(p.lastRecv)
}

// OutlistLen returns the current count of un-acked reliable packets,
// for the MaxOutlistSize check (spec §4.3.10).
func (p *Peer) OutlistLen() int {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	return len(p.outlist)
}

// RTT returns the current round-trip estimate (avg, deviation).
func (p *Peer) RTT() (avg, dev time.Duration) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	return p.rttAvg, p.rttDev
}

// retryTimeout is clamp(avg + 4*dev, 250ms, 2000ms), per spec §4.3.4.
func (p *Peer) retryTimeout() time.Duration {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	return clampDuration(p.rttAvg+4*p.rttDev, 250*time.Millisecond, 2000*time.Millisecond)
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
