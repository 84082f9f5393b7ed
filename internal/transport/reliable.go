package transport

import (
	"time"
)

const defaultMaxRetries = 15

// Deliverer is how reliably-received (and directly-received
// unreliable) application packets reach the rest of the server. The
// Server implements this by looking up a PacketHandler in the broker
// for the packet's type byte (spec §2's flow: "dispatches to a
// subsystem handler via C1 lookup").
type Deliverer interface {
	Deliver(p *Peer, data []byte, now time.Time)
}

// SendReliable enqueues data (an inner application or core packet,
// without any reliable wrapper) for reliable delivery to p. onComplete
// is invoked exactly once, with success=true after the peer acks it,
// or success=false if the peer is torn down first.
func (p *Peer) SendReliable(data []byte, onComplete ReliableCompletion) {
	p.outMu.Lock()
	seq := p.s2cn
	p.s2cn++

	wire := make([]byte, 2+4+len(data))
	wire[0] = CoreMarker
	wire[1] = SubReliable
	putU32(wire[2:6], seq)
	copy(wire[6:], data)

	pr := &pendingReliable{seq: seq, data: wire, tries: 0, onComplete: onComplete}
	p.outlist[seq] = pr
	p.queues[Reliable] = append(p.queues[Reliable], &outboundPacket{
		data: wire, pri: Reliable, reliable: true,
	})
	p.outMu.Unlock()
}

// HandleAck processes an inbound 0x04 ack carrying seqnum. On the
// first-try match it updates the RTT estimate (Jacobson's algorithm)
// and invokes the completion callback with success=true; the limiter
// is adjusted for a healthy round trip. The peer lock is released
// before the completion callback runs (spec §5: never hold a peer
// lock across a user callback).
func (p *Peer) HandleAck(seqnum uint32, now time.Time) {
	p.outMu.Lock()
	pr, ok := p.outlist[seqnum]
	if !ok {
		p.outMu.Unlock()
		return
	}
	delete(p.outlist, seqnum)
	firstTry := pr.tries <= 1
	if firstTry {
		sample := now.Sub(pr.lastSent)
		p.rttDev = time.Duration(0.75*float64(p.rttDev) + 0.25*float64(absDuration(p.rttAvg-sample)))
		p.rttAvg = time.Duration(0.875*float64(p.rttAvg) + 0.125*float64(sample))
	}
	p.outMu.Unlock()

	if p.Limiter != nil {
		p.Limiter.AdjustForAck()
	}
	if pr.onComplete != nil {
		pr.onComplete(true)
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// RetrySweep re-sends any outstanding reliable packet whose timeout has
// elapsed (timeout = clamp(avg+4*dev, 250ms, 2000ms), retry at
// tries*timeout since last send, per spec §4.3.4). send is called with
// the peer lock released. It returns the reason string if the peer
// should be kicked for exceeding maxRetries, else "".
func (p *Peer) RetrySweep(now time.Time, maxRetries int, send func([]byte)) string {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	timeout := p.retryTimeout()

	var toResend [][]byte
	kick := ""

	p.outMu.Lock()
	for _, pr := range p.outlist {
		if pr.tries == 0 {
			// Still waiting on its first transmission via the normal
			// bandwidth-checked queue (see markReliableSent); nothing to
			// retry yet.
			continue
		}
		due := pr.lastSent.Add(time.Duration(pr.tries) * timeout)
		if now.Before(due) {
			continue
		}
		pr.tries++
		pr.lastSent = now
		if pr.tries > maxRetries {
			kick = "too many reliable retries"
		}
		toResend = append(toResend, pr.data)
	}
	p.outMu.Unlock()

	if len(toResend) > 0 && p.Limiter != nil {
		p.Limiter.AdjustForRetry()
		p.Stats.Retries += uint64(len(toResend))
	}
	for _, wire := range toResend {
		send(wire)
	}
	return kick
}

// ReceiveReliable implements the receiver half of spec §4.3.4: buffer
// out-of-order packets in the fixed window, ack every accepted packet,
// and deliver in strict sequence order by draining the window. An
// immediate ack is returned via enqueueAck for every accepted (in- or
// within-window) packet — including duplicates of already-delivered
// sequence numbers below the window, per scenario #2 in spec §8.
func (p *Peer) ReceiveReliable(seq uint32, inner []byte, now time.Time, deliver func([]byte), enqueueAck func(uint32)) {
	p.reorderMu.Lock()

	if seq < p.c2sn {
		// Already delivered: duplicate. Still ack it so the sender's
		// retransmit stops.
		p.Stats.Dups++
		p.reorderMu.Unlock()
		enqueueAck(seq)
		return
	}
	if seq-p.c2sn >= ReorderWindowSize {
		// Too far ahead of the window: drop silently (spec §7).
		p.Stats.Drops++
		p.reorderMu.Unlock()
		return
	}

	idx := seq % ReorderWindowSize
	if !p.window[idx].occupied {
		cp := make([]byte, len(inner))
		copy(cp, inner)
		p.window[idx] = reorderSlot{occupied: true, data: cp}
	} else {
		// Duplicate within window.
		p.Stats.Dups++
	}

	var drained [][]byte
	for p.window[p.c2sn%ReorderWindowSize].occupied {
		slot := &p.window[p.c2sn%ReorderWindowSize]
		drained = append(drained, slot.data)
		slot.occupied = false
		slot.data = nil
		p.c2sn++
	}
	p.reorderMu.Unlock()

	enqueueAck(seq)
	for _, d := range drained {
		deliver(d)
	}
}

// Abandon invokes success=false on every outstanding reliable
// completion callback, used during peer teardown (spec §5: "outstanding
// acks... receive success=false").
func (p *Peer) Abandon() {
	p.outMu.Lock()
	pending := make([]*pendingReliable, 0, len(p.outlist))
	for _, pr := range p.outlist {
		pending = append(pending, pr)
	}
	p.outlist = make(map[uint32]*pendingReliable)
	p.outMu.Unlock()

	for _, pr := range pending {
		if pr.onComplete != nil {
			pr.onComplete(false)
		}
	}
}
