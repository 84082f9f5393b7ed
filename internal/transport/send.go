package transport

import "time"

// Enqueue places data on the priority-pri outbound queue. droppable
// packets are discarded (with a drop-counter bump) rather than
// retried when the bandwidth limiter refuses them; non-droppable
// packets are retried on a later sweep. Reliable sends should go
// through SendReliable instead, which manages its own retry bookkeeping.
func (p *Peer) Enqueue(data []byte, pri Priority, droppable bool) {
	p.outMu.Lock()
	p.queues[pri] = append(p.queues[pri], &outboundPacket{data: data, pri: pri, droppable: droppable})
	p.outMu.Unlock()
}

// TrySendUrgent attempts an immediate send for an urgent, non-reliable
// packet (spec §4.3.3 step 1): if the bandwidth check passes, the
// caller should send data right away and the packet never touches a
// queue. If refused and droppable, the caller bumps the drop counter
// and gives up; otherwise it falls back to Enqueue.
func (p *Peer) TrySendUrgent(now time.Time, data []byte, pri Priority, overhead int) bool {
	return p.Limiter.Check(now, len(data)+overhead, pri)
}

// DrainOutbound pulls as many queued packets as the bandwidth budget
// allows this sweep, highest priority first (Ack > Reliable >
// UnreliableHigh > Unreliable > UnreliableLow, per spec §4.3.2).
// Packets small enough to share a grouped envelope are returned in
// toGroup; oversized packets (sized/big chunks) are returned in
// toSendDirect already. Refused droppable packets are dropped and
// counted; refused non-droppable packets are left queued for the next
// sweep.
func (p *Peer) DrainOutbound(now time.Time, overhead int) (toGroup, toSendDirect [][]byte, drops int) {
	order := []Priority{Ack, Reliable, UnreliableHigh, Unreliable, UnreliableLow}

	p.outMu.Lock()
	defer p.outMu.Unlock()

	for _, pri := range order {
		q := p.queues[pri]
		if len(q) == 0 {
			continue
		}
		kept := q[:0]
		for _, op := range q {
			size := len(op.data) + overhead
			if !p.Limiter.Check(now, size, pri) {
				if op.droppable {
					drops++
					continue
				}
				kept = append(kept, op)
				continue
			}
			p.Limiter.Spend(size)
			if pri == Reliable {
				p.markReliableSent(op.data, now)
			}
			if len(op.data) <= MaxGroupedElementSize {
				toGroup = append(toGroup, op.data)
			} else {
				toSendDirect = append(toSendDirect, op.data)
			}
		}
		p.queues[pri] = kept
	}
	return toGroup, toSendDirect, drops
}

// markReliableSent stamps the matching outlist entry's lastSent with
// the moment a freshly-queued reliable packet actually left the wire
// for the first time, so RetrySweep's timeout counts from the real
// first transmission rather than resending it again on the very sweep
// that sent it. Called with outMu already held.
func (p *Peer) markReliableSent(wire []byte, now time.Time) {
	if len(wire) < 6 || wire[0] != CoreMarker || wire[1] != SubReliable {
		return
	}
	seq := getU32(wire[2:6])
	if pr, ok := p.outlist[seq]; ok && pr.tries == 0 {
		pr.tries = 1
		pr.lastSent = now
	}
}

// FinalizeGrouping applies the "a lone packet must be sent ungrouped"
// rule from spec §4.3.3: a single small packet is sent as-is rather
// than wrapped in a one-element 0x0E envelope.
func FinalizeGrouping(toGroup [][]byte) (envelopes [][]byte) {
	switch len(toGroup) {
	case 0:
		return nil
	case 1:
		return toGroup
	default:
		return PackGrouped(toGroup)
	}
}
