package transport

// SizedDataSource fills a server-to-client sized send (spec §4.3.6). A
// call with length 0 (regardless of offset) signals that the transfer
// is being abandoned — the source should release any held resources
// and return nil. A normal call returns up to length bytes starting at
// offset; returning fewer than length bytes (including zero, for a
// transfer that simply ended) ends the transfer.
type SizedDataSource func(offset, length int) []byte

type sizedSend struct {
	source   SizedDataSource
	userState any
	totalLen int
	offset   int
}

type sizedRecvState struct {
	active   bool
	msgType  byte
	totalLen uint32
	offset   uint32
}

// SizedChunkHandler receives streamed server->client... er, in this
// direction, client->server is not used by spec; sized sends are
// server->client only (spec §4.3.6: "large server→client pushes").
// This receiver side exists for symmetry and for any future
// client-initiated upload use, and because the wire format is
// direction-agnostic.
type SizedChunkHandler interface {
	HandleSizedChunk(p *Peer, msgType byte, offset, total uint32, chunk []byte)
}

// ReceiveSizedChunk implements the receiver half of spec §4.3.6: track
// {type, total_len, offset} across a run of 0x0A datagrams and forward
// each chunk to handler. The type tag is taken from the first byte of
// the first chunk's payload, matching ordinary application-packet
// framing.
func (p *Peer) ReceiveSizedChunk(totalLen uint32, data []byte, handler SizedChunkHandler) {
	p.bigMu.Lock()
	if !p.sizedRecv.active {
		if len(data) == 0 {
			p.bigMu.Unlock()
			return
		}
		p.sizedRecv = sizedRecvState{active: true, msgType: data[0], totalLen: totalLen, offset: 0}
	}
	st := p.sizedRecv
	st.offset += uint32(len(data))
	p.sizedRecv.offset = st.offset
	done := st.offset >= st.totalLen
	if done {
		p.sizedRecv = sizedRecvState{}
	}
	p.bigMu.Unlock()

	if handler != nil {
		handler.HandleSizedChunk(p, st.msgType, st.offset-uint32(len(data)), st.totalLen, data)
	}
}

// RegisterSizedSend enqueues a new sized send. Sends are drained FIFO
// by PumpSizedSend, one in flight at a time, so sized traffic never
// starves interactive traffic (spec §4.3.6: "transport pulls data only
// when bandwidth permits").
func (p *Peer) RegisterSizedSend(totalLen int, source SizedDataSource, userState any) {
	p.bigMu.Lock()
	p.sizedSendQ = append(p.sizedSendQ, &sizedSend{source: source, userState: userState, totalLen: totalLen})
	p.bigMu.Unlock()
}

// PumpSizedSend pulls up to maxChunk bytes from the head of the sized
// send queue and returns a ready-to-send 0x0A datagram. ok is false
// when there is nothing to send right now.
func (p *Peer) PumpSizedSend(maxChunk int) (wire []byte, ok bool) {
	p.bigMu.Lock()
	if len(p.sizedSendQ) == 0 {
		p.bigMu.Unlock()
		return nil, false
	}
	cur := p.sizedSendQ[0]
	remaining := cur.totalLen - cur.offset
	if remaining <= 0 {
		p.sizedSendQ = p.sizedSendQ[1:]
		p.bigMu.Unlock()
		return nil, false
	}
	n := maxChunk
	if n > remaining {
		n = remaining
	}
	offset := cur.offset
	p.bigMu.Unlock()

	chunk := cur.source(offset, n)

	p.bigMu.Lock()
	cur.offset += len(chunk)
	finished := cur.offset >= cur.totalLen || len(chunk) < n
	if finished && len(p.sizedSendQ) > 0 && p.sizedSendQ[0] == cur {
		p.sizedSendQ = p.sizedSendQ[1:]
	}
	p.bigMu.Unlock()

	wire = make([]byte, 2+4+len(chunk))
	wire[0] = CoreMarker
	wire[1] = SubSized
	putU32(wire[2:6], uint32(cur.totalLen))
	copy(wire[6:], chunk)
	return wire, true
}

// CancelSizedSend implements spec §4.3.6's cancel path: drop the
// current head-of-queue sized send, call its data source once with
// (0,0) to signal abandonment, and return the 0x0C acknowledgement
// datagram to be sent back reliably.
func (p *Peer) CancelSizedSend() (ackWire []byte, hadOne bool) {
	p.bigMu.Lock()
	if len(p.sizedSendQ) == 0 {
		p.bigMu.Unlock()
		return nil, false
	}
	cur := p.sizedSendQ[0]
	p.sizedSendQ = p.sizedSendQ[1:]
	p.bigMu.Unlock()

	cur.source(0, 0)

	return []byte{CoreMarker, SubCancelSizedAck}, true
}
