package transport

import "errors"

// ErrBigPacketTooLarge is returned (and the packet dropped, logged at
// "malicious" level by the caller) when a big-message reassembly
// would exceed MaxBigPacketSize (spec §4.3.5, §7).
var ErrBigPacketTooLarge = errors.New("transport: big packet exceeds size cap")

// ReceiveBigChunk implements spec §4.3.5: accumulate continuation
// chunks (subtype 0x08) into a growing buffer; on the final chunk
// (subtype 0x09) the reassembled payload is handed to deliver and the
// buffer is freed. final indicates the chunk came in as 0x09.
func (p *Peer) ReceiveBigChunk(chunk []byte, final bool, deliver func([]byte)) error {
	p.bigMu.Lock()

	if len(p.bigBuf)+len(chunk) > MaxBigPacketSize {
		p.bigBuf = nil
		p.bigMu.Unlock()
		return ErrBigPacketTooLarge
	}
	p.bigBuf = append(p.bigBuf, chunk...)

	if !final {
		p.bigMu.Unlock()
		return nil
	}

	reassembled := p.bigBuf
	p.bigBuf = nil
	p.bigMu.Unlock()

	deliver(reassembled)
	return nil
}
