package transport

import "errors"

// ErrMalformedGroup is returned when a grouped envelope's length
// prefixes don't fit within the datagram (spec §7: framing errors are
// logged and dropped, never a reason to kick by themselves).
var ErrMalformedGroup = errors.New("transport: malformed grouped packet")

// UnpackGrouped splits a 0x0E envelope's payload (everything after the
// "00 0E" marker) into its constituent sub-packets (spec §4.3.7):
// repeated {u8 len, payload[len]}.
func UnpackGrouped(payload []byte) ([][]byte, error) {
	var out [][]byte
	for len(payload) > 0 {
		n := int(payload[0])
		payload = payload[1:]
		if n > len(payload) {
			return out, ErrMalformedGroup
		}
		out = append(out, payload[:n])
		payload = payload[n:]
	}
	return out, nil
}

// PackGrouped greedily packs packets (each already-encoded, ≤
// MaxGroupedElementSize bytes) into one or more 0x0E envelopes of at
// most MaxDatagramSize bytes each (spec §4.3.3: "grouping"). A packet
// that doesn't fit in the current envelope flushes it and starts
// another; a lone packet that can't share an envelope with anything is
// still wrapped (spec never requires an ungrouped single send here —
// callers needing "must be sent ungrouped" for a lone packet should
// skip PackGrouped and send it directly, which the send-sweep does).
func PackGrouped(packets [][]byte) [][]byte {
	var envelopes [][]byte
	var cur []byte

	flush := func() {
		if len(cur) > 2 {
			envelopes = append(envelopes, cur)
		}
		cur = nil
	}

	for _, pkt := range packets {
		if len(pkt) > MaxGroupedElementSize {
			continue // must use reliable/big/sized instead; caller's responsibility
		}
		need := 1 + len(pkt)
		if cur == nil {
			cur = []byte{CoreMarker, SubGrouped}
		}
		if len(cur)+need > MaxDatagramSize {
			flush()
			cur = []byte{CoreMarker, SubGrouped}
		}
		cur = append(cur, byte(len(pkt)))
		cur = append(cur, pkt...)
	}
	flush()
	return envelopes
}
