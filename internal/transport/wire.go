// Package transport implements the custom UDP reliable transport of
// spec §4.3 (component C3): session/peer state, the core-packet wire
// format, reliable/ordered delivery, fragmentation (big packets),
// streamed sends (sized packets), small-datagram grouping, RTT
// estimation from acks, per-peer bandwidth limiting, and the ping
// responder.
package transport

import "encoding/binary"

// CoreMarker is the first byte of every core packet.
const CoreMarker = 0x00

// Core packet subtypes (spec §4.3.1).
const (
	SubKeyInit          byte = 0x01
	SubKeyResponse      byte = 0x02
	SubReliable         byte = 0x03
	SubAck              byte = 0x04
	SubTimeSyncRequest  byte = 0x05
	SubTimeSyncResponse byte = 0x06
	SubDisconnect       byte = 0x07
	SubBigData          byte = 0x08
	SubBigDataFinal     byte = 0x09
	SubSized            byte = 0x0A
	SubCancelSizedReq   byte = 0x0B
	SubCancelSizedAck   byte = 0x0C
	SubGrouped          byte = 0x0E
	SubContinuumKeyResp byte = 0x13
)

// MaxDatagramSize is the largest UDP payload this transport will ever
// emit (spec §4.3.1).
const MaxDatagramSize = 520

// MaxGroupedElementSize is the largest single sub-packet allowed
// inside a 0x0E grouped envelope.
const MaxGroupedElementSize = 255

// MaxBigPacketSize is the hard cap on reassembled big-packet size
// (spec §4.3.5, default 256 KiB).
const MaxBigPacketSize = 256 * 1024

// ReorderWindowSize (W) is the fixed capacity of the incoming reliable
// reorder buffer (spec §4.3.4, default 32).
const ReorderWindowSize = 32

func putU32(buf []byte, v uint32) { binary.LittleEndian.PutUint32(buf, v) }
func getU32(buf []byte) uint32    { return binary.LittleEndian.Uint32(buf) }

// isApplicationType reports whether b is a valid application packet
// type tag (spec §4.3.1: "≥ 0x01 and ≤ 0x3F").
func isApplicationType(b byte) bool { return b >= 0x01 && b <= 0x3F }
