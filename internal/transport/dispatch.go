package transport

import (
	"strconv"
	"time"

	"github.com/gigamon-dev/SubspaceServer-sub009/internal/broker"
)

// PacketHandler processes one application packet (type byte 0x01..0x3F)
// or one core-packet payload for a peer. Handlers are looked up in the
// broker by type byte (spec §2: "dispatches to a subsystem handler via
// C1 lookup of IPacketHandler for the type byte").
type PacketHandler interface {
	HandlePacket(p *Peer, data []byte, now time.Time)
}

func handlerKey(typeByte byte) string {
	return strconv.Itoa(int(typeByte))
}

// RegisterHandler registers h as the handler for application packets
// (or, for core-internal use, any other type byte) tagged typeByte.
func RegisterHandler(b *broker.Broker, typeByte byte, h PacketHandler) broker.Token {
	return broker.RegisterInterface[PacketHandler](b, h, handlerKey(typeByte))
}

// UnregisterHandler reverses RegisterHandler.
func UnregisterHandler(b *broker.Broker, tok broker.Token) broker.UnregisterResult {
	return b.UnregisterInterface(tok)
}

func coreHandlerKey(sub byte) string { return "core:" + handlerKey(sub) }

// RegisterCoreHandler registers h for a core-packet subtype (key
// exchange and similar negotiation packets that need to reach a
// subsystem before a Peer is fully attached to a player). Core
// subtypes and application type bytes share the 0x01..0x3F numeric
// range, so they're namespaced separately in the broker.
func RegisterCoreHandler(b *broker.Broker, sub byte, h PacketHandler) broker.Token {
	return broker.RegisterInterface[PacketHandler](b, h, coreHandlerKey(sub))
}

// dispatchApplication looks up and invokes the handler for data's type
// byte, per spec §2's flow description. Lifecycle-inappropriate or
// unrecognized packets are logged and ignored (spec §7), never cause a
// panic: an unknown type byte with no registered handler is simply
// dropped.
func (s *Server) dispatchApplication(p *Peer, data []byte, now time.Time) {
	if len(data) == 0 || !isApplicationType(data[0]) {
		s.Logf("malicious: bad application type byte from %v", p.Addr)
		return
	}
	h, ok := broker.GetInterface[PacketHandler](s.Broker, handlerKey(data[0]))
	if !ok {
		return
	}
	defer broker.ReleaseInterface(h)
	h.Value().HandlePacket(p, data, now)
}

// Deliver implements the Deliverer interface consumed by
// Peer.ReceiveReliable: it re-injects a reliably-delivered inner
// packet through the normal dispatch path (core or application),
// exactly as if it had arrived unreliably (spec §4.3.4: "re-injects the
// inner packet through the normal dispatch path").
func (s *Server) Deliver(p *Peer, data []byte, now time.Time) {
	s.HandleDatagram(p, data, now)
}
