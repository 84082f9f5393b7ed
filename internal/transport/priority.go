package transport

import "github.com/gigamon-dev/SubspaceServer-sub009/internal/bwlimit"

// Priority re-exports bwlimit's five outbound classes (spec §4.3.2) so
// transport callers don't need to import bwlimit directly just to pick
// a send priority.
type Priority = bwlimit.Priority

const (
	UnreliableLow  = bwlimit.UnreliableLow
	Unreliable     = bwlimit.Unreliable
	UnreliableHigh = bwlimit.UnreliableHigh
	Reliable       = bwlimit.Reliable
	Ack            = bwlimit.Ack
)
