// Package observability aggregates relay-wide counters for logging and
// the heartbeat worker. Counters are atomic so the hot delivery path
// never takes a lock to record one.
package observability

import "sync/atomic"

// RelayStats tracks cumulative engine activity since process start.
type RelayStats struct {
	SessionsJoined    atomic.Uint64
	SessionsLeft      atomic.Uint64
	SessionsEvicted   atomic.Uint64
	MessagesRelayed   atomic.Uint64
	PrivateMessages   atomic.Uint64
	RoutingMisses     atomic.Uint64
	DeliveriesDropped atomic.Uint64
	PersistFailures   atomic.Uint64
	PersistDropped    atomic.Uint64
}

func NewRelayStats() *RelayStats {
	return &RelayStats{}
}

// Snapshot captures the counters for a single log line.
type Snapshot struct {
	SessionsJoined    uint64
	SessionsLeft      uint64
	SessionsEvicted   uint64
	MessagesRelayed   uint64
	PrivateMessages   uint64
	RoutingMisses     uint64
	DeliveriesDropped uint64
	PersistFailures   uint64
	PersistDropped    uint64
}

func (s *RelayStats) Snapshot() Snapshot {
	return Snapshot{
		SessionsJoined:    s.SessionsJoined.Load(),
		SessionsLeft:      s.SessionsLeft.Load(),
		SessionsEvicted:   s.SessionsEvicted.Load(),
		MessagesRelayed:   s.MessagesRelayed.Load(),
		PrivateMessages:   s.PrivateMessages.Load(),
		RoutingMisses:     s.RoutingMisses.Load(),
		DeliveriesDropped: s.DeliveriesDropped.Load(),
		PersistFailures:   s.PersistFailures.Load(),
		PersistDropped:    s.PersistDropped.Load(),
	}
}
