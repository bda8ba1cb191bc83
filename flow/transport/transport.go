// Package transport defines the comm-layer seams of §6: Emitter/Sender,
// Listener/Receiver, and the Assignment/Topology collaborator a node
// consults for its local partition set. Concrete adapters live in the
// loopback and udp subpackages.
package transport

import "context"

// Sender transmits a partitioned, already-encoded event to the node that
// owns that partition. Send errors are logged and the event is dropped
// (§7's TransportError policy on send).
type Sender interface {
	Send(ctx context.Context, partition int, payload []byte) error
}

// Receiver blocks for the next inbound raw event. A returned error triggers
// the comm-module's reconnect/retry policy (§7's TransportError on recv).
type Receiver interface {
	Recv(ctx context.Context) (payload []byte, partition int, err error)
	Close() error
}

// Assignment reports the cluster's partition topology: the total partition
// count and which of those partitions this node currently owns (§6).
type Assignment interface {
	PartitionCount() int
	IsLocal(partition int) bool
}

// StaticAssignment is an Assignment with a fixed, single-node topology:
// every partition is local. Useful for tests and single-node deployments.
type StaticAssignment struct {
	Count int
}

func (a StaticAssignment) PartitionCount() int      { return a.Count }
func (a StaticAssignment) IsLocal(partition int) bool { return true }
