// Package partition assigns item keys to cooperating nodes without coordination traffic.
//
// The assignment is XXH3-64 with seed 0 over the UTF-8 bytes of the key, modulo the node
// count. Any runtime that implements XXH3-64 computes the same owner for the same key.
package partition

import (
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/ternarybob/harvester/internal/interfaces"
)

// Hash returns the partition hash of an item key
func Hash(key string) uint64 {
	return xxh3.HashString(key)
}

// Assign returns the node in [0, totalNodes) that owns key.
// totalNodes <= 1 degenerates to a single node.
func Assign(key string, totalNodes int) int {
	if totalNodes <= 1 {
		return 0
	}
	return int(Hash(key) % uint64(totalNodes))
}

// Partitioner is the Assign function bound to one node's view of the cluster
type Partitioner struct {
	nodeID     int
	totalNodes int
}

// New validates the node layout and returns a Partitioner for nodeID
func New(nodeID, totalNodes int) (*Partitioner, error) {
	if totalNodes < 1 {
		return nil, fmt.Errorf("%w: total_nodes must be >= 1, got %d", interfaces.ErrInvalidInput, totalNodes)
	}
	if nodeID < 0 || nodeID >= totalNodes {
		return nil, fmt.Errorf("%w: node_id %d out of range [0, %d)", interfaces.ErrInvalidInput, nodeID, totalNodes)
	}
	return &Partitioner{nodeID: nodeID, totalNodes: totalNodes}, nil
}

// NodeID returns the local node id
func (p *Partitioner) NodeID() int {
	return p.nodeID
}

// TotalNodes returns the cluster size
func (p *Partitioner) TotalNodes() int {
	return p.totalNodes
}

// Distributed reports whether more than one node shares the key space
func (p *Partitioner) Distributed() bool {
	return p.totalNodes > 1
}

// Owns reports whether the local node processes key
func (p *Partitioner) Owns(key string) bool {
	return Assign(key, p.totalNodes) == p.nodeID
}

// Owner returns the node that processes key
func (p *Partitioner) Owner(key string) int {
	return Assign(key, p.totalNodes)
}
