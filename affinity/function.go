package affinity

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/griddata/loader/cluster"
)

// Function computes which partition a key belongs to. Partitions returns
// the total number of partitions the function divides key space into;
// Partition maps an affinity key's bytes to one of [0, Partitions()).
type Function interface {
	Partitions() int
	Partition(affinityKey []byte) int
}

// NodeMapper resolves which nodes own a given partition at a given
// topology version, ordered primary-first. A real implementation is
// typically backed by the same consistent-hashing/rendezvous table the
// grid's partition assignment algorithm produces; Cache only
// caches its results, it does not compute them.
type NodeMapper interface {
	Nodes(partition int, topologyVersion int64) []cluster.NodeID
}

// KeyMapper extracts the affinity key used for partitioning from a cache
// key. Most caches partition directly on the key; KeyMapper exists for the
// (less common) case where a group of keys should collocate on one node.
type KeyMapper interface {
	AffinityKey(key any) []byte
}

// identityKeyMapper uses the key's own bytes (via defaultKeyBytes) as the
// affinity key - the common case where no explicit affinity-key grouping
// is configured.
type identityKeyMapper struct{}

func (identityKeyMapper) AffinityKey(key any) []byte {
	return defaultKeyBytes(key)
}

// defaultKeyBytes renders a cache key to bytes for hashing. Supports the
// common key shapes (string, []byte, and fmt.Stringer) without requiring
// callers to implement a marshaller just to pick a partition.
func defaultKeyBytes(key any) []byte {
	switch k := key.(type) {
	case []byte:
		return k
	case string:
		return []byte(k)
	case fmt.Stringer:
		return []byte(k.String())
	default:
		return []byte(fmt.Sprintf("%v", k))
	}
}

// ModFunction is the default Function: partition = xxhash(affinityKey) mod
// partitions. This is deliberately the simplest possible affinity function
// - a direct hash-mod-N - rather than a more elaborate consistent-hashing
// scheme, which belongs to the grid's partition-assignment layer
// (NodeMapper), not to the client-side loader.
type ModFunction struct {
	partitions int
}

// NewModFunction returns a Function with the given partition count.
func NewModFunction(partitions int) Function {
	if partitions <= 0 {
		partitions = 1
	}
	return &ModFunction{partitions: partitions}
}

func (f *ModFunction) Partitions() int {
	return f.partitions
}

func (f *ModFunction) Partition(affinityKey []byte) int {
	h := xxhash.Sum64(affinityKey)
	return int(h % uint64(f.partitions))
}
