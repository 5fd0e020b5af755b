package affinity

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/griddata/loader/cluster"
)

// RendezvousMapper is the default NodeMapper: highest random weight (HRW)
// hashing over the current node set, the same family of algorithm the
// original source's RendezvousAffinityFunction uses to assign partitions
// without any coordinator or stored table - every member computes the same
// answer independently from (partition, node) pairs alone.
type RendezvousMapper struct {
	nodesFn func(topologyVersion int64) []cluster.NodeID
	copies  int
}

// NewRendezvousMapper builds a NodeMapper backed by nodesFn, the current
// member list at a given topology version, returning up to copies owning
// nodes per partition (primary first).
func NewRendezvousMapper(copies int, nodesFn func(topologyVersion int64) []cluster.NodeID) *RendezvousMapper {
	if copies <= 0 {
		copies = 1
	}
	return &RendezvousMapper{nodesFn: nodesFn, copies: copies}
}

type scoredNode struct {
	node  cluster.NodeID
	score uint64
}

// Nodes ranks every currently known node by its HRW score for partition and
// returns the top m.copies, primary first.
func (m *RendezvousMapper) Nodes(partition int, topologyVersion int64) []cluster.NodeID {
	candidates := m.nodesFn(topologyVersion)
	if len(candidates) == 0 {
		return nil
	}

	scored := make([]scoredNode, len(candidates))
	for i, n := range candidates {
		scored[i] = scoredNode{node: n, score: hrwScore(partition, n)}
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	n := m.copies
	if n > len(scored) {
		n = len(scored)
	}

	owners := make([]cluster.NodeID, n)
	for i := 0; i < n; i++ {
		owners[i] = scored[i].node
	}
	return owners
}

func hrwScore(partition int, node cluster.NodeID) uint64 {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[:4], uint32(partition))
	nodeBytes, _ := node.MarshalBinary()
	h := xxhash.New()
	h.Write(buf[:4])
	h.Write(nodeBytes)
	return h.Sum64()
}
