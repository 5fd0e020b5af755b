package testfakes

import (
	"context"

	"github.com/griddata/loader/affinity"
	"github.com/griddata/loader/cluster"
)

// LocalSource is an affinity.LocalSource that returns the given
// function/mapper and reports them as hosted exactly when Hosted is set -
// hosted is the common test shape, since a test's "local" process is
// whichever one owns the Resolver under test.
type LocalSource struct {
	Fn        affinity.Function
	Mapper    affinity.NodeMapper
	KeyMapper affinity.KeyMapper
	Hosted    bool
}

func (s *LocalSource) Lookup(_ string) (affinity.Function, affinity.NodeMapper, affinity.KeyMapper, bool) {
	return s.Fn, s.Mapper, s.KeyMapper, s.Hosted
}

// StaticMapper is a NodeMapper returning the same fixed node list for
// every partition, regardless of topology version.
type StaticMapper struct {
	Nodes_ []cluster.NodeID
}

func (m StaticMapper) Nodes(_ int, _ int64) []cluster.NodeID {
	return m.Nodes_
}

// ModMapper assigns partition p to Nodes_[p%len(Nodes_)], matching the
// "affinity assigns by hash mod N" shape spec scenarios exercise directly
// against a node list rather than through the hash function itself.
type ModMapper struct {
	Nodes_ []cluster.NodeID
}

func (m ModMapper) Nodes(p int, _ int64) []cluster.NodeID {
	if len(m.Nodes_) == 0 {
		return nil
	}
	return []cluster.NodeID{m.Nodes_[p%len(m.Nodes_)]}
}

// DigitModFunction partitions on the last byte of the affinity key,
// interpreted as an ASCII digit, mod partitions - a deterministic stand-in
// for a real hash function wherever a test needs to know in advance which
// partition a given key lands in.
type DigitModFunction struct {
	partitions int
}

func NewDigitModFunction(partitions int) DigitModFunction {
	return DigitModFunction{partitions: partitions}
}

func (f DigitModFunction) Partitions() int { return f.partitions }

func (f DigitModFunction) Partition(affinityKey []byte) int {
	if len(affinityKey) == 0 {
		return 0
	}
	digit := int(affinityKey[len(affinityKey)-1] - '0')
	return ((digit % f.partitions) + f.partitions) % f.partitions
}

// RemoteSource is an affinity.RemoteSource whose FetchAffinity result (or
// error) is fixed in advance - used to exercise Resolver's retry loop.
type RemoteSource struct {
	Fn        affinity.Function
	Mapper    affinity.NodeMapper
	KeyMapper affinity.KeyMapper
	Err       error
	LocalMode bool
}

func (s *RemoteSource) FetchAffinity(_ context.Context, _ cluster.NodeID, _ string) (affinity.Function, affinity.NodeMapper, affinity.KeyMapper, bool, error) {
	if s.LocalMode {
		return nil, nil, nil, true, nil
	}
	if s.Err != nil {
		return nil, nil, nil, false, s.Err
	}
	return s.Fn, s.Mapper, s.KeyMapper, false, nil
}
