package affinity

import (
	"encoding/binary"
	"sync"

	"github.com/google/btree"
	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/griddata/loader/cluster"
)

// partitionEntry is one row of a per-topology-version partition table:
// partition -> owning nodes, primary first.
type partitionEntry struct {
	partition int
	nodes     []cluster.NodeID
}

func (p *partitionEntry) Less(than btree.Item) bool {
	return p.partition < than.(*partitionEntry).partition
}

// partitionTable is a mutable, btree-backed partition->nodes table for one
// topology version. It is stored, immutably, as a value inside the radix
// tree keyed by topology version; the btree itself still needs its own
// lock since google/btree v1 is not copy-on-write.
type partitionTable struct {
	mu sync.Mutex
	bt *btree.BTree
}

func newPartitionTable() *partitionTable {
	return &partitionTable{bt: btree.New(32)}
}

func (t *partitionTable) get(partition int) ([]cluster.NodeID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item := t.bt.Get(&partitionEntry{partition: partition})
	if item == nil {
		return nil, false
	}
	return item.(*partitionEntry).nodes, true
}

func (t *partitionTable) put(partition int, nodes []cluster.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bt.ReplaceOrInsert(&partitionEntry{partition: partition, nodes: nodes})
}

// Cache is the per-cache affinity snapshot: the Function/NodeMapper/
// KeyMapper triple plus a cache of partition->nodes lookups across
// topology versions. It is the Go equivalent of GridAffinityCache from the
// original source.
type Cache struct {
	CacheName string
	Func      Function
	Mapper    NodeMapper
	KeyMapper KeyMapper

	treeMu sync.Mutex
	tree   *iradix.Tree
}

// NewCache builds a ready-to-use affinity snapshot. keyMapper may be nil,
// in which case the key's own bytes are used as the affinity key.
func NewCache(cacheName string, fn Function, mapper NodeMapper, keyMapper KeyMapper) *Cache {
	if keyMapper == nil {
		keyMapper = identityKeyMapper{}
	}
	return &Cache{
		CacheName: cacheName,
		Func:      fn,
		Mapper:    mapper,
		KeyMapper: keyMapper,
		tree:      iradix.New(),
	}
}

// AffinityKey extracts the affinity key bytes for key.
func (c *Cache) AffinityKey(key any) []byte {
	return c.KeyMapper.AffinityKey(key)
}

// Partition returns the partition for the given affinity key.
func (c *Cache) Partition(affinityKey []byte) int {
	return c.Func.Partition(affinityKey)
}

// Nodes returns the owning nodes for partition at topVer, primary first,
// consulting (and populating) the per-version cache.
func (c *Cache) Nodes(partition int, topVer int64) []cluster.NodeID {
	table := c.tableFor(topVer)

	if nodes, ok := table.get(partition); ok {
		return nodes
	}

	nodes := c.Mapper.Nodes(partition, topVer)
	table.put(partition, nodes)
	return nodes
}

func (c *Cache) tableFor(topVer int64) *partitionTable {
	key := versionKey(topVer)

	c.treeMu.Lock()
	defer c.treeMu.Unlock()

	if v, ok := c.tree.Get(key); ok {
		return v.(*partitionTable)
	}

	table := newPartitionTable()
	newTree, _, _ := c.tree.Insert(key, table)
	c.tree = newTree
	return table
}

// CleanUpCache drops cached partition tables for topology versions older
// than keepFrom, matching GridAffinityCache.cleanUpCache: obsolete
// partition->nodes tables are dropped so the cache doesn't grow without
// bound as the topology changes.
func (c *Cache) CleanUpCache(keepFrom int64) {
	c.treeMu.Lock()
	defer c.treeMu.Unlock()

	fresh := iradix.New()
	c.tree.Root().Walk(func(k []byte, v interface{}) bool {
		if decodeVersionKey(k) >= keepFrom {
			fresh, _, _ = fresh.Insert(k, v)
		}
		return false
	})
	c.tree = fresh
}

func versionKey(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func decodeVersionKey(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}
