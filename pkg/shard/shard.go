// Package shard assigns metrics to output shards and keeps the per-shard lists walked
// by flushes.
package shard

import (
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/atlassian/gobrubeck/internal/arena"
	"github.com/atlassian/gobrubeck/pkg/metric"
)

const nodesPerBlock = 1024

type node struct {
	m    *metric.Metric
	next *node
}

// List is an append-only list of the metrics of one shard. Appends and walks may
// run concurrently without locks.
type List struct {
	head atomic.Pointer[node]
	len  atomic.Int64
}

func (l *List) push(n *node) {
	for {
		head := l.head.Load()
		n.next = head
		if l.head.CompareAndSwap(head, n) {
			l.len.Add(1)
			return
		}
	}
}

// Each calls visit for every metric appended before the call started, newest first.
func (l *List) Each(visit func(*metric.Metric)) {
	for n := l.head.Load(); n != nil; n = n.next {
		visit(n.m)
	}
}

// Len returns the number of metrics in the list.
func (l *List) Len() int {
	return int(l.len.Load())
}

// Sharder maps keys to a fixed number of shards.
type Sharder struct {
	lists []List
	nodes *arena.Arena[node]
}

// New creates a Sharder with n shards.
func New(n int) (*Sharder, error) {
	if n < 1 {
		return nil, fmt.Errorf("invalid shard count %d", n)
	}
	return &Sharder{
		lists: make([]List, n),
		nodes: arena.New[node](nodesPerBlock, 1),
	}, nil
}

// Len returns the number of shards.
func (s *Sharder) Len() int {
	return len(s.lists)
}

// ShardFor returns the shard index of key. The result only depends on the key and
// the shard count.
func (s *Sharder) ShardFor(key string) int {
	if len(s.lists) == 1 {
		return 0
	}
	h := xxhash.Sum64String(key)
	return int(uint32(h^(h>>32)) % uint32(len(s.lists)))
}

// Register appends m to the list of m.Shard.
func (s *Sharder) Register(m *metric.Metric) {
	n := s.nodes.Alloc()
	n.m = m
	s.lists[m.Shard].push(n)
}

// List returns the list of shard i.
func (s *Sharder) List(i int) *List {
	return &s.lists[i]
}

// MemoryBytes returns the memory held by list nodes.
func (s *Sharder) MemoryBytes() uint64 {
	return s.nodes.Stats().Bytes
}
