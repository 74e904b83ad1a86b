// Package arena provides a typed bump allocator for values that live as long as
// the process. Nothing allocated from an Arena is ever freed individually.
package arena

import (
	"fmt"
	"sync"
	"unsafe"
)

const (
	// DefaultNodeSize is the number of elements in a node. It matches a node of 128
	// 32-byte slabs when used as a byte arena.
	DefaultNodeSize = 32 * 128
	// DefaultBlockSize is the allocation granularity of a byte arena.
	DefaultBlockSize = 32
)

type node[T any] struct {
	next   *node[T]
	values []T
	used   int
}

// Arena hands out zeroed storage carved from large fixed-size nodes.
type Arena[T any] struct {
	mu        sync.Mutex
	head      *node[T] // current allocation target, older nodes follow
	nodeSize  int
	blockSize int
	nodes     int
	reserved  int // elements across all nodes
}

// Stats describes the memory held by an Arena.
type Stats struct {
	Nodes int
	Bytes uint64
}

// New creates an Arena with nodes of nodeSize elements. Slice allocations are rounded up
// to a multiple of blockSize elements.
func New[T any](nodeSize, blockSize int) *Arena[T] {
	if nodeSize <= 0 {
		panic(fmt.Sprintf("arena: invalid node size %d", nodeSize))
	}
	if blockSize <= 0 || blockSize > nodeSize {
		panic(fmt.Sprintf("arena: invalid block size %d", blockSize))
	}
	return &Arena[T]{
		nodeSize:  nodeSize,
		blockSize: blockSize,
	}
}

// Alloc returns a pointer to a single zero value of T.
func (a *Arena[T]) Alloc() *T {
	return &a.alloc(1)[0]
}

// AllocSlice returns n zeroed elements. The returned slice has length n; its backing
// storage is rounded up to the block size and is not shared with any other allocation.
func (a *Arena[T]) AllocSlice(n int) []T {
	if n <= 0 {
		panic(fmt.Sprintf("arena: invalid allocation size %d", n))
	}
	return a.alloc(n)[:n:n]
}

func (a *Arena[T]) alloc(n int) []T {
	size := (n + a.blockSize - 1) / a.blockSize * a.blockSize

	a.mu.Lock()
	defer a.mu.Unlock()

	if size > a.nodeSize {
		// Oversized requests get a dedicated node which is never bumped into again.
		nd := a.push(size)
		nd.used = size
		a.rotate()
		return nd.values
	}

	nd := a.head
	if nd == nil || len(nd.values)-nd.used < size {
		nd = a.push(a.nodeSize)
	}
	out := nd.values[nd.used : nd.used+size]
	nd.used += size
	return out
}

// push prepends a new node. Caller must hold the lock.
func (a *Arena[T]) push(size int) *node[T] {
	nd := &node[T]{
		next:   a.head,
		values: make([]T, size),
	}
	a.head = nd
	a.nodes++
	a.reserved += size
	return nd
}

// rotate moves a full head node behind the next one so that the partially used node
// stays the allocation target. Caller must hold the lock.
func (a *Arena[T]) rotate() {
	full := a.head
	if full.next == nil {
		return
	}
	a.head = full.next
	full.next = a.head.next
	a.head.next = full
}

// Stats returns the number of nodes and bytes reserved by the Arena.
func (a *Arena[T]) Stats() Stats {
	var zero T
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Nodes: a.nodes,
		Bytes: uint64(a.reserved) * uint64(unsafe.Sizeof(zero)),
	}
}
