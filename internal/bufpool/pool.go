// Package bufpool recycles the fixed-size buffers transfers copy through, so
// a busy server does not allocate a fresh buffer per request.
package bufpool

import (
	"sync"
)

// Sizes of the shared pools.
const (
	ChunkSize = 8 * 1024  // socket-sized reads and writes
	CopySize  = 32 * 1024 // bulk copies from disk or the network
)

// Shared pools used across the server and client.
var (
	Chunks = New(ChunkSize)
	Copies = New(CopySize)
)

// Pool hands out buffers of exactly one size. Buffers travel as pointers so
// that Put does not allocate.
type Pool struct {
	pool sync.Pool
	size int
}

// New creates a pool of size-byte buffers. size must be positive.
func New(size int) *Pool {
	if size <= 0 {
		panic("bufpool: size must be positive")
	}
	p := &Pool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Get returns a buffer of len Size.
func (p *Pool) Get() *[]byte {
	bp := p.pool.Get().(*[]byte)
	*bp = (*bp)[:p.size]
	return bp
}

// Put returns bp to the pool. Buffers of another capacity are dropped.
func (p *Pool) Put(bp *[]byte) {
	if bp == nil || cap(*bp) != p.size {
		return
	}
	p.pool.Put(bp)
}

// Size is the length of buffers returned by Get.
func (p *Pool) Size() int {
	return p.size
}
