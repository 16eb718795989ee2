// Package bufpool pools the byte buffers the varbus protocol churns
// through: fixed wire headers, per-session work buffers, and the server's
// per-connection payload staging.
//
// Three size classes cover the protocol's traffic shape. Header buffers
// are tiny and extremely hot (two per request). Work buffers default to
// the session work-buffer capacity most clients open with. Bulk buffers
// absorb oversized blob payloads. Requests above the bulk class are
// allocated directly and never pooled, so a single huge blob does not pin
// memory for the rest of the process lifetime.
//
// All operations are safe for concurrent use; the underlying sync.Pool
// sheds idle buffers under GC pressure on its own.
package bufpool

import (
	"sync"
)

// Size classes. HeaderSize in pkg/wire fits the header class with room
// for ancillary scratch.
const (
	// DefaultHeaderSize covers one wire header per buffer (512B).
	DefaultHeaderSize = 512

	// DefaultWorkSize matches the default session work-buffer capacity (16KB).
	DefaultWorkSize = 16 << 10

	// DefaultBulkSize absorbs large blob payloads (1MB).
	DefaultBulkSize = 1 << 20
)

// Pool manages byte slices in three size classes and falls back to plain
// allocation above the bulk class.
type Pool struct {
	header sync.Pool
	work   sync.Pool
	bulk   sync.Pool

	headerSize int
	workSize   int
	bulkSize   int
}

// Config overrides the size classes of a custom pool. Zero fields keep
// the defaults.
type Config struct {
	HeaderSize int
	WorkSize   int
	BulkSize   int
}

// NewPool creates a pool with the given configuration; nil uses defaults.
func NewPool(cfg *Config) *Pool {
	p := &Pool{
		headerSize: DefaultHeaderSize,
		workSize:   DefaultWorkSize,
		bulkSize:   DefaultBulkSize,
	}
	if cfg != nil {
		if cfg.HeaderSize > 0 {
			p.headerSize = cfg.HeaderSize
		}
		if cfg.WorkSize > 0 {
			p.workSize = cfg.WorkSize
		}
		if cfg.BulkSize > 0 {
			p.bulkSize = cfg.BulkSize
		}
	}

	p.header.New = func() any { b := make([]byte, p.headerSize); return &b }
	p.work.New = func() any { b := make([]byte, p.workSize); return &b }
	p.bulk.New = func() any { b := make([]byte, p.bulkSize); return &b }
	return p
}

// Get returns a slice of exactly the requested length, backed by a
// pooled buffer of the matching class. Above the bulk class the slice is
// allocated directly and Put will not retain it.
func (p *Pool) Get(size int) []byte {
	var ptr *[]byte
	switch {
	case size <= p.headerSize:
		ptr = p.header.Get().(*[]byte)
	case size <= p.workSize:
		ptr = p.work.Get().(*[]byte)
	case size <= p.bulkSize:
		ptr = p.bulk.Get().(*[]byte)
	default:
		return make([]byte, size)
	}
	return (*ptr)[:size]
}

// Put returns a buffer obtained from Get. Buffers whose capacity does
// not match a size class (oversized direct allocations, or resliced
// foreign memory) are dropped for the GC.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	full := buf[:cap(buf)]
	switch cap(buf) {
	case p.headerSize:
		p.header.Put(&full)
	case p.workSize:
		p.work.Put(&full)
	case p.bulkSize:
		p.bulk.Put(&full)
	}
}

// globalPool serves the package-level Get/Put used by sessions and the
// server's connection loops.
var globalPool = NewPool(nil)

// Get returns a slice of at least the requested length from the shared pool.
func Get(size int) []byte { return globalPool.Get(size) }

// Put returns a buffer obtained from Get to the shared pool.
func Put(buf []byte) { globalPool.Put(buf) }
