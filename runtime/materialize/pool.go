// Package materialize implements field-extent evaluation (spec §4.7): a
// kernel-dispatching materializer over ir.ValueExpr nodes backed by a
// reuse pool of typed buffers, so steady-state frames allocate nothing.
package materialize

import (
	"fmt"

	"github.com/fieldgraph/engine/core/invariant"
	"github.com/fieldgraph/engine/runtime/state"
)

// Format names one buffer-pool key component — the lane layout a
// TypedBuffer holds, independent of its element count.
type Format string

const (
	FormatF32    Format = "f32"
	FormatVec2F32 Format = "vec2f32"
	FormatVec3F32 Format = "vec3f32"
	FormatRGBA8  Format = "rgba8"
	FormatShape2D Format = "shape2d"
)

// TypedBuffer is one pooled field buffer. Numeric formats (f32/vec2f32/
// vec3f32/rgba8) hold count*stride lanes in Data, row-major
// (component-interleaved). The shape2d format instead holds one
// state.Shape2DRecord per lane in Shape2D — the fixed 8-word packed
// record spec §3's SlotMeta describes, which has no natural float-lane
// stride of its own.
type TypedBuffer struct {
	Format  Format
	Count   int
	Stride  int
	Data    []float64
	Shape2D []state.Shape2DRecord
}

func key(format Format, count int) string { return fmt.Sprintf("%s:%d", format, count) }

// Pool is the buffer pool of spec §4.7: keyed by format:count, alloc pops
// a reusable buffer or allocates fresh, release_all() returns every
// in-use buffer to the pool at frame end (length cleared, capacity kept).
// An LRU-style cap on distinct keys prevents unbounded growth as domain
// sizes churn across compiles/frames.
type Pool struct {
	maxKeys int
	free    map[string][]*TypedBuffer
	inUse   map[string][]*TypedBuffer
	lru     []string // most-recently-touched key last
}

// NewPool creates an empty pool capped at maxKeys distinct format:count
// keys.
func NewPool(maxKeys int) *Pool {
	invariant.Positive(maxKeys, "maxKeys")
	return &Pool{maxKeys: maxKeys, free: map[string][]*TypedBuffer{}, inUse: map[string][]*TypedBuffer{}}
}

// Alloc returns a buffer of format/count/stride, reusing a freed one of
// the same key when available.
func (p *Pool) Alloc(format Format, count, stride int) *TypedBuffer {
	k := key(format, count)
	p.touch(k)

	var buf *TypedBuffer
	if bucket := p.free[k]; len(bucket) > 0 {
		buf = bucket[len(bucket)-1]
		p.free[k] = bucket[:len(bucket)-1]
		buf.Count, buf.Stride = count, stride
		if format == FormatShape2D {
			buf.Shape2D = growShape2D(buf.Shape2D, count)
		} else {
			buf.Data = growF64(buf.Data, count*stride)
		}
	} else if format == FormatShape2D {
		buf = &TypedBuffer{Format: format, Count: count, Stride: stride, Shape2D: make([]state.Shape2DRecord, count)}
	} else {
		buf = &TypedBuffer{Format: format, Count: count, Stride: stride, Data: make([]float64, count*stride)}
	}

	invariant.Postcondition(buf.Count == count, "pool alloc: buffer count %d does not match requested %d", buf.Count, count)
	p.inUse[k] = append(p.inUse[k], buf)
	p.evictIfOverCap()
	return buf
}

func growF64(buf []float64, n int) []float64 {
	if cap(buf) >= n {
		buf = buf[:n]
		for i := range buf {
			buf[i] = 0
		}
		return buf
	}
	return make([]float64, n)
}

func growShape2D(buf []state.Shape2DRecord, n int) []state.Shape2DRecord {
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]state.Shape2DRecord, n)
}

// ReleaseAll returns every in-use buffer to the free list, clearing
// length but preserving capacity (spec §4.7 `release_all()`).
func (p *Pool) ReleaseAll() {
	for k, bufs := range p.inUse {
		for _, b := range bufs {
			b.Data = b.Data[:0]
			b.Shape2D = b.Shape2D[:0]
			p.free[k] = append(p.free[k], b)
		}
		delete(p.inUse, k)
	}
}

func (p *Pool) touch(k string) {
	for i, existing := range p.lru {
		if existing == k {
			p.lru = append(p.lru[:i], p.lru[i+1:]...)
			break
		}
	}
	p.lru = append(p.lru, k)
}

// evictIfOverCap drops the least-recently-touched free/in-use buckets
// once the distinct-key count exceeds maxKeys — only keys with no
// in-use buffers are eligible, since a bucket currently backing a live
// frame can never be dropped out from under it.
func (p *Pool) evictIfOverCap() {
	if p.maxKeys <= 0 {
		return
	}
	scanned := 0
	for len(p.lru) > p.maxKeys && scanned < len(p.lru) {
		victim := p.lru[0]
		if len(p.inUse[victim]) > 0 {
			// still live this frame; can't evict yet, try the next oldest
			p.lru = append(p.lru[1:], victim)
			scanned++
			continue
		}
		p.lru = p.lru[1:]
		delete(p.free, victim)
		scanned = 0
	}
}
