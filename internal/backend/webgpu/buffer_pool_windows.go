//go:build windows

package webgpu

import (
	"math/bits"
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"
)

// maxPooledPerClass bounds idle buffers kept for one size class.
const maxPooledPerClass = 32

type poolKey struct {
	class int // log2 of the rounded size
	usage wgpu.BufferUsage
}

// BufferPool recycles result buffers between passes. Sizes are rounded up to
// a power of two so one buffer serves every request of its class.
type BufferPool struct {
	device *wgpu.Device

	mu   sync.Mutex
	idle map[poolKey][]*wgpu.Buffer

	hits   uint64
	misses uint64
}

// NewBufferPool creates an empty pool for device.
func NewBufferPool(device *wgpu.Device) *BufferPool {
	return &BufferPool{device: device, idle: make(map[poolKey][]*wgpu.Buffer)}
}

func sizeClass(size uint64) int {
	if size <= 4 {
		return 2
	}
	return bits.Len64(size - 1)
}

// Acquire returns an idle buffer of at least size bytes or creates one.
// The contents are undefined.
func (p *BufferPool) Acquire(size uint64, usage wgpu.BufferUsage) *wgpu.Buffer {
	key := poolKey{class: sizeClass(size), usage: usage}

	p.mu.Lock()
	defer p.mu.Unlock()
	if list := p.idle[key]; len(list) > 0 {
		buf := list[len(list)-1]
		p.idle[key] = list[:len(list)-1]
		p.hits++
		return buf
	}
	p.misses++
	return p.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: usage,
		Size:  uint64(1) << key.class,
	})
}

// Release returns buf to the pool, or frees it when its class is full.
func (p *BufferPool) Release(buf *wgpu.Buffer, size uint64, usage wgpu.BufferUsage) {
	key := poolKey{class: sizeClass(size), usage: usage}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle[key]) >= maxPooledPerClass {
		buf.Release()
		return
	}
	p.idle[key] = append(p.idle[key], buf)
}

// Clear frees every idle buffer.
func (p *BufferPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, list := range p.idle {
		for _, buf := range list {
			buf.Release()
		}
		delete(p.idle, key)
	}
}

// Stats reports pool hits, misses and idle buffers.
func (p *BufferPool) Stats() (hits, misses uint64, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, list := range p.idle {
		idle += len(list)
	}
	return p.hits, p.misses, idle
}
