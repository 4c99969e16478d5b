//go:build windows

package webgpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
)

// Backend owns a WebGPU device and caches compiled shaders and pipelines.
type Backend struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline
	mu        sync.RWMutex

	adapterInfo *wgpu.AdapterInfo
	bufferPool  *BufferPool
}

// New opens the high-performance adapter. Failures, including a missing
// native library, wrap ErrNotAvailable.
func New() (backend *Backend, err error) {
	defer func() {
		if r := recover(); r != nil {
			backend = nil
			err = fmt.Errorf("%w: native library: %v", ErrNotAvailable, r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("%w: request adapter: %w", ErrNotAvailable, adapterErr)
	}
	adapterInfo := adapter.GetInfo()

	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: request device: %w", ErrNotAvailable, deviceErr)
	}
	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: no queue", ErrNotAvailable)
	}

	return &Backend{
		instance:    instance,
		adapter:     adapter,
		device:      device,
		queue:       queue,
		shaders:     make(map[string]*wgpu.ShaderModule),
		pipelines:   make(map[string]*wgpu.ComputePipeline),
		adapterInfo: &adapterInfo,
		bufferPool:  NewBufferPool(device),
	}, nil
}

// Name returns the backend name.
func (b *Backend) Name() string { return Name }

// AdapterName describes the GPU in use.
func (b *Backend) AdapterName() string {
	if b.adapterInfo == nil {
		return "unknown"
	}
	return fmt.Sprintf("%s (%s)", b.adapterInfo.Device, b.adapterInfo.Description)
}

// Release frees every GPU object.
func (b *Backend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bufferPool != nil {
		b.bufferPool.Clear()
		b.bufferPool = nil
	}
	for _, p := range b.pipelines {
		p.Release()
	}
	b.pipelines = nil
	for _, s := range b.shaders {
		s.Release()
	}
	b.shaders = nil
	if b.queue != nil {
		b.queue.Release()
		b.queue = nil
	}
	if b.device != nil {
		b.device.Release()
		b.device = nil
	}
	if b.adapter != nil {
		b.adapter.Release()
		b.adapter = nil
	}
	if b.instance != nil {
		b.instance.Release()
		b.instance = nil
	}
}

// pipeline compiles code on first use and caches the pipeline under name.
func (b *Backend) pipeline(name, code string) *wgpu.ComputePipeline {
	b.mu.RLock()
	if p, ok := b.pipelines[name]; ok {
		b.mu.RUnlock()
		return p
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pipelines[name]; ok {
		return p
	}
	shader := b.device.CreateShaderModuleWGSL(code)
	b.shaders[name] = shader
	p := b.device.CreateComputePipelineSimple(nil, shader, "main")
	b.pipelines[name] = p
	return p
}

func floatBytes(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	//nolint:gosec // reinterpreting a float32 slice for upload
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*4)
}

func intBytes(v []int) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		//nolint:gosec // G115: table entries are bounded by tensor sizes
		binary.LittleEndian.PutUint32(b[4*i:], uint32(int32(x)))
	}
	return b
}

// upload creates a storage buffer holding data. Empty uploads get a 4 byte
// buffer because zero-size bindings are invalid.
func (b *Backend) upload(data []byte) *wgpu.Buffer {
	size := uint64(max(len(data), 4))
	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mapped := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(unsafe.Slice((*byte)(mapped), size), data)
	buffer.Unmap()
	return buffer
}

// uniform packs 32-bit words into a 16-byte aligned uniform buffer. Float
// words are passed as float32 values, everything else as uint32.
func (b *Backend) uniform(words ...any) *wgpu.Buffer {
	size := uint64((4*len(words) + 15) &^ 15)
	data := make([]byte, size)
	for i, w := range words {
		switch v := w.(type) {
		case float32:
			binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
		case int:
			//nolint:gosec // G115: shader parameters are non-negative sizes
			binary.LittleEndian.PutUint32(data[4*i:], uint32(v))
		}
	}
	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mapped := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(unsafe.Slice((*byte)(mapped), size), data)
	buffer.Unmap()
	return buffer
}

// result acquires an uninitialized storage buffer for n floats from the pool.
func (b *Backend) result(n int) (*wgpu.Buffer, uint64) {
	size := uint64(max(4*n, 4))
	return b.bufferPool.Acquire(size, resultUsage), size
}

const resultUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst

// dispatch binds buffers 0..n-1 in order and runs invocations threads of
// the named shader.
func (b *Backend) dispatch(name, code string, invocations int, buffers ...*wgpu.Buffer) {
	p := b.pipeline(name, code)
	entries := make([]wgpu.BindGroupEntry, len(buffers))
	for i, buf := range buffers {
		//nolint:gosec // G115: binding index is small
		entries[i] = wgpu.BufferBindingEntry(uint32(i), buf, 0, buf.GetSize())
	}
	layout := p.GetBindGroupLayout(0)
	group := b.device.CreateBindGroupSimple(layout, entries)
	defer group.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(p)
	pass.SetBindGroup(0, group, nil)
	//nolint:gosec // G115: workgroup count is non-negative
	pass.DispatchWorkgroups(uint32((invocations+workgroupSize-1)/workgroupSize), 1, 1)
	pass.End()
	b.queue.Submit(encoder.Finish(nil))
}

// readInto copies the first len(dst) floats of src back to the host. This
// waits for every submitted command touching src.
func (b *Backend) readInto(dst []float32, src *wgpu.Buffer) error {
	if len(dst) == 0 {
		return nil
	}
	size := uint64(4 * len(dst))
	staging := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	b.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(b.device, wgpu.MapModeRead, 0, size); err != nil {
		return fmt.Errorf("webgpu: map staging buffer: %w", err)
	}
	mapped := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(floatBytes(dst), unsafe.Slice((*byte)(mapped), size))
	staging.Unmap()
	return nil
}
