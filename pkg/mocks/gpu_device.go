package mocks

import (
	"fmt"
	"image"
	"sync"

	"github.com/tauraamui/texcapd/pkg/gpu"
	"github.com/tauraamui/xerror"
)

// Device is a gpu.Device that keeps a log of every allocation and
// release, in order, and can be told to fail allocations.
type Device struct {
	mu               sync.Mutex
	events           []string
	live             gpu.Stats
	failTextureCache bool
	failPool         bool
	draws            int
}

func NewDevice() *Device {
	return &Device{}
}

func (d *Device) Name() string { return "mock" }

func (d *Device) record(format string, a ...interface{}) {
	d.events = append(d.events, fmt.Sprintf(format, a...))
}

// Events returns a copy of the allocation log.
func (d *Device) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.events...)
}

// Count returns how many logged events equal e.
func (d *Device) Count(e string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, ev := range d.events {
		if ev == e {
			n++
		}
	}
	return n
}

func (d *Device) Draws() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draws
}

func (d *Device) FailAllocations(textureCache, pool bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failTextureCache = textureCache
	d.failPool = pool
}

func (d *Device) Stats() gpu.Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

func (d *Device) NewTextureCache(g gpu.Geometry) (gpu.TextureCache, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failTextureCache {
		return nil, xerror.Errorf("mock texture cache %s: %w", g, gpu.ErrResourceAllocation)
	}
	d.live.TextureCaches++
	d.record("texturecache.new %s", g)
	return &textureCache{dev: d, geometry: g}, nil
}

func (d *Device) NewPixelBufferPool(g gpu.Geometry) (gpu.PixelBufferPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failPool {
		return nil, xerror.Errorf("mock pool %s: %w", g, gpu.ErrResourceAllocation)
	}
	d.live.PixelBufferPools++
	d.record("pool.new %s", g)
	return &pool{dev: d, geometry: g}, nil
}

func (d *Device) NewFramebuffer() (gpu.Framebuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.live.Framebuffers++
	d.record("framebuffer.new")
	return &framebuffer{dev: d}, nil
}

func (d *Device) TextureFromImage(img image.Image) (gpu.Texture, error) {
	b := img.Bounds()
	return NewTexture(b.Dx(), b.Dy()), nil
}

// Texture is a publisher side texture with no backing data.
type Texture struct {
	G    gpu.Geometry
	Data interface{}
}

func NewTexture(w, h int) *Texture {
	return &Texture{G: gpu.Geometry{Width: w, Height: h}}
}

func (t *Texture) Geometry() gpu.Geometry { return t.G }

func (t *Texture) DataRef() interface{} { return t.Data }

type textureCache struct {
	dev      *Device
	geometry gpu.Geometry
	released bool
}

func (c *textureCache) Geometry() gpu.Geometry { return c.geometry }

func (c *textureCache) Wrap(pb gpu.PixelBuffer) (gpu.Texture, error) {
	if c.released {
		return nil, xerror.New("mock texture cache released")
	}
	return &Texture{G: pb.Geometry(), Data: pb}, nil
}

func (c *textureCache) Flush() {}

func (c *textureCache) Release() {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if c.released {
		return
	}
	c.released = true
	c.dev.live.TextureCaches--
	c.dev.record("texturecache.release %s", c.geometry)
}

type pool struct {
	dev      *Device
	geometry gpu.Geometry
	released bool
	seq      int
}

func (p *pool) Geometry() gpu.Geometry { return p.geometry }

func (p *pool) Acquire() (gpu.PixelBuffer, error) {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	if p.released {
		return nil, xerror.Errorf("mock pool released: %w", gpu.ErrResourceAllocation)
	}
	p.seq++
	p.dev.live.PixelBuffers++
	return &PixelBuffer{dev: p.dev, geometry: p.geometry, Seq: p.seq, refs: 1}, nil
}

func (p *pool) Release() {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	if p.released {
		return
	}
	p.released = true
	p.dev.live.PixelBufferPools--
	p.dev.record("pool.release %s", p.geometry)
}

// PixelBuffer counts its references; Seq is its allocation order within its pool.
type PixelBuffer struct {
	dev      *Device
	geometry gpu.Geometry
	Seq      int
	refs     int
}

func (b *PixelBuffer) Geometry() gpu.Geometry { return b.geometry }

func (b *PixelBuffer) DataRef() interface{} { return b.Seq }

func (b *PixelBuffer) Refs() int {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	return b.refs
}

func (b *PixelBuffer) Retain() gpu.PixelBuffer {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	b.refs++
	return b
}

func (b *PixelBuffer) Release() {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	b.refs--
	if b.refs == 0 {
		b.dev.live.PixelBuffers--
	}
}

type framebuffer struct {
	dev      *Device
	target   gpu.Texture
	released bool
}

func (f *framebuffer) Attach(t gpu.Texture) error {
	f.target = t
	return nil
}

func (f *framebuffer) Draw(src gpu.Texture, opts gpu.DrawOptions) error {
	if f.target == nil {
		return xerror.New("mock framebuffer has no target")
	}
	f.dev.mu.Lock()
	defer f.dev.mu.Unlock()
	f.dev.draws++
	return nil
}

func (f *framebuffer) Detach() { f.target = nil }

func (f *framebuffer) Release() {
	f.dev.mu.Lock()
	defer f.dev.mu.Unlock()
	if f.released {
		return
	}
	f.released = true
	f.dev.live.Framebuffers--
	f.dev.record("framebuffer.release")
}
