package softgpu

import (
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/tauraamui/texcapd/pkg/gpu"
	"github.com/tauraamui/xerror"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// maxFreeBuffers caps how many idle buffers a pool keeps around.
const maxFreeBuffers = 4

// New returns a device backed by in-memory RGBA images. Every texture,
// pixel buffer and render target is an *image.RGBA.
func New() gpu.Device {
	return &device{}
}

type device struct {
	caches, pools, buffers, fbs int64
}

func (d *device) Name() string { return "software" }

func (d *device) Stats() gpu.Stats {
	return gpu.Stats{
		TextureCaches:    int(atomic.LoadInt64(&d.caches)),
		PixelBufferPools: int(atomic.LoadInt64(&d.pools)),
		PixelBuffers:     int(atomic.LoadInt64(&d.buffers)),
		Framebuffers:     int(atomic.LoadInt64(&d.fbs)),
	}
}

func (d *device) NewTextureCache(g gpu.Geometry) (gpu.TextureCache, error) {
	if err := gpu.CheckGeometry(g); err != nil {
		return nil, err
	}
	atomic.AddInt64(&d.caches, 1)
	return &textureCache{dev: d, geometry: g}, nil
}

func (d *device) NewPixelBufferPool(g gpu.Geometry) (gpu.PixelBufferPool, error) {
	if err := gpu.CheckGeometry(g); err != nil {
		return nil, err
	}
	atomic.AddInt64(&d.pools, 1)
	return &pool{dev: d, geometry: g}, nil
}

func (d *device) NewFramebuffer() (gpu.Framebuffer, error) {
	atomic.AddInt64(&d.fbs, 1)
	return &framebuffer{dev: d}, nil
}

func (d *device) TextureFromImage(img image.Image) (gpu.Texture, error) {
	if img == nil {
		return nil, xerror.New("cannot upload nil image")
	}
	return ImageTexture(img), nil
}

// ImageTexture wraps img as a source texture without copying it.
func ImageTexture(img image.Image) gpu.Texture {
	return &imageTexture{img: img}
}

type imageTexture struct {
	img image.Image
}

func (t *imageTexture) Geometry() gpu.Geometry {
	b := t.img.Bounds()
	return gpu.Geometry{Width: b.Dx(), Height: b.Dy()}
}

func (t *imageTexture) DataRef() interface{} { return t.img }

type pool struct {
	dev      *device
	geometry gpu.Geometry
	mu       sync.Mutex
	released bool
	free     []*buffer
}

func (p *pool) Geometry() gpu.Geometry { return p.geometry }

func (p *pool) Acquire() (gpu.PixelBuffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil, xerror.Errorf("pool %s already released: %w", p.geometry, gpu.ErrResourceAllocation)
	}

	var b *buffer
	if n := len(p.free); n > 0 {
		b = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		b = &buffer{
			pool: p,
			img:  image.NewRGBA(image.Rect(0, 0, p.geometry.Width, p.geometry.Height)),
		}
		atomic.AddInt64(&p.dev.buffers, 1)
	}
	b.refs = 1
	return b, nil
}

func (p *pool) recycle(b *buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released || len(p.free) >= maxFreeBuffers {
		atomic.AddInt64(&p.dev.buffers, -1)
		return
	}
	p.free = append(p.free, b)
}

// Release frees idle buffers. Buffers still referenced elsewhere are
// freed when their last reference is dropped.
func (p *pool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	p.released = true
	atomic.AddInt64(&p.dev.buffers, -int64(len(p.free)))
	p.free = nil
	atomic.AddInt64(&p.dev.pools, -1)
}

type buffer struct {
	pool *pool
	refs int32
	img  *image.RGBA
}

func (b *buffer) Geometry() gpu.Geometry { return b.pool.geometry }

func (b *buffer) DataRef() interface{} { return b.img }

func (b *buffer) Retain() gpu.PixelBuffer {
	atomic.AddInt32(&b.refs, 1)
	return b
}

func (b *buffer) Release() {
	if atomic.AddInt32(&b.refs, -1) == 0 {
		b.pool.recycle(b)
	}
}

type textureCache struct {
	dev      *device
	geometry gpu.Geometry
	released int32
}

func (c *textureCache) Geometry() gpu.Geometry { return c.geometry }

func (c *textureCache) Wrap(pb gpu.PixelBuffer) (gpu.Texture, error) {
	if atomic.LoadInt32(&c.released) == 1 {
		return nil, xerror.Errorf("texture cache %s already released: %w", c.geometry, gpu.ErrResourceAllocation)
	}
	b, ok := pb.(*buffer)
	if !ok {
		return nil, xerror.New("must pass software pixel buffer to software texture cache")
	}
	if b.Geometry() != c.geometry {
		return nil, xerror.Errorf("buffer %s does not match texture cache %s", b.Geometry(), c.geometry)
	}
	return &imageTexture{img: b.img}, nil
}

func (c *textureCache) Flush() {}

func (c *textureCache) Release() {
	if atomic.CompareAndSwapInt32(&c.released, 0, 1) {
		atomic.AddInt64(&c.dev.caches, -1)
	}
}

type framebuffer struct {
	dev      *device
	target   draw.Image
	released bool
}

func (f *framebuffer) Attach(t gpu.Texture) error {
	if f.released {
		return xerror.New("framebuffer already released")
	}
	img, ok := t.DataRef().(draw.Image)
	if !ok {
		return xerror.New("framebuffer target must be a drawable image")
	}
	f.target = img
	return nil
}

func (f *framebuffer) Draw(src gpu.Texture, opts gpu.DrawOptions) error {
	if f.target == nil {
		return xerror.New("framebuffer has no attached target")
	}
	srcImg, ok := src.DataRef().(image.Image)
	if !ok {
		return xerror.New("must pass image backed texture to software framebuffer")
	}

	sr := srcImg.Bounds()
	dr := f.target.Bounds()
	if sr.Size() == dr.Size() && !opts.FlipVertical {
		draw.Copy(f.target, dr.Min, srcImg, sr, draw.Src, nil)
		return nil
	}

	draw.BiLinear.Transform(f.target, transform(sr, dr, opts.FlipVertical), srcImg, sr, draw.Src, nil)
	return nil
}

// transform maps source space onto the destination rectangle, mirroring
// rows when flip is set since GL textures are stored bottom-up.
func transform(sr, dr image.Rectangle, flip bool) f64.Aff3 {
	sx := float64(dr.Dx()) / float64(sr.Dx())
	sy := float64(dr.Dy()) / float64(sr.Dy())
	tx := float64(dr.Min.X) - sx*float64(sr.Min.X)
	if flip {
		return f64.Aff3{
			sx, 0, tx,
			0, -sy, float64(dr.Max.Y) + sy*float64(sr.Min.Y),
		}
	}
	return f64.Aff3{
		sx, 0, tx,
		0, sy, float64(dr.Min.Y) - sy*float64(sr.Min.Y),
	}
}

func (f *framebuffer) Detach() {
	f.target = nil
}

func (f *framebuffer) Release() {
	if f.released {
		return
	}
	f.released = true
	f.target = nil
	atomic.AddInt64(&f.dev.fbs, -1)
}

// Fill paints img with c. Used by publishers to clear their canvas.
func Fill(img draw.Image, c color.Color) {
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}
