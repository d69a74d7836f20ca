package cvgpu

import (
	"image"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/tauraamui/texcapd/pkg/gpu"
	"github.com/tauraamui/xerror"
	"gocv.io/x/gocv"
)

const maxFreeBuffers = 4

// canonical pixel layout of every pooled buffer
const matType = gocv.MatTypeCV8UC4

// New returns a device whose textures and pixel buffers are OpenCV mats.
func New() gpu.Device {
	return &device{}
}

type device struct {
	caches, pools, buffers, fbs int64
}

func (d *device) Name() string { return "opencv" }

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
	mat, err := gocv.ImageToMatRGBA(img)
	if err != nil {
		return nil, errors.Wrap(err, "unable to convert Go image into OpenCV mat")
	}
	t := &matTexture{mat: mat}
	// publisher textures have no explicit release, the mat goes with the wrapper
	runtime.SetFinalizer(t, func(t *matTexture) { t.mat.Close() })
	return t, nil
}

type matTexture struct {
	mat gocv.Mat
}

func (t *matTexture) Geometry() gpu.Geometry {
	return gpu.Geometry{Width: t.mat.Cols(), Height: t.mat.Rows()}
}

func (t *matTexture) DataRef() interface{} { return &t.mat }

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
		mat := gocv.NewMatWithSize(p.geometry.Height, p.geometry.Width, matType)
		if mat.Empty() {
			mat.Close()
			return nil, xerror.Errorf("unable to allocate %s mat: %w", p.geometry, gpu.ErrResourceAllocation)
		}
		b = &buffer{pool: p, mat: mat}
		atomic.AddInt64(&p.dev.buffers, 1)
	}
	b.refs = 1
	return b, nil
}

func (p *pool) recycle(b *buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released || len(p.free) >= maxFreeBuffers {
		b.mat.Close()
		atomic.AddInt64(&p.dev.buffers, -1)
		return
	}
	p.free = append(p.free, b)
}

func (p *pool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	p.released = true
	for _, b := range p.free {
		b.mat.Close()
	}
	atomic.AddInt64(&p.dev.buffers, -int64(len(p.free)))
	p.free = nil
	atomic.AddInt64(&p.dev.pools, -1)
}

type buffer struct {
	pool *pool
	refs int32
	mat  gocv.Mat
}

func (b *buffer) Geometry() gpu.Geometry { return b.pool.geometry }

func (b *buffer) DataRef() interface{} { return &b.mat }

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
		return nil, xerror.New("must pass OpenCV pixel buffer to OpenCV texture cache")
	}
	if b.Geometry() != c.geometry {
		return nil, xerror.Errorf("buffer %s does not match texture cache %s", b.Geometry(), c.geometry)
	}
	return &targetTexture{mat: &b.mat}, nil
}

func (c *textureCache) Flush() {}

func (c *textureCache) Release() {
	if atomic.CompareAndSwapInt32(&c.released, 0, 1) {
		atomic.AddInt64(&c.dev.caches, -1)
	}
}

// targetTexture borrows a pooled buffer's mat, it never closes it.
type targetTexture struct {
	mat *gocv.Mat
}

func (t *targetTexture) Geometry() gpu.Geometry {
	return gpu.Geometry{Width: t.mat.Cols(), Height: t.mat.Rows()}
}

func (t *targetTexture) DataRef() interface{} { return t.mat }

type framebuffer struct {
	dev      *device
	target   *gocv.Mat
	scratch  gocv.Mat
	hasMat   bool
	released bool
}

func (f *framebuffer) Attach(t gpu.Texture) error {
	if f.released {
		return xerror.New("framebuffer already released")
	}
	mat, ok := t.DataRef().(*gocv.Mat)
	if !ok {
		return xerror.New("must attach OpenCV texture to OpenCV framebuffer")
	}
	f.target = mat
	return nil
}

func (f *framebuffer) Draw(src gpu.Texture, opts gpu.DrawOptions) error {
	if f.target == nil {
		return xerror.New("framebuffer has no attached target")
	}
	srcMat, ok := src.DataRef().(*gocv.Mat)
	if !ok {
		return xerror.New("must pass OpenCV texture to OpenCV framebuffer")
	}

	in, err := f.toCanonical(*srcMat)
	if err != nil {
		return err
	}

	size := image.Pt(f.target.Cols(), f.target.Rows())
	if in.Cols() == size.X && in.Rows() == size.Y {
		in.CopyTo(f.target)
	} else {
		gocv.Resize(in, f.target, size, 0, 0, gocv.InterpolationLinear)
	}

	if opts.FlipVertical {
		gocv.Flip(*f.target, f.target, 0)
	}
	return nil
}

// toCanonical converts src to four channels, reusing the scratch mat.
func (f *framebuffer) toCanonical(src gocv.Mat) (gocv.Mat, error) {
	switch src.Channels() {
	case 4:
		return src, nil
	case 3, 1:
		if !f.hasMat {
			f.scratch = gocv.NewMat()
			f.hasMat = true
		}
		code := gocv.ColorBGRToBGRA
		if src.Channels() == 1 {
			code = gocv.ColorGrayToBGRA
		}
		gocv.CvtColor(src, &f.scratch, code)
		return f.scratch, nil
	default:
		return gocv.Mat{}, xerror.Errorf("unsupported source channel count: %d", src.Channels())
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
	if f.hasMat {
		f.scratch.Close()
		f.hasMat = false
	}
	atomic.AddInt64(&f.dev.fbs, -1)
}
