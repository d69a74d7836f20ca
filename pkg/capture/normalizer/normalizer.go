package normalizer

import (
	"github.com/tauraamui/texcapd/pkg/capture/gpucache"
	"github.com/tauraamui/texcapd/pkg/gpu"
	"github.com/tauraamui/xerror"
)

// Normalizer draws incoming textures of any size into pooled buffers
// of the cache's geometry, keeping the most recent one as the current frame.
// Callers serialise access.
type Normalizer struct {
	device      gpu.Device
	cache       *gpucache.Cache
	opts        gpu.DrawOptions
	framebuffer gpu.Framebuffer
	current     gpu.PixelBuffer
}

func New(device gpu.Device, cache *gpucache.Cache, opts gpu.DrawOptions) *Normalizer {
	return &Normalizer{device: device, cache: cache, opts: opts}
}

// Normalize converts src into a pooled buffer and makes it the current
// frame. On any error the previous frame stays current.
func (n *Normalizer) Normalize(src gpu.Texture) (gpu.PixelBuffer, error) {
	if src == nil {
		return nil, xerror.Errorf("nil source texture: %w", gpu.ErrInvalidGeometry)
	}
	g := src.Geometry()
	if err := gpu.CheckGeometry(g); err != nil {
		return nil, err
	}

	if err := n.cache.Ensure(g); err != nil {
		return nil, err
	}

	out, err := n.cache.AcquireBuffer()
	if err != nil {
		return nil, err
	}

	if err := n.render(src, out); err != nil {
		out.Release()
		return nil, err
	}

	if n.current != nil {
		n.current.Release()
	}
	n.current = out
	return out, nil
}

func (n *Normalizer) render(src gpu.Texture, out gpu.PixelBuffer) error {
	fb, err := n.scratchFramebuffer()
	if err != nil {
		return err
	}

	target, err := n.cache.Wrap(out)
	if err != nil {
		return err
	}

	if err := fb.Attach(target); err != nil {
		return xerror.Errorf("unable to attach output buffer to framebuffer: %w", err)
	}
	defer fb.Detach()

	if err := fb.Draw(src, n.opts); err != nil {
		return xerror.Errorf("unable to draw source texture %s: %w", src.Geometry(), err)
	}
	n.cache.Flush()
	return nil
}

func (n *Normalizer) scratchFramebuffer() (gpu.Framebuffer, error) {
	if n.framebuffer != nil {
		return n.framebuffer, nil
	}
	fb, err := n.device.NewFramebuffer()
	if err != nil {
		return nil, xerror.Errorf("unable to create scratch framebuffer: %v: %w", err, gpu.ErrResourceAllocation)
	}
	n.framebuffer = fb
	return fb, nil
}

// Current returns the current frame with an extra reference the caller
// must release, or nil if nothing has been normalized yet.
func (n *Normalizer) Current() gpu.PixelBuffer {
	if n.current == nil {
		return nil
	}
	return n.current.Retain()
}

// Geometry is the geometry of the current frame.
func (n *Normalizer) Geometry() gpu.Geometry {
	if n.current == nil {
		return gpu.Geometry{}
	}
	return n.current.Geometry()
}

// Release drops the current frame and the scratch framebuffer.
func (n *Normalizer) Release() {
	if n.current != nil {
		n.current.Release()
		n.current = nil
	}
	if n.framebuffer != nil {
		n.framebuffer.Release()
		n.framebuffer = nil
	}
}
