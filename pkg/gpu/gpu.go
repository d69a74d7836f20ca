package gpu

import (
	"fmt"
	"image"

	"github.com/tauraamui/xerror"
)

const (
	KindGeometry   xerror.Kind = "geometry"
	KindAllocation xerror.Kind = "allocation"
)

var (
	ErrInvalidGeometry    = xerror.NewWithKind(KindGeometry, "degenerate frame geometry")
	ErrResourceAllocation = xerror.NewWithKind(KindAllocation, "unable to allocate gpu resource")
)

// Geometry is the pixel size of a frame.
type Geometry struct {
	Width, Height int
}

func (g Geometry) Valid() bool {
	return g.Width > 0 && g.Height > 0
}

func (g Geometry) Area() int {
	if !g.Valid() {
		return 0
	}
	return g.Width * g.Height
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d", g.Width, g.Height)
}

// CheckGeometry returns an error wrapping ErrInvalidGeometry for zero or negative area.
func CheckGeometry(g Geometry) error {
	if !g.Valid() {
		return xerror.Errorf("frame geometry %s rejected: %w", g, ErrInvalidGeometry)
	}
	return nil
}

// Texture is a handle to image data living on a device. Publishers
// hand these out; texture caches produce them from pixel buffers.
type Texture interface {
	Geometry() Geometry
	DataRef() interface{}
}

// PixelBuffer is a reference counted image buffer handed out by a pool.
// Retain adds a reference, Release drops one; the last release returns
// the buffer to its pool, or frees it if the pool is gone.
type PixelBuffer interface {
	Geometry() Geometry
	DataRef() interface{}
	Retain() PixelBuffer
	Release()
}

type PixelBufferPool interface {
	Geometry() Geometry
	Acquire() (PixelBuffer, error)
	Release()
}

// TextureCache maps pooled pixel buffers onto textures that can be
// attached to a framebuffer as a render target.
type TextureCache interface {
	Geometry() Geometry
	Wrap(PixelBuffer) (Texture, error)
	Flush()
	Release()
}

// Framebuffer is a scratch render target. Draw copies src into whatever
// target is attached, scaling to the target's geometry.
type Framebuffer interface {
	Attach(target Texture) error
	Draw(src Texture, opts DrawOptions) error
	Detach()
	Release()
}

type DrawOptions struct {
	FlipVertical bool
}

// Device allocates all of the above.
type Device interface {
	Name() string
	NewTextureCache(Geometry) (TextureCache, error)
	NewPixelBufferPool(Geometry) (PixelBufferPool, error)
	NewFramebuffer() (Framebuffer, error)
	// TextureFromImage uploads img as a source texture owned by the caller's
	// publisher. The device keeps it alive for as long as it is referenced.
	TextureFromImage(img image.Image) (Texture, error)
	Stats() Stats
}

// Stats counts live device resources.
type Stats struct {
	TextureCaches    int
	PixelBufferPools int
	PixelBuffers     int
	Framebuffers     int
}

func (s Stats) Live() int {
	return s.TextureCaches + s.PixelBufferPools + s.PixelBuffers + s.Framebuffers
}
