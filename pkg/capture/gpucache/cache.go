package gpucache

import (
	"errors"

	"github.com/tauraamui/texcapd/pkg/gpu"
	"github.com/tauraamui/texcapd/pkg/log"
	"github.com/tauraamui/xerror"
)

// Cache owns a texture cache and pixel buffer pool pair built for one
// geometry. Either both are nil or both are valid for Geometry().
// It is not safe for concurrent use; the owning session serialises access.
type Cache struct {
	device       gpu.Device
	geometry     gpu.Geometry
	textureCache gpu.TextureCache
	pool         gpu.PixelBufferPool
	stats        Stats
}

type Stats struct {
	Ensures  int
	Rebuilds int
}

func New(device gpu.Device) *Cache {
	return &Cache{device: device}
}

// Ensure makes sure the cache is built for g, releasing resources for any
// previous geometry before allocating new ones.
func (c *Cache) Ensure(g gpu.Geometry) error {
	c.stats.Ensures++
	if c.ready() && c.geometry == g {
		return nil
	}
	if err := gpu.CheckGeometry(g); err != nil {
		return err
	}

	if c.ready() {
		log.Debug("Rebuilding gpu resource cache [%s -> %s]...", c.geometry, g)
	}
	c.Release()

	textureCache, err := c.device.NewTextureCache(g)
	if err != nil {
		return allocationError("texture cache", g, err)
	}

	pool, err := c.device.NewPixelBufferPool(g)
	if err != nil {
		textureCache.Release()
		return allocationError("pixel buffer pool", g, err)
	}

	c.textureCache, c.pool, c.geometry = textureCache, pool, g
	c.stats.Rebuilds++
	return nil
}

func allocationError(what string, g gpu.Geometry, err error) error {
	if errors.Is(err, gpu.ErrResourceAllocation) {
		return xerror.Errorf("unable to create %s for %s: %w", what, g, err)
	}
	return xerror.Errorf("unable to create %s for %s: %v: %w", what, g, err, gpu.ErrResourceAllocation)
}

func (c *Cache) ready() bool {
	return c.textureCache != nil && c.pool != nil
}

func (c *Cache) Geometry() gpu.Geometry {
	if !c.ready() {
		return gpu.Geometry{}
	}
	return c.geometry
}

// AcquireBuffer returns a pooled buffer of the ensured geometry.
func (c *Cache) AcquireBuffer() (gpu.PixelBuffer, error) {
	if !c.ready() {
		return nil, xerror.Errorf("gpu resource cache not built: %w", gpu.ErrResourceAllocation)
	}
	return c.pool.Acquire()
}

// Wrap exposes buf as a render target through the texture cache.
func (c *Cache) Wrap(buf gpu.PixelBuffer) (gpu.Texture, error) {
	if !c.ready() {
		return nil, xerror.Errorf("gpu resource cache not built: %w", gpu.ErrResourceAllocation)
	}
	return c.textureCache.Wrap(buf)
}

// Flush lets the texture cache drop mappings for buffers no longer in use.
func (c *Cache) Flush() {
	if c.textureCache != nil {
		c.textureCache.Flush()
	}
}

// Release returns both resources to the device. Safe to call repeatedly.
func (c *Cache) Release() {
	if c.textureCache != nil {
		c.textureCache.Release()
		c.textureCache = nil
	}
	if c.pool != nil {
		c.pool.Release()
		c.pool = nil
	}
	c.geometry = gpu.Geometry{}
}

func (c *Cache) Stats() Stats {
	return c.stats
}
