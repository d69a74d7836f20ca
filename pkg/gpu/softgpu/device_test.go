package softgpu_test

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tauraamui/texcapd/pkg/gpu"
	"github.com/tauraamui/texcapd/pkg/gpu/softgpu"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	softgpu.Fill(img, c)
	return img
}

func TestAllocationsRejectDegenerateGeometry(t *testing.T) {
	is := is.New(t)
	dev := softgpu.New()

	_, err := dev.NewTextureCache(gpu.Geometry{})
	is.True(errors.Is(err, gpu.ErrInvalidGeometry))
	_, err = dev.NewPixelBufferPool(gpu.Geometry{Width: 4})
	is.True(errors.Is(err, gpu.ErrInvalidGeometry))
	is.Equal(dev.Stats().Live(), 0)
}

func TestPoolRecyclesReleasedBuffers(t *testing.T) {
	is := is.New(t)
	dev := softgpu.New()
	g := gpu.Geometry{Width: 8, Height: 8}
	pool, err := dev.NewPixelBufferPool(g)
	is.NoErr(err)

	first, err := pool.Acquire()
	is.NoErr(err)
	is.Equal(first.Geometry(), g)
	first.Release()

	second, err := pool.Acquire()
	is.NoErr(err)
	is.Equal(second, first)
	is.Equal(dev.Stats().PixelBuffers, 1)

	second.Release()
	pool.Release()
	is.Equal(dev.Stats().Live(), 0)
}

func TestBufferOutlivesPoolUntilLastRelease(t *testing.T) {
	is := is.New(t)
	dev := softgpu.New()
	pool, err := dev.NewPixelBufferPool(gpu.Geometry{Width: 2, Height: 2})
	is.NoErr(err)

	buf, err := pool.Acquire()
	is.NoErr(err)
	held := buf.Retain()
	pool.Release()

	_, err = pool.Acquire()
	is.True(errors.Is(err, gpu.ErrResourceAllocation))

	buf.Release()
	is.Equal(dev.Stats().PixelBuffers, 1)
	held.Release()
	is.Equal(dev.Stats().Live(), 0)
}

func TestTextureCacheRejectsMismatchedBuffer(t *testing.T) {
	dev := softgpu.New()
	cache, err := dev.NewTextureCache(gpu.Geometry{Width: 4, Height: 4})
	require.NoError(t, err)
	pool, err := dev.NewPixelBufferPool(gpu.Geometry{Width: 8, Height: 8})
	require.NoError(t, err)
	buf, err := pool.Acquire()
	require.NoError(t, err)
	defer buf.Release()

	_, err = cache.Wrap(buf)
	assert.Error(t, err)

	cache.Release()
	cache.Release()
	assert.Equal(t, 0, dev.Stats().TextureCaches)
}

func TestFramebufferScalesSourceToTarget(t *testing.T) {
	dev := softgpu.New()
	g := gpu.Geometry{Width: 8, Height: 4}
	cache, err := dev.NewTextureCache(g)
	require.NoError(t, err)
	pool, err := dev.NewPixelBufferPool(g)
	require.NoError(t, err)
	fb, err := dev.NewFramebuffer()
	require.NoError(t, err)

	buf, err := pool.Acquire()
	require.NoError(t, err)
	target, err := cache.Wrap(buf)
	require.NoError(t, err)

	require.NoError(t, fb.Attach(target))
	green := color.RGBA{G: 255, A: 255}
	require.NoError(t, fb.Draw(softgpu.ImageTexture(solid(2, 1, green)), gpu.DrawOptions{}))
	fb.Detach()

	out := buf.DataRef().(*image.RGBA)
	assert.Equal(t, image.Rect(0, 0, 8, 4), out.Bounds())
	assert.Equal(t, green, out.RGBAAt(0, 0))
	assert.Equal(t, green, out.RGBAAt(7, 3))

	assert.Error(t, fb.Draw(softgpu.ImageTexture(solid(2, 1, green)), gpu.DrawOptions{}))

	buf.Release()
	fb.Release()
	pool.Release()
	cache.Release()
	assert.Equal(t, 0, dev.Stats().Live())
}

func TestTextureFromImage(t *testing.T) {
	is := is.New(t)
	dev := softgpu.New()

	tex, err := dev.TextureFromImage(solid(3, 5, color.White))
	is.NoErr(err)
	is.Equal(tex.Geometry(), gpu.Geometry{Width: 3, Height: 5})

	_, err = dev.TextureFromImage(nil)
	is.True(err != nil)
}
