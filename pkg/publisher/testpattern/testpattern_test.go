package testpattern_test

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tauraamui/texcapd/pkg/gpu"
	"github.com/tauraamui/texcapd/pkg/gpu/softgpu"
	"github.com/tauraamui/texcapd/pkg/log"
	"github.com/tauraamui/texcapd/pkg/mocks"
	"github.com/tauraamui/texcapd/pkg/publisher"
	"github.com/tauraamui/texcapd/pkg/publisher/testpattern"
)

var bars = publisher.Identity{ID: "pattern-1", Name: "Bars"}

func fixedNow() time.Time {
	return time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestNewAnnouncesPublisher(t *testing.T) {
	is := is.New(t)
	defer log.Silence()()

	dir := publisher.NewLocalDirectory()
	p, err := testpattern.New(dir, mocks.NewDevice(), testpattern.Settings{Identity: bars, Width: 160, Height: 90})
	is.NoErr(err)
	is.Equal(dir.List(), []publisher.Identity{bars})
	is.Equal(p.FPS(), 30)
	is.Equal(p.Identity(), bars)
}

func TestNewRejectsDegenerateGeometry(t *testing.T) {
	is := is.New(t)
	dir := publisher.NewLocalDirectory()
	_, err := testpattern.New(dir, mocks.NewDevice(), testpattern.Settings{Identity: bars, Width: 0, Height: 90})
	is.True(errors.Is(err, gpu.ErrInvalidGeometry))
	is.Equal(len(dir.List()), 0)
}

func TestNewRejectsDuplicateIdentity(t *testing.T) {
	is := is.New(t)
	defer log.Silence()()

	dir := publisher.NewLocalDirectory()
	_, err := testpattern.New(dir, mocks.NewDevice(), testpattern.Settings{Identity: bars, Width: 16, Height: 16})
	is.NoErr(err)
	_, err = testpattern.New(dir, mocks.NewDevice(), testpattern.Settings{Identity: bars, Width: 16, Height: 16})
	is.True(errors.Is(err, publisher.ErrAlreadyAnnounced))
}

func TestRenderDrawsTextOverBaseCanvas(t *testing.T) {
	defer log.Silence()()
	dir := publisher.NewLocalDirectory()
	p, err := testpattern.New(dir, mocks.NewDevice(), testpattern.Settings{Identity: bars, Width: 320, Height: 240, Now: fixedNow})
	require.NoError(t, err)

	first := p.Render(fixedNow())
	second := p.Render(fixedNow().Add(time.Hour))
	assert.Equal(t, image.Rect(0, 0, 320, 240), first.Bounds())
	assert.NotEqual(t, first.Pix, second.Pix, "timestamp text should differ between frames")
}

func TestPublishFrameReachesSubscribers(t *testing.T) {
	is := is.New(t)
	defer log.Silence()()

	dir := publisher.NewLocalDirectory()
	p, err := testpattern.New(dir, softgpu.New(), testpattern.Settings{Identity: bars, Width: 64, Height: 48, Now: fixedNow})
	is.NoErr(err)

	var received []gpu.Texture
	_, err = dir.Subscribe(bars, publisher.Handlers{OnFrame: func(tex gpu.Texture) {
		received = append(received, tex)
	}})
	is.NoErr(err)

	is.NoErr(p.PublishFrame())
	is.NoErr(p.PublishFrame())
	is.Equal(len(received), 2)
	is.Equal(received[0].Geometry(), gpu.Geometry{Width: 64, Height: 48})
	is.Equal(p.Frames(), uint64(2))
}

func TestRunPublishesUntilCancelledThenRetires(t *testing.T) {
	defer log.Silence()()

	dir := publisher.NewLocalDirectory()
	p, err := testpattern.New(dir, mocks.NewDevice(), testpattern.Settings{Identity: bars, Width: 32, Height: 32, FPS: 200})
	require.NoError(t, err)

	retired := make(chan publisher.Identity, 1)
	_, err = dir.Subscribe(bars, publisher.Handlers{OnRetired: func(id publisher.Identity) { retired <- id }})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return p.Frames() >= 3 }, 3*time.Second, time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, bars, <-retired)
	assert.Empty(t, dir.List())
}
