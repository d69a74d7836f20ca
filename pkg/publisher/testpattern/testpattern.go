package testpattern

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync/atomic"
	"time"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"github.com/tauraamui/texcapd/pkg/gpu"
	"github.com/tauraamui/texcapd/pkg/gpu/softgpu"
	"github.com/tauraamui/texcapd/pkg/log"
	"github.com/tauraamui/texcapd/pkg/publisher"
	"github.com/tauraamui/xerror"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"
)

const (
	defaultFPS       = 30
	timestampFormat  = "2006-01-02 15:04:05.000"
	textLinesPerView = 8
)

type Settings struct {
	Identity publisher.Identity
	Width    int
	Height   int
	FPS      int
	Now      func() time.Time
}

// Pattern is an in-process publisher rendering three overlapping circles
// with its name, the time and a frame counter written over them.
type Pattern struct {
	frames   uint64
	settings Settings
	device   gpu.Device
	server   *publisher.Server
	face     font.Face
	base     *image.RGBA
}

// New announces a test pattern publisher on dir.
func New(dir *publisher.LocalDirectory, device gpu.Device, settings Settings) (*Pattern, error) {
	g := gpu.Geometry{Width: settings.Width, Height: settings.Height}
	if err := gpu.CheckGeometry(g); err != nil {
		return nil, xerror.Errorf("unable to create test pattern [%s]: %w", settings.Identity, err)
	}
	if settings.FPS <= 0 {
		settings.FPS = defaultFPS
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}

	ttf, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, xerror.Errorf("unable to parse test pattern font: %w", err)
	}

	server, err := dir.Announce(settings.Identity)
	if err != nil {
		return nil, err
	}

	return &Pattern{
		settings: settings,
		device:   device,
		server:   server,
		face: truetype.NewFace(ttf, &truetype.Options{
			Size:    math.Max(8, float64(settings.Height)/textLinesPerView),
			Hinting: font.HintingFull,
		}),
		base: renderBaseCanvas(settings.Width, settings.Height),
	}, nil
}

func (p *Pattern) Identity() publisher.Identity { return p.settings.Identity }

func (p *Pattern) FPS() int { return p.settings.FPS }

// Render draws the frame for time at over a copy of the base canvas.
func (p *Pattern) Render(at time.Time) *image.RGBA {
	canvas := cloneImage(p.base)
	lineHeight := p.settings.Height / textLinesPerView
	p.drawText(canvas, lineHeight, p.settings.Identity.Name)
	p.drawText(canvas, lineHeight*2, at.Format(timestampFormat))
	p.drawText(canvas, lineHeight*3, fmt.Sprintf("#%d", p.Frames()))
	return canvas
}

// PublishFrame renders and publishes a single frame.
func (p *Pattern) PublishFrame() error {
	img := p.Render(p.settings.Now())
	tex, err := p.device.TextureFromImage(img)
	if err != nil {
		return xerror.Errorf("unable to upload test pattern frame: %w", err)
	}
	if err := p.server.Publish(tex); err != nil {
		return err
	}
	atomic.AddUint64(&p.frames, 1)
	return nil
}

// Run publishes frames at the configured rate until ctx is cancelled,
// then retires the publisher.
func (p *Pattern) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(p.settings.FPS))
	defer ticker.Stop()
	defer p.Retire()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.PublishFrame(); err != nil {
				log.Error("Unable to publish test pattern [%s] frame: %v", p.settings.Identity, err)
				return
			}
		}
	}
}

func (p *Pattern) Frames() uint64 { return atomic.LoadUint64(&p.frames) }

func (p *Pattern) Retire() {
	p.server.Retire()
}

func (p *Pattern) drawText(canvas *image.RGBA, baseline int, text string) {
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.White,
		Face: p.face,
		Dot: fixed.Point26_6{
			X: fixed.I(p.settings.Width / 40),
			Y: fixed.I(baseline),
		},
	}
	d.DrawString(text)
}

func renderBaseCanvas(w, h int) *image.RGBA {
	hw, hh := float64(w)/2, float64(h)/2
	r := math.Min(hw, hh) / 2
	θ := 2 * math.Pi / 3
	cr := &circle{hw - r*math.Sin(0), hh - r*math.Cos(0), r * 1.5}
	cg := &circle{hw - r*math.Sin(θ), hh - r*math.Cos(θ), r * 1.5}
	cb := &circle{hw - r*math.Sin(-θ), hh - r*math.Cos(-θ), r * 1.5}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	softgpu.Fill(img, color.Black)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			c := color.RGBA{
				cr.Brightness(float64(x), float64(y)),
				cg.Brightness(float64(x), float64(y)),
				cb.Brightness(float64(x), float64(y)),
				255,
			}
			if c.R|c.G|c.B == 0 {
				continue
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func cloneImage(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)
	return dst
}

type circle struct {
	X, Y, R float64
}

func (c *circle) Brightness(x, y float64) uint8 {
	dx, dy := c.X-x, c.Y-y
	if math.Sqrt(dx*dx+dy*dy)/c.R > 1 {
		return 0
	}
	return 255
}
