package screen

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tauraamui/texcapd/pkg/capture"
	"github.com/tauraamui/texcapd/pkg/capture/governor"
	"github.com/tauraamui/texcapd/pkg/capture/gpucache"
	"github.com/tauraamui/texcapd/pkg/capture/normalizer"
	"github.com/tauraamui/texcapd/pkg/gpu"
	"github.com/tauraamui/texcapd/pkg/log"
	"github.com/tauraamui/xerror"
	"github.com/vova616/screenshot"
)

const defaultFPS = 10

var grab = func() (*image.RGBA, error) {
	return screenshot.CaptureScreen()
}

type Settings struct {
	Title        string
	FPS          float64
	FlipVertical bool
	Now          func() time.Time
}

// Device captures the active monitor by polling it at a fixed rate.
type Device struct {
	uuid     string
	title    string
	device   gpu.Device
	interval time.Duration

	mu         sync.Mutex
	cache      *gpucache.Cache
	normalizer *normalizer.Normalizer
	governor   *governor.Governor
	cancel     context.CancelFunc
	stopped    chan struct{}
}

var _ capture.Device = &Device{}

func New(device gpu.Device, settings Settings) *Device {
	if settings.FPS <= 0 {
		settings.FPS = defaultFPS
	}
	cache := gpucache.New(device)
	return &Device{
		uuid:       uuid.NewString(),
		title:      settings.Title,
		device:     device,
		interval:   time.Duration(float64(time.Second) / settings.FPS),
		cache:      cache,
		normalizer: normalizer.New(device, cache, gpu.DrawOptions{FlipVertical: settings.FlipVertical}),
		governor:   governor.New(governor.Options{Now: settings.Now}),
	}
}

func (d *Device) UUID() string { return d.uuid }

func (d *Device) Title() string { return d.title }

func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return xerror.Errorf("unable to start screen capture [%s]: %w", d.title, capture.ErrAlreadyStarted)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.stopped = make(chan struct{})
	d.governor.Reset()

	log.Info("Capturing screen for [%s] every %s", d.title, d.interval)
	go d.run(ctx, d.stopped)
	return nil
}

func (d *Device) run(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := d.Capture()
			if err == nil {
				continue
			}
			if errors.Is(err, gpu.ErrResourceAllocation) {
				log.Error("Stopping screen capture [%s]: %v", d.title, err)
				d.abort(stopped)
				return
			}
			log.Error("Unable to capture screen for [%s]: %v", d.title, err)
		}
	}
}

// abort tears down after a fatal capture error so the device can be
// started again without a Stop.
func (d *Device) abort(stopped chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped == stopped {
		d.cancel()
		d.cancel, d.stopped = nil, nil
	}
	d.normalizer.Release()
	d.cache.Release()
}

// Capture grabs and normalizes a single screen frame.
func (d *Device) Capture() error {
	img, err := grab()
	if err != nil {
		return xerror.Errorf("unable to grab screen: %w", err)
	}

	tex, err := d.device.TextureFromImage(img)
	if err != nil {
		return xerror.Errorf("unable to upload screen image: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.normalizer.Normalize(tex); err != nil {
		return err
	}
	d.governor.Record(d.governor.Now())
	return nil
}

// Stop ends polling and releases every GPU resource. Idempotent.
func (d *Device) Stop() error {
	d.mu.Lock()
	cancel, stopped := d.cancel, d.stopped
	d.cancel, d.stopped = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		log.Info("Stopping screen capture [%s]...", d.title)
		cancel()
		<-stopped
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.normalizer.Release()
	d.cache.Release()
	return nil
}

func (d *Device) LatestFrame() gpu.PixelBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.normalizer.Current()
}

func (d *Device) CurrentGeometry() gpu.Geometry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.normalizer.Geometry()
}

func (d *Device) CurrentFPS() float64 {
	return d.governor.CurrentFPS()
}

func (d *Device) NeedsAdvancedProcessing() bool { return false }
