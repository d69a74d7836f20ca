package capture

import (
	"github.com/google/uuid"
	"github.com/tauraamui/texcapd/pkg/gpu"
	"github.com/tauraamui/texcapd/pkg/publisher"
)

// Device is anything frames can be captured from.
type Device interface {
	UUID() string
	Title() string
	Start() error
	Stop() error
	LatestFrame() gpu.PixelBuffer
	CurrentGeometry() gpu.Geometry
	CurrentFPS() float64
	NeedsAdvancedProcessing() bool
}

// NewPublisherDevice captures from the publisher named by id.
func NewPublisherDevice(title string, id publisher.Identity, session *Session) Device {
	return &publisherDevice{
		uuid:     uuid.NewString(),
		title:    title,
		identity: id,
		Session:  session,
	}
}

type publisherDevice struct {
	*Session
	uuid     string
	title    string
	identity publisher.Identity
}

func (d *publisherDevice) UUID() string { return d.uuid }

func (d *publisherDevice) Title() string { return d.title }

func (d *publisherDevice) Start() error {
	return d.Session.Start(d.identity)
}
