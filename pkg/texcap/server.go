package texcap

import (
	"context"
	"sync"

	"github.com/tauraamui/texcapd/pkg/capture"
	"github.com/tauraamui/texcapd/pkg/configdef"
	"github.com/tauraamui/texcapd/pkg/gpu"
	"github.com/tauraamui/texcapd/pkg/gpu/backend"
	"github.com/tauraamui/texcapd/pkg/log"
	"github.com/tauraamui/texcapd/pkg/publisher"
	"github.com/tauraamui/texcapd/pkg/publisher/testpattern"
	"github.com/tauraamui/texcapd/pkg/screen"
	"github.com/tauraamui/texcapd/pkg/texcap/process"
)

type Server struct {
	shutdownDone chan interface{}
	shutdownOnce sync.Once
	config       configdef.Values
	gpuDevice    gpu.Device
	directory    *publisher.LocalDirectory
	mu           sync.Mutex
	patterns     []*testpattern.Pattern
	devices      []capture.Device
	processes    []process.Process
}

// NewServer loads configuration through cr and picks the GPU backend it names.
func NewServer(cr configdef.Resolver, dir *publisher.LocalDirectory) (*Server, error) {
	config, err := cr.Resolve()
	if err != nil {
		return nil, err
	}
	if config.Debug {
		log.SetLevel("debug")
	}

	gpuDevice := backend.Resolve(config.Backend)
	log.Info("Using [%s] gpu backend", gpuDevice.Name())

	return &Server{
		config:       config,
		gpuDevice:    gpuDevice,
		directory:    dir,
		shutdownDone: make(chan interface{}),
	}, nil
}

func (s *Server) Connect() []error {
	return s.connect(context.Background())
}

func (s *Server) ConnectWithCancel(cancel context.Context) []error {
	return s.connect(cancel)
}

func (s *Server) connect(cancel context.Context) []error {
	var errs []error

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tp := range s.config.TestPatterns {
		select {
		case <-cancel.Done():
			return errs
		default:
			p, err := testpattern.New(s.directory, s.gpuDevice, testpattern.Settings{
				Identity: publisher.Identity{ID: tp.ID, Name: tp.Name},
				Width:    tp.Width,
				Height:   tp.Height,
				FPS:      tp.FPS,
			})
			if err != nil {
				errs = append(errs, err)
				continue
			}
			s.patterns = append(s.patterns, p)
		}
	}

	for _, dev := range s.config.Devices {
		select {
		case <-cancel.Done():
			return errs
		default:
			if dev.Disabled {
				log.Warn("Device [%s] is disabled... skipping...", dev.Title)
				continue
			}
			log.Info("Creating device: [%s]...", dev.Title)
			s.devices = append(s.devices, s.newDevice(dev))
		}
	}
	return errs
}

func (s *Server) newDevice(dev configdef.Device) capture.Device {
	if dev.Kind == configdef.KindScreen {
		return screen.New(s.gpuDevice, screen.Settings{
			Title:        dev.Title,
			FPS:          dev.TargetFPS,
			FlipVertical: dev.FlipVertical,
		})
	}

	title := dev.Title
	session := capture.NewSession(s.directory, s.gpuDevice,
		capture.WithTargetFPS(dev.TargetFPS),
		capture.WithResumeByName(dev.ResumeByName),
		capture.WithFlipVertical(dev.FlipVertical),
		capture.WithErrorObserver(func(err error) {
			log.Error("Device [%s] stopped: %v", title, err)
		}),
	)
	return capture.NewPublisherDevice(
		dev.Title, publisher.Identity{ID: dev.PublisherID, Name: dev.PublisherName}, session,
	)
}

func (s *Server) Devices() []capture.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capture.Device{}, s.devices...)
}
