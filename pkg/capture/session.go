package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tauraamui/texcapd/pkg/capture/connection"
	"github.com/tauraamui/texcapd/pkg/capture/governor"
	"github.com/tauraamui/texcapd/pkg/capture/gpucache"
	"github.com/tauraamui/texcapd/pkg/capture/normalizer"
	"github.com/tauraamui/texcapd/pkg/gpu"
	"github.com/tauraamui/texcapd/pkg/log"
	"github.com/tauraamui/texcapd/pkg/publisher"
	"github.com/tauraamui/xerror"
)

const defaultQueueSize = 16

const KindSession xerror.Kind = "session"

var (
	ErrAlreadyStarted = xerror.NewWithKind(KindSession, "capture session already started")

	ErrConnect            = connection.ErrConnect
	ErrGeometry           = gpu.ErrInvalidGeometry
	ErrResourceAllocation = gpu.ErrResourceAllocation
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Retiring
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Retiring:
		return "retiring"
	default:
		return "unknown"
	}
}

type Stats struct {
	FramesNormalized uint64
	FramesThrottled  uint64
	FramesDropped    uint64
	StaleFrames      uint64
	GeometryErrors   uint64
	FrameErrors      uint64
	Retirements      uint64
	Rebinds          uint64
	CacheRebuilds    int
}

// AdvancedProcessingPolicy decides whether frames from a source need extra
// downstream processing.
type AdvancedProcessingPolicy func(publisher.Identity, gpu.Geometry) bool

type Option func(*Session)

func WithTargetFPS(fps float64) Option {
	return func(s *Session) { s.governorOpts.TargetFPS = fps }
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.governorOpts.Now = now }
}

func WithResumeByName(resume bool) Option {
	return func(s *Session) { s.connOpts.ResumeByName = resume }
}

func WithFlipVertical(flip bool) Option {
	return func(s *Session) { s.drawOpts.FlipVertical = flip }
}

func WithQueueSize(size int) Option {
	return func(s *Session) { s.queueSize = size }
}

// WithErrorObserver is told about errors that end a connection. It is
// called without the session lock held and may call Stop or Start.
func WithErrorObserver(fn func(error)) Option {
	return func(s *Session) { s.onError = fn }
}

func WithAdvancedProcessingPolicy(p AdvancedProcessingPolicy) Option {
	return func(s *Session) { s.policy = p }
}

// Session captures frames from one publisher. Directory notifications are
// queued onto a single goroutine per run; every accessor and control call
// synchronises with it through mu.
type Session struct {
	dropped uint64

	mu           sync.Mutex
	dir          publisher.Directory
	device       gpu.Device
	state        State
	run          uint64
	done         chan struct{}
	manager      *connection.Manager
	cache        *gpucache.Cache
	normalizer   *normalizer.Normalizer
	governor     *governor.Governor
	stats        Stats
	queueSize    int
	connOpts     connection.Options
	governorOpts governor.Options
	drawOpts     gpu.DrawOptions
	onError      func(error)
	policy       AdvancedProcessingPolicy
}

func NewSession(dir publisher.Directory, device gpu.Device, opts ...Option) *Session {
	s := &Session{
		dir:       dir,
		device:    device,
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.queueSize < 1 {
		s.queueSize = 1
	}
	s.cache = gpucache.New(device)
	s.normalizer = normalizer.New(device, s.cache, s.drawOpts)
	s.governor = governor.New(s.governorOpts)
	return s
}

// Start begins capturing from id. A ConnectError is returned when id is not
// currently published; the session then stays Connecting until it is.
func (s *Session) Start(id publisher.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Disconnected {
		return xerror.Errorf("unable to start capture of [%s] while %s: %w", id, s.state, ErrAlreadyStarted)
	}

	s.run++
	run := s.run
	events := make(chan connection.Event, s.queueSize)
	done := make(chan struct{})
	s.done = done
	s.state = Connecting
	s.governor.Reset()
	s.manager = connection.New(s.dir, func(ev connection.Event) {
		ev.Received = s.governor.Now()
		s.enqueue(events, done, ev)
	}, s.connOpts)

	go s.loop(run, events, done)

	log.Info("Connecting to publisher [%s]...", id)
	if err := s.manager.Connect(id); err != nil {
		log.Warn("Publisher [%s] not available yet, waiting for it to be announced: %v", id, err)
		return err
	}
	return nil
}

// enqueue runs on the publisher's goroutine. Frames are dropped when the
// queue is full; lifecycle notifications wait for room.
func (s *Session) enqueue(events chan<- connection.Event, done <-chan struct{}, ev connection.Event) {
	if ev.Kind == connection.FrameAvailable {
		select {
		case <-done:
		case events <- ev:
		default:
			atomic.AddUint64(&s.dropped, 1)
		}
		return
	}

	select {
	case <-done:
	case events <- ev:
	}
}

func (s *Session) loop(run uint64, events <-chan connection.Event, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev := <-events:
			s.handle(run, ev)
		}
	}
}

func (s *Session) handle(run uint64, ev connection.Event) {
	s.mu.Lock()
	if s.run != run || s.state == Disconnected {
		s.mu.Unlock()
		return
	}

	var fatal error
	switch ev.Kind {
	case connection.FrameAvailable:
		fatal = s.handleFrame(ev)
	case connection.PublisherRetired:
		s.handleRetired(ev)
	case connection.PublisherAnnounced:
		s.handleAnnounced(ev)
	}
	observer := s.onError
	s.mu.Unlock()

	if fatal != nil && observer != nil {
		observer(fatal)
	}
}

func (s *Session) handleFrame(ev connection.Event) error {
	if !s.manager.Current(ev) {
		s.stats.StaleFrames++
		return nil
	}

	if !s.governor.Admit(ev.Received) {
		s.stats.FramesThrottled++
		return nil
	}

	if _, err := s.normalizer.Normalize(ev.Texture); err != nil {
		switch {
		case errors.Is(err, gpu.ErrInvalidGeometry):
			s.stats.GeometryErrors++
			log.Warn("Discarding frame from [%s]: %v", s.manager.Identity(), err)
			return nil
		case errors.Is(err, gpu.ErrResourceAllocation):
			id := s.manager.Identity()
			log.Error("Unable to allocate capture resources for [%s], disconnecting: %v", id, err)
			s.teardown()
			return xerror.Errorf("capture of [%s] stopped: %w", id, err)
		default:
			s.stats.FrameErrors++
			log.Error("Unable to normalize frame from [%s]: %v", s.manager.Identity(), err)
			return nil
		}
	}

	s.governor.Record(ev.Received)
	s.stats.FramesNormalized++
	if s.state != Connected {
		log.Info("Receiving frames from publisher [%s]", s.manager.Identity())
		s.state = Connected
	}
	return nil
}

func (s *Session) handleRetired(ev connection.Event) {
	if !s.manager.HandleRetired(ev) {
		return
	}
	s.stats.Retirements++
	if s.state != Connected {
		log.Warn("Publisher [%s] retired before sending a frame, waiting for it to return...", ev.Identity)
		return
	}
	log.Warn("Publisher [%s] retired, keeping last frame until it returns...", ev.Identity)
	s.state = Retiring
}

func (s *Session) handleAnnounced(ev connection.Event) {
	rebound, err := s.manager.HandleAnnounce(ev.Identity)
	if err != nil {
		log.Warn("Unable to rebind to announced publisher [%s]: %v", ev.Identity, err)
		return
	}
	if !rebound {
		return
	}
	s.stats.Rebinds++
	log.Info("Publisher [%s] announced, rebound", s.manager.Identity())
	// only a session that had frames before the retire counts as connected
	if s.state == Retiring {
		s.state = Connected
	}
}

// teardown releases everything the session holds. Callers hold mu.
func (s *Session) teardown() {
	if s.manager != nil {
		s.manager.Disconnect()
	}
	s.normalizer.Release()
	s.cache.Release()
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.state = Disconnected
}

// Stop disconnects and releases every GPU resource. Idempotent, and safe to
// call from a publisher callback or the error observer.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Disconnected {
		return nil
	}
	log.Info("Stopping capture of [%s]...", s.manager.Identity())
	s.teardown()
	return nil
}

// LatestFrame returns the most recent frame with a reference owned by the
// caller, or nil. While Retiring it is the last frame received.
func (s *Session) LatestFrame() gpu.PixelBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.normalizer.Current()
}

func (s *Session) CurrentFPS() float64 {
	return s.governor.CurrentFPS()
}

func (s *Session) CurrentGeometry() gpu.Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.normalizer.Geometry()
}

// NeedsAdvancedProcessing runs the policy outside the session lock, so a
// policy may call back into the session.
func (s *Session) NeedsAdvancedProcessing() bool {
	s.mu.Lock()
	policy := s.policy
	if policy == nil || s.manager == nil {
		s.mu.Unlock()
		return false
	}
	id, g := s.manager.Identity(), s.normalizer.Geometry()
	s.mu.Unlock()
	return policy(id, g)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Identity() publisher.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manager == nil {
		return publisher.Identity{}
	}
	return s.manager.Identity()
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	stats.FramesDropped = atomic.LoadUint64(&s.dropped)
	stats.CacheRebuilds = s.cache.Stats().Rebuilds
	return stats
}
