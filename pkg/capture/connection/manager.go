package connection

import (
	"time"

	"github.com/tauraamui/texcapd/pkg/gpu"
	"github.com/tauraamui/texcapd/pkg/log"
	"github.com/tauraamui/texcapd/pkg/publisher"
	"github.com/tauraamui/xerror"
)

const KindConnect xerror.Kind = "connect"

var ErrConnect = xerror.NewWithKind(KindConnect, "publisher identity not resolvable")

type EventKind int

const (
	FrameAvailable EventKind = iota
	PublisherRetired
	PublisherAnnounced
)

func (k EventKind) String() string {
	switch k {
	case FrameAvailable:
		return "frame-available"
	case PublisherRetired:
		return "publisher-retired"
	case PublisherAnnounced:
		return "publisher-announced"
	default:
		return "unknown"
	}
}

// Event is a directory notification translated for the owning session.
// Generation identifies the binding a frame or retire came from, Received
// is stamped by whoever queues the event.
type Event struct {
	Kind       EventKind
	Generation uint64
	Identity   publisher.Identity
	Texture    gpu.Texture
	Received   time.Time
}

type Options struct {
	// ResumeByName lets a publisher with a different ID but the same
	// name stand in for the remembered one.
	ResumeByName bool
}

// Manager owns the link to one publisher. It is not safe for concurrent
// use; every call is made from the owning session under its lock. Directory
// notifications only ever reach the session through post.
type Manager struct {
	dir        publisher.Directory
	post       func(Event)
	opts       Options
	identity   publisher.Identity
	remembered bool
	retired    bool
	sub        publisher.Subscription
	generation uint64
	stopWatch  func()
}

func New(dir publisher.Directory, post func(Event), opts Options) *Manager {
	return &Manager{dir: dir, post: post, opts: opts}
}

// Connect remembers id and tries to bind to it. An error wrapping ErrConnect
// means the publisher is not there yet; the manager keeps waiting for it
// to be announced.
func (m *Manager) Connect(id publisher.Identity) error {
	m.Disconnect()

	m.identity = id
	m.remembered = true
	m.retired = false
	m.stopWatch = m.dir.WatchAnnounce(func(announced publisher.Identity) {
		m.post(Event{Kind: PublisherAnnounced, Identity: announced})
	})

	return m.bind()
}

func (m *Manager) bind() error {
	m.generation++
	gen := m.generation

	target := m.resolve()
	sub, err := m.dir.Subscribe(target, publisher.Handlers{
		OnFrame: func(tex gpu.Texture) {
			m.post(Event{Kind: FrameAvailable, Generation: gen, Texture: tex})
		},
		OnRetired: func(id publisher.Identity) {
			m.post(Event{Kind: PublisherRetired, Generation: gen, Identity: id})
		},
	})
	if err != nil {
		return xerror.Errorf("unable to bind to publisher [%s]: %v: %w", m.identity, err, ErrConnect)
	}

	if target.ID != m.identity.ID {
		log.Warn("Resuming publisher [%s] by name as [%s]", m.identity, target)
		m.identity = target
	}
	m.sub = sub
	return nil
}

// resolve returns the identity to subscribe to, falling back to a listed
// publisher with the same name when resuming by name.
func (m *Manager) resolve() publisher.Identity {
	if !m.opts.ResumeByName || len(m.identity.Name) == 0 {
		return m.identity
	}
	var byName *publisher.Identity
	for _, listed := range m.dir.List() {
		listed := listed
		if listed.ID == m.identity.ID {
			return listed
		}
		if byName == nil && listed.Name == m.identity.Name {
			byName = &listed
		}
	}
	if byName != nil {
		return *byName
	}
	return m.identity
}

// Disconnect drops the subscription and forgets the identity. Safe to
// call when not connected.
func (m *Manager) Disconnect() {
	if m.sub != nil {
		m.dir.Unsubscribe(m.sub)
		m.sub = nil
	}
	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
	m.remembered = false
	m.retired = false
	m.generation++
}

func (m *Manager) matches(id publisher.Identity) bool {
	if id.ID == m.identity.ID {
		return true
	}
	return m.opts.ResumeByName && len(id.Name) > 0 && id.Name == m.identity.Name
}

// Current reports whether ev came from the live binding.
func (m *Manager) Current(ev Event) bool {
	return m.sub != nil && ev.Generation == m.generation
}

// HandleRetired marks the binding retired if ev is about the bound
// publisher. The identity stays remembered for a later announce.
func (m *Manager) HandleRetired(ev Event) bool {
	if !m.Current(ev) || !m.matches(ev.Identity) {
		return false
	}
	m.dir.Unsubscribe(m.sub)
	m.sub = nil
	m.retired = true
	return true
}

// HandleAnnounce rebinds when a remembered but unbound publisher comes back.
func (m *Manager) HandleAnnounce(id publisher.Identity) (bool, error) {
	if !m.remembered || m.sub != nil || !m.matches(id) {
		return false, nil
	}
	if err := m.bind(); err != nil {
		return false, err
	}
	m.retired = false
	return true, nil
}

func (m *Manager) Identity() publisher.Identity { return m.identity }

func (m *Manager) Bound() bool { return m.sub != nil }

func (m *Manager) Retired() bool { return m.retired }

func (m *Manager) Generation() uint64 { return m.generation }
