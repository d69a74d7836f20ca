package publisher

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tauraamui/texcapd/pkg/gpu"
	"github.com/tauraamui/texcapd/pkg/log"
	"github.com/tauraamui/xerror"
)

// LocalDirectory is an in-process Directory. Handlers and announce
// watchers are always called without the directory lock held, so they
// may call back into the directory.
type LocalDirectory struct {
	mu       sync.Mutex
	servers  map[string]*Server
	subs     map[string]*subscription
	watchers map[string]func(Identity)
}

func NewLocalDirectory() *LocalDirectory {
	return &LocalDirectory{
		servers:  map[string]*Server{},
		subs:     map[string]*subscription{},
		watchers: map[string]func(Identity){},
	}
}

type subscription struct {
	uuid     string
	identity Identity
	handlers Handlers
}

func (s *subscription) UUID() string { return s.uuid }

func (s *subscription) Identity() Identity { return s.identity }

func (d *LocalDirectory) List() []Identity {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]Identity, 0, len(d.servers))
	for _, s := range d.servers {
		ids = append(ids, s.identity)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].ID < ids[j].ID })
	return ids
}

func (d *LocalDirectory) Subscribe(id Identity, h Handlers) (Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.servers[id.ID]
	if !ok {
		return nil, xerror.Errorf("unable to subscribe to [%s]: %w", id, ErrNotFound)
	}
	sub := &subscription{uuid: uuid.NewString(), identity: s.identity, handlers: h}
	d.subs[sub.uuid] = sub
	log.Debug("Subscribed [%s] to publisher [%s]", sub.uuid, s.identity)
	return sub, nil
}

func (d *LocalDirectory) Unsubscribe(sub Subscription) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subs, sub.UUID())
}

func (d *LocalDirectory) WatchAnnounce(fn func(Identity)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := uuid.NewString()
	d.watchers[key] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.watchers, key)
	}
}

// Announce registers a publisher and notifies announce watchers.
func (d *LocalDirectory) Announce(id Identity) (*Server, error) {
	d.mu.Lock()
	if _, exists := d.servers[id.ID]; exists {
		d.mu.Unlock()
		return nil, xerror.Errorf("unable to announce [%s]: %w", id, ErrAlreadyAnnounced)
	}
	s := &Server{dir: d, identity: id}
	d.servers[id.ID] = s
	watchers := make([]func(Identity), 0, len(d.watchers))
	for _, w := range d.watchers {
		watchers = append(watchers, w)
	}
	d.mu.Unlock()

	log.Info("Publisher announced: [%s]", id)
	for _, w := range watchers {
		w(id)
	}
	return s, nil
}

func (d *LocalDirectory) handlersFor(id Identity, remove bool) []Handlers {
	var hs []Handlers
	for key, sub := range d.subs {
		if sub.identity.ID != id.ID {
			continue
		}
		hs = append(hs, sub.handlers)
		if remove {
			delete(d.subs, key)
		}
	}
	return hs
}

// Server is the publishing side of one announced publisher.
type Server struct {
	dir      *LocalDirectory
	identity Identity
	mu       sync.Mutex
	retired  bool
}

func (s *Server) Identity() Identity { return s.identity }

// Publish delivers tex to every current subscriber.
func (s *Server) Publish(tex gpu.Texture) error {
	s.mu.Lock()
	retired := s.retired
	s.mu.Unlock()
	if retired {
		return xerror.Errorf("unable to publish from [%s]: %w", s.identity, ErrRetired)
	}

	s.dir.mu.Lock()
	hs := s.dir.handlersFor(s.identity, false)
	s.dir.mu.Unlock()

	for _, h := range hs {
		if h.OnFrame != nil {
			h.OnFrame(tex)
		}
	}
	return nil
}

// Retire removes the publisher, dropping its subscriptions after
// telling each of them it went away.
func (s *Server) Retire() {
	s.mu.Lock()
	if s.retired {
		s.mu.Unlock()
		return
	}
	s.retired = true
	s.mu.Unlock()

	s.dir.mu.Lock()
	if current, ok := s.dir.servers[s.identity.ID]; ok && current == s {
		delete(s.dir.servers, s.identity.ID)
	}
	hs := s.dir.handlersFor(s.identity, true)
	s.dir.mu.Unlock()

	log.Info("Publisher retired: [%s]", s.identity)
	for _, h := range hs {
		if h.OnRetired != nil {
			h.OnRetired(s.identity)
		}
	}
}

func (s *Server) IsRetired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retired
}
