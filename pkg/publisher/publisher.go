package publisher

import (
	"fmt"

	"github.com/tauraamui/texcapd/pkg/gpu"
	"github.com/tauraamui/xerror"
)

const KindDirectory xerror.Kind = "directory"

var (
	ErrNotFound         = xerror.NewWithKind(KindDirectory, "publisher not found")
	ErrAlreadyAnnounced = xerror.NewWithKind(KindDirectory, "publisher already announced")
	ErrRetired          = xerror.NewWithKind(KindDirectory, "publisher retired")
)

// Identity names a publisher. ID is stable for the lifetime of a publisher
// process; Name is what an operator sees and survives restarts.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (i Identity) IsZero() bool {
	return len(i.ID) == 0 && len(i.Name) == 0
}

func (i Identity) String() string {
	return fmt.Sprintf("%s (%s)", i.Name, i.ID)
}

// Handlers are invoked from the publisher's goroutine.
type Handlers struct {
	OnFrame   func(gpu.Texture)
	OnRetired func(Identity)
}

type Subscription interface {
	UUID() string
	Identity() Identity
}

// Directory is the registry of live publishers.
type Directory interface {
	List() []Identity
	Subscribe(Identity, Handlers) (Subscription, error)
	Unsubscribe(Subscription)
	// WatchAnnounce calls fn for every publisher announced after the call.
	WatchAnnounce(fn func(Identity)) (cancel func())
}
