package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/peerlink/internal/domain"
)

// PresenceDirectory maps identities to live connection handles and back.
// The two maps are mutual inverses at every observable point: an identity
// holds at most one handle and a handle at most one identity.
type PresenceDirectory struct {
	mu         sync.RWMutex
	byIdentity map[domain.Identity]domain.ClientID
	byHandle   map[domain.ClientID]domain.Identity
}

func NewPresenceDirectory() *PresenceDirectory {
	return &PresenceDirectory{
		byIdentity: make(map[domain.Identity]domain.ClientID),
		byHandle:   make(map[domain.ClientID]domain.Identity),
	}
}

// Join binds identity to handle in both directions. If the identity was
// already bound to a different handle, that binding is dropped and the
// displaced handle is returned so the caller can terminate its connection
// (last writer wins). The directory itself performs no transport I/O.
func (d *PresenceDirectory) Join(identity domain.Identity, handle domain.ClientID) (evicted domain.ClientID, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if old, exists := d.byIdentity[identity]; exists && old != handle {
		delete(d.byHandle, old)
		evicted, ok = old, true
		log.Info().Str("module", "core.presence").Str("identity", string(identity)).Str("stale", string(old)).Msg("evicted stale handle")
	}
	// A handle re-joining under a new identity must not leave its old
	// identity entry dangling.
	if prev, exists := d.byHandle[handle]; exists && prev != identity {
		delete(d.byIdentity, prev)
	}
	d.byIdentity[identity] = handle
	d.byHandle[handle] = identity
	return evicted, ok
}

// Identity is the reverse lookup used on relay and disconnect.
func (d *PresenceDirectory) Identity(handle domain.ClientID) (domain.Identity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	identity, ok := d.byHandle[handle]
	return identity, ok
}

func (d *PresenceDirectory) Handle(identity domain.Identity) (domain.ClientID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	handle, ok := d.byIdentity[identity]
	return handle, ok
}

// Remove deletes both directions for the handle. Removing an absent
// handle is a no-op.
func (d *PresenceDirectory) Remove(handle domain.ClientID) (domain.Identity, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	identity, ok := d.byHandle[handle]
	if !ok {
		return "", false
	}
	delete(d.byHandle, handle)
	delete(d.byIdentity, identity)
	return identity, true
}

func (d *PresenceDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byHandle)
}
