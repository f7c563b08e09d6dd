package session

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/panemux/panemux/internal/events"
	"github.com/panemux/panemux/internal/store"
)

// ErrUnknownSession is returned for operations on an unregistered id.
var ErrUnknownSession = errors.New("session: unknown session")

// record pairs a durable definition with its process-local state.
type record struct {
	def    HostDefinition
	status Status
}

// Registry is the single source of truth for known hosts and their live
// connection state. It is the only writer of session status.
type Registry struct {
	mu      sync.Mutex
	store   *store.Store
	bus     *events.Bus
	records map[string]*record

	// teardown force-closes the transport and channels of one session. Wired
	// by the composition root after the supervisor exists; safe to leave nil
	// in tests that never connect.
	teardown func(id string)
}

// NewRegistry creates an empty registry backed by st for persistence and bus
// for change notifications.
func NewRegistry(st *store.Store, bus *events.Bus) *Registry {
	return &Registry{
		store:   st,
		bus:     bus,
		records: make(map[string]*record),
	}
}

// SetTeardown installs the hook invoked before a session is removed.
func (r *Registry) SetTeardown(fn func(id string)) {
	r.mu.Lock()
	r.teardown = fn
	r.mu.Unlock()
}

// Load populates the registry from the store. All sessions start idle.
// Entries that fail to decode are skipped with a log line rather than
// aborting the whole load.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range r.store.Keys() {
		var def HostDefinition
		ok, err := r.store.Get(key, &def)
		if err != nil {
			log.Printf("session: skipping undecodable host entry %s: %v", key, err)
			continue
		}
		if !ok || def.ID == "" {
			continue
		}
		def.normalize()
		r.records[def.ID] = &record{def: def, status: StatusIdle}
	}
	return nil
}

// List returns secret-free views of all known hosts with their current
// status, ordered by display name then address.
func (r *Registry) List() []View {
	r.mu.Lock()
	defer r.mu.Unlock()

	views := make([]View, 0, len(r.records))
	for _, rec := range r.records {
		views = append(views, rec.def.view(rec.status))
	}
	sort.Slice(views, func(i, j int) bool {
		li, lj := views[i].Alias, views[j].Alias
		if li == "" {
			li = views[i].HostAddress
		}
		if lj == "" {
			lj = views[j].HostAddress
		}
		if li != lj {
			return li < lj
		}
		return views[i].ID < views[j].ID
	})
	return views
}

// Add assigns a fresh id to def, persists it, and registers it idle.
func (r *Registry) Add(def HostDefinition) (string, error) {
	def.ID = store.NewKey()
	def.normalize()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Set(def.ID, &def); err != nil {
		return "", fmt.Errorf("session: persist host %s: %w", def.ID, err)
	}
	r.records[def.ID] = &record{def: def, status: StatusIdle}
	r.bus.Publish(events.TypeSessionsChanged, nil)
	return def.ID, nil
}

// Update merges patch into an existing definition and persists it. An
// unknown id is a no-op.
func (r *Registry) Update(id string, patch Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil
	}
	def := rec.def
	if patch.HostAddress != nil {
		def.HostAddress = *patch.HostAddress
	}
	if patch.Username != nil {
		def.Username = *patch.Username
	}
	if patch.Port != nil {
		def.Port = *patch.Port
	}
	if patch.Alias != nil {
		def.Alias = *patch.Alias
	}
	if patch.Password != nil {
		def.Password = *patch.Password
	}
	if patch.PrivateKeyPath != nil {
		def.PrivateKeyPath = *patch.PrivateKeyPath
	}
	if patch.Passphrase != nil {
		def.Passphrase = *patch.Passphrase
	}
	if patch.RequiresStrongVerification != nil {
		def.RequiresStrongVerification = *patch.RequiresStrongVerification
	}
	def.normalize()

	if err := r.store.Set(id, &def); err != nil {
		return fmt.Errorf("session: persist host %s: %w", id, err)
	}
	rec.def = def
	r.bus.Publish(events.TypeSessionsChanged, nil)
	return nil
}

// Remove tears down any live transport and channels for id, then deletes it
// from both the registry and the store. Channel teardown events fire before
// the sessions.changed notification.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	_, ok := r.records[id]
	teardown := r.teardown
	r.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}

	if teardown != nil {
		teardown(id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	if err := r.store.Remove(id); err != nil {
		return fmt.Errorf("session: remove host %s: %w", id, err)
	}
	r.bus.Publish(events.TypeSessionsChanged, nil)
	return nil
}

// Get returns the secret-free view of one host with its live status.
func (r *Registry) Get(id string) (View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return View{}, ErrUnknownSession
	}
	return rec.def.view(rec.status), nil
}

// Definition returns a copy of the full definition, secrets included. Only
// the transport layer should call this.
func (r *Registry) Definition(id string) (HostDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return HostDefinition{}, ErrUnknownSession
	}
	return rec.def, nil
}

// Status returns the current status of id.
func (r *Registry) Status(id string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return StatusIdle, ErrUnknownSession
	}
	return rec.status, nil
}

// SetStatus moves a session along its lifecycle. Only the edges
// idle→connecting, connecting→connected, connecting→idle and
// connected→idle are legal.
func (r *Registry) SetStatus(id string, next Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return ErrUnknownSession
	}
	if !validTransition(rec.status, next) {
		return fmt.Errorf("session: illegal status transition %s -> %s for %s", rec.status, next, id)
	}
	if rec.status == next {
		return nil
	}
	rec.status = next
	r.bus.Publish(events.TypeSessionsChanged, nil)
	return nil
}

func validTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusIdle:
		return to == StatusConnecting
	case StatusConnecting:
		return to == StatusConnected || to == StatusIdle
	case StatusConnected:
		return to == StatusIdle
	}
	return false
}

// FindDuplicate reports an existing definition with the same address, port
// and username. Duplicate prevention is advisory; callers decide whether to
// proceed anyway.
func (r *Registry) FindDuplicate(hostAddress string, port int, username string) (string, bool) {
	if port == 0 {
		port = DefaultPort
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range r.records {
		if rec.def.HostAddress == hostAddress && rec.def.Port == port && rec.def.Username == username {
			return id, true
		}
	}
	return "", false
}
