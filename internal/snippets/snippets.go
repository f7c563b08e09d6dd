// Package snippets manages stored command snippets: reusable command text
// that can be sent into any channel, optionally auto-run on specific hosts
// right after they connect.
package snippets

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/panemux/panemux/internal/events"
	"github.com/panemux/panemux/internal/store"
)

// ErrInvalid rejects snippets with an empty title or command text.
var ErrInvalid = errors.New("snippets: title and commandText must be non-empty")

// ErrUnknownSnippet is returned when updating or removing an absent id.
var ErrUnknownSnippet = errors.New("snippets: unknown snippet")

// CommandSnippet is one stored command. RunOnConnect lists the host
// definition ids the snippet auto-executes on after connect.
type CommandSnippet struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	CommandText  string   `json:"commandText"`
	RunOnConnect []string `json:"runOnConnect,omitempty"`
}

func (c *CommandSnippet) validate() error {
	if c.Title == "" || c.CommandText == "" {
		return ErrInvalid
	}
	return nil
}

// Service is the snippet CRUD surface backed by its own encrypted store.
type Service struct {
	mu    sync.Mutex
	store *store.Store
	bus   *events.Bus
	items map[string]CommandSnippet
}

// NewService creates the service and loads existing snippets from st.
func NewService(st *store.Store, bus *events.Bus) (*Service, error) {
	s := &Service{
		store: st,
		bus:   bus,
		items: make(map[string]CommandSnippet),
	}
	for _, key := range st.Keys() {
		var snip CommandSnippet
		ok, err := st.Get(key, &snip)
		if err != nil {
			log.Printf("snippets: skipping undecodable entry %s: %v", key, err)
			continue
		}
		if !ok || snip.ID == "" {
			continue
		}
		s.items[snip.ID] = snip
	}
	return s, nil
}

// List returns all snippets ordered by title.
func (s *Service) List() []CommandSnippet {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CommandSnippet, 0, len(s.items))
	for _, snip := range s.items {
		out = append(out, snip)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Create persists a new snippet and returns its id.
func (s *Service) Create(snip CommandSnippet) (string, error) {
	if err := snip.validate(); err != nil {
		return "", err
	}
	snip.ID = store.NewKey()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Set(snip.ID, &snip); err != nil {
		return "", fmt.Errorf("snippets: persist %s: %w", snip.ID, err)
	}
	s.items[snip.ID] = snip
	s.bus.Publish(events.TypeSnippetsChanged, nil)
	return snip.ID, nil
}

// Update replaces a snippet wholesale under its existing id.
func (s *Service) Update(snip CommandSnippet) error {
	if err := snip.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[snip.ID]; !ok {
		return ErrUnknownSnippet
	}
	if err := s.store.Set(snip.ID, &snip); err != nil {
		return fmt.Errorf("snippets: persist %s: %w", snip.ID, err)
	}
	s.items[snip.ID] = snip
	s.bus.Publish(events.TypeSnippetsChanged, nil)
	return nil
}

// Remove deletes a snippet.
func (s *Service) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrUnknownSnippet
	}
	if err := s.store.Remove(id); err != nil {
		return fmt.Errorf("snippets: remove %s: %w", id, err)
	}
	delete(s.items, id)
	s.bus.Publish(events.TypeSnippetsChanged, nil)
	return nil
}

// ForHost returns the snippets flagged to auto-run on the given host, in
// title order.
func (s *Service) ForHost(hostID string) []CommandSnippet {
	var out []CommandSnippet
	for _, snip := range s.List() {
		for _, id := range snip.RunOnConnect {
			if id == hostID {
				out = append(out, snip)
				break
			}
		}
	}
	return out
}

// Runner is the channel surface auto-run drives. The multiplexer satisfies
// it.
type Runner interface {
	CreateChannel(sessionID string) (string, error)
	Send(sessionID, channelID, text string) error
}

// RunOnConnect executes every snippet flagged for the host on one fresh
// channel. Intended as a transport on-connect hook; failures are logged, not
// returned, because there is no caller to reject by the time it runs.
func (s *Service) RunOnConnect(sessionID string, r Runner) {
	matched := s.ForHost(sessionID)
	if len(matched) == 0 {
		return
	}

	channelID, err := r.CreateChannel(sessionID)
	if err != nil {
		log.Printf("snippets: open auto-run channel for %s: %v", sessionID, err)
		return
	}
	for _, snip := range matched {
		if err := r.Send(sessionID, channelID, snip.CommandText); err != nil {
			log.Printf("snippets: auto-run %q on %s: %v", snip.Title, sessionID, err)
			return
		}
	}
}
