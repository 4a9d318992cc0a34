// Package directory holds the contact directory gateways. Gateways persist
// contacts and assign identifiers; they know nothing about phone uniqueness
// beyond whatever constraint the backing store enforces on its own.
package directory

import (
	"context"
	"sync"

	"rolodex/internal/contacts/models"
	"rolodex/pkg/platform/sentinel"
	"rolodex/pkg/requestcontext"
)

// InMemory is a process-local directory. Returned contacts are copies.
type InMemory struct {
	mu       sync.RWMutex
	contacts map[models.ContactID]*models.Contact
	order    []models.ContactID
}

func NewInMemory() *InMemory {
	return &InMemory{contacts: make(map[models.ContactID]*models.Contact)}
}

// List returns every contact in creation order.
func (s *InMemory) List(_ context.Context) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Contact, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.contacts[id].Clone())
	}
	return out, nil
}

func (s *InMemory) Get(_ context.Context, id models.ContactID) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return c.Clone(), nil
}

// Create assigns a fresh ID and timestamps. Any ID on c is ignored.
func (s *InMemory) Create(ctx context.Context, c *models.Contact) (*models.Contact, error) {
	stored := c.Clone()
	stored.ID = models.NewContactID()
	now := requestcontext.Now(ctx)
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	return stored.Clone(), nil
}

// Update replaces the fields of an existing contact, keeping its ID and
// creation time.
func (s *InMemory) Update(ctx context.Context, id models.ContactID, c *models.Contact) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.contacts[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	stored := c.Clone()
	stored.ID = id
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = requestcontext.Now(ctx)
	s.contacts[id] = stored
	return stored.Clone(), nil
}

func (s *InMemory) Delete(_ context.Context, id models.ContactID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.contacts, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
