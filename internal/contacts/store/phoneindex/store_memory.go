package phoneindex

import (
	"context"
	"sync"

	"rolodex/internal/contacts/models"
	"rolodex/internal/contacts/phone"
)

// InMemory is a process-local index. All mutations take the write lock, so a
// Reserve is never partially visible to LookupOwner.
type InMemory struct {
	mu      sync.RWMutex
	owners  map[phone.Key]models.ContactID
	byOwner map[models.ContactID]map[phone.Key]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{
		owners:  make(map[phone.Key]models.ContactID),
		byOwner: make(map[models.ContactID]map[phone.Key]struct{}),
	}
}

func (s *InMemory) LookupOwner(_ context.Context, key phone.Key) (models.ContactID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.owners[key]
	return owner, ok, nil
}

// Reserve claims keys for id, or claims nothing and returns a
// *models.ConflictError naming the first key owned by another contact.
// Keys already owned by id are accepted.
func (s *InMemory) Reserve(_ context.Context, id models.ContactID, keys []phone.Key) error {
	keys = dedupeKeys(keys)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		if owner, ok := s.owners[k]; ok && owner != id {
			return &models.ConflictError{Key: k, Owner: owner}
		}
	}
	owned := s.byOwner[id]
	if owned == nil {
		owned = make(map[phone.Key]struct{}, len(keys))
		s.byOwner[id] = owned
	}
	for _, k := range keys {
		s.owners[k] = id
		owned[k] = struct{}{}
	}
	return nil
}

// Release drops every key owned by id. Releasing an unknown id is a no-op.
func (s *InMemory) Release(_ context.Context, id models.ContactID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.byOwner[id] {
		if s.owners[k] == id {
			delete(s.owners, k)
		}
	}
	delete(s.byOwner, id)
	return nil
}

// Rebuild replaces the whole index with the keys of contacts.
func (s *InMemory) Rebuild(_ context.Context, contacts []*models.Contact) error {
	owners, err := snapshotOwners(contacts)
	if err != nil {
		return err
	}
	byOwner := make(map[models.ContactID]map[phone.Key]struct{}, len(contacts))
	for k, id := range owners {
		set := byOwner[id]
		if set == nil {
			set = make(map[phone.Key]struct{})
			byOwner[id] = set
		}
		set[k] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners = owners
	s.byOwner = byOwner
	return nil
}

// Len returns the number of claimed keys.
func (s *InMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.owners)
}
