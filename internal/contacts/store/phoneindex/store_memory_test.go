package phoneindex

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"rolodex/internal/contacts/models"
	"rolodex/internal/contacts/phone"
)

type InMemoryIndexSuite struct {
	suite.Suite
	index *InMemory
	ctx   context.Context
}

func (s *InMemoryIndexSuite) SetupTest() {
	s.index = NewInMemory()
	s.ctx = context.Background()
}

func TestInMemoryIndexSuite(t *testing.T) {
	suite.Run(t, new(InMemoryIndexSuite))
}

func (s *InMemoryIndexSuite) TestReserveAndLookup() {
	id := models.NewContactID()
	s.Require().NoError(s.index.Reserve(s.ctx, id, []phone.Key{"5551234567", "5559876543"}))

	owner, found, err := s.index.LookupOwner(s.ctx, "5551234567")
	s.Require().NoError(err)
	s.True(found)
	s.Equal(id, owner)

	_, found, err = s.index.LookupOwner(s.ctx, "5550000000")
	s.Require().NoError(err)
	s.False(found)
}

func (s *InMemoryIndexSuite) TestReserveIsAllOrNothing() {
	owner := models.NewContactID()
	other := models.NewContactID()
	s.Require().NoError(s.index.Reserve(s.ctx, owner, []phone.Key{"111"}))

	err := s.index.Reserve(s.ctx, other, []phone.Key{"222", "111", "333"})

	var conflict *models.ConflictError
	s.Require().ErrorAs(err, &conflict)
	s.Equal(phone.Key("111"), conflict.Key)
	s.Equal(owner, conflict.Owner)

	for _, k := range []phone.Key{"222", "333"} {
		_, found, err := s.index.LookupOwner(s.ctx, k)
		s.Require().NoError(err)
		s.False(found, "key %s should not be claimed after a failed reserve", k)
	}
	s.Equal(1, s.index.Len())
}

func (s *InMemoryIndexSuite) TestReserveOwnKeysAgain() {
	id := models.NewContactID()
	s.Require().NoError(s.index.Reserve(s.ctx, id, []phone.Key{"111"}))
	s.Require().NoError(s.index.Reserve(s.ctx, id, []phone.Key{"111", "222", "222"}))
	s.Equal(2, s.index.Len())
}

func (s *InMemoryIndexSuite) TestRelease() {
	id := models.NewContactID()
	other := models.NewContactID()
	s.Require().NoError(s.index.Reserve(s.ctx, id, []phone.Key{"111", "222"}))
	s.Require().NoError(s.index.Reserve(s.ctx, other, []phone.Key{"333"}))

	s.Require().NoError(s.index.Release(s.ctx, id))

	s.Run("released keys are free", func() {
		_, found, err := s.index.LookupOwner(s.ctx, "111")
		s.Require().NoError(err)
		s.False(found)
		s.Require().NoError(s.index.Reserve(s.ctx, other, []phone.Key{"111"}))
	})

	s.Run("unknown id is a no-op", func() {
		s.Require().NoError(s.index.Release(s.ctx, models.NewContactID()))
		s.Equal(2, s.index.Len())
	})
}

func (s *InMemoryIndexSuite) TestRebuild() {
	a := &models.Contact{ID: models.NewContactID(), PrimaryPhone: "(555) 123-4567",
		AdditionalPhones: []models.PhoneEntry{{Number: "555.987.6543", Type: models.PhoneTypeHome}}}
	b := &models.Contact{ID: models.NewContactID(), PrimaryPhone: "555-000-1111"}

	s.Run("indexes every phone of every contact", func() {
		s.Require().NoError(s.index.Rebuild(s.ctx, []*models.Contact{a, b}))
		s.Equal(3, s.index.Len())

		owner, found, err := s.index.LookupOwner(s.ctx, "5559876543")
		s.Require().NoError(err)
		s.True(found)
		s.Equal(a.ID, owner)
	})

	s.Run("shared key is corruption and leaves index untouched", func() {
		c := &models.Contact{ID: models.NewContactID(), PrimaryPhone: "+1 555 000 1111"}
		d := &models.Contact{ID: models.NewContactID(), PrimaryPhone: "5550001111"}

		err := s.index.Rebuild(s.ctx, []*models.Contact{c, d})

		var corruption *CorruptionError
		s.Require().ErrorAs(err, &corruption)
		s.Equal(phone.Key("5550001111"), corruption.Key)
		s.ElementsMatch([]models.ContactID{c.ID, d.ID}, corruption.Owners)
		s.Equal(3, s.index.Len())
	})
}

// Two writers racing over an overlapping key set: exactly one wins.
func TestInMemoryConcurrentOverlappingReserve(t *testing.T) {
	ctx := context.Background()
	for range 200 {
		index := NewInMemory()
		first, second := models.NewContactID(), models.NewContactID()

		var wg sync.WaitGroup
		errs := make([]error, 2)
		start := make(chan struct{})
		for i, req := range []struct {
			id   models.ContactID
			keys []phone.Key
		}{
			{first, []phone.Key{"111", "222"}},
			{second, []phone.Key{"333", "222"}},
		} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				errs[i] = index.Reserve(ctx, req.id, req.keys)
			}()
		}
		close(start)
		wg.Wait()

		var conflicts, successes int
		for _, err := range errs {
			var conflict *models.ConflictError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &conflict):
				conflicts++
				assert.Equal(t, phone.Key("222"), conflict.Key)
			default:
				require.NoError(t, err)
			}
		}
		require.Equal(t, 1, successes)
		require.Equal(t, 1, conflicts)

		owner, found, err := index.LookupOwner(ctx, "222")
		require.NoError(t, err)
		require.True(t, found)
		if errs[0] == nil {
			assert.Equal(t, first, owner)
			assert.Equal(t, 2, index.Len())
		} else {
			assert.Equal(t, second, owner)
		}
	}
}
