package directory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"rolodex/internal/contacts/models"
	"rolodex/pkg/platform/sentinel"
	"rolodex/pkg/requestcontext"
)

type InMemoryDirectorySuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func TestInMemoryDirectorySuite(t *testing.T) {
	suite.Run(t, new(InMemoryDirectorySuite))
}

func (s *InMemoryDirectorySuite) SetupTest() {
	s.store = NewInMemory()
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func sampleContact() *models.Contact {
	return &models.Contact{
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Email:        "ada@example.com",
		PrimaryPhone: "5551234567",
		AdditionalPhones: []models.PhoneEntry{
			{Number: "5559876543", Type: models.PhoneTypeWork},
		},
	}
}

func (s *InMemoryDirectorySuite) TestCreateAssignsIdentity() {
	in := sampleContact()
	created, err := s.store.Create(s.ctx, in)
	s.Require().NoError(err)

	s.False(created.ID.IsNil())
	s.True(in.ID.IsNil(), "caller's contact is not modified")
	s.Equal(s.now, created.CreatedAt)
	s.Equal(s.now, created.UpdatedAt)

	got, err := s.store.Get(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(created, got)
}

func (s *InMemoryDirectorySuite) TestReturnedContactsAreCopies() {
	created, err := s.store.Create(s.ctx, sampleContact())
	s.Require().NoError(err)

	created.AdditionalPhones[0].Number = "0000000000"

	got, err := s.store.Get(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal("5559876543", got.AdditionalPhones[0].Number)
}

func (s *InMemoryDirectorySuite) TestUpdate() {
	created, err := s.store.Create(s.ctx, sampleContact())
	s.Require().NoError(err)

	s.Run("keeps id and creation time", func() {
		later := requestcontext.WithTime(context.Background(), s.now.Add(time.Hour))
		edit := created.Clone()
		edit.Email = "countess@example.com"
		edit.CreatedAt = time.Time{}

		updated, err := s.store.Update(later, created.ID, edit)
		s.Require().NoError(err)
		s.Equal(created.ID, updated.ID)
		s.Equal(s.now, updated.CreatedAt)
		s.Equal(s.now.Add(time.Hour), updated.UpdatedAt)
		s.Equal("countess@example.com", updated.Email)
	})

	s.Run("unknown id", func() {
		_, err := s.store.Update(s.ctx, models.NewContactID(), sampleContact())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryDirectorySuite) TestDeleteAndList() {
	first, err := s.store.Create(s.ctx, sampleContact())
	s.Require().NoError(err)
	second, err := s.store.Create(s.ctx, sampleContact())
	s.Require().NoError(err)

	s.Require().NoError(s.store.Delete(s.ctx, first.ID))
	s.ErrorIs(s.store.Delete(s.ctx, first.ID), sentinel.ErrNotFound)

	_, err = s.store.Get(s.ctx, first.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	all, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal(second.ID, all[0].ID)
}
