package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rolodex/internal/audit"
	"rolodex/internal/contacts/models"
	"rolodex/internal/contacts/phone"
	"rolodex/internal/contacts/validator"
	dErrors "rolodex/pkg/domain-errors"
	"rolodex/pkg/requestcontext"
)

const (
	opCreate = "create"
	opUpdate = "update"
	opDelete = "delete"
)

// List returns contacts sorted by last name then first name. A non-empty
// query keeps contacts whose name or email contains it, case-insensitively,
// or whose phone digits contain the query's digits.
func (s *Service) List(ctx context.Context, query string) ([]*models.Contact, error) {
	contacts, err := s.directory.List(ctx)
	if err != nil {
		return nil, storeError(err, "failed to list contacts")
	}

	if q := strings.ToLower(strings.TrimSpace(query)); q != "" {
		digits := phone.Digits(q)
		matched := contacts[:0]
		for _, c := range contacts {
			if matches(c, q, digits) {
				matched = append(matched, c)
			}
		}
		contacts = matched
	}

	sort.SliceStable(contacts, func(i, j int) bool {
		a, b := contacts[i], contacts[j]
		if la, lb := strings.ToLower(a.LastName), strings.ToLower(b.LastName); la != lb {
			return la < lb
		}
		return strings.ToLower(a.FirstName) < strings.ToLower(b.FirstName)
	})
	return contacts, nil
}

func matches(c *models.Contact, q, digits string) bool {
	for _, field := range []string{c.FirstName, c.LastName, c.Email, c.FullName()} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	if digits == "" {
		return false
	}
	if strings.Contains(phone.Digits(c.PrimaryPhone), digits) {
		return true
	}
	for _, p := range c.AdditionalPhones {
		if strings.Contains(phone.Digits(p.Number), digits) {
			return true
		}
	}
	return false
}

func (s *Service) Get(ctx context.Context, id models.ContactID) (*models.Contact, error) {
	c, err := s.directory.Get(ctx, id)
	if err != nil {
		return nil, storeError(err, "failed to load contact")
	}
	return c, nil
}

// Create validates req strictly and stores it when none of its phones belong
// to another contact.
func (s *Service) Create(ctx context.Context, req *models.ContactRequest) (*models.Contact, error) {
	ctx, span := s.tracer.Start(ctx, "contacts.create")
	defer span.End()
	start := time.Now()

	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	req.Normalize()

	prepared, err := s.validate(req.Candidate(), validator.Strict)
	if err != nil {
		s.observeWrite(span, opCreate, start, err)
		return nil, err
	}

	created, err := s.insert(ctx, prepared)
	s.observeWrite(span, opCreate, start, err)
	return created, err
}

// insert stores an already validated contact. Import commits share this path.
func (s *Service) insert(ctx context.Context, prepared *models.Contact) (*models.Contact, error) {
	candidate := prepared.Clone()
	if err := candidate.Canonicalize(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid phone number")
	}
	keys, err := candidate.PhoneKeys()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid phone number")
	}

	var created *models.Contact
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.primeInTx(ctx); err != nil {
			return err
		}
		if err := s.checkOwners(ctx, models.ContactID{}, keys); err != nil {
			return err
		}
		stored, err := s.directory.Create(ctx, candidate)
		if err != nil {
			return storeError(err, "failed to create contact")
		}
		if err := s.index.Reserve(ctx, stored.ID, keys); err != nil {
			// Another instance claimed a key between our check and reserve.
			if delErr := s.directory.Delete(ctx, stored.ID); delErr != nil {
				s.markStale(ctx, "compensating delete failed", delErr)
			}
			return s.reserveError(ctx, err)
		}
		created = stored
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, audit.Event{Action: audit.EventContactCreated, ContactID: created.ID.String()})
	return created, nil
}

// Update validates req leniently and replaces the contact. Phones the contact
// already owns may be kept; new ones must be unowned.
func (s *Service) Update(ctx context.Context, id models.ContactID, req *models.ContactRequest) (*models.Contact, error) {
	ctx, span := s.tracer.Start(ctx, "contacts.update", trace.WithAttributes(
		attribute.String("contact.id", id.String()),
	))
	defer span.End()
	start := time.Now()

	updated, err := s.update(ctx, id, req)
	s.observeWrite(span, opUpdate, start, err)
	return updated, err
}

func (s *Service) update(ctx context.Context, id models.ContactID, req *models.ContactRequest) (*models.Contact, error) {
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if id.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "contact id is required")
	}
	req.Normalize()

	prepared, err := s.validate(req.Candidate(), validator.Lenient)
	if err != nil {
		return nil, err
	}
	if err := prepared.Canonicalize(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid phone number")
	}
	keys, err := prepared.PhoneKeys()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid phone number")
	}
	var updated *models.Contact
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.primeInTx(ctx); err != nil {
			return err
		}
		previous, err := s.directory.Get(ctx, id)
		if err != nil {
			return storeError(err, "failed to load contact")
		}
		if err := s.checkOwners(ctx, id, keys); err != nil {
			return err
		}
		// Claim new keys first so a racing instance cannot take them while
		// the directory is written. Keys id already owns pass.
		if err := s.index.Reserve(ctx, id, keys); err != nil {
			return s.reserveError(ctx, err)
		}
		stored, err := s.directory.Update(ctx, id, prepared)
		if err != nil {
			s.restoreKeys(ctx, previous)
			return storeError(err, "failed to update contact")
		}
		// Drop keys the contact no longer has.
		if err := s.index.Release(ctx, id); err != nil {
			s.markStale(ctx, "release after update failed", err)
		} else if err := s.index.Reserve(ctx, id, keys); err != nil {
			s.markStale(ctx, "re-reserve after update failed", err)
		}
		updated = stored
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, audit.Event{Action: audit.EventContactUpdated, ContactID: id.String()})
	return updated, nil
}

// restoreKeys puts the index back to previous's phones after a failed update.
func (s *Service) restoreKeys(ctx context.Context, previous *models.Contact) {
	keys, err := previous.PhoneKeys()
	if err == nil {
		err = s.index.Release(ctx, previous.ID)
	}
	if err == nil {
		err = s.index.Reserve(ctx, previous.ID, keys)
	}
	if err != nil {
		s.markStale(ctx, "restore after failed update", err)
	}
}

// Delete removes the contact and frees all of its phone keys.
func (s *Service) Delete(ctx context.Context, id models.ContactID) error {
	ctx, span := s.tracer.Start(ctx, "contacts.delete", trace.WithAttributes(
		attribute.String("contact.id", id.String()),
	))
	defer span.End()
	start := time.Now()

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.primeInTx(ctx); err != nil {
			return err
		}
		if err := s.directory.Delete(ctx, id); err != nil {
			return storeError(err, "failed to delete contact")
		}
		if err := s.index.Release(ctx, id); err != nil {
			s.markStale(ctx, "release after delete failed", err)
		}
		return nil
	})
	s.observeWrite(span, opDelete, start, err)
	if err != nil {
		return err
	}

	s.logAudit(ctx, audit.Event{Action: audit.EventContactDeleted, ContactID: id.String()})
	return nil
}

// validate runs the validator and counts failures per field.
func (s *Service) validate(candidate *models.Contact, mode validator.Mode) (*models.Contact, error) {
	prepared, verr := validator.Check(candidate, mode)
	if verr == nil {
		return prepared, nil
	}
	if s.metrics != nil {
		for _, f := range verr.Fields {
			s.metrics.IncrementValidationFailure(f.Field)
		}
	}
	return nil, dErrors.Wrap(verr, dErrors.CodeValidation, "invalid contact")
}

// checkOwners fails on the first key owned by a contact other than self.
func (s *Service) checkOwners(ctx context.Context, self models.ContactID, keys []phone.Key) error {
	for _, k := range keys {
		owner, found, err := s.index.LookupOwner(ctx, k)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistence, "phone index unavailable")
		}
		if found && owner != self {
			return s.conflict(ctx, &models.ConflictError{Key: k, Owner: owner})
		}
	}
	return nil
}

func (s *Service) reserveError(ctx context.Context, err error) error {
	var conflict *models.ConflictError
	if errors.As(err, &conflict) {
		return s.conflict(ctx, conflict)
	}
	return dErrors.Wrap(err, dErrors.CodePersistence, "phone index unavailable")
}

func (s *Service) conflict(ctx context.Context, c *models.ConflictError) error {
	if s.metrics != nil {
		s.metrics.IncrementPhoneConflict()
	}
	s.logger.InfoContext(ctx, "phone conflict",
		"phone_key", c.Key.String(),
		"owner_id", c.Owner.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return conflictError(c)
}

func (s *Service) observeWrite(span trace.Span, op string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	if s.metrics != nil {
		s.metrics.ObserveWrite(op, start, err)
	}
}
