package directory

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"rolodex/internal/contacts/models"
	"rolodex/pkg/platform/sentinel"
	"rolodex/pkg/requestcontext"
)

const pgUniqueViolation = "23505"

// PostgresStore persists contacts across three tables: contacts,
// contact_phones (additional numbers in order) and contact_phone_keys (one row
// per normalized key, unique across the directory).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectContacts = `
	SELECT id, first_name, last_name, email, primary_phone, created_at, updated_at
	FROM contacts`

func (s *PostgresStore) List(ctx context.Context) ([]*models.Contact, error) {
	rows, err := s.db.QueryContext(ctx, selectContacts+` ORDER BY created_at, id`)
	if err != nil {
		return nil, mapError("list contacts", err)
	}
	defer rows.Close()

	var contacts []*models.Contact
	byID := make(map[models.ContactID]*models.Contact)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, mapError("list contacts", err)
		}
		contacts = append(contacts, c)
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list contacts", err)
	}
	if len(contacts) == 0 {
		return contacts, nil
	}

	phones, err := s.db.QueryContext(ctx, `
		SELECT contact_id, number, phone_type
		FROM contact_phones
		ORDER BY contact_id, position`)
	if err != nil {
		return nil, mapError("list contact phones", err)
	}
	defer phones.Close()
	for phones.Next() {
		var (
			owner uuid.UUID
			entry models.PhoneEntry
		)
		if err := phones.Scan(&owner, &entry.Number, &entry.Type); err != nil {
			return nil, mapError("list contact phones", err)
		}
		if c, ok := byID[models.ContactID(owner)]; ok {
			c.AdditionalPhones = append(c.AdditionalPhones, entry)
		}
	}
	if err := phones.Err(); err != nil {
		return nil, mapError("list contact phones", err)
	}
	return contacts, nil
}

func (s *PostgresStore) Get(ctx context.Context, id models.ContactID) (*models.Contact, error) {
	row := s.db.QueryRowContext(ctx, selectContacts+` WHERE id = $1`, uuid.UUID(id))
	c, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, mapError("get contact", err)
	}
	phones, err := s.loadPhones(ctx, id)
	if err != nil {
		return nil, err
	}
	c.AdditionalPhones = phones
	return c, nil
}

// Create assigns the ID and timestamps and writes all three tables in one
// transaction. A phone key already present in the table surfaces as
// sentinel.ErrConflict.
func (s *PostgresStore) Create(ctx context.Context, c *models.Contact) (*models.Contact, error) {
	stored := c.Clone()
	stored.ID = models.NewContactID()
	now := requestcontext.Now(ctx).UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	keys, err := keyStrings(stored)
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO contacts (id, first_name, last_name, email, primary_phone, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.UUID(stored.ID), stored.FirstName, stored.LastName, stored.Email, stored.PrimaryPhone,
			stored.CreatedAt, stored.UpdatedAt)
		if err != nil {
			return mapError("insert contact", err)
		}
		return writePhones(ctx, tx, stored, keys)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Update rewrites the contact row and replaces its phones. created_at is kept.
func (s *PostgresStore) Update(ctx context.Context, id models.ContactID, c *models.Contact) (*models.Contact, error) {
	stored := c.Clone()
	stored.ID = id
	stored.UpdatedAt = requestcontext.Now(ctx).UTC()

	keys, err := keyStrings(stored)
	if err != nil {
		return nil, fmt.Errorf("update contact: %w", err)
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE contacts
			SET first_name = $2, last_name = $3, email = $4, primary_phone = $5, updated_at = $6
			WHERE id = $1
			RETURNING created_at`,
			uuid.UUID(id), stored.FirstName, stored.LastName, stored.Email, stored.PrimaryPhone, stored.UpdatedAt,
		).Scan(&stored.CreatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return mapError("update contact", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM contact_phones WHERE contact_id = $1`, uuid.UUID(id)); err != nil {
			return mapError("clear contact phones", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM contact_phone_keys WHERE contact_id = $1`, uuid.UUID(id)); err != nil {
			return mapError("clear contact phone keys", err)
		}
		return writePhones(ctx, tx, stored, keys)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Delete removes the contact; phones and keys go with it by cascade.
func (s *PostgresStore) Delete(ctx context.Context, id models.ContactID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = $1`, uuid.UUID(id))
	if err != nil {
		return mapError("delete contact", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError("delete contact", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) loadPhones(ctx context.Context, id models.ContactID) ([]models.PhoneEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, phone_type
		FROM contact_phones
		WHERE contact_id = $1
		ORDER BY position`, uuid.UUID(id))
	if err != nil {
		return nil, mapError("load contact phones", err)
	}
	defer rows.Close()

	var phones []models.PhoneEntry
	for rows.Next() {
		var p models.PhoneEntry
		if err := rows.Scan(&p.Number, &p.Type); err != nil {
			return nil, mapError("load contact phones", err)
		}
		phones = append(phones, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("load contact phones", err)
	}
	return phones, nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError("commit transaction", err)
	}
	return nil
}

// writePhones inserts additional phones and every key using unnest, so each
// table costs one round trip regardless of phone count.
func writePhones(ctx context.Context, tx *sql.Tx, c *models.Contact, keys []string) error {
	numbers := make([]string, len(c.AdditionalPhones))
	types := make([]string, len(c.AdditionalPhones))
	for i, p := range c.AdditionalPhones {
		numbers[i] = p.Number
		types[i] = string(p.Type)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO contact_phones (contact_id, position, number, phone_type)
		SELECT $1, p.ord, p.number, p.phone_type
		FROM unnest($2::text[], $3::text[]) WITH ORDINALITY AS p(number, phone_type, ord)`,
		uuid.UUID(c.ID), pq.Array(numbers), pq.Array(types))
	if err != nil {
		return mapError("insert contact phones", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO contact_phone_keys (phone_key, contact_id)
		SELECT unnest($1::text[]), $2`,
		pq.Array(keys), uuid.UUID(c.ID))
	if err != nil {
		return mapError("insert contact phone keys", err)
	}
	return nil
}

func keyStrings(c *models.Contact) ([]string, error) {
	keys, err := c.PhoneKeys()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*models.Contact, error) {
	var (
		id uuid.UUID
		c  models.Contact
	)
	if err := row.Scan(&id, &c.FirstName, &c.LastName, &c.Email, &c.PrimaryPhone, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.ID = models.ContactID(id)
	return &c, nil
}

// mapError translates driver failures into sentinel facts: unique violations
// become ErrConflict, dropped connections become ErrUnavailable.
func mapError(op string, err error) error {
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation:
		return fmt.Errorf("%s: %w: %s", op, sentinel.ErrConflict, pqErr.Constraint)
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return fmt.Errorf("%s: %w: %v", op, sentinel.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
