package models

import (
	"time"

	"github.com/google/uuid"

	"rolodex/internal/contacts/phone"
)

// ContactID is the directory-assigned identifier of a contact. The zero value
// means the contact has not been created yet.
type ContactID uuid.UUID

// NewContactID returns a fresh random identifier.
func NewContactID() ContactID {
	return ContactID(uuid.New())
}

// ParseContactID parses the textual form of an identifier.
func ParseContactID(s string) (ContactID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ContactID{}, err
	}
	return ContactID(u), nil
}

func (id ContactID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether the id is unassigned.
func (id ContactID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id ContactID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *ContactID) UnmarshalText(b []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(b); err != nil {
		return err
	}
	*id = ContactID(u)
	return nil
}

// PhoneType labels an additional phone number.
type PhoneType string

const (
	PhoneTypeMobile PhoneType = "mobile"
	PhoneTypeHome   PhoneType = "home"
	PhoneTypeWork   PhoneType = "work"
)

func (t PhoneType) IsValid() bool {
	switch t {
	case PhoneTypeMobile, PhoneTypeHome, PhoneTypeWork:
		return true
	}
	return false
}

// PhoneEntry is an additional number owned by exactly one contact.
type PhoneEntry struct {
	Number string    `json:"number"`
	Type   PhoneType `json:"type"`
}

// Contact is the aggregate root of the directory.
//
// Invariants:
//   - FirstName, LastName are non-empty after trimming
//   - Email has a local@domain.tld shape
//   - PrimaryPhone and every AdditionalPhones number normalize to pairwise
//     distinct keys
//   - Phone numbers are stored in normalized form once persisted
//   - No phone key is owned by more than one contact directory-wide (enforced
//     by the phone index, not by the aggregate)
type Contact struct {
	ID               ContactID    `json:"ID"`
	FirstName        string       `json:"firstName"`
	LastName         string       `json:"lastName"`
	Email            string       `json:"email"`
	PrimaryPhone     string       `json:"primaryPhone"`
	AdditionalPhones []PhoneEntry `json:"additionalPhones"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// Clone returns a deep copy so stores never share slices with callers.
func (c *Contact) Clone() *Contact {
	if c == nil {
		return nil
	}
	out := *c
	if c.AdditionalPhones != nil {
		out.AdditionalPhones = append([]PhoneEntry(nil), c.AdditionalPhones...)
	}
	return &out
}

// PhoneKeys normalizes the primary phone followed by every additional phone,
// in order. It fails on the first number with no digits.
func (c *Contact) PhoneKeys() ([]phone.Key, error) {
	keys := make([]phone.Key, 0, 1+len(c.AdditionalPhones))
	k, err := phone.Normalize(c.PrimaryPhone)
	if err != nil {
		return nil, err
	}
	keys = append(keys, k)
	for _, p := range c.AdditionalPhones {
		k, err := phone.Normalize(p.Number)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Canonicalize rewrites every phone number to its normalized key. Callers run
// it only on validated contacts.
func (c *Contact) Canonicalize() error {
	k, err := phone.Normalize(c.PrimaryPhone)
	if err != nil {
		return err
	}
	c.PrimaryPhone = k.String()
	for i := range c.AdditionalPhones {
		k, err := phone.Normalize(c.AdditionalPhones[i].Number)
		if err != nil {
			return err
		}
		c.AdditionalPhones[i].Number = k.String()
	}
	return nil
}

// FullName is used for sorting and log lines.
func (c *Contact) FullName() string {
	return c.FirstName + " " + c.LastName
}
