// Package validator checks a single contact candidate.
//
// Rules run in a fixed order and every violation is collected:
//  1. firstName required
//  2. lastName required
//  3. email required, then `\S+@\S+\.\S+`
//  4. primaryPhone required
//  5. phone numbers normalize and are pairwise distinct within the contact
//  6. additional phone types are known (strict mode only)
//
// Directory-wide uniqueness is not checked here; that is the phone index's job.
package validator

import (
	"errors"
	"regexp"
	"strings"

	"rolodex/internal/contacts/models"
	"rolodex/internal/contacts/phone"
)

// Mode selects how unknown phone types are treated.
type Mode int

const (
	// Strict rejects unknown phone types. Used for creates and imports.
	Strict Mode = iota
	// Lenient rewrites unknown phone types to mobile. Used for edits.
	Lenient
)

var emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)

// Prepare returns a copy of candidate with blank additional phone rows removed
// and missing phone types defaulted to mobile. In lenient mode unknown types
// are defaulted as well.
func Prepare(candidate *models.Contact, mode Mode) *models.Contact {
	out := candidate.Clone()
	kept := out.AdditionalPhones[:0:0]
	for _, p := range out.AdditionalPhones {
		if strings.TrimSpace(p.Number) == "" {
			continue
		}
		if p.Type == "" || (mode == Lenient && !p.Type.IsValid()) {
			p.Type = models.PhoneTypeMobile
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		kept = nil
	}
	out.AdditionalPhones = kept
	return out
}

// Validate reports every violation on candidate, or nil when it is valid.
// candidate is not modified; run Prepare first to drop blank phone rows.
func Validate(candidate *models.Contact, mode Mode) *models.ValidationError {
	var fields []models.FieldError
	add := func(field string, kind models.ErrorKind) {
		fields = append(fields, models.FieldError{Field: field, Kind: kind})
	}

	if strings.TrimSpace(candidate.FirstName) == "" {
		add(models.FieldFirstName, models.KindRequired)
	}
	if strings.TrimSpace(candidate.LastName) == "" {
		add(models.FieldLastName, models.KindRequired)
	}
	if strings.TrimSpace(candidate.Email) == "" {
		add(models.FieldEmail, models.KindRequired)
	} else if !emailPattern.MatchString(candidate.Email) {
		add(models.FieldEmail, models.KindInvalidFormat)
	}
	primaryPresent := strings.TrimSpace(candidate.PrimaryPhone) != ""
	if !primaryPresent {
		add(models.FieldPrimaryPhone, models.KindRequired)
	}

	fields = append(fields, checkPhones(candidate, primaryPresent)...)

	if mode == Strict {
		for i, p := range candidate.AdditionalPhones {
			if p.Type != "" && !p.Type.IsValid() {
				add(models.AdditionalPhoneField(i), models.KindInvalidPhoneType)
			}
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return &models.ValidationError{Fields: fields}
}

// Check prepares and validates in one step, returning the prepared copy.
func Check(candidate *models.Contact, mode Mode) (*models.Contact, *models.ValidationError) {
	prepared := Prepare(candidate, mode)
	return prepared, Validate(prepared, mode)
}

// checkPhones normalizes every present number and reports the first
// intra-contact collision against primaryPhone, after which it stops.
func checkPhones(c *models.Contact, primaryPresent bool) []models.FieldError {
	var fields []models.FieldError
	seen := make(map[phone.Key]struct{}, 1+len(c.AdditionalPhones))
	duplicate := false

	claim := func(field, raw string) {
		if duplicate {
			return
		}
		key, err := phone.Normalize(raw)
		if errors.Is(err, phone.ErrEmpty) {
			fields = append(fields, models.FieldError{Field: field, Kind: models.KindInvalidPhone})
			return
		}
		if _, ok := seen[key]; ok {
			duplicate = true
			fields = append(fields, models.FieldError{Field: models.FieldPrimaryPhone, Kind: models.KindDuplicatePhone})
			return
		}
		seen[key] = struct{}{}
	}

	if primaryPresent {
		claim(models.FieldPrimaryPhone, c.PrimaryPhone)
	}
	for i, p := range c.AdditionalPhones {
		if duplicate {
			break
		}
		if strings.TrimSpace(p.Number) == "" {
			fields = append(fields, models.FieldError{Field: models.AdditionalPhoneField(i), Kind: models.KindRequired})
			continue
		}
		claim(models.AdditionalPhoneField(i), p.Number)
	}
	return fields
}
