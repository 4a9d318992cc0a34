package importer

import (
	"fmt"
	"strings"

	"rolodex/internal/contacts/models"
)

// FormatError rejects a whole upload before any row is looked at.
type FormatError struct {
	// Missing lists the contact fields with no matching column.
	Missing []string
	Reason  string
	Err     error
}

func (e *FormatError) Error() string {
	if len(e.Missing) > 0 {
		return "missing required columns: " + strings.Join(e.Missing, ", ")
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// headerAliases maps lower-cased header text to a contact field.
var headerAliases = map[string]string{
	"first name": models.FieldFirstName,
	"firstname":  models.FieldFirstName,
	"first_name": models.FieldFirstName,
	"first":      models.FieldFirstName,
	"given name": models.FieldFirstName,
	"given_name": models.FieldFirstName,

	"last name":   models.FieldLastName,
	"lastname":    models.FieldLastName,
	"last_name":   models.FieldLastName,
	"last":        models.FieldLastName,
	"surname":     models.FieldLastName,
	"family name": models.FieldLastName,
	"family_name": models.FieldLastName,

	"email":          models.FieldEmail,
	"email address":  models.FieldEmail,
	"email_address":  models.FieldEmail,
	"e-mail":         models.FieldEmail,
	"e-mail address": models.FieldEmail,
	"primary email":  models.FieldEmail,
	"primary_email":  models.FieldEmail,
	"emailaddress":   models.FieldEmail,
	"contact email":  models.FieldEmail,
	"contact e-mail": models.FieldEmail,

	"primary phone number": models.FieldPrimaryPhone,
	"primary phone":        models.FieldPrimaryPhone,
	"primary_phone":        models.FieldPrimaryPhone,
	"primaryphone":         models.FieldPrimaryPhone,
	"phone":                models.FieldPrimaryPhone,
	"phone number":         models.FieldPrimaryPhone,
	"phone_number":         models.FieldPrimaryPhone,
}

// requiredColumns in the order they are reported when missing.
var requiredColumns = []string{
	models.FieldFirstName,
	models.FieldLastName,
	models.FieldEmail,
	models.FieldPrimaryPhone,
}

// Columns holds the record index of each contact field.
type Columns map[string]int

// MapHeader resolves header cells case-insensitively. Unknown columns are
// ignored; when two columns map to the same field the leftmost wins.
func MapHeader(header []string) (Columns, error) {
	cols := make(Columns, len(requiredColumns))
	for i, h := range header {
		field, ok := headerAliases[strings.ToLower(strings.TrimSpace(h))]
		if !ok {
			continue
		}
		if _, taken := cols[field]; !taken {
			cols[field] = i
		}
	}

	var missing []string
	for _, field := range requiredColumns {
		if _, ok := cols[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, &FormatError{Missing: missing, Reason: "missing required columns"}
	}
	return cols, nil
}

// Candidate builds an unsaved contact from one record. Imported contacts never
// carry additional phones. Cells past the end of a short record are empty.
func (c Columns) Candidate(record []string) *models.Contact {
	cell := func(field string) string {
		i := c[field]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	return &models.Contact{
		FirstName:    cell(models.FieldFirstName),
		LastName:     cell(models.FieldLastName),
		Email:        cell(models.FieldEmail),
		PrimaryPhone: cell(models.FieldPrimaryPhone),
	}
}
