package models

import (
	"fmt"
	"strings"

	"rolodex/internal/contacts/phone"
)

// OutcomeStatus is the per-row decision of an import.
type OutcomeStatus string

const (
	OutcomeAccepted OutcomeStatus = "accepted"
	OutcomeSkipped  OutcomeStatus = "skipped"
)

// SkipReason says why a row was not imported.
type SkipReason string

const (
	SkipDuplicateInDirectory SkipReason = "duplicate_in_directory"
	SkipDuplicateInBatch     SkipReason = "duplicate_in_batch"
	SkipValidation           SkipReason = "validation_error"
	SkipPersistence          SkipReason = "persistence_error"
)

// ImportOutcome is the result for one data row. Row is the 1-based record
// number, not counting the header. Line is where the record sits in the file:
// blank CSV lines are not records, so Line can run ahead of Row+1 there,
// while blank XLSX rows are kept as records and keep the two in step.
type ImportOutcome struct {
	Row     int           `json:"row"`
	Line    int           `json:"line,omitempty"`
	Status  OutcomeStatus `json:"status"`
	Contact *Contact      `json:"contact,omitempty"`
	Reason  SkipReason    `json:"reason,omitempty"`
	Message string        `json:"message,omitempty"`
	Fields  []FieldError  `json:"fields,omitempty"`
	// PhoneKey is the contested key for duplicate skips.
	PhoneKey phone.Key `json:"phoneKey,omitempty"`
	// Owner is set for duplicate_in_directory.
	Owner *ContactID `json:"owner,omitempty"`
	// FirstRow is the earlier row that won a duplicate_in_batch tie.
	FirstRow int `json:"firstRow,omitempty"`
}

// Accepted reports whether the row made it into the directory.
func (o ImportOutcome) Accepted() bool {
	return o.Status == OutcomeAccepted
}

// AcceptRow records an accepted row.
func AcceptRow(row int, c *Contact) ImportOutcome {
	return ImportOutcome{Row: row, Status: OutcomeAccepted, Contact: c}
}

// SkipInvalid records a row rejected by the validator.
func SkipInvalid(row int, verr *ValidationError) ImportOutcome {
	return ImportOutcome{
		Row:     row,
		Status:  OutcomeSkipped,
		Reason:  SkipValidation,
		Message: "validation failed: " + verr.Error(),
		Fields:  verr.Fields,
	}
}

// SkipInDirectory records a row whose primary phone belongs to an existing contact.
func SkipInDirectory(row int, key phone.Key, owner ContactID) ImportOutcome {
	return ImportOutcome{
		Row:      row,
		Status:   OutcomeSkipped,
		Reason:   SkipDuplicateInDirectory,
		Message:  fmt.Sprintf("phone number %s already exists in the directory", key),
		PhoneKey: key,
		Owner:    &owner,
	}
}

// SkipInBatch records a row that repeats a phone claimed by an earlier row.
func SkipInBatch(row int, key phone.Key, firstRow int) ImportOutcome {
	return ImportOutcome{
		Row:      row,
		Status:   OutcomeSkipped,
		Reason:   SkipDuplicateInBatch,
		Message:  fmt.Sprintf("phone number %s already appears in row %d of this import", key, firstRow),
		PhoneKey: key,
		FirstRow: firstRow,
	}
}

// SkipPersist records a row that passed every check but failed to save.
func SkipPersist(row int, err error) ImportOutcome {
	return ImportOutcome{
		Row:     row,
		Status:  OutcomeSkipped,
		Reason:  SkipPersistence,
		Message: "could not save contact: " + err.Error(),
	}
}

// ImportSummary aggregates an import run.
type ImportSummary struct {
	Imported int             `json:"imported"`
	Skipped  int             `json:"skipped"`
	Outcomes []ImportOutcome `json:"outcomes"`
}

// Tally recomputes the counts from the outcomes.
func (s *ImportSummary) Tally() {
	s.Imported, s.Skipped = 0, 0
	for _, o := range s.Outcomes {
		if o.Accepted() {
			s.Imported++
		} else {
			s.Skipped++
		}
	}
}

// CountReason counts skipped rows with the given reason.
func (s *ImportSummary) CountReason(reason SkipReason) int {
	n := 0
	for _, o := range s.Outcomes {
		if !o.Accepted() && o.Reason == reason {
			n++
		}
	}
	return n
}

// String renders the short summary shown to users, e.g. "12 imported, 3 duplicates skipped".
func (s *ImportSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d imported", s.Imported)
	dups := s.CountReason(SkipDuplicateInDirectory) + s.CountReason(SkipDuplicateInBatch)
	if dups > 0 {
		fmt.Fprintf(&b, ", %d duplicates skipped", dups)
	}
	if other := s.Skipped - dups; other > 0 {
		fmt.Fprintf(&b, ", %d invalid or failed", other)
	}
	return b.String()
}
