package models

import (
	"fmt"
	"strings"

	"rolodex/internal/contacts/phone"
)

// Field names as reported to callers.
const (
	FieldFirstName        = "firstName"
	FieldLastName         = "lastName"
	FieldEmail            = "email"
	FieldPrimaryPhone     = "primaryPhone"
	FieldAdditionalPhones = "additionalPhones"
)

// AdditionalPhoneField names the i-th additional phone.
func AdditionalPhoneField(i int) string {
	return fmt.Sprintf("%s[%d]", FieldAdditionalPhones, i)
}

// ErrorKind tags a field violation.
type ErrorKind string

const (
	KindRequired         ErrorKind = "required"
	KindInvalidFormat    ErrorKind = "invalid_format"
	KindDuplicatePhone   ErrorKind = "duplicate_phone"
	KindInvalidPhone     ErrorKind = "invalid_phone"
	KindInvalidPhoneType ErrorKind = "invalid_phone_type"
)

var kindMessages = map[ErrorKind]string{
	KindRequired:         "required",
	KindInvalidFormat:    "invalid format",
	KindDuplicatePhone:   "duplicate phone numbers are not allowed",
	KindInvalidPhone:     "invalid phone number",
	KindInvalidPhoneType: "invalid phone type",
}

// FieldError is a single field-scoped violation.
type FieldError struct {
	Field string    `json:"field"`
	Kind  ErrorKind `json:"kind"`
}

func (e FieldError) Message() string {
	if msg, ok := kindMessages[e.Kind]; ok {
		return msg
	}
	return string(e.Kind)
}

func (e FieldError) String() string {
	return e.Field + ": " + e.Message()
}

// ValidationError lists every violation found on one candidate, in rule order.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return strings.Join(parts, "; ")
}

// FieldMessages keys the first message per field, for JSON error envelopes.
func (e *ValidationError) FieldMessages() map[string]string {
	out := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		if _, seen := out[f.Field]; !seen {
			out[f.Field] = f.Message()
		}
	}
	return out
}

// Has reports whether a violation of kind exists on field.
func (e *ValidationError) Has(field string, kind ErrorKind) bool {
	for _, f := range e.Fields {
		if f.Field == field && f.Kind == kind {
			return true
		}
	}
	return false
}

// ConflictError reports a phone key already owned by another contact. Error()
// names only the key, since it is rendered to clients; Owner is for logs.
type ConflictError struct {
	Key   phone.Key
	Owner ContactID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("phone number already exists: %s", e.Key)
}
