package models

import "strings"

// PhoneEntryRequest is an additional phone as submitted by a client.
type PhoneEntryRequest struct {
	Number string `json:"number"`
	Type   string `json:"type"`
}

// ContactRequest is the body of create and update calls.
type ContactRequest struct {
	FirstName        string              `json:"firstName"`
	LastName         string              `json:"lastName"`
	Email            string              `json:"email"`
	PrimaryPhone     string              `json:"primaryPhone"`
	AdditionalPhones []PhoneEntryRequest `json:"additionalPhones"`
}

// Normalize trims free-text fields and lower-cases phone types. It does not
// drop or reject anything; that is the validator's job.
func (r *ContactRequest) Normalize() {
	if r == nil {
		return
	}
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Email = strings.TrimSpace(r.Email)
	r.PrimaryPhone = strings.TrimSpace(r.PrimaryPhone)
	for i := range r.AdditionalPhones {
		r.AdditionalPhones[i].Number = strings.TrimSpace(r.AdditionalPhones[i].Number)
		r.AdditionalPhones[i].Type = strings.ToLower(strings.TrimSpace(r.AdditionalPhones[i].Type))
	}
}

// Candidate builds an unsaved contact from the request.
func (r *ContactRequest) Candidate() *Contact {
	c := &Contact{
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		Email:        r.Email,
		PrimaryPhone: r.PrimaryPhone,
	}
	if len(r.AdditionalPhones) > 0 {
		c.AdditionalPhones = make([]PhoneEntry, 0, len(r.AdditionalPhones))
		for _, p := range r.AdditionalPhones {
			c.AdditionalPhones = append(c.AdditionalPhones, PhoneEntry{Number: p.Number, Type: PhoneType(p.Type)})
		}
	}
	return c
}
