package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rolodex/internal/contacts/models"
)

func TestMapHeader(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		want   Columns
	}{
		{
			name:   "canonical template header",
			header: []string{"First Name", "Last Name", "Email Address", "Primary Phone Number"},
			want:   Columns{models.FieldFirstName: 0, models.FieldLastName: 1, models.FieldEmail: 2, models.FieldPrimaryPhone: 3},
		},
		{
			name:   "variants, case and unknown columns",
			header: []string{"Notes", " SURNAME ", "given name", "E-Mail", "phone number", "Company"},
			want:   Columns{models.FieldFirstName: 2, models.FieldLastName: 1, models.FieldEmail: 3, models.FieldPrimaryPhone: 4},
		},
		{
			name:   "leftmost duplicate wins",
			header: []string{"phone", "first_name", "last_name", "email", "Phone Number"},
			want:   Columns{models.FieldFirstName: 1, models.FieldLastName: 2, models.FieldEmail: 3, models.FieldPrimaryPhone: 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cols, err := MapHeader(tt.header)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cols)
		})
	}
}

func TestMapHeaderMissingColumns(t *testing.T) {
	_, err := MapHeader([]string{"Name", "Email", "Mobile"})

	var ferr *FormatError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, []string{models.FieldFirstName, models.FieldLastName, models.FieldPrimaryPhone}, ferr.Missing)
	assert.Equal(t, "missing required columns: firstName, lastName, primaryPhone", ferr.Error())
}

func TestColumnsCandidate(t *testing.T) {
	cols := Columns{models.FieldFirstName: 0, models.FieldLastName: 1, models.FieldEmail: 2, models.FieldPrimaryPhone: 3}

	c := cols.Candidate([]string{"  John ", "Doe"})
	assert.Equal(t, "John", c.FirstName)
	assert.Equal(t, "Doe", c.LastName)
	assert.Empty(t, c.Email)
	assert.Empty(t, c.PrimaryPhone)
	assert.Nil(t, c.AdditionalPhones)
}
