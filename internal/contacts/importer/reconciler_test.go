package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"rolodex/internal/contacts/models"
	"rolodex/internal/contacts/phone"
)

var templateHeader = []string{"First Name", "Last Name", "Email Address", "Primary Phone Number"}

// fakeDirectory is a minimal directory keyed by primary phone.
type fakeDirectory struct {
	mu      sync.Mutex
	owners  map[phone.Key]models.ContactID
	commits []string
	failOn  map[string]error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{owners: make(map[phone.Key]models.ContactID), failOn: make(map[string]error)}
}

func (d *fakeDirectory) seed(primary string) models.ContactID {
	key, _ := phone.Normalize(primary)
	id := models.NewContactID()
	d.owners[key] = id
	return id
}

func (d *fakeDirectory) lookup(_ context.Context, key phone.Key) (models.ContactID, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.owners[key]
	return id, ok, nil
}

func (d *fakeDirectory) commit(_ context.Context, c *models.Contact) (*models.Contact, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.failOn[c.Email]; ok {
		return nil, err
	}
	key, _ := phone.Normalize(c.PrimaryPhone)
	if owner, ok := d.owners[key]; ok {
		return nil, &models.ConflictError{Key: key, Owner: owner}
	}
	stored := c.Clone()
	stored.ID = models.NewContactID()
	d.owners[key] = stored.ID
	d.commits = append(d.commits, c.Email)
	return stored, nil
}

type ReconcilerSuite struct {
	suite.Suite
	dir        *fakeDirectory
	reconciler *Reconciler
	ctx        context.Context
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerSuite))
}

func (s *ReconcilerSuite) SetupTest() {
	s.dir = newFakeDirectory()
	s.reconciler = New(WithWorkers(3))
	s.ctx = context.Background()
}

func (s *ReconcilerSuite) run(records ...[]string) *models.ImportSummary {
	summary, err := s.reconciler.Reconcile(s.ctx, &Table{Header: templateHeader, Records: records}, s.dir.lookup, s.dir.commit)
	s.Require().NoError(err)
	return summary
}

func (s *ReconcilerSuite) TestSampleScenario() {
	janeID := s.dir.seed("0987654321")

	summary := s.run(
		[]string{"John", "Doe", "john@example.com", "+1234567890"},
		[]string{"Jane", "Smith", "jane@example.com", "0987654321"},
		[]string{"", "Bad", "bademail", "123"},
	)

	s.Equal(1, summary.Imported)
	s.Equal(2, summary.Skipped)
	s.Require().Len(summary.Outcomes, 3)

	s.True(summary.Outcomes[0].Accepted())
	s.Equal("John", summary.Outcomes[0].Contact.FirstName)

	s.Equal(models.SkipDuplicateInDirectory, summary.Outcomes[1].Reason)
	s.Equal(janeID, *summary.Outcomes[1].Owner)

	bad := summary.Outcomes[2]
	s.Equal(models.SkipValidation, bad.Reason)
	s.Equal([]models.FieldError{
		{Field: models.FieldFirstName, Kind: models.KindRequired},
		{Field: models.FieldEmail, Kind: models.KindInvalidFormat},
	}, bad.Fields)
	s.Equal("1 imported, 1 duplicates skipped, 1 invalid or failed", summary.String())
}

func (s *ReconcilerSuite) TestDuplicateInBatchFirstRowWins() {
	summary := s.run(
		[]string{"A", "One", "a@example.com", "555-111-2222"},
		[]string{"B", "Two", "b@example.com", "(555) 111 2222"},
		[]string{"C", "Three", "c@example.com", "5551112222"},
	)

	s.Equal(1, summary.Imported)
	for _, o := range summary.Outcomes[1:] {
		s.Equal(models.SkipDuplicateInBatch, o.Reason)
		s.Equal(1, o.FirstRow)
		s.Equal(phone.Key("5551112222"), o.PhoneKey)
	}
}

// A row skipped as a directory duplicate does not claim the key, and a later
// invalid row never claims anything.
func (s *ReconcilerSuite) TestOnlyAcceptedRowsClaimKeys() {
	s.dir.seed("5550000001")
	summary := s.run(
		[]string{"", "Invalid", "x@example.com", "5550000002"},
		[]string{"A", "Dir", "a@example.com", "5550000001"},
		[]string{"B", "Ok", "b@example.com", "5550000002"},
	)

	s.Equal(models.SkipValidation, summary.Outcomes[0].Reason)
	s.Equal(models.SkipDuplicateInDirectory, summary.Outcomes[1].Reason)
	s.True(summary.Outcomes[2].Accepted())
}

func (s *ReconcilerSuite) TestIdempotentReimport() {
	batch := [][]string{
		{"John", "Doe", "john@example.com", "+1234567890"},
		{"Jane", "Smith", "jane@example.com", "0987654321"},
	}
	first := s.run(batch...)
	s.Equal(2, first.Imported)

	second := s.run(batch...)
	s.Equal(0, second.Imported)
	s.Equal(2, second.Skipped)
	s.Equal(2, second.CountReason(models.SkipDuplicateInDirectory))
}

func (s *ReconcilerSuite) TestCommitsInInputOrder() {
	var records [][]string
	for i := range 40 {
		records = append(records, []string{"F", "L", fmt.Sprintf("r%02d@example.com", i), fmt.Sprintf("555%07d", i)})
	}
	summary := s.run(records...)

	s.Equal(40, summary.Imported)
	for i, email := range s.dir.commits {
		s.Equal(fmt.Sprintf("r%02d@example.com", i), email)
		s.Equal(i+1, summary.Outcomes[i].Row)
	}
}

func (s *ReconcilerSuite) TestCommitFailuresDowngradeRow() {
	other := models.NewContactID()
	s.dir.failOn["race@example.com"] = fmt.Errorf("create: %w", &models.ConflictError{Key: "5550000009", Owner: other})
	s.dir.failOn["down@example.com"] = errors.New("connection refused")

	summary := s.run(
		[]string{"A", "Race", "race@example.com", "5550000009"},
		[]string{"B", "Down", "down@example.com", "5550000010"},
		[]string{"C", "Fine", "fine@example.com", "5550000011"},
	)

	s.Equal(1, summary.Imported)
	s.Equal(models.SkipDuplicateInDirectory, summary.Outcomes[0].Reason)
	s.Equal(other, *summary.Outcomes[0].Owner)
	s.Equal(models.SkipPersistence, summary.Outcomes[1].Reason)
	s.Contains(summary.Outcomes[1].Message, "connection refused")
	s.True(summary.Outcomes[2].Accepted())
}

func (s *ReconcilerSuite) TestLookupFailureSkipsRow() {
	lookup := func(_ context.Context, key phone.Key) (models.ContactID, bool, error) {
		if key == "5550000001" {
			return models.ContactID{}, false, errors.New("index unavailable")
		}
		return models.ContactID{}, false, nil
	}
	table := &Table{Header: templateHeader, Records: [][]string{
		{"A", "One", "a@example.com", "5550000001"},
		{"B", "Two", "b@example.com", "5550000002"},
	}}

	summary, err := s.reconciler.Reconcile(s.ctx, table, lookup, s.dir.commit)
	s.Require().NoError(err)
	s.Equal(models.SkipPersistence, summary.Outcomes[0].Reason)
	s.True(summary.Outcomes[1].Accepted())
}

func (s *ReconcilerSuite) TestFormatErrorBeforeAnyRow() {
	table := &Table{Header: []string{"First Name", "Email"}, Records: [][]string{{"A", "a@example.com"}}}

	summary, err := s.reconciler.Reconcile(s.ctx, table, s.dir.lookup, s.dir.commit)

	var ferr *FormatError
	s.Require().ErrorAs(err, &ferr)
	s.Nil(summary)
	s.Empty(s.dir.commits)
}

func (s *ReconcilerSuite) TestDryRunCommitsNothing() {
	table := &Table{Header: templateHeader, Records: [][]string{{"A", "One", "a@example.com", "5550000001"}}}

	summary, err := s.reconciler.Reconcile(s.ctx, table, s.dir.lookup, nil)
	s.Require().NoError(err)
	s.Equal(1, summary.Imported)
	s.Empty(s.dir.commits)
}

func (s *ReconcilerSuite) TestCancellationKeepsCommittedRows() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	commit := func(ctx context.Context, c *models.Contact) (*models.Contact, error) {
		stored, err := s.dir.commit(ctx, c)
		if strings.HasPrefix(c.Email, "second") {
			cancel()
		}
		return stored, err
	}
	table := &Table{Header: templateHeader, Records: [][]string{
		{"A", "One", "first@example.com", "5550000001"},
		{"B", "Two", "second@example.com", "5550000002"},
		{"C", "Three", "third@example.com", "5550000003"},
	}}

	summary, err := s.reconciler.Reconcile(ctx, table, s.dir.lookup, commit)

	s.Require().ErrorIs(err, context.Canceled)
	s.Require().NotNil(summary)
	s.Equal(2, summary.Imported)
	s.Len(summary.Outcomes, 2)
	s.Equal([]string{"first@example.com", "second@example.com"}, s.dir.commits)
}

func (s *ReconcilerSuite) TestOutcomesCarrySourceLines() {
	in := strings.Join(templateHeader, ",") + "\n" +
		"John,Doe,john@example.com,5551234567\n" +
		"\n" +
		"\n" +
		",Bad,bademail,123\n"
	table, err := ReadCSV(strings.NewReader(in))
	s.Require().NoError(err)

	summary, err := s.reconciler.Reconcile(s.ctx, table, s.dir.lookup, s.dir.commit)
	s.Require().NoError(err)

	s.Require().Len(summary.Outcomes, 2)
	s.Equal(1, summary.Outcomes[0].Row)
	s.Equal(2, summary.Outcomes[0].Line)
	s.Equal(2, summary.Outcomes[1].Row)
	s.Equal(5, summary.Outcomes[1].Line)
}
