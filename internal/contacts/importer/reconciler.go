package importer

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"rolodex/internal/contacts/models"
	"rolodex/internal/contacts/phone"
	"rolodex/internal/contacts/validator"
)

const defaultWorkers = 4

// LookupFunc reports the directory owner of a phone key.
type LookupFunc func(ctx context.Context, key phone.Key) (models.ContactID, bool, error)

// CommitFunc persists one accepted row and returns the stored contact. A
// *models.ConflictError means another writer claimed the phone first.
type CommitFunc func(ctx context.Context, candidate *models.Contact) (*models.Contact, error)

// Reconciler decides the outcome of every row of an import.
type Reconciler struct {
	workers int
	logger  *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithWorkers bounds the number of rows checked concurrently.
func WithWorkers(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func New(opts ...Option) *Reconciler {
	r := &Reconciler{workers: defaultWorkers, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// rowCheck is the order-independent part of a row's decision.
type rowCheck struct {
	candidate *models.Contact
	invalid   *models.ValidationError
	key       phone.Key
	owner     models.ContactID
	owned     bool
	lookupErr error
}

// Reconcile maps the header, checks rows in parallel, resolves in-batch
// duplicates in input order, then commits accepted rows one at a time in input
// order. A nil commit makes it a dry run: accepted rows are reported but not
// saved.
//
// A *FormatError aborts before any row. On cancellation the rows decided so
// far are returned together with ctx.Err(); rows already committed stay.
func (r *Reconciler) Reconcile(ctx context.Context, table *Table, lookup LookupFunc, commit CommitFunc) (*models.ImportSummary, error) {
	cols, err := MapHeader(table.Header)
	if err != nil {
		return nil, err
	}

	checks, err := r.checkRows(ctx, cols, table.Records, lookup)
	if err != nil {
		return &models.ImportSummary{Outcomes: []models.ImportOutcome{}}, err
	}

	outcomes := decide(checks)

	summary := &models.ImportSummary{Outcomes: outcomes}
	for i := range outcomes {
		if !outcomes[i].Accepted() || commit == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			summary.Outcomes = outcomes[:i]
			summary.Tally()
			setLines(summary.Outcomes, table)
			r.logger.WarnContext(ctx, "import cancelled",
				"rows_decided", i,
				"rows_total", len(outcomes),
				"imported", summary.Imported,
			)
			return summary, err
		}
		outcomes[i] = commitRow(ctx, outcomes[i], commit)
	}
	summary.Tally()
	setLines(summary.Outcomes, table)

	r.logger.InfoContext(ctx, "import reconciled",
		"rows", len(outcomes),
		"imported", summary.Imported,
		"skipped", summary.Skipped,
		"dry_run", commit == nil,
	)
	return summary, nil
}

// checkRows builds, validates, and looks up every row on a bounded worker pool.
// Results land at the row's own index, so order is preserved.
func (r *Reconciler) checkRows(ctx context.Context, cols Columns, records [][]string, lookup LookupFunc) ([]rowCheck, error) {
	checks := make([]rowCheck, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i, record := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			checks[i] = checkRow(gctx, cols.Candidate(record), lookup)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return checks, nil
}

func checkRow(ctx context.Context, candidate *models.Contact, lookup LookupFunc) rowCheck {
	prepared, verr := validator.Check(candidate, validator.Strict)
	if verr != nil {
		return rowCheck{candidate: prepared, invalid: verr}
	}
	// Validation passed, so the primary phone has digits.
	key, _ := phone.Normalize(prepared.PrimaryPhone)
	rc := rowCheck{candidate: prepared, key: key}
	if lookup != nil {
		rc.owner, rc.owned, rc.lookupErr = lookup(ctx, key)
	}
	return rc
}

// decide walks the checked rows in input order. Only accepted rows claim a key
// batch-locally, so a directory duplicate never shadows a later row.
func decide(checks []rowCheck) []models.ImportOutcome {
	outcomes := make([]models.ImportOutcome, len(checks))
	claimed := make(map[phone.Key]int, len(checks))

	for i, rc := range checks {
		row := i + 1
		switch {
		case rc.invalid != nil:
			outcomes[i] = models.SkipInvalid(row, rc.invalid)
		case rc.lookupErr != nil:
			outcomes[i] = models.SkipPersist(row, rc.lookupErr)
		case rc.owned:
			outcomes[i] = models.SkipInDirectory(row, rc.key, rc.owner)
		default:
			if first, ok := claimed[rc.key]; ok {
				outcomes[i] = models.SkipInBatch(row, rc.key, first)
				continue
			}
			claimed[rc.key] = row
			outcomes[i] = models.AcceptRow(row, rc.candidate)
		}
	}
	return outcomes
}

// setLines stamps each outcome with its record's source line.
func setLines(outcomes []models.ImportOutcome, table *Table) {
	for i := range outcomes {
		outcomes[i].Line = table.Line(outcomes[i].Row - 1)
	}
}

func commitRow(ctx context.Context, accepted models.ImportOutcome, commit CommitFunc) models.ImportOutcome {
	stored, err := commit(ctx, accepted.Contact)
	if err == nil {
		return models.AcceptRow(accepted.Row, stored)
	}
	var conflict *models.ConflictError
	if errors.As(err, &conflict) {
		return models.SkipInDirectory(accepted.Row, conflict.Key, conflict.Owner)
	}
	return models.SkipPersist(accepted.Row, err)
}
