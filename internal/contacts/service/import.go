package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"rolodex/internal/audit"
	"rolodex/internal/contacts/importer"
	"rolodex/internal/contacts/models"
	dErrors "rolodex/pkg/domain-errors"
	"rolodex/pkg/requestcontext"
)

// Import reconciles every row of table against the batch and the directory and
// commits accepted rows one at a time through the create path. Rows are
// isolated: a failed row is reported and the rest continue. Only a malformed
// header fails the whole import.
//
// When ctx is cancelled part way, the rows decided so far are returned along
// with an error wrapping ctx.Err(); committed rows stay committed.
func (s *Service) Import(ctx context.Context, table *importer.Table) (*models.ImportSummary, error) {
	return s.reconcile(ctx, table, true)
}

// CheckImport is Import without commits: it reports what would be accepted.
func (s *Service) CheckImport(ctx context.Context, table *importer.Table) (*models.ImportSummary, error) {
	return s.reconcile(ctx, table, false)
}

func (s *Service) reconcile(ctx context.Context, table *importer.Table, commit bool) (*models.ImportSummary, error) {
	ctx, span := s.tracer.Start(ctx, "contacts.import")
	defer span.End()
	span.SetAttributes(
		attribute.Int("import.rows", table.Len()),
		attribute.Bool("import.dry_run", !commit),
	)
	start := time.Now()
	// One timestamp for every row of the batch.
	ctx = requestcontext.WithTime(ctx, requestcontext.Now(ctx))

	if err := s.ensurePrimed(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}

	var commitFn importer.CommitFunc
	if commit {
		commitFn = s.insert
	}
	summary, err := s.reconciler.Reconcile(ctx, table, s.index.LookupOwner, commitFn)

	var formatErr *importer.FormatError
	switch {
	case errors.As(err, &formatErr):
		span.SetStatus(codes.Error, "import format")
		return nil, dErrors.Wrap(err, dErrors.CodeImportFormat, "invalid import file")
	case err != nil && summary == nil:
		span.RecordError(err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "import failed")
	}

	s.observeImport(summary, start, commit)
	span.SetAttributes(
		attribute.Int("import.imported", summary.Imported),
		attribute.Int("import.skipped", summary.Skipped),
	)

	if commit {
		s.logAudit(ctx, audit.Event{
			Action:   audit.EventContactsImported,
			Imported: summary.Imported,
			Skipped:  summary.Skipped,
		}, "imported", summary.Imported, "skipped", summary.Skipped)
	}

	if err != nil {
		span.RecordError(err)
		return summary, dErrors.Wrap(err, dErrors.CodeTimeout, "import interrupted")
	}
	return summary, nil
}

func (s *Service) observeImport(summary *models.ImportSummary, start time.Time, commit bool) {
	if s.metrics == nil || !commit {
		return
	}
	s.metrics.ObserveImport(start)
	for _, o := range summary.Outcomes {
		s.metrics.ObserveImportRow(string(o.Status), string(o.Reason))
	}
}
