package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"rolodex/internal/audit"
	"rolodex/internal/contacts/importer"
	"rolodex/internal/contacts/metrics"
	"rolodex/internal/contacts/models"
	"rolodex/internal/contacts/phone"
	dErrors "rolodex/pkg/domain-errors"
	"rolodex/pkg/platform/sentinel"
	"rolodex/pkg/requestcontext"
)

// Directory persists contacts and assigns their IDs.
type Directory interface {
	List(ctx context.Context) ([]*models.Contact, error)
	Get(ctx context.Context, id models.ContactID) (*models.Contact, error)
	Create(ctx context.Context, c *models.Contact) (*models.Contact, error)
	Update(ctx context.Context, id models.ContactID, c *models.Contact) (*models.Contact, error)
	Delete(ctx context.Context, id models.ContactID) error
}

// PhoneIndex maps normalized phone keys to their owning contact.
type PhoneIndex interface {
	LookupOwner(ctx context.Context, key phone.Key) (models.ContactID, bool, error)
	Reserve(ctx context.Context, id models.ContactID, keys []phone.Key) error
	Release(ctx context.Context, id models.ContactID) error
	Rebuild(ctx context.Context, contacts []*models.Contact) error
}

// primeTimeout bounds a startup Prime whose context has no deadline; a full
// directory scan can outlast the default write timeout.
const primeTimeout = 2 * time.Minute

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Service orchestrates contact writes: validation, then the phone index, then
// the directory, all under the write lock. Reads go straight to the directory.
type Service struct {
	directory      Directory
	index          PhoneIndex
	tx             WriteTx
	reconciler     *importer.Reconciler
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer

	// primed is false until the index has been rebuilt from the directory,
	// and is reset whenever an index update fails after a directory write.
	primed   atomic.Bool
	lazyLoad bool
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithWriteTx replaces the default in-process write lock.
func WithWriteTx(tx WriteTx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func WithReconciler(r *importer.Reconciler) Option {
	return func(s *Service) {
		s.reconciler = r
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithLazyPriming defers the index rebuild to the first call that needs it.
// Without it, callers are expected to call Prime at startup.
func WithLazyPriming() Option {
	return func(s *Service) {
		s.lazyLoad = true
	}
}

func New(directory Directory, index PhoneIndex, opts ...Option) (*Service, error) {
	if directory == nil {
		return nil, fmt.Errorf("directory is required")
	}
	if index == nil {
		return nil, fmt.Errorf("phone index is required")
	}

	svc := &Service{
		directory: directory,
		index:     index,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.tx == nil {
		svc.tx = NewWriteTx(NewMutexLocker(), 0)
	}
	if svc.reconciler == nil {
		svc.reconciler = importer.New(importer.WithLogger(svc.logger))
	}
	if svc.tracer == nil {
		svc.tracer = otel.Tracer("rolodex/contacts")
	}
	return svc, nil
}

// Prime rebuilds the phone index from a full directory scan. It fails without
// touching the index when the directory already holds a shared phone key.
// The scan and rebuild run under the write lock, so no write can land
// between the snapshot and the rebuild.
func (s *Service) Prime(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, primeTimeout)
		defer cancel()
	}
	return s.tx.RunInTx(ctx, s.rebuildIndex)
}

// rebuildIndex must run inside RunInTx.
func (s *Service) rebuildIndex(ctx context.Context) error {
	contacts, err := s.directory.List(ctx)
	if err != nil {
		return storeError(err, "failed to load directory")
	}
	if err := s.index.Rebuild(ctx, contacts); err != nil {
		s.logger.ErrorContext(ctx, "phone index rebuild failed",
			"contacts", len(contacts),
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to rebuild phone index")
	}
	keys := 0
	for _, c := range contacts {
		keys += 1 + len(c.AdditionalPhones)
	}
	if s.metrics != nil {
		s.metrics.SetIndexKeys(keys)
	}
	s.primed.Store(true)
	s.logger.InfoContext(ctx, "phone index primed",
		"contacts", len(contacts),
		"keys", keys,
	)
	return nil
}

// primeInTx rebuilds the index when lazy priming is on and it has not been
// built yet, or when a failed write left it stale. Writers call it first
// thing inside RunInTx.
func (s *Service) primeInTx(ctx context.Context) error {
	if s.primed.Load() {
		return nil
	}
	if !s.lazyLoad {
		s.logger.WarnContext(ctx, "phone index not primed, rebuilding now",
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return s.rebuildIndex(ctx)
}

// ensurePrimed is primeInTx for callers that do not otherwise take the
// write lock, such as dry-run imports.
func (s *Service) ensurePrimed(ctx context.Context) error {
	if s.primed.Load() {
		return nil
	}
	return s.tx.RunInTx(ctx, s.primeInTx)
}

// markStale forces the next write to rebuild the index first.
func (s *Service) markStale(ctx context.Context, reason string, err error) {
	s.primed.Store(false)
	s.logger.ErrorContext(ctx, "phone index marked stale",
		"reason", reason,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
}

func (s *Service) logAudit(ctx context.Context, event audit.Event, attributes ...any) {
	requestID := requestcontext.RequestID(ctx)
	args := append(attributes, "event", string(event.Action), "log_type", "audit")
	if requestID != "" {
		args = append(args, "request_id", requestID)
	}
	if event.ContactID != "" {
		args = append(args, "contact_id", event.ContactID)
	}
	s.logger.InfoContext(ctx, string(event.Action), args...)
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit publish failed",
			"event", string(event.Action),
			"error", err,
		)
	}
}

// storeError translates directory and index failures into domain errors.
// A storage-level unique violation is a persistence failure, not a phone
// conflict: the phone index is the only source of conflict errors.
func storeError(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "contact not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	}
	return dErrors.Wrap(err, dErrors.CodePersistence, msg)
}

func conflictError(conflict *models.ConflictError) error {
	return dErrors.Wrap(conflict, dErrors.CodeConflict, "contact rejected")
}
