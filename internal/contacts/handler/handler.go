package handler

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"rolodex/internal/contacts/importer"
	"rolodex/internal/contacts/models"
	"rolodex/internal/platform/metrics"
	"rolodex/internal/platform/middleware"
	dErrors "rolodex/pkg/domain-errors"
	"rolodex/pkg/platform/httputil"
)

// Service defines the interface for contact directory operations.
type Service interface {
	List(ctx context.Context, query string) ([]*models.Contact, error)
	Get(ctx context.Context, id models.ContactID) (*models.Contact, error)
	Create(ctx context.Context, req *models.ContactRequest) (*models.Contact, error)
	Update(ctx context.Context, id models.ContactID, req *models.ContactRequest) (*models.Contact, error)
	Delete(ctx context.Context, id models.ContactID) error
	Import(ctx context.Context, table *importer.Table) (*models.ImportSummary, error)
	CheckImport(ctx context.Context, table *importer.Table) (*models.ImportSummary, error)
}

const (
	defaultMaxUploadBytes = 10 << 20
	defaultRequestTimeout = 2 * time.Minute
	uploadField           = "file"
)

// templateRows is the downloadable import template: the canonical header plus
// two example contacts.
var templateRows = [][]string{
	{"First Name", "Last Name", "Email Address", "Primary Phone Number"},
	{"John", "Doe", "john.doe@example.com", "(555) 123-4567"},
	{"Jane", "Smith", "jane.smith@example.com", "555-987-6543"},
}

// Handler serves the /api/contacts endpoints.
type Handler struct {
	logger         *slog.Logger
	contacts       Service
	metrics        *metrics.Metrics
	maxUploadBytes int64
	timeout        time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithMaxUploadBytes caps the import upload size.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// WithRequestTimeout bounds every request context.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// New creates a new contacts Handler.
func New(contacts Service, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Handler {
	h := &Handler{
		logger:         logger,
		contacts:       contacts,
		metrics:        m,
		maxUploadBytes: defaultMaxUploadBytes,
		timeout:        defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the contact routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	contactsRouter := chi.NewRouter()
	contactsRouter.Use(middleware.RequestID)
	contactsRouter.Use(middleware.Recovery(h.logger, h.metrics))
	contactsRouter.Use(middleware.RequestTime)
	contactsRouter.Use(middleware.Logger(h.logger))
	contactsRouter.Use(middleware.Timeout(h.timeout))
	if h.metrics != nil {
		contactsRouter.Use(middleware.Latency(h.metrics))
	}

	contactsRouter.Get("/api/contacts", h.handleList)
	contactsRouter.Post("/api/contacts", h.handleCreate)
	contactsRouter.Post("/api/contacts/import", h.handleImport)
	contactsRouter.Get("/api/contacts/import/template", h.handleTemplate)
	contactsRouter.Get("/api/contacts/{id}", h.handleGet)
	contactsRouter.Put("/api/contacts/{id}", h.handleUpdate)
	contactsRouter.Delete("/api/contacts/{id}", h.handleDelete)

	r.Mount("/", contactsRouter)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contacts, err := h.contacts.List(ctx, r.URL.Query().Get("q"))
	if err != nil {
		h.fail(ctx, w, "failed to list contacts", err)
		return
	}
	if contacts == nil {
		contacts = []*models.Contact{}
	}
	httputil.WriteJSON(w, http.StatusOK, contacts)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := contactID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	contact, err := h.contacts.Get(ctx, id)
	if err != nil {
		h.fail(ctx, w, "failed to get contact", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, contact)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := h.decode(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	contact, err := h.contacts.Create(ctx, req)
	if err != nil {
		h.fail(ctx, w, "failed to create contact", err)
		return
	}
	w.Header().Set("Location", "/api/contacts/"+contact.ID.String())
	httputil.WriteJSON(w, http.StatusCreated, contact)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := contactID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.decode(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	contact, err := h.contacts.Update(ctx, id, req)
	if err != nil {
		h.fail(ctx, w, "failed to update contact", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, contact)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := contactID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.contacts.Delete(ctx, id); err != nil {
		h.fail(ctx, w, "failed to delete contact", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type importResponse struct {
	Imported int                    `json:"imported"`
	Skipped  int                    `json:"skipped"`
	Summary  string                 `json:"summary"`
	DryRun   bool                   `json:"dryRun,omitempty"`
	Outcomes []models.ImportOutcome `json:"outcomes"`
	Error    string                 `json:"error,omitempty"`
}

// handleImport accepts a multipart upload in field "file" (.csv or .xlsx).
// ?dryRun=true reconciles without committing.
func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	table, err := h.readUpload(w, r)
	if err != nil {
		h.logger.WarnContext(ctx, "rejected import upload",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dryRun"))
	run := h.contacts.Import
	if dryRun {
		run = h.contacts.CheckImport
	}

	summary, err := run(ctx, table)
	if summary == nil {
		h.fail(ctx, w, "import failed", err)
		return
	}

	resp := importResponse{
		Imported: summary.Imported,
		Skipped:  summary.Skipped,
		Summary:  summary.String(),
		DryRun:   dryRun,
		Outcomes: summary.Outcomes,
	}
	status := http.StatusOK
	if err != nil {
		// Rows committed before the interruption stay committed; report them.
		h.logger.WarnContext(ctx, "import interrupted",
			"request_id", requestID,
			"imported", summary.Imported,
			"error", err.Error(),
		)
		resp.Error = err.Error()
		status = httputil.StatusFor(dErrors.CodeOf(err))
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (*importer.Table, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("upload exceeds %d bytes", h.maxUploadBytes))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "multipart field \"file\" is required")
	}
	defer file.Close()

	table, err := importer.ReadFile(header.Filename, file)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeImportFormat, "invalid import file")
	}
	return table, nil
}

func (h *Handler) handleTemplate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="contacts_template.csv"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	if err := cw.WriteAll(templateRows); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to write import template",
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err.Error(),
		)
	}
}

func (h *Handler) decode(r *http.Request) (*models.ContactRequest, error) {
	var req models.ContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(r.Context(), "invalid contact request",
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err.Error(),
		)
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid request body")
	}
	return &req, nil
}

// fail logs at a level matching the error class and writes the envelope.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	attrs := []any{"request_id", middleware.GetRequestID(ctx), "error", err.Error()}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodePersistence:
		h.logger.ErrorContext(ctx, msg, attrs...)
	default:
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}

func contactID(r *http.Request) (models.ContactID, error) {
	id, err := models.ParseContactID(chi.URLParam(r, "id"))
	if err != nil {
		return models.ContactID{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid contact id")
	}
	return id, nil
}
