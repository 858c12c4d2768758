// Package handler exposes the fulfillment admin surface over HTTP. Handlers
// decode and validate transport concerns, then delegate to the service;
// every response body and error shape comes from httputil.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"coursecert/internal/fulfillment/service"
	id "coursecert/pkg/domain"
	dErrors "coursecert/pkg/domain-errors"
	"coursecert/pkg/platform/httputil"
)

// maxReportSize caps a single report upload at 10 MiB.
const maxReportSize = 10 << 20

// Handler serves the fulfillment admin endpoints.
type Handler struct {
	service *service.Service
	logger  *slog.Logger
}

// New constructs the handler.
func New(svc *service.Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// Routes registers all fulfillment endpoints on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/batches", func(r chi.Router) {
		r.Post("/", h.createBatch)
		r.Get("/", h.listBatches)
		r.Get("/{batchID}", h.getBatch)
		r.Post("/{batchID}/reconcile", h.reconcile)
		r.Get("/{batchID}/verify", h.verifyBatch)
		r.Get("/{batchID}/audit", h.auditTrail)
	})
	r.Route("/stock", func(r chi.Router) {
		r.Post("/", h.addStock)
		r.Get("/", h.listStock)
	})
	r.Route("/certificates", func(r chi.Router) {
		r.Post("/", h.issueDraft)
		r.Get("/{certificateID}", h.getCertificate)
		r.Post("/{certificateID}/ready", h.markReady)
	})
}

func (h *Handler) createBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	courseID, err := req.validate()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	batch, err := h.service.CreateBatch(r.Context(), req.Jurisdiction, courseID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, batch)
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	batches, err := h.service.ListBatches(r.Context(), limit, offset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := id.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	batch, err := h.service.GetBatch(r.Context(), batchID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, batch)
}

// reconcile accepts a multipart form with optional "mailed" and
// "exceptions" file parts. At least one must be present.
func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	batchID, err := id.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := r.ParseMultipartForm(maxReportSize); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidReport, "reports must be uploaded as multipart form files"))
		return
	}
	mailedText, err := formFileText(r, "mailed")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	exceptionsText, err := formFileText(r, "exceptions")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.service.Reconcile(r.Context(), batchID, mailedText, exceptionsText)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) verifyBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := id.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.service.VerifyBatch(r.Context(), batchID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	batchID, err := id.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	events, err := h.service.AuditTrail(r.Context(), batchID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) addStock(w http.ResponseWriter, r *http.Request) {
	var req addStockRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	added, err := h.service.AddStock(r.Context(), req.Jurisdiction, req.Serials)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"added": added})
}

func (h *Handler) listStock(w http.ResponseWriter, r *http.Request) {
	jurisdiction := r.URL.Query().Get("jurisdiction")
	serials, err := h.service.ListStock(r.Context(), jurisdiction)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	available, err := h.service.AvailableStock(r.Context(), jurisdiction)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"serials":   serials,
		"available": available,
	})
}

func (h *Handler) issueDraft(w http.ResponseWriter, r *http.Request) {
	var req issueDraftRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	params, err := req.validate()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	cert, err := h.service.IssueDraft(r.Context(), params)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, cert)
}

func (h *Handler) getCertificate(w http.ResponseWriter, r *http.Request) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "certificateID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	cert, err := h.service.GetCertificate(r.Context(), certID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cert)
}

func (h *Handler) markReady(w http.ResponseWriter, r *http.Request) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "certificateID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	cert, err := h.service.MarkReady(r.Context(), certID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cert)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body must be valid JSON")
	}
	return nil
}

// formFileText reads one optional multipart file part as text. A missing
// part is an empty string, not an error.
func formFileText(r *http.Request, name string) (string, error) {
	file, _, err := r.FormFile(name)
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", dErrors.New(dErrors.CodeInvalidReport, "malformed "+name+" report upload")
	}
	defer func() { _ = file.Close() }()
	content, err := io.ReadAll(io.LimitReader(file, maxReportSize))
	if err != nil {
		return "", dErrors.New(dErrors.CodeInvalidReport, "unreadable "+name+" report upload")
	}
	return string(content), nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
