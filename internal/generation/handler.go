package generation

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aiox-platform/genstudio/internal/api"
	"github.com/aiox-platform/genstudio/internal/auth"
	"github.com/aiox-platform/genstudio/internal/history"
	"github.com/aiox-platform/genstudio/internal/outpaint"
	"github.com/aiox-platform/genstudio/internal/quota"
)

const maxRequestBytes = 64 << 20

var (
	errQuotaExceeded       = &api.AppError{Code: http.StatusTooManyRequests, Message: ErrQuotaExceeded.Error()}
	errInsufficientCredits = &api.AppError{Code: http.StatusPaymentRequired, Message: ErrInsufficientCredits.Error()}
	errNoIdentity          = &api.AppError{Code: http.StatusUnauthorized, Message: "sign in or send an " + auth.GuestHeader + " header"}
)

type Handler struct {
	svc      *Service
	quota    *quota.Service
	history  *history.Store
	catalog  *Catalog
	validate *validator.Validate
}

func NewHandler(svc *Service, quotaSvc *quota.Service, hist *history.Store, catalog *Catalog) *Handler {
	return &Handler{
		svc:      svc,
		quota:    quotaSvc,
		history:  hist,
		catalog:  catalog,
		validate: validator.New(),
	}
}

type CreateRequest struct {
	Prompt          string              `json:"prompt" validate:"required,max=4000"`
	ModelID         string              `json:"model_id" validate:"required,max=128"`
	Mode            Mode                `json:"mode" validate:"required,oneof=text2img img2img outpaint"`
	AspectRatio     string              `json:"aspect_ratio" validate:"omitempty,max=16"`
	Resolution      string              `json:"resolution" validate:"omitempty,max=16"`
	ReferenceImages []ImageRef          `json:"reference_images" validate:"dive"`
	Outpaint        *outpaint.Placement `json:"outpaint"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	accepted, err := h.svc.Begin(r.Context(), owner, Request{
		Prompt:      req.Prompt,
		ModelID:     req.ModelID,
		Mode:        req.Mode,
		Images:      req.ReferenceImages,
		AspectRatio: req.AspectRatio,
		Resolution:  req.Resolution,
		Outpaint:    req.Outpaint,
	})
	if err != nil {
		h.handleError(w, err, "starting generation")
		return
	}

	api.JSON(w, http.StatusAccepted, accepted)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.identity(w, r)
	if !ok {
		return
	}

	status, err := h.svc.Status(r.Context(), owner, chi.URLParam(r, "taskID"))
	if err != nil {
		h.handleError(w, err, "getting generation status")
		return
	}

	api.JSON(w, http.StatusOK, status)
}

func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, h.catalog.List())
}

func (h *Handler) Quota(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.identity(w, r)
	if !ok {
		return
	}

	status, err := h.quota.Status(r.Context(), owner)
	if err != nil {
		h.handleError(w, err, "getting quota")
		return
	}

	api.JSON(w, http.StatusOK, status)
}

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.identity(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 0 {
		limit = 0
	}

	records, err := h.history.List(r.Context(), owner, limit)
	if err != nil {
		h.handleError(w, err, "listing history")
		return
	}

	api.JSON(w, http.StatusOK, records)
}

// ClearHistory deletes the whole history.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.identity(w, r)
	if !ok {
		return
	}

	if err := h.history.Clear(r.Context(), owner); err != nil {
		h.handleError(w, err, "clearing history")
		return
	}

	api.JSONMessage(w, http.StatusOK, "history cleared")
}

func (h *Handler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.identity(w, r)
	if !ok {
		return
	}

	removed, err := h.history.Delete(r.Context(), owner, chi.URLParam(r, "recordID"))
	if err != nil {
		h.handleError(w, err, "deleting history record")
		return
	}
	if !removed {
		api.HandleError(w, api.NewNotFoundError("history record not found"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (quota.Identity, bool) {
	owner, err := auth.IdentityFromRequest(r)
	if err != nil {
		api.HandleError(w, errNoIdentity)
		return quota.Identity{}, false
	}
	return owner, true
}

func (h *Handler) handleError(w http.ResponseWriter, err error, op string) {
	var pe *ProviderError
	switch {
	case errors.Is(err, ErrValidation):
		api.HandleError(w, api.NewValidationError(err.Error()))
	case errors.Is(err, ErrQuotaExceeded):
		api.HandleError(w, errQuotaExceeded)
	case errors.Is(err, ErrInsufficientCredits):
		api.HandleError(w, errInsufficientCredits)
	case errors.Is(err, ErrTaskNotFound):
		api.HandleError(w, api.NewNotFoundError("generation not found"))
	case errors.Is(err, ErrNotOwner):
		api.HandleError(w, api.ErrOwnershipViolation)
	case errors.Is(err, quota.ErrInvalidIdentity):
		api.HandleError(w, errNoIdentity)
	case errors.As(err, &pe):
		slog.Warn("generation: provider error", "error", err, "op", op)
		api.HandleError(w, api.NewUpstreamError(pe.Message))
	default:
		slog.Error(op, "error", err)
		api.HandleError(w, api.ErrInternalServer)
	}
}
