package activity

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aiox-platform/genstudio/internal/api"
	"github.com/aiox-platform/genstudio/internal/auth"
	"github.com/aiox-platform/genstudio/internal/quota"
)

// Lister reads an owner's events. *Repository satisfies it.
type Lister interface {
	ListByOwner(ctx context.Context, ownerKind, ownerID string, params ListParams) ([]Event, int64, error)
}

type Handler struct {
	repo Lister
}

func NewHandler(repo Lister) *Handler {
	return &Handler{repo: repo}
}

// List returns the signed-in account's generation events.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.IdentityFromRequest(r)
	if err != nil || owner.Kind != quota.KindAccount {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	params := parseParams(r)
	events, total, err := h.repo.ListByOwner(r.Context(), string(owner.Kind), owner.ID, params)
	if err != nil {
		slog.Error("listing generation events", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, events, total, params.Page, params.PageSize)
}

func parseParams(r *http.Request) ListParams {
	params := DefaultListParams()
	q := r.URL.Query()

	params.EventType = q.Get("event_type")
	params.Mode = q.Get("mode")
	if page, err := strconv.Atoi(q.Get("page")); err == nil && page > 0 {
		params.Page = page
	}
	if size, err := strconv.Atoi(q.Get("page_size")); err == nil && size > 0 && size <= 100 {
		params.PageSize = size
	}
	if t, err := time.Parse(time.RFC3339, q.Get("from")); err == nil {
		params.From = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("to")); err == nil {
		params.To = &t
	}
	return params
}
