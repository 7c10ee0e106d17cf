package accounts

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/aiox-platform/genstudio/internal/api"
	"github.com/aiox-platform/genstudio/internal/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Me returns the signed-in account with its credit balance.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrInvalidToken)
		return
	}

	account, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("getting account", "error", err, "account_id", id)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if account == nil {
		api.HandleError(w, api.NewNotFoundError("account not found"))
		return
	}

	api.JSON(w, http.StatusOK, account)
}
