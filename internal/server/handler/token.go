package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bidindex/internal/domain"
	"github.com/alanyoungcy/bidindex/internal/server/middleware"
	"github.com/alanyoungcy/bidindex/internal/service"
)

// FlagSetter is what the token handler needs from the service layer.
type FlagSetter interface {
	SetFlag(ctx context.Context, req service.FlagRequest) error
}

// TokenHandler serves token flag updates.
type TokenHandler struct {
	flags  FlagSetter
	logger *slog.Logger
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(flags FlagSetter, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{flags: flags, logger: logHandler(logger, "token")}
}

type setFlagRequest struct {
	Token string `json:"token" validate:"required,token_ref"`
	Flag  *int   `json:"flag" validate:"required,oneof=0 1"`
}

// SetFlag sets or clears a token's flag.
// POST /tokens/flag/v1
func (h *TokenHandler) SetFlag(w http.ResponseWriter, r *http.Request) {
	var req setFlagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	ref, err := domain.ParseTokenRef(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.flags.SetFlag(r.Context(), service.FlagRequest{
		Token:   ref,
		Flagged: *req.Flag == 1,
		Actor:   middleware.Actor(r),
	})
	switch {
	case err == nil:
		writeAccepted(w, http.StatusOK)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusUnprocessableEntity, "token not found")
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "token flag update already in progress")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "set flag failed",
			slog.String("token", ref.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update token flag")
	}
}
