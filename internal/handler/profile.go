package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/parlor/parlor/internal/auth"
	"github.com/parlor/parlor/internal/middleware"
	"github.com/parlor/parlor/internal/service"
)

const profileFailedMessage = "Failed to fetch user profile."

// ProfileGetter builds the profile document for a user.
type ProfileGetter interface {
	GetProfile(ctx context.Context, userID string) (*service.Profile, error)
}

// ProfileHandler serves the user profile and usage report.
type ProfileHandler struct {
	svc    ProfileGetter
	logger *slog.Logger
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(svc ProfileGetter, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{svc: svc, logger: logger}
}

// Get handles GET /api/user/profile.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.AuthFromContext(r.Context())
	if authCtx == nil {
		writeMessage(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	profile, err := h.svc.GetProfile(r.Context(), authCtx.UserID)
	if err != nil {
		h.logger.Error("failed to fetch user profile",
			slog.String("user_id", authCtx.UserID),
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
		writeMessage(w, http.StatusInternalServerError, profileFailedMessage)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}
