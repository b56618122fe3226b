package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/parlor/parlor/internal/auth"
	"github.com/parlor/parlor/internal/model"
)

// APIKeyStore persists API keys.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error)
	ListAPIKeysByUserID(ctx context.Context, userID string) ([]*model.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
}

// KeyInvalidator drops cached auth decisions for a key.
type KeyInvalidator interface {
	InvalidateKey(ctx context.Context, keyID string) error
}

// APIKeyHandler handles API key management endpoints.
type APIKeyHandler struct {
	logger      *slog.Logger
	store       APIKeyStore
	invalidator KeyInvalidator
	env         string
	now         func() time.Time
}

// NewAPIKeyHandler creates a new APIKeyHandler. env selects the key prefix
// (auth.EnvLive or auth.EnvTest).
func NewAPIKeyHandler(logger *slog.Logger, store APIKeyStore, env string) *APIKeyHandler {
	if env == "" {
		env = auth.EnvLive
	}
	return &APIKeyHandler{
		logger: logger,
		store:  store,
		env:    env,
		now:    time.Now,
	}
}

// WithInvalidator makes revocation evict the key from the auth cache.
func (h *APIKeyHandler) WithInvalidator(inv KeyInvalidator) *APIKeyHandler {
	h.invalidator = inv
	return h
}

// CreateAPIKey handles POST /api/api-keys
func (h *APIKeyHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := auth.AuthFromContext(ctx)
	if authCtx == nil {
		writeAPIKeyError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	var req model.APIKeyCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIKeyError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if err := model.ValidateScopes(req.Scopes); err != nil {
		writeAPIKeyError(w, http.StatusBadRequest, "INVALID_SCOPE", err.Error())
		return
	}
	if len(req.Scopes) == 0 {
		req.Scopes = []string{model.ScopeRead}
	}

	// A key can never grant more than the key that minted it.
	for _, scope := range req.Scopes {
		if !authCtx.HasScope(scope) {
			writeAPIKeyError(w, http.StatusForbidden, "FORBIDDEN", "Cannot grant scope: "+scope)
			return
		}
	}

	apiKey, plaintext, err := h.mint(ctx, authCtx.UserID, req.Name, req.Scopes, model.TierFree)
	if err != nil {
		h.logger.Error("failed to create API key", slog.String("error", err.Error()))
		writeAPIKeyError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create API key")
		return
	}

	h.logger.Info("API key created",
		slog.String("key_id", apiKey.ID),
		slog.String("key_prefix", apiKey.KeyPrefix),
		slog.String("user_id", apiKey.UserID),
	)

	// The plaintext key is only ever returned here.
	writeJSON(w, http.StatusCreated, createResponse(apiKey, plaintext))
}

// ListAPIKeys handles GET /api/api-keys
func (h *APIKeyHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := auth.AuthFromContext(ctx)
	if authCtx == nil {
		writeAPIKeyError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	keys, err := h.store.ListAPIKeysByUserID(ctx, authCtx.UserID)
	if err != nil {
		h.logger.Error("failed to list API keys", slog.String("error", err.Error()))
		writeAPIKeyError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list API keys")
		return
	}

	responses := make([]model.APIKeyResponse, 0, len(keys))
	for _, key := range keys {
		responses = append(responses, key.ToResponse())
	}

	writeJSON(w, http.StatusOK, map[string]any{"keys": responses})
}

// RevokeAPIKey handles DELETE /api/api-keys/{key_id}
func (h *APIKeyHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := auth.AuthFromContext(ctx)
	if authCtx == nil {
		writeAPIKeyError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	key, ok := h.ownedKey(w, r, authCtx)
	if !ok {
		return
	}

	if err := h.store.RevokeAPIKey(ctx, key.ID); err != nil {
		h.logger.Error("failed to revoke API key", slog.String("error", err.Error()))
		writeAPIKeyError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to revoke API key")
		return
	}

	h.invalidate(ctx, key.ID)

	h.logger.Info("API key revoked",
		slog.String("key_id", key.ID),
		slog.String("user_id", authCtx.UserID),
	)

	w.WriteHeader(http.StatusNoContent)
}

// RotateAPIKey handles POST /api/api-keys/{key_id}/rotate
func (h *APIKeyHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := auth.AuthFromContext(ctx)
	if authCtx == nil {
		writeAPIKeyError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	oldKey, ok := h.ownedKey(w, r, authCtx)
	if !ok {
		return
	}

	// Create the replacement before revoking so the caller is never keyless.
	newKey, plaintext, err := h.mint(ctx, oldKey.UserID, oldKey.Name, oldKey.Scopes, oldKey.RateLimitTier)
	if err != nil {
		h.logger.Error("failed to create rotated API key", slog.String("error", err.Error()))
		writeAPIKeyError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to rotate API key")
		return
	}

	if err := h.store.RevokeAPIKey(ctx, oldKey.ID); err != nil {
		h.logger.Error("failed to revoke old API key during rotation", slog.String("error", err.Error()))
	}
	h.invalidate(ctx, oldKey.ID)

	h.logger.Info("API key rotated",
		slog.String("old_key_id", oldKey.ID),
		slog.String("new_key_id", newKey.ID),
		slog.String("user_id", authCtx.UserID),
	)

	writeJSON(w, http.StatusCreated, model.APIKeyRotateResponse{
		OldKeyID:        oldKey.ID,
		OldKeyRevokedAt: newKey.CreatedAt,
		NewKey:          createResponse(newKey, plaintext),
	})
}

// ownedKey loads the path key and checks it is live and owned by the caller.
// Not found, foreign and revoked keys all answer 404 to prevent enumeration.
func (h *APIKeyHandler) ownedKey(w http.ResponseWriter, r *http.Request, authCtx *model.AuthContext) (*model.APIKey, bool) {
	keyID := chi.URLParam(r, "key_id")
	if keyID == "" {
		writeAPIKeyError(w, http.StatusBadRequest, "INVALID_REQUEST", "Key ID is required")
		return nil, false
	}

	key, err := h.store.GetAPIKeyByID(r.Context(), keyID)
	if err != nil || key.UserID != authCtx.UserID || key.IsRevoked() {
		writeAPIKeyError(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found or already revoked")
		return nil, false
	}
	return key, true
}

// invalidate is best effort; cached entries also expire on their own.
func (h *APIKeyHandler) invalidate(ctx context.Context, keyID string) {
	if h.invalidator == nil {
		return
	}
	if err := h.invalidator.InvalidateKey(ctx, keyID); err != nil {
		h.logger.Warn("failed to invalidate cached key",
			slog.String("key_id", keyID),
			slog.String("error", err.Error()),
		)
	}
}

func (h *APIKeyHandler) mint(ctx context.Context, userID, name string, scopes []string, tier string) (*model.APIKey, string, error) {
	generated, err := auth.GenerateAPIKey(h.env)
	if err != nil {
		return nil, "", err
	}

	key := &model.APIKey{
		ID:            ulid.Make().String(),
		UserID:        userID,
		KeyHash:       generated.Hash,
		KeyPrefix:     generated.Prefix,
		Scopes:        scopes,
		RateLimitTier: tier,
		Name:          name,
		CreatedAt:     h.now(),
	}
	if err := h.store.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}
	return key, generated.Plaintext, nil
}

func createResponse(key *model.APIKey, plaintext string) model.APIKeyCreateResponse {
	return model.APIKeyCreateResponse{
		ID:            key.ID,
		Key:           plaintext,
		Name:          key.Name,
		KeyPrefix:     key.KeyPrefix,
		Scopes:        key.Scopes,
		RateLimitTier: key.RateLimitTier,
		CreatedAt:     key.CreatedAt,
	}
}

// writeAPIKeyError writes a JSON error response.
func writeAPIKeyError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
