package auth

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qiwen/lan-chat/internal/auth"
	"github.com/qiwen/lan-chat/pkg/utils"
)

// Handler exposes the wallet-login endpoint.
type Handler struct {
	authenticator *auth.Authenticator
}

// New creates the auth handler.
func New(authenticator *auth.Authenticator) *Handler {
	return &Handler{authenticator: authenticator}
}

// RegisterRoutes mounts auth routes under the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/wallet-login", h.handleWalletLogin)
}

func (h *Handler) handleWalletLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Address   string `json:"address"`
		Signature string `json:"signature"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Address == "" || payload.Signature == "" {
		utils.RespondError(w, http.StatusBadRequest, "address and signature are required")
		return
	}

	token, address, err := h.authenticator.Verify(payload.Address, payload.Signature)
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"token":   token,
			"address": address,
		})
	case errors.Is(err, auth.ErrMalformedInput):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidSignature):
		// No detail about which part failed.
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
	default:
		log.Printf("[auth] wallet login failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
