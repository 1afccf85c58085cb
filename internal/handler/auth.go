package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/chain-data-gateway/internal/middleware"
	"github.com/chain-data-gateway/internal/service"
)

// --- Issue Nonce ---

type NonceHandler struct {
	svc *service.WalletAuthService
}

func NewNonceHandler(svc *service.WalletAuthService) *NonceHandler {
	return &NonceHandler{svc: svc}
}

type nonceResponse struct {
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expiresAt"`
	Message   string    `json:"message"`
}

func (h *NonceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.IssueNonce(r.Context())
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, nonceResponse{
		Nonce:     result.Nonce.Value,
		ExpiresAt: result.Nonce.ExpiresAt,
		Message:   result.Message,
	})
}

// --- Verify Signature ---

type VerifyHandler struct {
	svc     *service.WalletAuthService
	limiter *middleware.AuthAttemptLimiter
}

func NewVerifyHandler(svc *service.WalletAuthService, limiter *middleware.AuthAttemptLimiter) *VerifyHandler {
	return &VerifyHandler{svc: svc, limiter: limiter}
}

type verifyRequest struct {
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	Message   string `json:"message"`
	Nonce     string `json:"nonce"`
	Chain     string `json:"chain,omitempty"`
}

func (h *VerifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	attempt, ok := h.limiter.Begin(r, "wallet")
	if !ok {
		RespondError(w, http.StatusTooManyRequests, "rate_limited", "Too many authentication failures")
		return
	}

	var req verifyRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	tok, err := h.svc.Verify(r.Context(), service.VerifyInput{
		PublicKey: req.PublicKey,
		Signature: req.Signature,
		Message:   req.Message,
		Nonce:     req.Nonce,
		Chain:     req.Chain,
	})
	if err != nil {
		var svcErr *service.Error
		if errors.As(err, &svcErr) && svcErr.Kind == service.ErrUnauthenticated {
			attempt.Fail()
		}
		service.RespondError(w, err)
		return
	}

	attempt.Succeed()
	RespondJSON(w, http.StatusOK, tok)
}

// --- Current Session ---

type SessionHandler struct{}

func NewSessionHandler() *SessionHandler {
	return &SessionHandler{}
}

type sessionResponse struct {
	PublicKey string    `json:"publicKey"`
	Chain     string    `json:"chain"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetSession(r.Context())
	if claims == nil {
		RespondError(w, http.StatusUnauthorized, "unauthorized", "Missing session token")
		return
	}

	resp := sessionResponse{PublicKey: claims.Subject, Chain: claims.Chain}
	if claims.Expiry != nil {
		resp.ExpiresAt = claims.Expiry.Time().UTC()
	}
	RespondJSON(w, http.StatusOK, resp)
}
