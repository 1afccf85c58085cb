package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/chain-data-gateway/internal/nonce"
	"github.com/chain-data-gateway/internal/session"
	"github.com/chain-data-gateway/internal/wallet"
)

// WalletAuthService implements "sign this message" login: issue a nonce,
// then exchange a signature over the nonce message for a session token.
type WalletAuthService struct {
	nonces    *nonce.Authenticator
	verifiers wallet.Verifiers
	sessions  *session.Issuer
}

// NewWalletAuthService creates a new wallet auth service.
func NewWalletAuthService(nonces *nonce.Authenticator, verifiers wallet.Verifiers, sessions *session.Issuer) *WalletAuthService {
	return &WalletAuthService{nonces: nonces, verifiers: verifiers, sessions: sessions}
}

// NonceResult is a fresh nonce and the exact message to sign.
type NonceResult struct {
	Nonce nonce.Entry
	// Message embeds the nonce and must be signed unchanged.
	Message string
}

// IssueNonce starts a login attempt.
func (s *WalletAuthService) IssueNonce(ctx context.Context) (*NonceResult, error) {
	entry, err := s.nonces.Issue(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to issue nonce")
		return nil, NewUnavailable("nonce_unavailable", "Unable to issue a login nonce")
	}
	return &NonceResult{Nonce: entry, Message: entry.Message()}, nil
}

// VerifyInput is a signed login attempt.
type VerifyInput struct {
	PublicKey string
	Signature string
	Message   string
	Nonce     string
	Chain     string
}

// Verify consumes the nonce and checks the signature. The nonce is spent
// even when the signature turns out to be invalid.
func (s *WalletAuthService) Verify(ctx context.Context, in VerifyInput) (*session.Token, error) {
	if in.PublicKey == "" || in.Signature == "" || in.Message == "" || in.Nonce == "" {
		return nil, NewBadRequest(CodeInvalidRequest, "publicKey, signature, message and nonce are required")
	}
	chain, err := wallet.ParseChain(in.Chain)
	if err != nil {
		return nil, NewBadRequest(CodeInvalidRequest, err.Error())
	}
	if in.Message != nonce.Message(in.Nonce) {
		return nil, NewUnauthenticated("invalid_message", "Message does not match the expected sign-in message for this nonce")
	}

	if err := s.nonces.ValidateAndConsume(ctx, in.Nonce); err != nil {
		switch {
		case errors.Is(err, nonce.ErrReplayDetected):
			return nil, NewUnauthenticated(CodeReplayDetected, "Nonce has already been used")
		case errors.Is(err, nonce.ErrExpired):
			return nil, NewUnauthenticated(CodeNonceExpired, "Nonce has expired")
		case errors.Is(err, nonce.ErrNotFound):
			return nil, NewUnauthenticated("invalid_nonce", "Unknown nonce")
		default:
			log.Error().Err(err).Msg("failed to consume nonce")
			return nil, NewUnavailable("nonce_unavailable", "Unable to validate nonce")
		}
	}

	chain, err = s.verifiers.Verify(chain, in.PublicKey, in.Message, in.Signature)
	if err != nil {
		if errors.Is(err, wallet.ErrUnsupportedChain) {
			return nil, NewBadRequest(CodeInvalidRequest, err.Error())
		}
		return nil, NewUnauthenticated(CodeInvalidSignature, "Signature verification failed")
	}

	tok, err := s.sessions.Issue(in.PublicKey, string(chain))
	if err != nil {
		log.Error().Err(err).Msg("failed to issue session token")
		return nil, NewInternal(CodeInternal, "Failed to issue session token")
	}
	return tok, nil
}
