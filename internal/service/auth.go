// Package service is the boundary between transports (HTTP, MCP, CLI) and the
// token codec and store. It owns the outcome taxonomy callers map to status
// codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/paycore/tokend/internal/model"
	"github.com/paycore/tokend/internal/store"
	"github.com/paycore/tokend/internal/token"
)

var (
	// ErrInvalidToken means the API key failed the length or integrity check.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnknownToken means the key is well formed but matches no record.
	ErrUnknownToken = errors.New("unauthorized")
	// ErrTokenRevoked means the key matches a revoked record.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrInvalidRequest wraps validation failures of caller input.
	ErrInvalidRequest = errors.New("invalid request")
)

// Codec is the subset of *token.Codec the service needs.
type Codec interface {
	Issue() (model.TokenHash, string)
	VerifyAndHash(apiKey string) (model.TokenHash, bool)
}

var _ Codec = (*token.Codec)(nil)

// TokenService issues, authenticates and administers tokens.
type TokenService struct {
	store  *store.Store
	codec  Codec
	logger *slog.Logger
}

func NewTokenService(st *store.Store, codec Codec, logger *slog.Logger) *TokenService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenService{
		store:  st,
		codec:  codec,
		logger: logger,
	}
}

// Authenticate resolves an API key to its active token. A revoked token is
// reported as ErrTokenRevoked rather than ErrUnknownToken so callers can say
// why access was denied.
func (s *TokenService) Authenticate(ctx context.Context, apiKey string) (model.Token, error) {
	hash, ok := s.codec.VerifyAndHash(apiKey)
	if !ok {
		return model.Token{}, ErrInvalidToken
	}

	tok, ok, err := s.store.FindActiveTenantByHash(ctx, hash)
	if err != nil {
		return model.Token{}, fmt.Errorf("authenticate: %w", err)
	}
	if ok {
		return tok, nil
	}

	tok, ok, err = s.store.FindByHash(ctx, hash)
	if err != nil {
		return model.Token{}, fmt.Errorf("authenticate: %w", err)
	}
	if ok && !tok.IsActive() {
		s.logger.Info("revoked token presented", "token_link", tok.Link, "tenant", tok.Tenant().String())
		return model.Token{}, ErrTokenRevoked
	}
	return model.Token{}, ErrUnknownToken
}
