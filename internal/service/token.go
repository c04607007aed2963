package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paycore/tokend/internal/model"
)

const maxDescriptionLength = 255

// IssueRequest describes a token to issue.
type IssueRequest struct {
	Tenant      model.Tenant
	Description string
	CreatedBy   string
	PaymentType model.PaymentType
	Source      model.TokenSource
}

// IssuedToken carries the API key, which is shown to the caller exactly once,
// alongside the stored record.
type IssuedToken struct {
	APIKey string
	Token  model.Token
}

// RevokeRequest identifies a token to revoke either by link or by presenting
// the API key itself. Link wins when both are set.
type RevokeRequest struct {
	Link   model.TokenLink
	APIKey string
}

func validateDescription(description string) error {
	if strings.TrimSpace(description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidRequest)
	}
	if len(description) > maxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidRequest, maxDescriptionLength)
	}
	return nil
}

// Issue creates a token and returns its API key. The key cannot be
// recovered afterwards.
func (s *TokenService) Issue(ctx context.Context, req IssueRequest) (IssuedToken, error) {
	if err := req.Tenant.Validate(); err != nil {
		return IssuedToken{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := validateDescription(req.Description); err != nil {
		return IssuedToken{}, err
	}
	if strings.TrimSpace(req.CreatedBy) == "" {
		return IssuedToken{}, fmt.Errorf("%w: created_by is required", ErrInvalidRequest)
	}

	hash, apiKey := s.codec.Issue()
	tok := model.Token{
		Hash:              hash,
		Description:       req.Description,
		AccountID:         req.Tenant.AccountID,
		ServiceExternalID: req.Tenant.ServiceExternalID,
		ServiceMode:       req.Tenant.ServiceMode,
		PaymentType:       req.PaymentType,
		Source:            req.Source,
		CreatedBy:         req.CreatedBy,
	}
	if err := s.store.Insert(ctx, &tok); err != nil {
		return IssuedToken{}, fmt.Errorf("issue token: %w", err)
	}

	s.logger.Info("token issued",
		"token_link", tok.Link,
		"tenant", req.Tenant.String(),
		"source", tok.Source,
		"created_by", tok.CreatedBy,
	)
	return IssuedToken{APIKey: apiKey, Token: tok}, nil
}

// ListTokens returns the tenant's tokens in the given state, newest first.
func (s *TokenService) ListTokens(ctx context.Context, tenant model.Tenant, state model.TokenState, source model.TokenSource) ([]model.Token, error) {
	if err := tenant.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return s.store.ListByTenant(ctx, tenant, state, source)
}

// GetToken returns one of the tenant's tokens.
func (s *TokenService) GetToken(ctx context.Context, tenant model.Tenant, link model.TokenLink) (model.Token, bool, error) {
	if err := tenant.Validate(); err != nil {
		return model.Token{}, false, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return s.store.FindByLink(ctx, tenant, link)
}

// GetTokenByLink returns any token by link. Administrative use only.
func (s *TokenService) GetTokenByLink(ctx context.Context, link model.TokenLink) (model.Token, bool, error) {
	return s.store.FindByLinkUnscoped(ctx, link)
}

// UpdateDescription changes the description of one of the tenant's active
// tokens. It reports false when no such active token exists.
func (s *TokenService) UpdateDescription(ctx context.Context, tenant model.Tenant, link model.TokenLink, description string) (bool, error) {
	if err := tenant.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := validateDescription(description); err != nil {
		return false, err
	}
	ok, err := s.store.UpdateDescriptionForTenant(ctx, tenant, link, description)
	if err != nil {
		return false, err
	}
	if ok {
		s.logger.Info("token description updated", "token_link", link, "tenant", tenant.String())
	}
	return ok, nil
}

// UpdateDescriptionByLink changes the description of any active token.
func (s *TokenService) UpdateDescriptionByLink(ctx context.Context, link model.TokenLink, description string) (bool, error) {
	if err := validateDescription(description); err != nil {
		return false, err
	}
	ok, err := s.store.UpdateDescription(ctx, link, description)
	if err != nil {
		return false, err
	}
	if ok {
		s.logger.Info("token description updated", "token_link", link)
	}
	return ok, nil
}

// Revoke revokes one of the tenant's active tokens and returns when. It
// reports false when there was nothing to revoke. A malformed API key yields
// ErrInvalidToken.
func (s *TokenService) Revoke(ctx context.Context, tenant model.Tenant, req RevokeRequest) (time.Time, bool, error) {
	if err := tenant.Validate(); err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var (
		link = req.Link
		at   time.Time
		ok   bool
		err  error
	)
	switch {
	case req.Link != "":
		at, ok, err = s.store.RevokeByLink(ctx, tenant, req.Link)
	case req.APIKey != "":
		hash, valid := s.codec.VerifyAndHash(req.APIKey)
		if !valid {
			return time.Time{}, false, ErrInvalidToken
		}
		link, at, ok, err = s.store.RevokeByHash(ctx, tenant, hash)
	default:
		return time.Time{}, false, fmt.Errorf("%w: token_link or token is required", ErrInvalidRequest)
	}
	if err != nil {
		return time.Time{}, false, err
	}
	if ok {
		s.logger.Info("token revoked", "token_link", link, "tenant", tenant.String())
	}
	return at, ok, nil
}

// RevokeAll revokes every active token of the tenant.
func (s *TokenService) RevokeAll(ctx context.Context, tenant model.Tenant) (int64, error) {
	if err := tenant.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	n, err := s.store.RevokeAll(ctx, tenant)
	if err != nil {
		return 0, err
	}
	s.logger.Info("tokens revoked", "tenant", tenant.String(), "count", n)
	return n, nil
}

// Ping reports whether the token store is reachable.
func (s *TokenService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
