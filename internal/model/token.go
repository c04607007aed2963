package model

import (
	"time"

	"github.com/google/uuid"
)

// Secret is the random plaintext half of an API key. It only ever exists in
// memory and inside the key handed to the caller.
type Secret string

// TokenHash is the salted bcrypt hash of a Secret, the only server-side
// representation of a token and the primary lookup key of the token store.
type TokenHash string

// TokenLink is the public, UUID-shaped handle of a token record. It is used by
// administrative operations and is unrelated to the secret.
type TokenLink string

// NewTokenLink returns a fresh random token link.
func NewTokenLink() TokenLink {
	return TokenLink(uuid.NewString())
}

// Token is a durable token record. The API key itself is never stored.
type Token struct {
	ID                int64       `json:"-"`
	Hash              TokenHash   `json:"-"` // never expose
	Link              TokenLink   `json:"token_link"`
	Description       string      `json:"description"`
	AccountID         string      `json:"account_id,omitempty"`
	ServiceExternalID string      `json:"service_external_id,omitempty"`
	ServiceMode       ServiceMode `json:"service_mode,omitempty"`
	PaymentType       PaymentType `json:"token_type"`
	Source            TokenSource `json:"type"`
	CreatedBy         string      `json:"created_by"`
	Issued            time.Time   `json:"issued"`
	LastUsed          *time.Time  `json:"last_used,omitempty"`
	Revoked           *time.Time  `json:"revoked,omitempty"`
}

// Tenant returns the scope the token grants access to.
func (t *Token) Tenant() Tenant {
	return Tenant{
		AccountID:         t.AccountID,
		ServiceExternalID: t.ServiceExternalID,
		ServiceMode:       t.ServiceMode,
	}
}

// State reports whether the token is active or revoked.
func (t *Token) State() TokenState {
	if t.Revoked != nil {
		return TokenStateRevoked
	}
	return TokenStateActive
}

// IsActive reports whether the token has not been revoked.
func (t *Token) IsActive() bool {
	return t.Revoked == nil
}
