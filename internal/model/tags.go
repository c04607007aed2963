package model

import (
	"fmt"
	"strings"
)

// PaymentType is the payment-instrument class a token is issued for.
type PaymentType string

const (
	PaymentTypeCard        PaymentType = "CARD"
	PaymentTypeDirectDebit PaymentType = "DIRECT_DEBIT"
)

// ParsePaymentType maps a string to a PaymentType. Unknown or empty values
// fall back to CARD.
func ParsePaymentType(s string) PaymentType {
	switch PaymentType(strings.ToUpper(strings.TrimSpace(s))) {
	case PaymentTypeDirectDebit:
		return PaymentTypeDirectDebit
	default:
		return PaymentTypeCard
	}
}

// TokenSource records which subsystem created a token.
type TokenSource string

const (
	TokenSourceAPI      TokenSource = "API"
	TokenSourceProducts TokenSource = "PRODUCTS"
	TokenSourceDemo     TokenSource = "DEMO"
)

// ParseTokenSource maps a string to a TokenSource. Unknown or empty values
// fall back to API.
func ParseTokenSource(s string) TokenSource {
	switch TokenSource(strings.ToUpper(strings.TrimSpace(s))) {
	case TokenSourceProducts:
		return TokenSourceProducts
	case TokenSourceDemo:
		return TokenSourceDemo
	default:
		return TokenSourceAPI
	}
}

// TokenState filters token listings by revocation status.
type TokenState string

const (
	TokenStateActive  TokenState = "ACTIVE"
	TokenStateRevoked TokenState = "REVOKED"
)

// ParseTokenState maps a string to a TokenState. Unknown or empty values fall
// back to ACTIVE.
func ParseTokenState(s string) TokenState {
	if TokenState(strings.ToUpper(strings.TrimSpace(s))) == TokenStateRevoked {
		return TokenStateRevoked
	}
	return TokenStateActive
}

// ServiceMode distinguishes live and test credentials of a service.
type ServiceMode string

const (
	ServiceModeLive ServiceMode = "LIVE"
	ServiceModeTest ServiceMode = "TEST"
)

// ParseServiceMode maps a string to a ServiceMode. Unlike the tags above there
// is no default: a wrong mode would silently widen or shift a tenant scope.
func ParseServiceMode(s string) (ServiceMode, error) {
	m := ServiceMode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown service mode %q", s)
	}
	return m, nil
}

// Valid reports whether m is LIVE or TEST.
func (m ServiceMode) Valid() bool {
	return m == ServiceModeLive || m == ServiceModeTest
}
