package model

import (
	"errors"
	"fmt"
)

// ErrInvalidTenant is returned when a tenant carries neither an account id nor
// a complete service external id and mode pair.
var ErrInvalidTenant = errors.New("invalid tenant")

// Tenant is the authorization scope of a token. Two scoping schemes coexist:
// a flat account id, and a service external id paired with a LIVE/TEST mode.
// A token may carry both; queries scope by service when one is present.
type Tenant struct {
	AccountID         string      `json:"account_id,omitempty"`
	ServiceExternalID string      `json:"service_external_id,omitempty"`
	ServiceMode       ServiceMode `json:"service_mode,omitempty"`
}

// AccountTenant returns a tenant scoped by account id.
func AccountTenant(accountID string) Tenant {
	return Tenant{AccountID: accountID}
}

// ServiceTenant returns a tenant scoped by service external id and mode.
func ServiceTenant(serviceExternalID string, mode ServiceMode) Tenant {
	return Tenant{ServiceExternalID: serviceExternalID, ServiceMode: mode}
}

// IsService reports whether queries for this tenant scope by service.
func (t Tenant) IsService() bool {
	return t.ServiceExternalID != ""
}

// Validate checks that the tenant identifies exactly one usable scope.
func (t Tenant) Validate() error {
	if t.IsService() {
		if !t.ServiceMode.Valid() {
			return fmt.Errorf("%w: service %q has no valid mode", ErrInvalidTenant, t.ServiceExternalID)
		}
		return nil
	}
	if t.AccountID == "" {
		return fmt.Errorf("%w: account id or service external id required", ErrInvalidTenant)
	}
	return nil
}

func (t Tenant) String() string {
	if t.IsService() {
		return fmt.Sprintf("service:%s/%s", t.ServiceExternalID, t.ServiceMode)
	}
	return "account:" + t.AccountID
}
