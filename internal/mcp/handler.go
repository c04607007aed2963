package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/paycore/tokend/internal/model"
)

// --------------------------------------------------------------------------
// Parameter extraction helpers
// --------------------------------------------------------------------------

// requireString extracts a required string argument from the tool request.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil || val == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

// optionalString extracts an optional string argument from the tool request.
func optionalString(request mcp.CallToolRequest, key string) string {
	return request.GetString(key, "")
}

var errNoTenant = errors.New("provide account_id, or service_external_id with service_mode")

// optionalTenant reads the tenant arguments. ok is false when none were
// given.
func optionalTenant(request mcp.CallToolRequest) (tenant model.Tenant, ok bool, err error) {
	accountID := optionalString(request, "account_id")
	serviceID := optionalString(request, "service_external_id")
	if serviceID != "" {
		mode, err := model.ParseServiceMode(optionalString(request, "service_mode"))
		if err != nil {
			return model.Tenant{}, false, err
		}
		return model.ServiceTenant(serviceID, mode), true, nil
	}
	if accountID != "" {
		return model.AccountTenant(accountID), true, nil
	}
	return model.Tenant{}, false, nil
}

// requireTenant is optionalTenant for tools that are always scoped.
func requireTenant(request mcp.CallToolRequest) (model.Tenant, error) {
	tenant, ok, err := optionalTenant(request)
	if err != nil {
		return model.Tenant{}, err
	}
	if !ok {
		return model.Tenant{}, errNoTenant
	}
	return tenant, nil
}

// --------------------------------------------------------------------------
// Response builders
// --------------------------------------------------------------------------

// tokenInfo is the agent-facing view of a token. The hash is never included.
type tokenInfo struct {
	TokenLink         model.TokenLink   `json:"token_link"`
	Description       string            `json:"description"`
	AccountID         string            `json:"account_id,omitempty"`
	ServiceExternalID string            `json:"service_external_id,omitempty"`
	ServiceMode       model.ServiceMode `json:"service_mode,omitempty"`
	TokenType         model.PaymentType `json:"token_type"`
	Type              model.TokenSource `json:"type"`
	State             model.TokenState  `json:"state"`
	CreatedBy         string            `json:"created_by"`
	Issued            string            `json:"issued"`
	LastUsed          string            `json:"last_used,omitempty"`
	Revoked           string            `json:"revoked,omitempty"`
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func newTokenInfo(t model.Token) tokenInfo {
	info := tokenInfo{
		TokenLink:         t.Link,
		Description:       t.Description,
		AccountID:         t.AccountID,
		ServiceExternalID: t.ServiceExternalID,
		ServiceMode:       t.ServiceMode,
		TokenType:         t.PaymentType,
		Type:              t.Source,
		State:             t.State(),
		CreatedBy:         t.CreatedBy,
		Issued:            t.Issued.UTC().Format(timeLayout),
	}
	if t.LastUsed != nil {
		info.LastUsed = t.LastUsed.UTC().Format(timeLayout)
	}
	if t.Revoked != nil {
		info.Revoked = t.Revoked.UTC().Format(timeLayout)
	}
	return info
}

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the LLM so it can self-correct; they do NOT terminate the MCP
// session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}
