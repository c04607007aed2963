package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/paycore/tokend/internal/model"
	"github.com/paycore/tokend/internal/service"
)

// tenantOptions declares the arguments that select a tenant. required only
// changes the descriptions; the handlers enforce presence.
func tenantOptions(required bool) []mcp.ToolOption {
	scope := "Optional. "
	if required {
		scope = ""
	}
	return []mcp.ToolOption{
		mcp.WithString("account_id",
			mcp.Description(scope+"Account id of the tenant. Ignored when service_external_id is set."),
		),
		mcp.WithString("service_external_id",
			mcp.Description(scope+"External id of the service that owns the tokens."),
		),
		mcp.WithString("service_mode",
			mcp.Description("Mode of the service credentials. Required with service_external_id."),
			mcp.Enum(string(model.ServiceModeLive), string(model.ServiceModeTest)),
		),
	}
}

func newTool(name string, opts []mcp.ToolOption, extra ...mcp.ToolOption) mcp.Tool {
	return mcp.NewTool(name, append(extra, opts...)...)
}

// registerTools registers all tokend MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Read tools -----

	srv.AddTool(
		newTool("tokend_list_tokens", tenantOptions(true),
			mcp.WithDescription(
				"List the tokens of a tenant, newest first. Identify the tenant by "+
					"account_id, or by service_external_id plus service_mode. "+
					"API keys and hashes are never returned.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("state",
				mcp.Description("Filter by state. Defaults to ACTIVE."),
				mcp.Enum(string(model.TokenStateActive), string(model.TokenStateRevoked)),
			),
			mcp.WithString("type",
				mcp.Description("Filter by token source. Omit to list every source."),
				mcp.Enum(string(model.TokenSourceAPI), string(model.TokenSourceProducts), string(model.TokenSourceDemo)),
			),
		),
		s.handleListTokens,
	)

	srv.AddTool(
		newTool("tokend_get_token", tenantOptions(false),
			mcp.WithDescription(
				"Get a single token by its token_link. When a tenant is given the "+
					"token must belong to it.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("token_link",
				mcp.Required(),
				mcp.Description("Public link of the token"),
			),
		),
		s.handleGetToken,
	)

	// ----- Write tools -----

	srv.AddTool(
		newTool("tokend_update_description", tenantOptions(false),
			mcp.WithDescription(
				"Change the description of an active token. Revoked tokens cannot be changed.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("token_link",
				mcp.Required(),
				mcp.Description("Public link of the token"),
			),
			mcp.WithString("description",
				mcp.Required(),
				mcp.Description("New description, at most 255 characters"),
			),
		),
		s.handleUpdateDescription,
	)

	srv.AddTool(
		newTool("tokend_revoke_token", tenantOptions(true),
			mcp.WithDescription(
				"Revoke one active token of a tenant. Revocation is permanent: the "+
					"token's API key stops authenticating immediately.",
			),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithString("token_link",
				mcp.Required(),
				mcp.Description("Public link of the token to revoke"),
			),
		),
		s.handleRevokeToken,
	)

	srv.AddTool(
		newTool("tokend_revoke_all", tenantOptions(true),
			mcp.WithDescription(
				"Revoke every active token of a tenant. Use when credentials have "+
					"leaked or an account is closed. Requires confirm=\"REVOKE\".",
			),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithString("confirm",
				mcp.Required(),
				mcp.Description("Must be exactly REVOKE"),
			),
		),
		s.handleRevokeAll,
	)
}

// --------------------------------------------------------------------------
// Tool handlers
// --------------------------------------------------------------------------

func (s *MCPServer) handleListTokens(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	tenant, err := requireTenant(request)
	if err != nil {
		return toolError("%v", err)
	}

	state := model.ParseTokenState(optionalString(request, "state"))
	var source model.TokenSource
	if v := optionalString(request, "type"); v != "" {
		source = model.ParseTokenSource(v)
	}

	tokens, err := s.svc.ListTokens(ctx, tenant, state, source)
	if err != nil {
		return toolError("Failed to list tokens for %s: %v", tenant, err)
	}

	items := make([]tokenInfo, len(tokens))
	for i, t := range tokens {
		items[i] = newTokenInfo(t)
	}

	return successJSON(map[string]interface{}{
		"tenant": tenant.String(),
		"state":  state,
		"count":  len(items),
		"tokens": items,
	})
}

func (s *MCPServer) handleGetToken(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	link, err := requireString(request, "token_link")
	if err != nil {
		return toolError("%v", err)
	}
	tenant, scoped, err := optionalTenant(request)
	if err != nil {
		return toolError("%v", err)
	}

	var (
		tok model.Token
		ok  bool
	)
	if scoped {
		tok, ok, err = s.svc.GetToken(ctx, tenant, model.TokenLink(link))
	} else {
		tok, ok, err = s.svc.GetTokenByLink(ctx, model.TokenLink(link))
	}
	if err != nil {
		return toolError("Failed to get token %q: %v", link, err)
	}
	if !ok {
		return toolError("Token %q not found", link)
	}
	return successJSON(newTokenInfo(tok))
}

func (s *MCPServer) handleUpdateDescription(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	link, err := requireString(request, "token_link")
	if err != nil {
		return toolError("%v", err)
	}
	description, err := requireString(request, "description")
	if err != nil {
		return toolError("%v", err)
	}
	tenant, scoped, err := optionalTenant(request)
	if err != nil {
		return toolError("%v", err)
	}

	var ok bool
	if scoped {
		ok, err = s.svc.UpdateDescription(ctx, tenant, model.TokenLink(link), description)
	} else {
		ok, err = s.svc.UpdateDescriptionByLink(ctx, model.TokenLink(link), description)
	}
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			return toolError("Invalid request: %v", err)
		}
		return toolError("Failed to update token %q: %v", link, err)
	}
	if !ok {
		return toolError("Token %q not found or already revoked", link)
	}

	s.logger.Info("token description updated via MCP", "token_link", link)
	return successJSON(map[string]interface{}{
		"token_link":  link,
		"description": description,
		"updated":     true,
	})
}

func (s *MCPServer) handleRevokeToken(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	link, err := requireString(request, "token_link")
	if err != nil {
		return toolError("%v", err)
	}
	tenant, err := requireTenant(request)
	if err != nil {
		return toolError("%v", err)
	}

	at, ok, err := s.svc.Revoke(ctx, tenant, service.RevokeRequest{Link: model.TokenLink(link)})
	if err != nil {
		return toolError("Failed to revoke token %q: %v", link, err)
	}
	if !ok {
		return toolError("Token %q not found, already revoked, or not owned by %s", link, tenant)
	}

	s.logger.Warn("token revoked via MCP", "token_link", link, "tenant", tenant.String())
	return successJSON(map[string]interface{}{
		"token_link": link,
		"revoked":    at.UTC().Format(timeLayout),
	})
}

func (s *MCPServer) handleRevokeAll(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	if optionalString(request, "confirm") != "REVOKE" {
		return toolError("Refusing to revoke all tokens: confirm must be exactly REVOKE")
	}
	tenant, err := requireTenant(request)
	if err != nil {
		return toolError("%v", err)
	}

	n, err := s.svc.RevokeAll(ctx, tenant)
	if err != nil {
		return toolError("Failed to revoke tokens for %s: %v", tenant, err)
	}

	s.logger.Warn("all tokens revoked via MCP", "tenant", tenant.String(), "count", n)
	return successJSON(map[string]interface{}{
		"tenant":        tenant.String(),
		"revoked_count": n,
	})
}
