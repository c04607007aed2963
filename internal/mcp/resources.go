package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/paycore/tokend/internal/model"
)

const tokenURIPrefix = "tokend://tokens/"

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			tokenURIPrefix+"{token_link}",
			"Token",
			mcp.WithTemplateDescription(
				"A single token record by its public link, including tenant, "+
					"state, and usage timestamps.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleTokenResource,
	)
}

// handleTokenResource returns one token, looked up without tenant scoping.
func (s *MCPServer) handleTokenResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	uri := request.Params.URI
	link := strings.TrimPrefix(uri, tokenURIPrefix)
	if link == "" || link == uri {
		return nil, fmt.Errorf("invalid token URI %q: expected %s{token_link}", uri, tokenURIPrefix)
	}

	tok, ok, err := s.svc.GetTokenByLink(ctx, model.TokenLink(link))
	if err != nil {
		return nil, fmt.Errorf("failed to load token %q: %w", link, err)
	}
	if !ok {
		return nil, fmt.Errorf("token %q not found", link)
	}

	b, err := json.MarshalIndent(newTokenInfo(tok), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
