// Package openapi builds the OpenAPI 3.1 document describing the token API.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

const (
	accountPrefix = "/v1/frontend/auth/{accountId}"
	servicePrefix = "/v1/frontend/auth/service/{serviceId}/mode/{mode}"
)

// Generate returns the OpenAPI document for the token API served at baseURL.
func Generate(version, baseURL string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "tokend API",
			Description: "Issue, verify and revoke bearer API tokens scoped to accounts or services.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"bearerAuth": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:        "http",
				Scheme:      "bearer",
				Description: "API key issued by POST /v1/frontend/auth.",
			},
		},
	}
	doc.Components = &components
	doc.Paths = openapi3.NewPaths()

	doc.Paths.Set("/v1/api/auth", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"auth"},
			Summary:     "Authenticate an API key",
			Description: "Resolves the bearer API key to the tenant it was issued for and records its use.",
			OperationID: "authenticate",
			Security:    &openapi3.SecurityRequirements{{"bearerAuth": []string{}}},
			Responses:   newResponses("200", "Tenant of the API key", ref("AuthResponse"), "401", "429"),
		},
	})

	doc.Paths.Set("/v1/frontend/auth", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"tokens"},
			Summary:     "Issue a token",
			Description: "Creates a token and returns its API key. The key is never shown again.",
			OperationID: "issueToken",
			RequestBody: jsonBody("Token to issue", ref("IssueRequest")),
			Responses:   newResponses("200", "Issued token", ref("IssueResponse"), "400", "422"),
		},
		Put: &openapi3.Operation{
			Tags:        []string{"tokens"},
			Summary:     "Update a token description by link",
			OperationID: "updateTokenDescriptionByLink",
			RequestBody: jsonBody("Link and new description", ref("UpdateDescriptionByLinkRequest")),
			Responses:   newResponses("200", "Updated token", ref("Token"), "400", "404", "422"),
		},
	})

	doc.Paths.Set("/v1/frontend/tokens/{tokenLink}", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"tokens"},
			Summary:     "Get any token by link",
			OperationID: "getTokenByLink",
			Parameters:  openapi3.Parameters{pathParam("tokenLink", "Token link")},
			Responses:   newResponses("200", "Token", ref("Token"), "404"),
		},
	})

	addTenantPaths(doc, accountPrefix, "Account", openapi3.Parameters{
		pathParam("accountId", "Account id"),
	})
	addTenantPaths(doc, servicePrefix, "Service", openapi3.Parameters{
		pathParam("serviceId", "Service external id"),
		modeParam(),
	})

	return doc
}

// addTenantPaths adds the tenant-scoped operations under prefix.
func addTenantPaths(doc *openapi3.T, prefix, scope string, params openapi3.Parameters) {
	withLink := append(append(openapi3.Parameters{}, params...), pathParam("tokenLink", "Token link"))

	doc.Paths.Set(prefix, &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"tokens"},
			Summary:     "List tokens",
			OperationID: "list" + scope + "Tokens",
			Parameters:  append(append(openapi3.Parameters{}, params...), listQueryParameters()...),
			Responses:   newResponses("200", "Tokens, newest first", ref("TokenList"), "422"),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"tokens"},
			Summary:     "Revoke a token",
			Description: "Revokes a token identified by token_link, or by presenting the API key as token.",
			OperationID: "revoke" + scope + "Token",
			Parameters:  params,
			RequestBody: jsonBody("Token to revoke", ref("RevokeRequest")),
			Responses:   newResponses("200", "Revocation date", ref("RevokeResponse"), "400", "404", "422"),
		},
	})

	doc.Paths.Set(prefix+"/revoke-all", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"tokens"},
			Summary:     "Revoke all tokens",
			OperationID: "revokeAll" + scope + "Tokens",
			Parameters:  params,
			Responses:   newResponses("200", "Number of revoked tokens", ref("RevokeAllResponse"), "422"),
		},
	})

	doc.Paths.Set(prefix+"/{tokenLink}", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"tokens"},
			Summary:     "Get a token",
			OperationID: "get" + scope + "Token",
			Parameters:  withLink,
			Responses:   newResponses("200", "Token", ref("Token"), "404", "422"),
		},
		Put: &openapi3.Operation{
			Tags:        []string{"tokens"},
			Summary:     "Update a token description",
			Description: "Only active tokens can be updated; revoked tokens report 404.",
			OperationID: "update" + scope + "TokenDescription",
			Parameters:  withLink,
			RequestBody: jsonBody("New description", ref("UpdateDescriptionRequest")),
			Responses:   newResponses("200", "Updated token", ref("Token"), "400", "404", "422"),
		},
	})
}

// ─── Parameter Builders ─────────────────────────────────────────────────────

func pathParam(name, description string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewPathParameter(name).
			WithDescription(description).
			WithSchema(openapi3.NewStringSchema()),
	}
}

func modeParam() *openapi3.ParameterRef {
	schema := openapi3.NewStringSchema()
	schema.Enum = []interface{}{"LIVE", "TEST"}
	return &openapi3.ParameterRef{
		Value: openapi3.NewPathParameter("mode").
			WithDescription("Service mode").
			WithSchema(schema),
	}
}

func listQueryParameters() openapi3.Parameters {
	state := openapi3.NewStringSchema()
	state.Enum = []interface{}{"active", "revoked"}
	source := openapi3.NewStringSchema()
	source.Enum = []interface{}{"API", "PRODUCTS", "DEMO"}

	return openapi3.Parameters{
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("state").
				WithDescription("Token state to list. Defaults to active.").
				WithSchema(state),
		},
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("type").
				WithDescription("Only list tokens created by this source.").
				WithSchema(source),
		},
	}
}

// ─── Body and Response Helpers ──────────────────────────────────────────────

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func jsonBody(description string, schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Description: description,
			Required:    true,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
}

var errorDescriptions = map[string]string{
	"400": "Malformed request body",
	"401": "Missing, invalid, unknown or revoked API key",
	"404": "Token not found",
	"422": "Validation failed",
	"429": "Too many requests",
	"500": "Internal server error",
}

// newResponses builds a Responses map with a success response, the listed
// error responses and 500.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef, errorCodes ...string) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	for _, code := range append(errorCodes, "500") {
		desc := errorDescriptions[code]
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(ref("ErrorResponse")),
			},
		})
	}
	return responses
}
