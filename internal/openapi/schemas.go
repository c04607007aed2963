package openapi

import "github.com/getkin/kin-openapi/openapi3"

func stringProp(description string) *openapi3.SchemaRef {
	s := openapi3.NewStringSchema()
	s.Description = description
	return &openapi3.SchemaRef{Value: s}
}

func enumProp(description string, values ...interface{}) *openapi3.SchemaRef {
	ref := stringProp(description)
	ref.Value.Enum = values
	return ref
}

func object(required []string, props openapi3.Schemas) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Required:   required,
			Properties: props,
		},
	}
}

func tokenProperties() openapi3.Schemas {
	return openapi3.Schemas{
		"token_link":          stringProp("Public handle of the token"),
		"description":         stringProp("Human readable description"),
		"account_id":          stringProp("Owning account, for account scoped tokens"),
		"service_external_id": stringProp("Owning service, for service scoped tokens"),
		"service_mode":        enumProp("Service mode", "LIVE", "TEST"),
		"token_type":          enumProp("Payment instrument class", "CARD", "DIRECT_DEBIT"),
		"type":                enumProp("Subsystem that created the token", "API", "PRODUCTS", "DEMO"),
		"created_by":          stringProp("Creator identity"),
		"issued_date":         stringProp("Issue time, e.g. \"02 Jan 2006 - 15:04\" (UTC)"),
		"last_used":           stringProp("Last authentication, same format as issued_date"),
		"revoked":             stringProp("Revocation time, same format as issued_date"),
	}
}

// componentSchemas returns the request and response schemas referenced by
// the paths.
func componentSchemas() openapi3.Schemas {
	issueProps := tokenProperties()
	issueProps["token"] = stringProp("The API key. Returned only once.")

	return openapi3.Schemas{
		"ErrorResponse": object([]string{"error"}, openapi3.Schemas{
			"error": object([]string{"code", "message"}, openapi3.Schemas{
				"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
				"message": stringProp(""),
				"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
			}),
		}),
		"Token":         object([]string{"token_link", "description", "token_type", "type", "issued_date"}, tokenProperties()),
		"IssueResponse": object([]string{"token", "token_link"}, issueProps),
		"TokenList": object([]string{"tokens"}, openapi3.Schemas{
			"tokens": &openapi3.SchemaRef{
				Value: &openapi3.Schema{
					Type:  &openapi3.Types{"array"},
					Items: ref("Token"),
				},
			},
		}),
		"IssueRequest": object([]string{"description", "created_by"}, openapi3.Schemas{
			"account_id":          stringProp("Account to scope the token to"),
			"service_external_id": stringProp("Service to scope the token to; requires service_mode"),
			"service_mode":        enumProp("Service mode", "LIVE", "TEST"),
			"description":         stringProp("Human readable description"),
			"created_by":          stringProp("Creator identity"),
			"token_type":          enumProp("Payment instrument class, defaults to CARD", "CARD", "DIRECT_DEBIT"),
			"type":                enumProp("Creating subsystem, defaults to API", "API", "PRODUCTS", "DEMO"),
		}),
		"UpdateDescriptionRequest": object([]string{"description"}, openapi3.Schemas{
			"description": stringProp("New description"),
		}),
		"UpdateDescriptionByLinkRequest": object([]string{"token_link", "description"}, openapi3.Schemas{
			"token_link":  stringProp("Token link"),
			"description": stringProp("New description"),
		}),
		"RevokeRequest": object(nil, openapi3.Schemas{
			"token_link": stringProp("Link of the token to revoke"),
			"token":      stringProp("API key of the token to revoke"),
		}),
		"RevokeResponse": object([]string{"revoked"}, openapi3.Schemas{
			"revoked": stringProp("Revocation date, e.g. \"02 Jan 2006\""),
		}),
		"RevokeAllResponse": object([]string{"revoked_count"}, openapi3.Schemas{
			"revoked_count": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
		}),
		"AuthResponse": object([]string{"token_link", "token_type"}, openapi3.Schemas{
			"account_id":          stringProp("Account the key belongs to"),
			"service_external_id": stringProp("Service the key belongs to"),
			"service_mode":        enumProp("Service mode", "LIVE", "TEST"),
			"token_link":          stringProp("Public handle of the token"),
			"token_type":          enumProp("Payment instrument class", "CARD", "DIRECT_DEBIT"),
		}),
	}
}
