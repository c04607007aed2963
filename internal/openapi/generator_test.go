package openapi

import (
	"encoding/json"
	"testing"
)

func TestGenerate_Document(t *testing.T) {
	doc := Generate("1.2.3", "http://localhost:8080")

	if doc.OpenAPI != "3.1.0" {
		t.Errorf("OpenAPI version = %q, want %q", doc.OpenAPI, "3.1.0")
	}
	if doc.Info.Version != "1.2.3" {
		t.Errorf("Info.Version = %q, want %q", doc.Info.Version, "1.2.3")
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "http://localhost:8080" {
		t.Errorf("Servers not set correctly")
	}
}

func TestGenerate_Paths(t *testing.T) {
	doc := Generate("dev", "http://localhost:8080")

	for _, tc := range []struct {
		path    string
		methods []string
	}{
		{"/v1/api/auth", []string{"GET"}},
		{"/v1/frontend/auth", []string{"POST", "PUT"}},
		{"/v1/frontend/tokens/{tokenLink}", []string{"GET"}},
		{accountPrefix, []string{"GET", "DELETE"}},
		{accountPrefix + "/revoke-all", []string{"POST"}},
		{accountPrefix + "/{tokenLink}", []string{"GET", "PUT"}},
		{servicePrefix, []string{"GET", "DELETE"}},
		{servicePrefix + "/revoke-all", []string{"POST"}},
		{servicePrefix + "/{tokenLink}", []string{"GET", "PUT"}},
	} {
		item := doc.Paths.Value(tc.path)
		if item == nil {
			t.Errorf("path %s missing", tc.path)
			continue
		}
		for _, m := range tc.methods {
			if item.GetOperation(m) == nil {
				t.Errorf("%s %s missing", m, tc.path)
			}
		}
	}
}

func TestGenerate_OnlyAuthRequiresBearer(t *testing.T) {
	doc := Generate("dev", "http://localhost:8080")

	auth := doc.Paths.Value("/v1/api/auth").Get
	if auth.Security == nil || len(*auth.Security) != 1 {
		t.Fatalf("expected bearer security on /v1/api/auth")
	}
	if _, ok := (*auth.Security)[0]["bearerAuth"]; !ok {
		t.Errorf("expected bearerAuth requirement, got %v", *auth.Security)
	}
	if doc.Paths.Value("/v1/frontend/auth").Post.Security != nil {
		t.Error("frontend issue must not declare bearer security")
	}
}

func TestGenerate_OperationIDsUnique(t *testing.T) {
	doc := Generate("dev", "http://localhost:8080")

	seen := map[string]string{}
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if prev, dup := seen[op.OperationID]; dup {
				t.Errorf("operation id %q used by %s and %s %s", op.OperationID, prev, method, path)
			}
			seen[op.OperationID] = method + " " + path
		}
	}
	if len(seen) != 14 {
		t.Errorf("got %d operations, want 14", len(seen))
	}
}

func TestGenerate_ReferencedSchemasExist(t *testing.T) {
	doc := Generate("dev", "http://localhost:8080")

	for _, name := range []string{
		"ErrorResponse", "Token", "TokenList", "IssueRequest", "IssueResponse",
		"UpdateDescriptionRequest", "UpdateDescriptionByLinkRequest",
		"RevokeRequest", "RevokeResponse", "RevokeAllResponse", "AuthResponse",
	} {
		if _, ok := doc.Components.Schemas[name]; !ok {
			t.Errorf("component schema %s missing", name)
		}
	}

	issue := doc.Components.Schemas["IssueResponse"].Value
	if _, ok := issue.Properties["token"]; !ok {
		t.Error("IssueResponse must carry the api key")
	}
	if _, ok := doc.Components.Schemas["Token"].Value.Properties["token"]; ok {
		t.Error("Token must never carry the api key")
	}
}

func TestGenerate_MarshalsToJSON(t *testing.T) {
	doc := Generate("dev", "http://localhost:8080")
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out["openapi"] != "3.1.0" {
		t.Errorf("openapi = %v, want 3.1.0", out["openapi"])
	}
}
