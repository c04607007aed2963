package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/paycore/tokend/internal/model"
	"github.com/paycore/tokend/internal/server/middleware"
	"github.com/paycore/tokend/internal/service"
	"github.com/paycore/tokend/internal/store"
	"github.com/paycore/tokend/internal/token"
)

const testHMACSecret = "handler-test-secret"

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store   *store.Store
	svc     *service.TokenService
	handler *TokenHandler
	router  chi.Router
}

// newTestEnv creates a fresh test environment with an in-memory token store
// and a Chi router with all token routes mounted.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("store.NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	salt, err := token.GenerateSalt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	codec, err := token.NewCodec(token.Config{HMACSecret: testHMACSecret, BcryptSalt: salt})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewTokenService(st, codec, logger)
	h := NewTokenHandler(svc, logger)

	r := chi.NewRouter()
	r.With(middleware.Authenticate(svc, logger)).Get("/v1/api/auth", h.Authenticate)
	h.Routes(r)

	return &testEnv{
		store:   st,
		svc:     svc,
		handler: h,
		router:  r,
	}
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) authenticate(t *testing.T, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/api/auth", nil)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// issue creates a token through the API and returns the decoded response.
func (e *testEnv) issue(t *testing.T, body map[string]interface{}) issueResponse {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/v1/frontend/auth", toJSON(t, body))
	assertStatus(t, rr, http.StatusOK)
	var resp issueResponse
	decodeJSON(t, rr, &resp)
	return resp
}

func accountToken(accountID string) map[string]interface{} {
	return map[string]interface{}{
		"account_id":  accountID,
		"description": "d",
		"created_by":  "tests@example.com",
	}
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp model.ErrorResponse
	decodeJSON(t, rr, &resp)
	return resp.Error.Message
}

// ---------------------------------------------------------------------------
// Issue and authenticate
// ---------------------------------------------------------------------------

func TestIssueAndAuthenticate(t *testing.T) {
	env := newTestEnv(t)

	issued := env.issue(t, accountToken("42"))
	if issued.Token == "" || issued.TokenLink == "" {
		t.Fatalf("expected token and token_link, got %+v", issued)
	}
	if issued.TokenType != model.PaymentTypeCard || issued.Type != model.TokenSourceAPI {
		t.Errorf("expected CARD/API defaults, got %s/%s", issued.TokenType, issued.Type)
	}

	rr := env.authenticate(t, issued.Token)
	assertStatus(t, rr, http.StatusOK)
	var auth authResponse
	decodeJSON(t, rr, &auth)
	if auth.AccountID != "42" {
		t.Errorf("account_id = %q, want 42", auth.AccountID)
	}
	if auth.TokenLink != issued.TokenLink {
		t.Errorf("token_link = %q, want %q", auth.TokenLink, issued.TokenLink)
	}
}

func TestIssueResponseIsNotCached(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/v1/frontend/auth", toJSON(t, accountToken("42")))
	assertStatus(t, rr, http.StatusOK)
	if cc := rr.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}
}

func TestIssueServiceToken(t *testing.T) {
	env := newTestEnv(t)

	issued := env.issue(t, map[string]interface{}{
		"service_external_id": "svc-1",
		"service_mode":        "test",
		"description":         "test key",
		"created_by":          "ops",
		"token_type":          "DIRECT_DEBIT",
		"type":                "PRODUCTS",
	})
	if issued.ServiceMode != model.ServiceModeTest {
		t.Errorf("service_mode = %q, want TEST", issued.ServiceMode)
	}

	rr := env.authenticate(t, issued.Token)
	assertStatus(t, rr, http.StatusOK)
	var auth authResponse
	decodeJSON(t, rr, &auth)
	if auth.ServiceExternalID != "svc-1" || auth.ServiceMode != model.ServiceModeTest {
		t.Errorf("got %+v, want svc-1/TEST", auth)
	}
	if auth.TokenType != model.PaymentTypeDirectDebit {
		t.Errorf("token_type = %q, want DIRECT_DEBIT", auth.TokenType)
	}
}

func TestIssueValidation(t *testing.T) {
	env := newTestEnv(t)

	for _, tc := range []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"account_id":`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
		{"no tenant", `{"description":"d","created_by":"me"}`, http.StatusUnprocessableEntity},
		{"bad mode", `{"service_external_id":"s","service_mode":"STAGING","description":"d","created_by":"me"}`, http.StatusUnprocessableEntity},
		{"no description", `{"account_id":"1","created_by":"me"}`, http.StatusUnprocessableEntity},
		{"no creator", `{"account_id":"1","description":"d"}`, http.StatusUnprocessableEntity},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/v1/frontend/auth", strings.NewReader(tc.body))
			assertStatus(t, rr, tc.want)
		})
	}
}

func TestAuthenticateOutcomes(t *testing.T) {
	env := newTestEnv(t)
	issued := env.issue(t, accountToken("42"))

	tampered := issued.Token[:len(issued.Token)-1] + "0"
	if tampered == issued.Token {
		tampered = issued.Token[:len(issued.Token)-1] + "1"
	}

	for _, tc := range []struct {
		name string
		key  string
		want string
	}{
		{"garbage", "not-a-key", "invalid token"},
		{"tampered", tampered, "invalid token"},
		{"foreign secret", foreignKey(t, "another-secret"), "invalid token"},
		{"unknown", foreignKey(t, testHMACSecret), "unauthorized"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.authenticate(t, tc.key)
			assertStatus(t, rr, http.StatusUnauthorized)
			if msg := errorMessage(t, rr); msg != tc.want {
				t.Errorf("message = %q, want %q", msg, tc.want)
			}
		})
	}

	rr := env.do(t, http.MethodGet, "/v1/api/auth", nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

// foreignKey issues a key that was never stored. With testHMACSecret it is
// well formed but unknown; with any other secret it fails verification.
func foreignKey(t *testing.T, hmacSecret string) string {
	t.Helper()
	salt, err := token.GenerateSalt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	codec, err := token.NewCodec(token.Config{HMACSecret: hmacSecret, BcryptSalt: salt})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	_, key := codec.Issue()
	return key
}

// ---------------------------------------------------------------------------
// Listing and lookup
// ---------------------------------------------------------------------------

func TestListTokens(t *testing.T) {
	env := newTestEnv(t)
	first := env.issue(t, accountToken("42"))
	demo := accountToken("42")
	demo["type"] = "DEMO"
	env.issue(t, demo)
	env.issue(t, accountToken("43"))

	rr := env.do(t, http.MethodGet, "/v1/frontend/auth/42", nil)
	assertStatus(t, rr, http.StatusOK)
	var list tokenListResponse
	decodeJSON(t, rr, &list)
	if len(list.Tokens) != 2 {
		t.Fatalf("got %d tokens, want 2", len(list.Tokens))
	}
	dateRe := regexp.MustCompile(`^\d{2} [A-Z][a-z]{2} \d{4} - \d{2}:\d{2}$`)
	for _, tok := range list.Tokens {
		if !dateRe.MatchString(tok.IssuedDate) {
			t.Errorf("issued_date %q not in \"02 Jan 2006 - 15:04\" format", tok.IssuedDate)
		}
	}

	rr = env.do(t, http.MethodGet, "/v1/frontend/auth/42?type=DEMO", nil)
	assertStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &list)
	if len(list.Tokens) != 1 || list.Tokens[0].Type != model.TokenSourceDemo {
		t.Errorf("type filter: got %+v", list.Tokens)
	}

	rr = env.do(t, http.MethodDelete, "/v1/frontend/auth/42", toJSON(t, map[string]string{"token_link": string(first.TokenLink)}))
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, http.MethodGet, "/v1/frontend/auth/42?state=revoked", nil)
	assertStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &list)
	if len(list.Tokens) != 1 || list.Tokens[0].TokenLink != first.TokenLink {
		t.Errorf("revoked listing: got %+v", list.Tokens)
	}
	if list.Tokens[0].RevokedDate == "" {
		t.Error("expected revoked date on revoked token")
	}

	rr = env.do(t, http.MethodGet, "/v1/frontend/auth/42?state=active", nil)
	decodeJSON(t, rr, &list)
	if len(list.Tokens) != 1 {
		t.Errorf("active listing: got %d tokens, want 1", len(list.Tokens))
	}
}

func TestListEmptyReturnsArray(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/v1/frontend/auth/nobody", nil)
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"tokens":[]`) {
		t.Errorf("expected empty tokens array, got %s", rr.Body.String())
	}
}

func TestGetToken(t *testing.T) {
	env := newTestEnv(t)
	issued := env.issue(t, accountToken("42"))

	rr := env.do(t, http.MethodGet, "/v1/frontend/auth/42/"+string(issued.TokenLink), nil)
	assertStatus(t, rr, http.StatusOK)
	if strings.Contains(rr.Body.String(), issued.Token) {
		t.Error("token lookup must not return the api key")
	}

	rr = env.do(t, http.MethodGet, "/v1/frontend/auth/43/"+string(issued.TokenLink), nil)
	assertStatus(t, rr, http.StatusNotFound)

	rr = env.do(t, http.MethodGet, "/v1/frontend/tokens/"+string(issued.TokenLink), nil)
	assertStatus(t, rr, http.StatusOK)
	var view tokenView
	decodeJSON(t, rr, &view)
	if view.AccountID != "42" {
		t.Errorf("account_id = %q, want 42", view.AccountID)
	}

	rr = env.do(t, http.MethodGet, "/v1/frontend/tokens/no-such-link", nil)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestServiceRoutes(t *testing.T) {
	env := newTestEnv(t)
	issued := env.issue(t, map[string]interface{}{
		"service_external_id": "svc-1",
		"service_mode":        "LIVE",
		"description":         "live key",
		"created_by":          "ops",
	})

	rr := env.do(t, http.MethodGet, "/v1/frontend/auth/service/svc-1/mode/live", nil)
	assertStatus(t, rr, http.StatusOK)
	var list tokenListResponse
	decodeJSON(t, rr, &list)
	if len(list.Tokens) != 1 {
		t.Fatalf("got %d tokens, want 1", len(list.Tokens))
	}

	rr = env.do(t, http.MethodGet, "/v1/frontend/auth/service/svc-1/mode/TEST/"+string(issued.TokenLink), nil)
	assertStatus(t, rr, http.StatusNotFound)

	rr = env.do(t, http.MethodGet, "/v1/frontend/auth/service/svc-1/mode/STAGING", nil)
	assertStatus(t, rr, http.StatusUnprocessableEntity)

	rr = env.do(t, http.MethodPost, "/v1/frontend/auth/service/svc-1/mode/LIVE/revoke-all", nil)
	assertStatus(t, rr, http.StatusOK)
	var all revokeAllResponse
	decodeJSON(t, rr, &all)
	if all.RevokedCount != 1 {
		t.Errorf("revoked_count = %d, want 1", all.RevokedCount)
	}
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

func TestUpdateDescription(t *testing.T) {
	env := newTestEnv(t)
	issued := env.issue(t, accountToken("42"))
	path := "/v1/frontend/auth/42/" + string(issued.TokenLink)

	rr := env.do(t, http.MethodPut, path, toJSON(t, map[string]string{"description": "renamed"}))
	assertStatus(t, rr, http.StatusOK)
	var view tokenView
	decodeJSON(t, rr, &view)
	if view.Description != "renamed" {
		t.Errorf("description = %q, want renamed", view.Description)
	}

	rr = env.do(t, http.MethodPut, "/v1/frontend/auth/43/"+string(issued.TokenLink), toJSON(t, map[string]string{"description": "x"}))
	assertStatus(t, rr, http.StatusNotFound)

	rr = env.do(t, http.MethodPut, path, toJSON(t, map[string]string{"description": ""}))
	assertStatus(t, rr, http.StatusUnprocessableEntity)

	rr = env.do(t, http.MethodPut, "/v1/frontend/auth", toJSON(t, map[string]string{
		"token_link":  string(issued.TokenLink),
		"description": "by link",
	}))
	assertStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &view)
	if view.Description != "by link" {
		t.Errorf("description = %q, want %q", view.Description, "by link")
	}

	rr = env.do(t, http.MethodPut, "/v1/frontend/auth", toJSON(t, map[string]string{"description": "x"}))
	assertStatus(t, rr, http.StatusUnprocessableEntity)
}

func TestUpdateDescriptionOnRevokedToken(t *testing.T) {
	env := newTestEnv(t)
	issued := env.issue(t, accountToken("42"))

	rr := env.do(t, http.MethodDelete, "/v1/frontend/auth/42", toJSON(t, map[string]string{"token_link": string(issued.TokenLink)}))
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, http.MethodPut, "/v1/frontend/auth/42/"+string(issued.TokenLink), toJSON(t, map[string]string{"description": "late"}))
	assertStatus(t, rr, http.StatusNotFound)

	tok, _, _ := env.svc.GetTokenByLink(context.Background(), issued.TokenLink)
	if tok.Description != "d" {
		t.Errorf("description = %q, want unchanged", tok.Description)
	}
}

func TestRevoke(t *testing.T) {
	env := newTestEnv(t)
	issued := env.issue(t, accountToken("42"))
	body := map[string]string{"token_link": string(issued.TokenLink)}

	rr := env.do(t, http.MethodDelete, "/v1/frontend/auth/43", toJSON(t, body))
	assertStatus(t, rr, http.StatusNotFound)

	rr = env.do(t, http.MethodDelete, "/v1/frontend/auth/42", toJSON(t, body))
	assertStatus(t, rr, http.StatusOK)
	var resp revokeResponse
	decodeJSON(t, rr, &resp)
	if !regexp.MustCompile(`^\d{2} [A-Z][a-z]{2} \d{4}$`).MatchString(resp.Revoked) {
		t.Errorf("revoked = %q, want \"02 Jan 2006\" format", resp.Revoked)
	}

	rr = env.do(t, http.MethodDelete, "/v1/frontend/auth/42", toJSON(t, body))
	assertStatus(t, rr, http.StatusNotFound)

	rr = env.authenticate(t, issued.Token)
	assertStatus(t, rr, http.StatusUnauthorized)
	if msg := errorMessage(t, rr); msg != "token revoked" {
		t.Errorf("message = %q, want %q", msg, "token revoked")
	}
}

func TestRevokeByAPIKey(t *testing.T) {
	env := newTestEnv(t)
	issued := env.issue(t, accountToken("42"))

	rr := env.do(t, http.MethodDelete, "/v1/frontend/auth/42", toJSON(t, map[string]string{"token": "garbage"}))
	assertStatus(t, rr, http.StatusNotFound)

	rr = env.do(t, http.MethodDelete, "/v1/frontend/auth/42", toJSON(t, map[string]string{"token": issued.Token}))
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, http.MethodDelete, "/v1/frontend/auth/42", toJSON(t, map[string]string{}))
	assertStatus(t, rr, http.StatusUnprocessableEntity)
}

func TestRevokeAll(t *testing.T) {
	env := newTestEnv(t)
	env.issue(t, accountToken("42"))
	env.issue(t, accountToken("42"))
	other := env.issue(t, accountToken("43"))

	rr := env.do(t, http.MethodPost, "/v1/frontend/auth/42/revoke-all", nil)
	assertStatus(t, rr, http.StatusOK)
	var resp revokeAllResponse
	decodeJSON(t, rr, &resp)
	if resp.RevokedCount != 2 {
		t.Errorf("revoked_count = %d, want 2", resp.RevokedCount)
	}

	assertStatus(t, env.authenticate(t, other.Token), http.StatusOK)
}

func TestOpenAPIHandler(t *testing.T) {
	h := NewOpenAPIHandler("test", "")
	req := httptest.NewRequest(http.MethodGet, "http://tokens.internal/openapi.json", nil)
	rr := httptest.NewRecorder()
	h.ServeSpec(rr, req)

	assertStatus(t, rr, http.StatusOK)
	var doc map[string]interface{}
	decodeJSON(t, rr, &doc)
	servers, _ := doc["servers"].([]interface{})
	if len(servers) != 1 {
		t.Fatalf("expected one server, got %v", doc["servers"])
	}
	if url := servers[0].(map[string]interface{})["url"]; url != "http://tokens.internal" {
		t.Errorf("server url = %v, want http://tokens.internal", url)
	}
}
