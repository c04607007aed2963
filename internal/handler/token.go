package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/paycore/tokend/internal/model"
	"github.com/paycore/tokend/internal/server/middleware"
	"github.com/paycore/tokend/internal/service"
)

// TokenHandler serves the token issuing and administration API.
type TokenHandler struct {
	svc    *service.TokenService
	logger *slog.Logger
}

// NewTokenHandler creates a new TokenHandler.
func NewTokenHandler(svc *service.TokenService, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{svc: svc, logger: logger}
}

// Tenant route prefixes. Both scoping schemes expose the same operations.
const (
	accountPrefix = "/v1/frontend/auth/{accountId}"
	servicePrefix = "/v1/frontend/auth/service/{serviceId}/mode/{mode}"
)

// Routes mounts the frontend API on r. The bearer-authenticated
// /v1/api/auth route is mounted by the server behind its middleware.
func (h *TokenHandler) Routes(r chi.Router) {
	r.Post("/v1/frontend/auth", h.Issue)
	r.Put("/v1/frontend/auth", h.UpdateDescriptionByLink)
	r.Get("/v1/frontend/tokens/{tokenLink}", h.GetByLink)

	for _, prefix := range []string{accountPrefix, servicePrefix} {
		r.Get(prefix, h.List)
		r.Delete(prefix, h.Revoke)
		r.Post(prefix+"/revoke-all", h.RevokeAll)
		r.Get(prefix+"/{tokenLink}", h.Get)
		r.Put(prefix+"/{tokenLink}", h.UpdateDescription)
	}
}

// ---------------------------------------------------------------------------
// Views
// ---------------------------------------------------------------------------

// tokenView is the JSON shape of a token. The hash is never included.
type tokenView struct {
	TokenLink         model.TokenLink   `json:"token_link"`
	Description       string            `json:"description"`
	AccountID         string            `json:"account_id,omitempty"`
	ServiceExternalID string            `json:"service_external_id,omitempty"`
	ServiceMode       model.ServiceMode `json:"service_mode,omitempty"`
	TokenType         model.PaymentType `json:"token_type"`
	Type              model.TokenSource `json:"type"`
	CreatedBy         string            `json:"created_by"`
	IssuedDate        string            `json:"issued_date"`
	LastUsed          string            `json:"last_used,omitempty"`
	RevokedDate       string            `json:"revoked,omitempty"`
}

func newTokenView(t model.Token) tokenView {
	v := tokenView{
		TokenLink:         t.Link,
		Description:       t.Description,
		AccountID:         t.AccountID,
		ServiceExternalID: t.ServiceExternalID,
		ServiceMode:       t.ServiceMode,
		TokenType:         t.PaymentType,
		Type:              t.Source,
		CreatedBy:         t.CreatedBy,
		IssuedDate:        formatDateTime(t.Issued),
	}
	if t.LastUsed != nil {
		v.LastUsed = formatDateTime(*t.LastUsed)
	}
	if t.Revoked != nil {
		v.RevokedDate = formatDateTime(*t.Revoked)
	}
	return v
}

type tokenListResponse struct {
	Tokens []tokenView `json:"tokens"`
}

// tenantFromRequest builds the tenant from the account or service route
// parameters.
func tenantFromRequest(r *http.Request) (model.Tenant, error) {
	if serviceID := chi.URLParam(r, "serviceId"); serviceID != "" {
		mode, err := model.ParseServiceMode(chi.URLParam(r, "mode"))
		if err != nil {
			return model.Tenant{}, err
		}
		return model.ServiceTenant(serviceID, mode), nil
	}
	return model.AccountTenant(chi.URLParam(r, "accountId")), nil
}

// writeServiceError maps service errors to responses. Unexpected errors are
// logged and reported without detail.
func (h *TokenHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, model.ErrInvalidTenant):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error(op, "error", err, "request_id", middleware.GetRequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

type authResponse struct {
	AccountID         string            `json:"account_id,omitempty"`
	ServiceExternalID string            `json:"service_external_id,omitempty"`
	ServiceMode       model.ServiceMode `json:"service_mode,omitempty"`
	TokenLink         model.TokenLink   `json:"token_link"`
	TokenType         model.PaymentType `json:"token_type"`
}

// Authenticate reports the tenant of the bearer token. The middleware has
// already rejected anything else.
// GET /v1/api/auth
func (h *TokenHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		AccountID:         p.Token.AccountID,
		ServiceExternalID: p.Token.ServiceExternalID,
		ServiceMode:       p.Token.ServiceMode,
		TokenLink:         p.Token.Link,
		TokenType:         p.Token.PaymentType,
	})
}

// ---------------------------------------------------------------------------
// Issue
// ---------------------------------------------------------------------------

type issueRequest struct {
	AccountID         string `json:"account_id"`
	ServiceExternalID string `json:"service_external_id"`
	ServiceMode       string `json:"service_mode"`
	Description       string `json:"description"`
	CreatedBy         string `json:"created_by"`
	TokenType         string `json:"token_type"`
	Type              string `json:"type"`
}

type issueResponse struct {
	Token string `json:"token"`
	tokenView
}

// Issue creates a token and returns its API key. This is the only response
// that ever carries the key.
// POST /v1/frontend/auth
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	tenant := model.AccountTenant(req.AccountID)
	if req.ServiceExternalID != "" {
		mode, err := model.ParseServiceMode(req.ServiceMode)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		tenant = model.Tenant{
			AccountID:         req.AccountID,
			ServiceExternalID: req.ServiceExternalID,
			ServiceMode:       mode,
		}
	}

	issued, err := h.svc.Issue(r.Context(), service.IssueRequest{
		Tenant:      tenant,
		Description: req.Description,
		CreatedBy:   req.CreatedBy,
		PaymentType: model.ParsePaymentType(req.TokenType),
		Source:      model.ParseTokenSource(req.Type),
	})
	if err != nil {
		h.writeServiceError(w, r, "issue token", err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, issueResponse{
		Token:     issued.APIKey,
		tokenView: newTokenView(issued.Token),
	})
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// List returns the tenant's tokens. ?state=active|revoked (default active),
// ?type=API|PRODUCTS|DEMO (default any).
// GET /v1/frontend/auth/{accountId}
func (h *TokenHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	state := model.ParseTokenState(queryString(r, "state"))
	var source model.TokenSource
	if v := queryString(r, "type"); v != "" {
		source = model.ParseTokenSource(v)
	}

	tokens, err := h.svc.ListTokens(r.Context(), tenant, state, source)
	if err != nil {
		h.writeServiceError(w, r, "list tokens", err)
		return
	}

	views := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		views = append(views, newTokenView(t))
	}
	writeJSON(w, http.StatusOK, tokenListResponse{Tokens: views})
}

// Get returns one of the tenant's tokens.
// GET /v1/frontend/auth/{accountId}/{tokenLink}
func (h *TokenHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	link := model.TokenLink(chi.URLParam(r, "tokenLink"))

	tok, ok, err := h.svc.GetToken(r.Context(), tenant, link)
	if err != nil {
		h.writeServiceError(w, r, "get token", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Token not found: "+string(link))
		return
	}
	writeJSON(w, http.StatusOK, newTokenView(tok))
}

// GetByLink returns any token by link.
// GET /v1/frontend/tokens/{tokenLink}
func (h *TokenHandler) GetByLink(w http.ResponseWriter, r *http.Request) {
	link := model.TokenLink(chi.URLParam(r, "tokenLink"))

	tok, ok, err := h.svc.GetTokenByLink(r.Context(), link)
	if err != nil {
		h.writeServiceError(w, r, "get token by link", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Token not found: "+string(link))
		return
	}
	writeJSON(w, http.StatusOK, newTokenView(tok))
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

type updateDescriptionRequest struct {
	TokenLink   model.TokenLink `json:"token_link"`
	Description string          `json:"description"`
}

// UpdateDescription changes the description of one of the tenant's active
// tokens.
// PUT /v1/frontend/auth/{accountId}/{tokenLink}
func (h *TokenHandler) UpdateDescription(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	link := model.TokenLink(chi.URLParam(r, "tokenLink"))

	var req updateDescriptionRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	ok, err := h.svc.UpdateDescription(r.Context(), tenant, link, req.Description)
	if err != nil {
		h.writeServiceError(w, r, "update token description", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Token not found: "+string(link))
		return
	}
	h.respondWithToken(w, r, link)
}

// UpdateDescriptionByLink changes the description of any active token.
// PUT /v1/frontend/auth
func (h *TokenHandler) UpdateDescriptionByLink(w http.ResponseWriter, r *http.Request) {
	var req updateDescriptionRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.TokenLink == "" {
		writeError(w, http.StatusUnprocessableEntity, "token_link is required")
		return
	}

	ok, err := h.svc.UpdateDescriptionByLink(r.Context(), req.TokenLink, req.Description)
	if err != nil {
		h.writeServiceError(w, r, "update token description", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Token not found: "+string(req.TokenLink))
		return
	}
	h.respondWithToken(w, r, req.TokenLink)
}

func (h *TokenHandler) respondWithToken(w http.ResponseWriter, r *http.Request, link model.TokenLink) {
	tok, ok, err := h.svc.GetTokenByLink(r.Context(), link)
	if err != nil {
		h.writeServiceError(w, r, "get token by link", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Token not found: "+string(link))
		return
	}
	writeJSON(w, http.StatusOK, newTokenView(tok))
}

type revokeRequest struct {
	TokenLink model.TokenLink `json:"token_link"`
	Token     string          `json:"token"`
}

type revokeResponse struct {
	Revoked string `json:"revoked"`
}

// Revoke revokes one of the tenant's tokens, identified by link or by the
// API key itself. A key that fails verification is reported like any token
// that could not be revoked.
// DELETE /v1/frontend/auth/{accountId}
func (h *TokenHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	var req revokeRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	at, ok, err := h.svc.Revoke(r.Context(), tenant, service.RevokeRequest{Link: req.TokenLink, APIKey: req.Token})
	if err != nil && !errors.Is(err, service.ErrInvalidToken) {
		h.writeServiceError(w, r, "revoke token", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Could not revoke token")
		return
	}
	writeJSON(w, http.StatusOK, revokeResponse{Revoked: formatDate(at)})
}

type revokeAllResponse struct {
	RevokedCount int64 `json:"revoked_count"`
}

// RevokeAll revokes every active token of the tenant.
// POST /v1/frontend/auth/{accountId}/revoke-all
func (h *TokenHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	n, err := h.svc.RevokeAll(r.Context(), tenant)
	if err != nil {
		h.writeServiceError(w, r, "revoke all tokens", err)
		return
	}
	writeJSON(w, http.StatusOK, revokeAllResponse{RevokedCount: n})
}
