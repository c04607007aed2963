package handler

import (
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/paycore/tokend/internal/openapi"
)

// OpenAPIHandler serves the OpenAPI document of the token API. The document
// is static for the life of the process, so it is built once.
type OpenAPIHandler struct {
	version string
	baseURL string

	once sync.Once
	doc  *openapi3.T
}

// NewOpenAPIHandler creates a new OpenAPIHandler. An empty baseURL is
// derived from the first request.
func NewOpenAPIHandler(version, baseURL string) *OpenAPIHandler {
	return &OpenAPIHandler{version: version, baseURL: baseURL}
}

// ServeSpec returns the OpenAPI document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	h.once.Do(func() {
		baseURL := h.baseURL
		if baseURL == "" {
			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}
			baseURL = scheme + "://" + r.Host
		}
		h.doc = openapi.Generate(h.version, baseURL)
	})
	writeJSON(w, http.StatusOK, h.doc)
}
