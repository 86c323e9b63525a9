package controllers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"kyc-document-api/middleware"
	"kyc-document-api/services"
)

// unusedCatalog panics if the handler reaches the registry.
type unusedCatalog struct {
	CategoryCatalog
}

func TestUpsertCategoryHidesBinderErrors(t *testing.T) {
	h := NewCategoryHandler(unusedCatalog{}, nil, zap.NewNop())
	r := newTestRouter("admin-1", middleware.RoleAdmin)
	r.PUT("/admin/categories/:id", h.Upsert)

	for _, payload := range []string{`{"role_scope":"both"}`, `{"name":`} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/admin/categories/passport", strings.NewReader(payload)))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", payload, w.Code)
		}
		body := decodeBody(t, w)
		if body["error"] != "Invalid category definition" || body["code"] != services.CodeInvalidCategoryDef {
			t.Fatalf("expected fixed error message for %s, got %v", payload, body)
		}
		if strings.Contains(w.Body.String(), "categoryRequest") || strings.Contains(w.Body.String(), "unexpected EOF") {
			t.Fatalf("expected decoder detail to stay out of the response, got %s", w.Body.String())
		}
	}
}
