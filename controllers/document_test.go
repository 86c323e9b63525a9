package controllers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"kyc-document-api/middleware"
	"kyc-document-api/models"
	"kyc-document-api/services"
)

type fakeUploader struct {
	calls  int
	last   services.UploadRequest
	result services.UploadResult
	err    error
}

func (f *fakeUploader) Upload(_ context.Context, req services.UploadRequest) (services.UploadResult, error) {
	f.calls++
	f.last = req
	return f.result, f.err
}

type fakeDocuments struct {
	doc       *models.Document
	content   []byte
	err       error
	lastUser  string
	deletedBy string
}

func (f *fakeDocuments) Get(_ context.Context, userID, _ string, _ bool) (*models.Document, error) {
	f.lastUser = userID
	return f.doc, f.err
}

func (f *fakeDocuments) List(_ context.Context, userID string, _ services.DocumentFilter) ([]models.Document, int64, error) {
	f.lastUser = userID
	if f.err != nil {
		return nil, 0, f.err
	}
	return []models.Document{*f.doc}, 1, nil
}

func (f *fakeDocuments) Download(_ context.Context, userID, _, _ string) (services.DownloadedDocument, services.SideEffects, error) {
	f.lastUser = userID
	if f.err != nil {
		return services.DownloadedDocument{}, services.SideEffects{}, f.err
	}
	return services.DownloadedDocument{Document: f.doc, Content: f.content}, services.SideEffects{}, nil
}

func (f *fakeDocuments) Delete(_ context.Context, userID, _, actor string) (services.SideEffects, error) {
	f.lastUser = userID
	f.deletedBy = actor
	return services.SideEffects{}, f.err
}

func multipartUpload(t *testing.T, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create file: %v", err)
		}
		fw.Write(content)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func uploadRouter(userID, role string, uploads *fakeUploader, maxBytes int64) http.Handler {
	h := NewDocumentHandler(uploads, &fakeDocuments{}, maxBytes, zap.NewNop())
	r := newTestRouter(userID, role)
	r.POST("/documents/upload", h.Upload)
	return r
}

func TestUploadMapsCamelCaseFields(t *testing.T) {
	uploads := &fakeUploader{result: services.UploadResult{
		Document:            &models.Document{ID: "doc-1", UserID: "user-1", CategoryID: "national_id"},
		ReplacedDocumentIDs: []string{"doc-0"},
	}}
	r := uploadRouter("user-1", middleware.RoleCustomer, uploads, 1<<20)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartUpload(t, map[string]string{
		"categoryId": "national_id",
		"templateId": "tpl-9",
		"metaData":   `{"side":"front"}`,
	}, "id.pdf", []byte("%PDF-1.4 test")))

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	req := uploads.last
	if req.UserID != "user-1" || req.CategoryID != "national_id" || req.TemplateID != "tpl-9" {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.Role != models.RoleCustomer || !req.HasFile || req.Filename != "id.pdf" || string(req.Data) != "%PDF-1.4 test" {
		t.Fatalf("unexpected file fields %+v", req)
	}
	if req.Metadata["side"] != "front" {
		t.Fatalf("expected metadata forwarded, got %v", req.Metadata)
	}

	body := decodeBody(t, w)
	if body["success"] != true || body["document_id"] != "doc-1" {
		t.Fatalf("unexpected body %v", body)
	}
	if _, ok := body["validation_results"].(map[string]any)["virus_scan"]; !ok {
		t.Fatalf("expected virus_scan in validation_results, got %v", body["validation_results"])
	}
	if replaced := body["replaced_document_ids"].([]any); len(replaced) != 1 || replaced[0] != "doc-0" {
		t.Fatalf("unexpected replaced ids %v", replaced)
	}
	if warnings := body["warnings"].([]any); len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
}

func TestUploadForAnotherUserIsForbidden(t *testing.T) {
	uploads := &fakeUploader{}
	r := uploadRouter("user-1", middleware.RoleCustomer, uploads, 1<<20)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartUpload(t, map[string]string{"userId": "user-2", "category_id": "national_id"}, "id.pdf", []byte("x")))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != services.CodeAccessDenied {
		t.Fatalf("expected ACCESS_DENIED, got %v", body["code"])
	}
	if uploads.calls != 0 {
		t.Fatal("upload must not run for a forbidden request")
	}
}

func TestUploadAdminActsForUser(t *testing.T) {
	uploads := &fakeUploader{result: services.UploadResult{Document: &models.Document{ID: "doc-1"}}}
	r := uploadRouter("admin-1", middleware.RoleAdmin, uploads, 1<<20)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartUpload(t, map[string]string{"user_id": "user-2", "category_id": "cr", "user_type": "contractor"}, "cr.pdf", []byte("x")))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if uploads.last.UserID != "user-2" || uploads.last.Role != models.RoleContractor || uploads.last.Actor != "admin-1" {
		t.Fatalf("unexpected admin upload %+v", uploads.last)
	}
}

func TestUploadWithoutFileIsForwarded(t *testing.T) {
	uploads := &fakeUploader{err: services.NewError(services.KindClientInput, services.CodeMissingFile, "a file is required")}
	r := uploadRouter("user-1", middleware.RoleCustomer, uploads, 1<<20)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartUpload(t, map[string]string{"category_id": "national_id"}, "", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if uploads.last.HasFile {
		t.Fatal("expected HasFile=false")
	}
	if body := decodeBody(t, w); body["code"] != services.CodeMissingFile {
		t.Fatalf("expected MISSING_FILE, got %v", body["code"])
	}
}

func TestUploadTooLarge(t *testing.T) {
	uploads := &fakeUploader{}
	r := uploadRouter("user-1", middleware.RoleCustomer, uploads, 1)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartUpload(t, map[string]string{"category_id": "national_id"}, "big.pdf", bytes.Repeat([]byte("a"), 2<<20)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != services.CodeValidationFailed {
		t.Fatalf("expected VALIDATION_FAILED, got %v", body["code"])
	}
	if uploads.calls != 0 {
		t.Fatal("upload must not run for an oversized body")
	}
}

func TestUploadErrorMapping(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		code    string
		message string
	}{
		{services.NewError(services.KindVirusDetected, services.CodeVirusDetected, "the file failed the virus scan"), http.StatusBadRequest, services.CodeVirusDetected, "the file failed the virus scan"},
		{services.NewError(services.KindValidationFailed, services.CodeValidationFailed, "the file did not pass validation"), http.StatusBadRequest, services.CodeValidationFailed, "the file did not pass validation"},
		{services.NewError(services.KindScannerUnavailable, services.CodeScanUnavailable, "clamd: connection refused"), http.StatusInternalServerError, services.CodeScanUnavailable, "Virus scanning is temporarily unavailable"},
		{services.NewError(services.KindDatabase, services.CodeUploadFailed, "pq: relation missing"), http.StatusInternalServerError, services.CodeUploadFailed, "Failed to upload document"},
	}
	for _, tc := range cases {
		uploads := &fakeUploader{err: tc.err}
		r := uploadRouter("user-1", middleware.RoleCustomer, uploads, 1<<20)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, multipartUpload(t, map[string]string{"category_id": "national_id"}, "id.pdf", []byte("x")))

		if w.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.code, tc.status, w.Code)
		}
		body := decodeBody(t, w)
		if body["success"] != false || body["code"] != tc.code || body["error"] != tc.message {
			t.Fatalf("%s: unexpected body %v", tc.code, body)
		}
	}
}

func TestDownloadSetsAttachmentHeaders(t *testing.T) {
	docs := &fakeDocuments{
		doc:     &models.Document{ID: "doc-1", OriginalFilename: "my id.pdf", MimeType: "application/pdf"},
		content: []byte("%PDF-1.4"),
	}
	h := NewDocumentHandler(&fakeUploader{}, docs, 0, zap.NewNop())
	r := newTestRouter("user-1", middleware.RoleCustomer)
	r.GET("/documents/:id/download", h.Download)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/documents/doc-1/download", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "application/pdf" || w.Header().Get("Content-Length") != "8" {
		t.Fatalf("unexpected headers %v", w.Header())
	}
	if cd := w.Header().Get("Content-Disposition"); !bytes.HasPrefix([]byte(cd), []byte("attachment; filename=")) {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
	if w.Body.String() != "%PDF-1.4" {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
}

func TestDocumentNotFoundAndDelete(t *testing.T) {
	docs := &fakeDocuments{err: services.NewError(services.KindNotFound, services.CodeNotFound, "document not found")}
	h := NewDocumentHandler(&fakeUploader{}, docs, 0, zap.NewNop())
	r := newTestRouter("user-1", middleware.RoleCustomer)
	r.GET("/documents/:id", h.Info)
	r.DELETE("/documents/:id", h.Delete)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/documents/doc-9", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	docs.err = nil
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/documents/doc-1", nil))
	if w.Code != http.StatusOK || docs.deletedBy != "user-1" || docs.lastUser != "user-1" {
		t.Fatalf("expected delete by owner, got %d by %q", w.Code, docs.deletedBy)
	}
}

func TestListRejectsBadPaging(t *testing.T) {
	h := NewDocumentHandler(&fakeUploader{}, &fakeDocuments{doc: &models.Document{ID: "d"}}, 0, zap.NewNop())
	r := newTestRouter("user-1", middleware.RoleCustomer)
	r.GET("/documents", h.List)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/documents?limit=-1", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/documents?limit=10", nil))
	if body := decodeBody(t, w); body["total"] != float64(1) {
		t.Fatalf("expected total 1, got %v", body["total"])
	}
}
