package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kyc-document-api/models"
	"kyc-document-api/services"
	"kyc-document-api/utils"
)

// multipart overhead allowed on top of the largest accepted file
const multipartSlack = 1 << 20

type DocumentUploader interface {
	Upload(ctx context.Context, req services.UploadRequest) (services.UploadResult, error)
}

type DocumentStore interface {
	Get(ctx context.Context, userID, documentID string, includeArchived bool) (*models.Document, error)
	List(ctx context.Context, userID string, filter services.DocumentFilter) ([]models.Document, int64, error)
	Download(ctx context.Context, userID, documentID, actor string) (services.DownloadedDocument, services.SideEffects, error)
	Delete(ctx context.Context, userID, documentID, actor string) (services.SideEffects, error)
}

// DocumentHandler serves the document intake and retrieval endpoints.
type DocumentHandler struct {
	uploads  DocumentUploader
	docs     DocumentStore
	maxBytes int64
	log      *zap.Logger
}

func NewDocumentHandler(uploads DocumentUploader, docs DocumentStore, maxBytes int64, log *zap.Logger) *DocumentHandler {
	return &DocumentHandler{uploads: uploads, docs: docs, maxBytes: maxBytes, log: log.Named("documents.http")}
}

// Upload handles POST /documents/upload.
func (h *DocumentHandler) Upload(c *gin.Context) {
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartSlack)
	}

	req := services.UploadRequest{Actor: callerFrom(c).UserID}

	fileHeader, err := c.FormFile("file")
	switch {
	case err == nil:
		req.HasFile = true
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "File exceeds the maximum upload size",
				"code":    services.CodeValidationFailed,
			})
			return
		}
		badRequest(c, services.CodeInvalidRequest, "Malformed multipart request")
		return
	}

	userID, err := targetUser(c, formField(c, FieldUserID))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	role, err := kycRole(c, formField(c, FieldRole))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	metadata, err := parseMetadata(formField(c, FieldMetadata))
	if err != nil {
		badRequest(c, services.CodeInvalidRequest, "metadata must be a JSON object")
		return
	}

	req.UserID = userID
	req.Role = role
	req.CategoryID = formField(c, FieldCategoryID)
	req.TemplateID = formField(c, FieldTemplateID)
	req.Metadata = metadata

	if req.HasFile {
		req.Filename = utils.SanitizeInput(fileHeader.Filename)
		req.DeclaredMIME = fileHeader.Header.Get("Content-Type")
		req.DeclaredSize = fileHeader.Size

		f, err := fileHeader.Open()
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		req.Data, err = io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(c, h.log, err)
			return
		}
	}

	result, err := h.uploads.Upload(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	v := result.Validation
	extracted := v.ExtractedData
	if extracted == nil {
		extracted = map[string]any{}
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":     true,
		"document_id": result.Document.ID,
		"document":    result.Document,
		"validation_results": gin.H{
			"overall_score":       v.Score,
			"confidence":          v.Confidence,
			"file_validation":     v.File,
			"virus_scan":          result.Scan,
			"content_validation":  v.Content,
			"security_validation": v.Security,
		},
		"extracted_data":        extracted,
		"replaced_document_ids": result.ReplacedDocumentIDs,
		"warnings":              warningNames(result.SideEffects),
	})
}

// List handles GET /documents.
func (h *DocumentHandler) List(c *gin.Context) {
	userID, err := targetUser(c, queryField(c, FieldUserID))
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	filter := services.DocumentFilter{
		CategoryID:      queryField(c, FieldCategoryID),
		Status:          models.DocumentStatus(strings.ToLower(c.Query("status"))),
		IncludeArchived: queryBool(c, "include_archived"),
	}
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		badRequest(c, services.CodeInvalidRequest, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		badRequest(c, services.CodeInvalidRequest, "offset must be a non-negative integer")
		return
	}

	docs, total, err := h.docs.List(c.Request.Context(), userID, filter)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"documents": docs,
		"total":     total,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	})
}

// Info handles GET /documents/:id.
func (h *DocumentHandler) Info(c *gin.Context) {
	userID, err := targetUser(c, queryField(c, FieldUserID))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	doc, err := h.docs.Get(c.Request.Context(), userID, c.Param("id"), queryBool(c, "include_archived"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "document": doc})
}

// Download handles GET /documents/:id/download and streams the decrypted file.
func (h *DocumentHandler) Download(c *gin.Context) {
	userID, err := targetUser(c, queryField(c, FieldUserID))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	out, effects, err := h.docs.Download(c.Request.Context(), userID, c.Param("id"), callerFrom(c).UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if !effects.Empty() {
		h.log.Warn("download side effects failed", zap.String("document_id", out.Document.ID), zap.Stringer("effects", effects))
	}

	contentType := out.Document.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	filename := utils.DownloadFilename(out.Document.OriginalFilename, out.Document.ID)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("Content-Length", strconv.Itoa(len(out.Content)))
	c.Data(http.StatusOK, contentType, out.Content)
}

// Delete handles DELETE /documents/:id. The document is archived, not erased.
func (h *DocumentHandler) Delete(c *gin.Context) {
	userID, err := targetUser(c, queryField(c, FieldUserID))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	effects, err := h.docs.Delete(c.Request.Context(), userID, c.Param("id"), callerFrom(c).UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "Document archived",
		"warnings": warningNames(effects),
	})
}

func queryBool(c *gin.Context, name string) bool {
	v, _ := strconv.ParseBool(c.Query(name))
	return v
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}
