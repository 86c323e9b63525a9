package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kyc-document-api/models"
	"kyc-document-api/services"
)

type CategoryCatalog interface {
	ListAll(ctx context.Context) ([]models.DocumentCategory, error)
	ListActive(ctx context.Context) ([]models.DocumentCategory, error)
	ListForRole(ctx context.Context, role models.KYCRole) ([]models.DocumentCategory, error)
	Upsert(ctx context.Context, c models.DocumentCategory) (models.DocumentCategory, error)
	Deactivate(ctx context.Context, id string) error
}

type CategoryHandler struct {
	categories CategoryCatalog
	audit      services.AuditRecorder
	log        *zap.Logger
}

func NewCategoryHandler(categories CategoryCatalog, audit services.AuditRecorder, log *zap.Logger) *CategoryHandler {
	return &CategoryHandler{categories: categories, audit: audit, log: log.Named("categories.http")}
}

// categoryView is the public shape of a category.
type categoryView struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	NameAr         string   `json:"name_ar,omitempty"`
	Description    string   `json:"description"`
	DocumentType   string   `json:"document_type"`
	AllowedFormats []string `json:"allowed_formats"`
	MaxFileSizeMB  int      `json:"max_file_size_mb"`
	RequiredForKYC bool     `json:"required_for_kyc"`
	UserType       string   `json:"user_type"`
	DisplayOrder   int      `json:"display_order"`
}

func toCategoryView(c models.DocumentCategory) categoryView {
	formats := c.AllowedFormats
	if formats == nil {
		formats = []string{}
	}
	return categoryView{
		ID:             c.ID,
		Name:           c.Name,
		NameAr:         c.NameAr,
		Description:    c.Description,
		DocumentType:   c.TypeTag(),
		AllowedFormats: formats,
		MaxFileSizeMB:  c.MaxFileSizeMB,
		RequiredForKYC: c.RequiredForKYC,
		UserType:       c.RoleScope.UserType(),
		DisplayOrder:   c.DisplayOrder,
	}
}

// List handles GET /documents/categories. Admins see every active category unless
// they ask for a role.
func (h *CategoryHandler) List(c *gin.Context) {
	var (
		cats []models.DocumentCategory
		err  error
	)
	requested := queryField(c, FieldRole)
	if callerFrom(c).IsAdmin() && requested == "" {
		cats, err = h.categories.ListActive(c.Request.Context())
	} else {
		var role models.KYCRole
		if role, err = kycRole(c, requested); err == nil {
			cats, err = h.categories.ListForRole(c.Request.Context(), role)
		}
	}
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	views := make([]categoryView, 0, len(cats))
	for _, cat := range cats {
		views = append(views, toCategoryView(cat))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "categories": views})
}

// AdminList handles GET /admin/categories, inactive categories included.
func (h *CategoryHandler) AdminList(c *gin.Context) {
	cats, err := h.categories.ListAll(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "categories": cats})
}

type categoryRequest struct {
	Name               string   `json:"name" binding:"required"`
	NameAr             string   `json:"name_ar"`
	Description        string   `json:"description"`
	DocumentType       string   `json:"document_type"`
	RoleScope          string   `json:"role_scope" binding:"omitempty,oneof=customer contractor both user"`
	RequiredForKYC     bool     `json:"required_for_kyc"`
	MaxFileSizeMB      int      `json:"max_file_size_mb" binding:"min=0"`
	AllowedFormats     []string `json:"allowed_formats" binding:"required,min=1"`
	MinValidationScore int      `json:"min_validation_score" binding:"min=0,max=100"`
	RequiredFields     []string `json:"required_fields"`
	DisplayOrder       int      `json:"display_order"`
	IsActive           *bool    `json:"is_active"`
}

// Upsert handles PUT /admin/categories/:id.
func (h *CategoryHandler) Upsert(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, h.log, services.CodeInvalidCategoryDef, "Invalid category definition", err)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	saved, err := h.categories.Upsert(c.Request.Context(), models.DocumentCategory{
		ID:                 c.Param("id"),
		Name:               req.Name,
		NameAr:             req.NameAr,
		Description:        req.Description,
		DocumentType:       req.DocumentType,
		RoleScope:          models.RoleScope(req.RoleScope),
		RequiredForKYC:     req.RequiredForKYC,
		MaxFileSizeMB:      req.MaxFileSizeMB,
		AllowedFormats:     req.AllowedFormats,
		MinValidationScore: req.MinValidationScore,
		RequiredFields:     req.RequiredFields,
		DisplayOrder:       req.DisplayOrder,
		IsActive:           active,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.recordChange(c, saved.ID, "saved")
	c.JSON(http.StatusOK, gin.H{"success": true, "category": saved})
}

// Deactivate handles DELETE /admin/categories/:id.
func (h *CategoryHandler) Deactivate(c *gin.Context) {
	id := c.Param("id")
	if err := h.categories.Deactivate(c.Request.Context(), id); err != nil {
		writeError(c, h.log, err)
		return
	}
	h.recordChange(c, id, "deactivated")
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Category deactivated"})
}

func (h *CategoryHandler) recordChange(c *gin.Context, id, outcome string) {
	if h.audit == nil {
		return
	}
	actor := callerFrom(c).UserID
	if err := h.audit.Record(c.Request.Context(), models.AuditLog{
		UserID: actor, Actor: actor, Action: services.AuditCategoryChanged,
		ResourceType: "category", ResourceID: id, Outcome: outcome,
	}); err != nil {
		h.log.Warn("category audit failed", zap.String("category_id", id), zap.Error(err))
	}
}
