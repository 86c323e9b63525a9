package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kyc-document-api/models"
	"kyc-document-api/services"
)

type KYCWorkflow interface {
	GetStatus(ctx context.Context, userID string, role models.KYCRole) (models.KYCOverview, error)
	SubmitForReview(ctx context.Context, userID string, role models.KYCRole, actor string) (services.KYCResult, error)
	ApproveKYC(ctx context.Context, userID string, role models.KYCRole, actor, notes string) (services.KYCResult, error)
	RejectKYC(ctx context.Context, userID string, role models.KYCRole, actor, reason string) (services.KYCResult, error)
	ReviewDocument(ctx context.Context, userID, documentID, decision, actor, notes string) (*models.Document, services.SideEffects, error)
}

type KYCHandler struct {
	kyc KYCWorkflow
	log *zap.Logger
}

func NewKYCHandler(kyc KYCWorkflow, log *zap.Logger) *KYCHandler {
	return &KYCHandler{kyc: kyc, log: log.Named("kyc.http")}
}

// Status handles GET /kyc/status for the calling user.
func (h *KYCHandler) Status(c *gin.Context) {
	role, err := kycRole(c, queryField(c, FieldRole))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	overview, err := h.kyc.GetStatus(c.Request.Context(), callerFrom(c).UserID, role)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "kyc": overview})
}

// Submit handles POST /kyc/submit.
func (h *KYCHandler) Submit(c *gin.Context) {
	role, err := kycRole(c, queryField(c, FieldRole))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	p := callerFrom(c)
	result, err := h.kyc.SubmitForReview(c.Request.Context(), p.UserID, role, p.UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.respondTransition(c, result, "KYC submitted for review")
}

// AdminStatus handles GET /admin/kyc/:user_id.
func (h *KYCHandler) AdminStatus(c *gin.Context) {
	role, err := kycRole(c, queryField(c, FieldRole))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	overview, err := h.kyc.GetStatus(c.Request.Context(), c.Param("user_id"), role)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "kyc": overview})
}

// Approve handles POST /admin/kyc/:user_id/approve. Approving twice is a no-op.
func (h *KYCHandler) Approve(c *gin.Context) {
	body, role, ok := h.decisionInput(c)
	if !ok {
		return
	}
	result, err := h.kyc.ApproveKYC(c.Request.Context(), c.Param("user_id"), role, callerFrom(c).UserID, body.get(FieldNotes))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.respondTransition(c, result, "KYC approved")
}

// Reject handles POST /admin/kyc/:user_id/reject. A reason is mandatory.
func (h *KYCHandler) Reject(c *gin.Context) {
	body, role, ok := h.decisionInput(c)
	if !ok {
		return
	}
	result, err := h.kyc.RejectKYC(c.Request.Context(), c.Param("user_id"), role, callerFrom(c).UserID, body.get(FieldReason))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.respondTransition(c, result, "KYC rejected")
}

// ReviewDocument handles POST /admin/documents/:user_id/:id/review.
func (h *KYCHandler) ReviewDocument(c *gin.Context) {
	body, err := bindJSONFields(c)
	if err != nil {
		badBody(c, h.log, services.CodeInvalidRequest, "Request body must be a JSON object", err)
		return
	}
	notes := body.get(FieldReason)
	if notes == "" {
		notes = body.get(FieldNotes)
	}
	doc, effects, err := h.kyc.ReviewDocument(c.Request.Context(), c.Param("user_id"), c.Param("id"),
		body.get(FieldDecision), callerFrom(c).UserID, notes)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"document": doc,
		"warnings": warningNames(effects),
	})
}

func (h *KYCHandler) decisionInput(c *gin.Context) (jsonFields, models.KYCRole, bool) {
	body, err := bindJSONFields(c)
	if err != nil {
		badBody(c, h.log, services.CodeInvalidRequest, "Request body must be a JSON object", err)
		return nil, "", false
	}
	requested := body.get(FieldRole)
	if requested == "" {
		requested = queryField(c, FieldRole)
	}
	role, err := kycRole(c, requested)
	if err != nil {
		writeError(c, h.log, err)
		return nil, "", false
	}
	return body, role, true
}

func (h *KYCHandler) respondTransition(c *gin.Context, result services.KYCResult, message string) {
	changed := result.Changed
	if changed == nil {
		changed = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"message":           message,
		"kyc":               result.Overview,
		"changed_documents": changed,
		"warnings":          warningNames(result.SideEffects),
	})
}
