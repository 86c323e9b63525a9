package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"kyc-document-api/models"
)

// CategorySource is the part of the category registry the workflow needs.
type CategorySource interface {
	Get(ctx context.Context, id string) (models.DocumentCategory, error)
	ListForRole(ctx context.Context, role models.KYCRole) ([]models.DocumentCategory, error)
}

// KYCResult is returned by workflow transitions.
type KYCResult struct {
	Overview models.KYCOverview
	Changed  []string
	SideEffects
}

// KYCService derives KYC status from the ledger and applies review transitions.
type KYCService struct {
	ledger     DocumentLedger
	categories CategorySource
	audit      AuditRecorder
	notifier   Notifier
	log        *zap.Logger
}

func NewKYCService(ledger DocumentLedger, categories CategorySource, audit AuditRecorder, notifier Notifier, log *zap.Logger) *KYCService {
	if audit == nil {
		audit = nopAudit{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &KYCService{ledger: ledger, categories: categories, audit: audit, notifier: notifier, log: log.Named("kyc")}
}

// counts reports whether a document satisfies its category for completion purposes.
func counts(doc *models.Document) bool {
	if doc == nil || !doc.IsActive() || !doc.ScanClean {
		return false
	}
	switch doc.Status {
	case models.DocumentStatusPending, models.DocumentStatusProcessing, models.DocumentStatusRejected:
		return false
	}
	switch doc.ApprovalStatus {
	case models.ApprovalRejected, models.ApprovalRequiresRevision:
		return false
	}
	return true
}

type kycSnapshot struct {
	overview models.KYCOverview
	required map[string]*models.Document
}

func (s *KYCService) snapshot(ctx context.Context, userID string, role models.KYCRole) (*kycSnapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, newError(KindClientInput, CodeMissingFields, "user id is required", nil)
	}
	if role != models.RoleCustomer && role != models.RoleContractor {
		return nil, newError(KindClientInput, CodeInvalidRole, "role must be customer or contractor", nil)
	}

	cats, err := s.categories.ListForRole(ctx, role)
	if err != nil {
		return nil, err
	}
	docs, err := s.ledger.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	// ListActive is newest first, so the first document seen per category wins.
	newest := make(map[string]*models.Document, len(docs))
	for i := range docs {
		if _, ok := newest[docs[i].CategoryID]; !ok {
			newest[docs[i].CategoryID] = &docs[i]
		}
	}

	ov := models.KYCOverview{
		UserID:            userID,
		Role:              role,
		MissingCategories: []string{},
		Requirements:      make([]models.KYCRequirement, 0, len(cats)),
	}
	snap := &kycSnapshot{required: map[string]*models.Document{}}

	var anyUpload, anyRejected, anyRevision, anyPending, anyUnsubmitted bool
	var lastUpdated time.Time
	for _, cat := range cats {
		doc := newest[cat.ID]
		req := models.KYCRequirement{CategoryID: cat.ID, CategoryName: cat.Name, Required: cat.RequiredForKYC}
		if doc != nil {
			anyUpload = true
			created := doc.CreatedAt
			req.Uploaded = true
			req.DocumentID = doc.ID
			req.DocumentStatus = doc.Status
			req.ApprovalStatus = doc.ApprovalStatus
			req.ReviewNotes = doc.ReviewNotes
			req.UploadedAt = &created
			if doc.UpdatedAt.After(lastUpdated) {
				lastUpdated = doc.UpdatedAt
			}
		}
		ov.Requirements = append(ov.Requirements, req)

		if !cat.RequiredForKYC {
			continue
		}
		ov.RequiredTotal++
		snap.required[cat.ID] = doc
		if counts(doc) {
			ov.UploadedRequired++
		} else {
			ov.MissingCategories = append(ov.MissingCategories, cat.ID)
		}
		if doc == nil {
			continue
		}
		switch doc.ApprovalStatus {
		case models.ApprovalApproved:
			ov.ApprovedRequired++
		case models.ApprovalRejected:
			anyRejected = true
		case models.ApprovalRequiresRevision:
			anyRevision = true
		case models.ApprovalPendingReview:
			anyPending = true
		case models.ApprovalNotReviewed:
			anyUnsubmitted = true
		}
	}

	if ov.RequiredTotal > 0 {
		ov.CompletionPercentage = ov.UploadedRequired * 100 / ov.RequiredTotal
		ov.ApprovalPercentage = ov.ApprovedRequired * 100 / ov.RequiredTotal
	} else {
		ov.CompletionPercentage = 100
	}
	if !lastUpdated.IsZero() {
		ov.LastUpdated = &lastUpdated
	}

	switch {
	case anyRejected:
		ov.Status = models.KYCRejected
	case anyRevision:
		ov.Status = models.KYCRequiresRevision
	case ov.RequiredTotal > 0 && ov.ApprovedRequired == ov.RequiredTotal:
		ov.Status = models.KYCApproved
	// A re-upload after a revision request reopens the KYC until it is resubmitted.
	case anyPending && !anyUnsubmitted && ov.UploadedRequired == ov.RequiredTotal:
		ov.Status = models.KYCPendingReview
	case anyUpload:
		ov.Status = models.KYCInProgress
	default:
		ov.Status = models.KYCNotStarted
	}

	snap.overview = ov
	return snap, nil
}

// GetStatus computes the KYC overview for userID acting as role.
func (s *KYCService) GetStatus(ctx context.Context, userID string, role models.KYCRole) (models.KYCOverview, error) {
	snap, err := s.snapshot(ctx, userID, role)
	if err != nil {
		return models.KYCOverview{}, err
	}
	return snap.overview, nil
}

func incompleteKYC(ov models.KYCOverview) *Error {
	return newError(KindIncompleteKYC, CodeIncompleteKYC, "all required documents must be uploaded first", nil).withDetails(map[string]any{
		"completion_percentage": ov.CompletionPercentage,
		"missing_categories":    ov.MissingCategories,
	})
}

// SubmitForReview moves every unreviewed required document to pending_review. It is
// only allowed at 100% completion and changes nothing once everything is submitted
// or approved.
func (s *KYCService) SubmitForReview(ctx context.Context, userID string, role models.KYCRole, actor string) (KYCResult, error) {
	snap, err := s.snapshot(ctx, userID, role)
	if err != nil {
		return KYCResult{}, err
	}
	ov := snap.overview
	if ov.Status == models.KYCApproved {
		return KYCResult{Overview: ov, Changed: []string{}}, nil
	}
	if ov.CompletionPercentage < 100 || ov.RequiredTotal == 0 {
		return KYCResult{}, incompleteKYC(ov)
	}

	ids := make([]string, 0, len(snap.required))
	for _, doc := range snap.required {
		if doc != nil && doc.ApprovalStatus == models.ApprovalNotReviewed {
			ids = append(ids, doc.ID)
		}
	}
	changed, err := s.ledger.SetApproval(ctx, userID, ids, models.ApprovalPendingReview, actor, "", models.EventSubmittedForReview)
	if err != nil {
		return KYCResult{}, err
	}

	result := KYCResult{Changed: changed}
	if result.Overview, err = s.GetStatus(ctx, userID, role); err != nil {
		return KYCResult{}, err
	}
	s.log.Info("kyc submitted", zap.String("user_id", userID), zap.String("role", string(role)), zap.Int("documents", len(changed)))
	s.afterTransition(ctx, &result, AuditKYCSubmit, actor, "", func(c context.Context) error {
		return s.notifier.KYCSubmitted(c, result.Overview)
	})
	return result, nil
}

// ApproveKYC approves every required document. Approving an approved KYC changes
// nothing.
func (s *KYCService) ApproveKYC(ctx context.Context, userID string, role models.KYCRole, actor, notes string) (KYCResult, error) {
	snap, err := s.snapshot(ctx, userID, role)
	if err != nil {
		return KYCResult{}, err
	}
	ov := snap.overview
	if ov.Status == models.KYCApproved {
		return KYCResult{Overview: ov, Changed: []string{}}, nil
	}
	if ov.CompletionPercentage < 100 || ov.RequiredTotal == 0 {
		return KYCResult{}, incompleteKYC(ov)
	}

	ids := make([]string, 0, len(snap.required))
	for _, doc := range snap.required {
		if doc != nil && doc.ApprovalStatus != models.ApprovalApproved {
			ids = append(ids, doc.ID)
		}
	}
	changed, err := s.ledger.SetApproval(ctx, userID, ids, models.ApprovalApproved, actor, notes, models.EventApproved)
	if err != nil {
		return KYCResult{}, err
	}

	result := KYCResult{Changed: changed}
	if result.Overview, err = s.GetStatus(ctx, userID, role); err != nil {
		return KYCResult{}, err
	}
	s.log.Info("kyc approved", zap.String("user_id", userID), zap.String("actor", actor))
	s.afterTransition(ctx, &result, AuditKYCApprove, actor, notes, func(c context.Context) error {
		return s.notifier.KYCDecided(c, result.Overview, actor, notes)
	})
	return result, nil
}

// RejectKYC rejects every active required document. A reason is mandatory.
func (s *KYCService) RejectKYC(ctx context.Context, userID string, role models.KYCRole, actor, reason string) (KYCResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return KYCResult{}, newError(KindClientInput, CodeReasonRequired, "a rejection reason is required", nil)
	}
	snap, err := s.snapshot(ctx, userID, role)
	if err != nil {
		return KYCResult{}, err
	}

	ids := make([]string, 0, len(snap.required))
	uploaded := 0
	for _, doc := range snap.required {
		if doc == nil {
			continue
		}
		uploaded++
		if doc.ApprovalStatus != models.ApprovalRejected {
			ids = append(ids, doc.ID)
		}
	}
	if uploaded == 0 {
		return KYCResult{}, newError(KindClientInput, CodeReviewNotAllowed, "no documents have been uploaded", nil)
	}
	if len(ids) == 0 {
		return KYCResult{Overview: snap.overview, Changed: []string{}}, nil
	}

	changed, err := s.ledger.SetApproval(ctx, userID, ids, models.ApprovalRejected, actor, reason, models.EventRejected)
	if err != nil {
		return KYCResult{}, err
	}

	result := KYCResult{Changed: changed}
	if result.Overview, err = s.GetStatus(ctx, userID, role); err != nil {
		return KYCResult{}, err
	}
	s.log.Info("kyc rejected", zap.String("user_id", userID), zap.String("actor", actor))
	s.afterTransition(ctx, &result, AuditKYCReject, actor, reason, func(c context.Context) error {
		return s.notifier.KYCDecided(c, result.Overview, actor, reason)
	})
	return result, nil
}

// Review decisions for a single document.
const (
	DecisionApprove         = "approve"
	DecisionRequestRevision = "request_revision"
)

// ReviewDocument approves one document or sends it back for revision.
func (s *KYCService) ReviewDocument(ctx context.Context, userID, documentID, decision, actor, notes string) (*models.Document, SideEffects, error) {
	var status models.ApprovalStatus
	var event string
	switch strings.ToLower(strings.TrimSpace(decision)) {
	case DecisionApprove, "approved":
		status, event = models.ApprovalApproved, models.EventApproved
	case DecisionRequestRevision, "reject", "requires_revision":
		if strings.TrimSpace(notes) == "" {
			return nil, SideEffects{}, newError(KindClientInput, CodeReasonRequired, "a reason is required when requesting a revision", nil)
		}
		status, event = models.ApprovalRequiresRevision, models.EventRevisionRequested
	default:
		return nil, SideEffects{}, newError(KindClientInput, CodeInvalidRequest, "decision must be approve or request_revision", nil)
	}

	if _, err := s.ledger.GetForOwner(ctx, documentID, userID, false); err != nil {
		return nil, SideEffects{}, err
	}
	if _, err := s.ledger.SetApproval(ctx, userID, []string{documentID}, status, actor, notes, event); err != nil {
		return nil, SideEffects{}, err
	}
	doc, err := s.ledger.GetForOwner(ctx, documentID, userID, false)
	if err != nil {
		return nil, SideEffects{}, err
	}

	var effects SideEffects
	effects.Add(EffectAuditLog, documentID, s.audit.Record(persistentContext(ctx), models.AuditLog{
		UserID: userID, Actor: actor, Action: AuditReview, ResourceType: "document",
		ResourceID: documentID, Outcome: string(status), Detail: notes,
	}))
	return doc, effects, nil
}

func (s *KYCService) afterTransition(ctx context.Context, result *KYCResult, action, actor, detail string, notify func(context.Context) error) {
	if len(result.Changed) == 0 {
		return
	}
	ctx = persistentContext(ctx)
	ov := result.Overview
	result.Add(EffectAuditLog, "", s.audit.Record(ctx, models.AuditLog{
		UserID: ov.UserID, Actor: actor, Action: action, ResourceType: "kyc",
		ResourceID: ov.UserID, Outcome: string(ov.Status), Detail: detail,
	}))
	if err := notify(ctx); err != nil {
		s.log.Warn("kyc notification failed", zap.String("user_id", ov.UserID), zap.String("action", action), zap.Error(err))
		result.Add(EffectNotify, "", err)
	}
}
