package models

import "time"

// KYCStatus is derived from the ledger on every read; it has no table of its own.
type KYCStatus string

const (
	KYCNotStarted       KYCStatus = "not_started"
	KYCInProgress       KYCStatus = "in_progress"
	KYCPendingReview    KYCStatus = "pending_review"
	KYCApproved         KYCStatus = "approved"
	KYCRejected         KYCStatus = "rejected"
	KYCRequiresRevision KYCStatus = "requires_revision"
)

// KYCRequirement is the per-category state inside a KYC overview.
type KYCRequirement struct {
	CategoryID     string         `json:"category_id"`
	CategoryName   string         `json:"category_name"`
	Required       bool           `json:"required"`
	Uploaded       bool           `json:"uploaded"`
	DocumentID     string         `json:"document_id,omitempty"`
	DocumentStatus DocumentStatus `json:"document_status,omitempty"`
	ApprovalStatus ApprovalStatus `json:"approval_status,omitempty"`
	ReviewNotes    string         `json:"review_notes,omitempty"`
	UploadedAt     *time.Time     `json:"uploaded_at,omitempty"`
}

// KYCOverview is the computed KYC state of one user for one role.
type KYCOverview struct {
	UserID               string           `json:"user_id"`
	Role                 KYCRole          `json:"role"`
	Status               KYCStatus        `json:"status"`
	CompletionPercentage int              `json:"completion_percentage"`
	ApprovalPercentage   int              `json:"approval_percentage"`
	RequiredTotal        int              `json:"required_total"`
	UploadedRequired     int              `json:"uploaded_required"`
	ApprovedRequired     int              `json:"approved_required"`
	MissingCategories    []string         `json:"missing_categories"`
	Requirements         []KYCRequirement `json:"requirements"`
	LastUpdated          *time.Time       `json:"last_updated,omitempty"`
}
