package models

import (
	"time"

	"gorm.io/datatypes"
)

// DocumentStatus is the automated pipeline state of a stored document.
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusUploaded   DocumentStatus = "uploaded"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusApproved   DocumentStatus = "approved"
	DocumentStatusRejected   DocumentStatus = "rejected"
	DocumentStatusArchived   DocumentStatus = "archived"
)

func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentStatusPending, DocumentStatusUploaded, DocumentStatusProcessing,
		DocumentStatusApproved, DocumentStatusRejected, DocumentStatusArchived:
		return true
	}
	return false
}

// ApprovalStatus is the human review outcome, kept apart from DocumentStatus.
type ApprovalStatus string

const (
	ApprovalNotReviewed      ApprovalStatus = "not_reviewed"
	ApprovalPendingReview    ApprovalStatus = "pending_review"
	ApprovalApproved         ApprovalStatus = "approved"
	ApprovalRejected         ApprovalStatus = "rejected"
	ApprovalRequiresRevision ApprovalStatus = "requires_revision"
)

// Audit events appended to a document's trail.
const (
	EventUploaded           = "uploaded"
	EventArchived           = "archived"
	EventSubmittedForReview = "submitted_for_review"
	EventApproved           = "approved"
	EventRejected           = "rejected"
	EventRevisionRequested  = "revision_requested"
)

// Document is one uploaded KYC file as recorded in the ledger. Rows are never hard
// deleted; replacement and user deletion move them to DocumentStatusArchived.
type Document struct {
	ID           string `gorm:"primaryKey;size:36;column:id" json:"id"`
	UserID       string `gorm:"size:64;not null;index:idx_kyc_documents_owner;column:user_id" json:"user_id"`
	CategoryID   string `gorm:"size:64;not null;index:idx_kyc_documents_owner;column:category_id" json:"category_id"`
	DocumentType string `gorm:"size:64;column:document_type" json:"document_type"`
	TemplateID   string `gorm:"size:64;column:template_id" json:"template_id,omitempty"`

	OriginalFilename string `gorm:"size:255;column:original_filename" json:"original_filename"`
	FileSize         int64  `gorm:"column:file_size" json:"file_size"`
	MimeType         string `gorm:"size:128;column:mime_type" json:"mime_type"`
	FileExtension    string `gorm:"size:16;column:file_extension" json:"file_extension"`
	ContentHash      string `gorm:"size:64;index;column:content_hash" json:"content_hash"`

	StorageProvider     string `gorm:"size:32;column:storage_provider" json:"storage_provider"`
	StorageBucket       string `gorm:"size:128;column:storage_bucket" json:"storage_bucket,omitempty"`
	StorageRegion       string `gorm:"size:64;column:storage_region" json:"storage_region,omitempty"`
	StoragePath         string `gorm:"size:512;column:storage_path" json:"-"`
	BackupPath          string `gorm:"size:512;column:backup_path" json:"-"`
	EncryptionKeyID     string `gorm:"size:128;column:encryption_key_id" json:"-"`
	EncryptionAlgorithm string `gorm:"size:32;column:encryption_algorithm" json:"encryption_algorithm"`

	ValidationScore      int            `gorm:"column:validation_score" json:"validation_score"`
	ValidationConfidence float64        `gorm:"column:validation_confidence" json:"validation_confidence"`
	ValidationErrors     []string       `gorm:"serializer:json;type:text;column:validation_errors" json:"validation_errors"`
	ValidationWarnings   []string       `gorm:"serializer:json;type:text;column:validation_warnings" json:"validation_warnings"`
	ExtractedData        datatypes.JSON `gorm:"column:extracted_data" json:"extracted_data"`
	Metadata             datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`

	ScanClean   bool     `gorm:"column:scan_clean" json:"scan_clean"`
	ScanEngine  string   `gorm:"size:64;column:scan_engine" json:"scan_engine"`
	ScanThreats []string `gorm:"serializer:json;type:text;column:scan_threats" json:"scan_threats,omitempty"`

	Status         DocumentStatus `gorm:"size:16;not null;index:idx_kyc_documents_owner;column:status" json:"status"`
	ApprovalStatus ApprovalStatus `gorm:"size:24;not null;column:approval_status" json:"approval_status"`
	ReviewNotes    string         `gorm:"type:text;column:review_notes" json:"review_notes,omitempty"`
	ReviewedBy     string         `gorm:"size:64;column:reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time     `gorm:"column:reviewed_at" json:"reviewed_at,omitempty"`

	CreatedAt  time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at" json:"updated_at"`
	ArchivedAt *time.Time `gorm:"column:archived_at" json:"archived_at,omitempty"`

	AuditTrail []DocumentEvent `gorm:"foreignKey:DocumentID" json:"audit_trail,omitempty"`
}

func (Document) TableName() string {
	return "kyc_documents"
}

// IsActive reports whether the document still counts toward its category.
func (d Document) IsActive() bool {
	return d.Status != DocumentStatusArchived
}

// DocumentEvent is one append-only entry of a document's audit trail.
type DocumentEvent struct {
	ID         uint      `gorm:"primaryKey;autoIncrement;column:id" json:"-"`
	DocumentID string    `gorm:"size:36;not null;index;column:document_id" json:"-"`
	Event      string    `gorm:"size:32;not null;column:event" json:"event"`
	Actor      string    `gorm:"size:64;column:actor" json:"actor"`
	Detail     string    `gorm:"type:text;column:detail" json:"detail,omitempty"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"timestamp"`
}

func (DocumentEvent) TableName() string {
	return "kyc_document_events"
}
