package services

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"kyc-document-api/models"
)

// Audit actions.
const (
	AuditUpload          = "document.upload"
	AuditUploadRejected  = "document.upload_rejected"
	AuditDownload        = "document.download"
	AuditArchive         = "document.archive"
	AuditReview          = "document.review"
	AuditKYCSubmit       = "kyc.submit"
	AuditKYCApprove      = "kyc.approve"
	AuditKYCReject       = "kyc.reject"
	AuditCategoryChanged = "category.change"
)

type requestIDKey struct{}

// WithRequestID attaches the HTTP request id so audit entries can be correlated.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// AuditRecorder writes compliance audit entries. Implementations must not block the
// primary operation on failure; the returned error is for side-effect reporting.
type AuditRecorder interface {
	Record(ctx context.Context, entry models.AuditLog) error
}

// GormAuditLogger writes entries to kyc_audit_logs.
type GormAuditLogger struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewGormAuditLogger(db *gorm.DB, log *zap.Logger) *GormAuditLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &GormAuditLogger{db: db, log: log.Named("audit")}
}

func (a *GormAuditLogger) Record(ctx context.Context, entry models.AuditLog) error {
	if entry.RequestID == "" {
		entry.RequestID = requestIDFrom(ctx)
	}
	if err := a.db.WithContext(persistentContext(ctx)).Create(&entry).Error; err != nil {
		a.log.Warn("audit write failed",
			zap.String("action", entry.Action),
			zap.String("resource_id", entry.ResourceID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, models.AuditLog) error { return nil }
