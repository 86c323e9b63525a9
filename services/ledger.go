package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"kyc-document-api/models"
)

// DocumentFilter narrows List results. Archived rows are excluded unless
// IncludeArchived is set or Status asks for them explicitly.
type DocumentFilter struct {
	CategoryID      string
	Status          models.DocumentStatus
	IncludeArchived bool
	Limit           int
	Offset          int
}

// DuplicateGroup is a (user, category) pair holding more than one active document.
type DuplicateGroup struct {
	UserID      string
	CategoryID  string
	ActiveCount int64
}

// DocumentLedger is the authoritative record of uploaded documents. Every read is
// scoped to the owning user.
type DocumentLedger interface {
	Insert(ctx context.Context, doc *models.Document, actor string) error
	GetForOwner(ctx context.Context, documentID, userID string, includeArchived bool) (*models.Document, error)
	FindActiveInCategory(ctx context.Context, userID, categoryID string) ([]models.Document, error)
	ListActive(ctx context.Context, userID string) ([]models.Document, error)
	List(ctx context.Context, userID string, filter DocumentFilter) ([]models.Document, int64, error)
	MarkArchived(ctx context.Context, documentID, userID, actor, reason string) error
	SetApproval(ctx context.Context, userID string, documentIDs []string, status models.ApprovalStatus, actor, notes, event string) ([]string, error)
	FindDuplicateActive(ctx context.Context) ([]DuplicateGroup, error)
	HasStoragePath(ctx context.Context, storagePath string) (bool, error)
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// GormLedger stores documents and their audit events through GORM.
type GormLedger struct {
	db    *gorm.DB
	clock Clock
}

func NewGormLedger(db *gorm.DB, clock Clock) *GormLedger {
	if clock == nil {
		clock = SystemClock()
	}
	return &GormLedger{db: db, clock: clock}
}

func dbError(message string, err error) *Error {
	return newError(KindDatabase, CodeInternal, message, err)
}

func documentNotFound() *Error {
	return newError(KindNotFound, CodeNotFound, "document not found", ErrDocumentNotFound)
}

func (l *GormLedger) Insert(ctx context.Context, doc *models.Document, actor string) error {
	if doc.Status == "" {
		doc.Status = models.DocumentStatusUploaded
	}
	if doc.ApprovalStatus == "" {
		doc.ApprovalStatus = models.ApprovalNotReviewed
	}
	doc.AuditTrail = []models.DocumentEvent{{Event: models.EventUploaded, Actor: actor}}

	if err := l.db.WithContext(ctx).Create(doc).Error; err != nil {
		return dbError("failed to record document", err)
	}
	return nil
}

func (l *GormLedger) GetForOwner(ctx context.Context, documentID, userID string, includeArchived bool) (*models.Document, error) {
	if documentID == "" || userID == "" {
		return nil, documentNotFound()
	}

	query := l.db.WithContext(ctx).
		Preload("AuditTrail", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Where("id = ? AND user_id = ?", documentID, userID)
	if !includeArchived {
		query = query.Where("status <> ?", models.DocumentStatusArchived)
	}

	var doc models.Document
	if err := query.First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, documentNotFound()
		}
		return nil, dbError("failed to load document", err)
	}
	return &doc, nil
}

func (l *GormLedger) FindActiveInCategory(ctx context.Context, userID, categoryID string) ([]models.Document, error) {
	var docs []models.Document
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND category_id = ? AND status <> ?", userID, categoryID, models.DocumentStatusArchived).
		Order("created_at DESC, id DESC").
		Find(&docs).Error
	if err != nil {
		return nil, dbError("failed to load category documents", err)
	}
	return docs, nil
}

func (l *GormLedger) ListActive(ctx context.Context, userID string) ([]models.Document, error) {
	var docs []models.Document
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND status <> ?", userID, models.DocumentStatusArchived).
		Order("created_at DESC, id DESC").
		Find(&docs).Error
	if err != nil {
		return nil, dbError("failed to load documents", err)
	}
	return docs, nil
}

func (l *GormLedger) List(ctx context.Context, userID string, filter DocumentFilter) ([]models.Document, int64, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	base := l.db.WithContext(ctx).Model(&models.Document{}).Where("user_id = ?", userID)
	if filter.CategoryID != "" {
		base = base.Where("category_id = ?", filter.CategoryID)
	}
	switch {
	case filter.Status != "":
		base = base.Where("status = ?", filter.Status)
	case !filter.IncludeArchived:
		base = base.Where("status <> ?", models.DocumentStatusArchived)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, dbError("failed to count documents", err)
	}

	var docs []models.Document
	if err := base.Session(&gorm.Session{}).Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&docs).Error; err != nil {
		return nil, 0, dbError("failed to list documents", err)
	}
	return docs, total, nil
}

// MarkArchived is idempotent: archiving an archived document succeeds without a new
// audit entry.
func (l *GormLedger) MarkArchived(ctx context.Context, documentID, userID, actor, reason string) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := l.clock.Now()
		res := tx.Model(&models.Document{}).
			Where("id = ? AND user_id = ? AND status <> ?", documentID, userID, models.DocumentStatusArchived).
			Updates(map[string]any{"status": models.DocumentStatusArchived, "archived_at": now, "updated_at": now})
		if res.Error != nil {
			return dbError("failed to archive document", res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Document{}).Where("id = ? AND user_id = ?", documentID, userID).Count(&count).Error; err != nil {
				return dbError("failed to archive document", err)
			}
			if count == 0 {
				return documentNotFound()
			}
			return nil
		}

		event := models.DocumentEvent{DocumentID: documentID, Event: models.EventArchived, Actor: actor, Detail: reason}
		if err := tx.Create(&event).Error; err != nil {
			return dbError("failed to append audit event", err)
		}
		return nil
	})
}

// SetApproval moves the listed active documents to status and returns the ids that
// actually changed. Documents already in status are left untouched.
func (l *GormLedger) SetApproval(ctx context.Context, userID string, documentIDs []string, status models.ApprovalStatus, actor, notes, event string) ([]string, error) {
	if len(documentIDs) == 0 {
		return []string{}, nil
	}

	var changed []string
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Document{}).
			Where("user_id = ? AND id IN ? AND status <> ? AND approval_status <> ?",
				userID, documentIDs, models.DocumentStatusArchived, status).
			Pluck("id", &changed).Error; err != nil {
			return dbError("failed to load documents for review", err)
		}
		if len(changed) == 0 {
			return nil
		}

		now := l.clock.Now()
		updates := map[string]any{
			"approval_status": status,
			"review_notes":    notes,
			"reviewed_by":     actor,
			"reviewed_at":     now,
			"updated_at":      now,
		}
		if err := tx.Model(&models.Document{}).Where("id IN ?", changed).Updates(updates).Error; err != nil {
			return dbError("failed to update review status", err)
		}

		events := make([]models.DocumentEvent, 0, len(changed))
		for _, id := range changed {
			events = append(events, models.DocumentEvent{DocumentID: id, Event: event, Actor: actor, Detail: notes})
		}
		if err := tx.Create(&events).Error; err != nil {
			return dbError("failed to append audit events", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed == nil {
		changed = []string{}
	}
	return changed, nil
}

func (l *GormLedger) FindDuplicateActive(ctx context.Context) ([]DuplicateGroup, error) {
	var groups []DuplicateGroup
	err := l.db.WithContext(ctx).Model(&models.Document{}).
		Select("user_id, category_id, COUNT(*) AS active_count").
		Where("status <> ?", models.DocumentStatusArchived).
		Group("user_id, category_id").
		Having("COUNT(*) > 1").
		Order("user_id, category_id").
		Scan(&groups).Error
	if err != nil {
		return nil, dbError("failed to find duplicate documents", err)
	}
	return groups, nil
}

func (l *GormLedger) HasStoragePath(ctx context.Context, storagePath string) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&models.Document{}).
		Where("storage_path = ? OR backup_path = ?", storagePath, storagePath).
		Count(&count).Error
	if err != nil {
		return false, dbError("failed to look up storage path", err)
	}
	return count > 0, nil
}
