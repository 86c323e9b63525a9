package services

import (
	"context"

	"go.uber.org/zap"

	"kyc-document-api/models"
)

// DownloadedDocument is a ledger row together with its decrypted content.
type DownloadedDocument struct {
	Document *models.Document
	Content  []byte
}

// DocumentService serves owner-scoped reads, downloads and soft deletes.
type DocumentService struct {
	ledger  DocumentLedger
	storage StorageEngine
	audit   AuditRecorder
	log     *zap.Logger
}

func NewDocumentService(ledger DocumentLedger, storage StorageEngine, audit AuditRecorder, log *zap.Logger) *DocumentService {
	if audit == nil {
		audit = nopAudit{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DocumentService{ledger: ledger, storage: storage, audit: audit, log: log.Named("documents")}
}

func (s *DocumentService) Get(ctx context.Context, userID, documentID string, includeArchived bool) (*models.Document, error) {
	return s.ledger.GetForOwner(ctx, documentID, userID, includeArchived)
}

func (s *DocumentService) List(ctx context.Context, userID string, filter DocumentFilter) ([]models.Document, int64, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, newError(KindClientInput, CodeInvalidRequest, "unknown document status", nil)
	}
	return s.ledger.List(ctx, userID, filter)
}

// Download loads and decrypts an active document owned by userID. Failures other than
// not-found and access-denied are reported as DOWNLOAD_FAILED.
func (s *DocumentService) Download(ctx context.Context, userID, documentID, actor string) (DownloadedDocument, SideEffects, error) {
	var effects SideEffects
	doc, err := s.ledger.GetForOwner(ctx, documentID, userID, false)
	if err != nil {
		return DownloadedDocument{}, effects, asDownloadFailure(err)
	}

	content, err := s.storage.Retrieve(ctx, RetrieveRequest{
		DocumentID: doc.ID,
		UserID:     doc.UserID,
		Path:       doc.StoragePath,
		BackupPath: doc.BackupPath,
		KeyID:      doc.EncryptionKeyID,
	})
	outcome := "served"
	if err != nil {
		outcome = AsError(err).Code
	}
	effects.Add(EffectAuditLog, doc.ID, s.audit.Record(persistentContext(ctx), models.AuditLog{
		UserID: userID, Actor: actorOr(actor, userID), Action: AuditDownload,
		ResourceType: "document", ResourceID: doc.ID, Outcome: outcome,
	}))
	if err != nil {
		s.log.Warn("download failed", zap.String("document_id", doc.ID), zap.Error(err))
		return DownloadedDocument{}, effects, asDownloadFailure(err)
	}
	return DownloadedDocument{Document: doc, Content: content}, effects, nil
}

// Delete archives the document. The stored object is kept for retention.
func (s *DocumentService) Delete(ctx context.Context, userID, documentID, actor string) (SideEffects, error) {
	var effects SideEffects
	if _, err := s.ledger.GetForOwner(ctx, documentID, userID, false); err != nil {
		return effects, err
	}
	if err := s.ledger.MarkArchived(ctx, documentID, userID, actorOr(actor, userID), "deleted by user"); err != nil {
		return effects, err
	}
	effects.Add(EffectAuditLog, documentID, s.audit.Record(persistentContext(ctx), models.AuditLog{
		UserID: userID, Actor: actorOr(actor, userID), Action: AuditArchive,
		ResourceType: "document", ResourceID: documentID, Outcome: "archived",
	}))
	s.log.Info("document archived", zap.String("document_id", documentID), zap.String("user_id", userID))
	return effects, nil
}

func asDownloadFailure(err error) error {
	svcErr := AsError(err)
	switch svcErr.Kind {
	case KindNotFound, KindAccessDenied:
		return svcErr
	}
	return newError(svcErr.Kind, CodeDownloadFailed, "failed to download document", err)
}
