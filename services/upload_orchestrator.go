package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"kyc-document-api/models"
)

// PipelineObserver receives stage timings and final outcome codes.
type PipelineObserver interface {
	ObserveStage(stage string, d time.Duration)
	ObserveOutcome(code string)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, time.Duration) {}
func (nopObserver) ObserveOutcome(string)              {}

// Pipeline stages reported to the observer.
const (
	StageLookup   = "lookup"
	StageScan     = "scan"
	StageValidate = "validate"
	StageStore    = "store"
	StagePersist  = "persist"
	StageCleanup  = "cleanup"
)

// OutcomeSuccess is reported for accepted uploads; failures report their error code.
const OutcomeSuccess = "SUCCESS"

type UploadRequest struct {
	UserID       string
	CategoryID   string
	Role         models.KYCRole
	Actor        string
	HasFile      bool
	Filename     string
	DeclaredMIME string
	DeclaredSize int64
	Data         []byte
	TemplateID   string
	Metadata     map[string]any
}

type UploadResult struct {
	Document            *models.Document
	Scan                ScanResult
	Validation          ValidationResult
	ReplacedDocumentIDs []string
	SideEffects
}

type UploadOptions struct {
	Encrypt      bool
	CreateBackup bool
}

// UploadOrchestrator runs the intake pipeline: scan, validate, store, record, then
// retire the documents the new upload replaces.
type UploadOrchestrator struct {
	scanner    VirusScanner
	validator  ContentValidator
	storage    StorageEngine
	ledger     DocumentLedger
	categories CategorySource
	locker     UploadLocker
	audit      AuditRecorder
	observer   PipelineObserver
	opts       UploadOptions
	log        *zap.Logger
}

func NewUploadOrchestrator(
	scanner VirusScanner,
	validator ContentValidator,
	storage StorageEngine,
	ledger DocumentLedger,
	categories CategorySource,
	opts UploadOptions,
	log *zap.Logger,
) *UploadOrchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &UploadOrchestrator{
		scanner:    scanner,
		validator:  validator,
		storage:    storage,
		ledger:     ledger,
		categories: categories,
		locker:     NoopLocker{},
		audit:      nopAudit{},
		observer:   nopObserver{},
		opts:       opts,
		log:        log.Named("upload"),
	}
}

func (o *UploadOrchestrator) WithLocker(l UploadLocker) *UploadOrchestrator {
	if l != nil {
		o.locker = l
	}
	return o
}

func (o *UploadOrchestrator) WithAudit(a AuditRecorder) *UploadOrchestrator {
	if a != nil {
		o.audit = a
	}
	return o
}

func (o *UploadOrchestrator) WithObserver(obs PipelineObserver) *UploadOrchestrator {
	if obs != nil {
		o.observer = obs
	}
	return o
}

func (o *UploadOrchestrator) timed(stage string, start time.Time) {
	o.observer.ObserveStage(stage, time.Since(start))
}

// Upload runs the whole pipeline. On any primary failure nothing is left in the
// ledger; the returned error is a *Error.
func (o *UploadOrchestrator) Upload(ctx context.Context, req UploadRequest) (result UploadResult, err error) {
	defer func() {
		if err != nil {
			o.observer.ObserveOutcome(AsError(err).Code)
			return
		}
		o.observer.ObserveOutcome(OutcomeSuccess)
	}()

	// 1. Received
	if err := checkUploadRequest(req); err != nil {
		return UploadResult{}, err
	}
	category, err := o.resolveCategory(ctx, req)
	if err != nil {
		return UploadResult{}, err
	}

	release, lockErr := o.locker.Lock(ctx, req.UserID, category.ID)
	if release == nil {
		release = func() {}
	}
	if lockErr != nil {
		o.log.Warn("upload lock unavailable, continuing without it",
			zap.String("user_id", req.UserID), zap.String("category_id", category.ID), zap.Error(lockErr))
		result.Add(EffectUploadLock, "", lockErr)
	}
	defer release()

	// 2. Existing documents; a failed lookup never blocks the upload
	start := time.Now()
	existing, lookupErr := o.ledger.FindActiveInCategory(ctx, req.UserID, category.ID)
	o.timed(StageLookup, start)
	if lookupErr != nil {
		o.log.Warn("existing document lookup failed", zap.String("user_id", req.UserID), zap.String("category_id", category.ID), zap.Error(lookupErr))
		result.Add(EffectExistingLookup, "", lookupErr)
		existing = nil
	}

	documentID := uuid.NewString()
	log := o.log.With(zap.String("document_id", documentID), zap.String("user_id", req.UserID), zap.String("category_id", category.ID))

	// 3. Scanned
	start = time.Now()
	scan, err := o.scanner.Scan(ctx, req.Data, ScanRequest{TransientID: documentID, UserID: req.UserID, Filename: req.Filename})
	o.timed(StageScan, start)
	if err != nil {
		log.Error("virus scan failed", zap.Error(err))
		if IsKind(err, KindScannerUnavailable) {
			return UploadResult{}, err
		}
		return UploadResult{}, scannerUnavailable("scanner", err)
	}
	result.Scan = scan
	if !scan.Clean {
		o.recordRejection(ctx, req, documentID, CodeVirusDetected, strings.Join(scan.Threats, ", "))
		return UploadResult{}, newError(KindVirusDetected, CodeVirusDetected, "the file failed the virus scan", nil).
			withDetails(map[string]any{"threats": scan.Threats})
	}

	// 4. Validated
	start = time.Now()
	validation, err := o.validator.Validate(ctx, req.Data, ValidationInput{
		UserID:       req.UserID,
		Filename:     req.Filename,
		DeclaredMIME: req.DeclaredMIME,
		DeclaredSize: req.DeclaredSize,
	}, RulesFor(category))
	o.timed(StageValidate, start)
	if err != nil {
		log.Error("validation error", zap.Error(err))
		return UploadResult{}, newError(KindInternal, CodeUploadFailed, "document validation could not run", err)
	}
	result.Validation = validation
	if !validation.Valid {
		o.recordRejection(ctx, req, documentID, CodeValidationFailed, strings.Join(validation.Errors(), "; "))
		return UploadResult{}, newError(KindValidationFailed, CodeValidationFailed, "the file did not pass validation", nil).
			withDetails(map[string]any{
				"errors":   validation.Errors(),
				"warnings": validation.Warnings(),
				"score":    validation.Score,
			})
	}

	sum := sha256.Sum256(req.Data)
	contentHash := hex.EncodeToString(sum[:])
	for _, prev := range existing {
		if prev.ContentHash == contentHash {
			result.Validation.Content.warn("DUPLICATE_CONTENT: identical to document %s", prev.ID)
			break
		}
	}

	// 5. Stored
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(req.Filename)), ".")
	start = time.Now()
	stored, err := o.storage.Store(ctx, req.Data, StoreRequest{
		DocumentID:  documentID,
		UserID:      req.UserID,
		CategoryID:  category.ID,
		Extension:   ext,
		ContentType: validation.DetectedMIME,
		Encrypt:     o.opts.Encrypt,
		Backup:      o.opts.CreateBackup,
	})
	o.timed(StageStore, start)
	if err != nil {
		log.Error("storage failed", zap.Error(err))
		return UploadResult{}, asUploadFailure(err, KindStorage, "failed to store document")
	}

	// 6. Persisted
	doc := &models.Document{
		ID:                   documentID,
		UserID:               req.UserID,
		CategoryID:           category.ID,
		DocumentType:         category.TypeTag(),
		TemplateID:           req.TemplateID,
		OriginalFilename:     req.Filename,
		FileSize:             int64(len(req.Data)),
		MimeType:             validation.DetectedMIME,
		FileExtension:        ext,
		ContentHash:          contentHash,
		StorageProvider:      stored.Location.Provider,
		StorageBucket:        stored.Location.Bucket,
		StorageRegion:        stored.Location.Region,
		StoragePath:          stored.Path,
		BackupPath:           stored.BackupPath,
		EncryptionKeyID:      stored.KeyID,
		EncryptionAlgorithm:  stored.Algorithm,
		ValidationScore:      validation.Score,
		ValidationConfidence: validation.Confidence,
		ValidationErrors:     validation.Errors(),
		ValidationWarnings:   result.Validation.Warnings(),
		ExtractedData:        jsonColumn(validation.ExtractedData),
		Metadata:             jsonColumn(req.Metadata),
		ScanClean:            scan.Clean,
		ScanEngine:           scan.Engine,
		ScanThreats:          scan.Threats,
		Status:               models.DocumentStatusUploaded,
		ApprovalStatus:       models.ApprovalNotReviewed,
	}
	start = time.Now()
	err = o.ledger.Insert(ctx, doc, actorOr(req.Actor, req.UserID))
	o.timed(StagePersist, start)
	if err != nil {
		log.Error("ledger insert failed, removing stored object", zap.Error(err))
		if delErr := o.storage.Delete(persistentContext(ctx), DeleteRequest{
			DocumentID: documentID, UserID: req.UserID, Path: stored.Path, BackupPath: stored.BackupPath,
		}); delErr != nil {
			log.Warn("orphaned object left in storage", zap.String("path", stored.Path), zap.Error(delErr))
		}
		return UploadResult{}, asUploadFailure(err, KindDatabase, "failed to record document")
	}
	result.Document = doc

	// 7. Cleanup of replaced documents
	start = time.Now()
	replaced, effects := RetireDocuments(ctx, o.storage, o.ledger, existing, actorOr(req.Actor, req.UserID), "replaced by "+documentID, log)
	o.timed(StageCleanup, start)
	result.ReplacedDocumentIDs = replaced
	result.Merge(effects)

	result.Add(EffectAuditLog, documentID, o.audit.Record(persistentContext(ctx), models.AuditLog{
		UserID: req.UserID, Actor: actorOr(req.Actor, req.UserID), Action: AuditUpload,
		ResourceType: "document", ResourceID: documentID, Outcome: "accepted",
		Detail: category.ID,
	}))

	log.Info("document accepted",
		zap.Int("score", validation.Score),
		zap.Strings("replaced", replaced),
		zap.Int("warnings", len(result.Warnings())),
	)
	return result, nil
}

// RetireDocuments deletes the stored objects of docs and archives their ledger rows.
// Failures are logged and reported as side effects; they never fail the caller.
func RetireDocuments(ctx context.Context, storage StorageEngine, ledger DocumentLedger, docs []models.Document, actor, reason string, log *zap.Logger) ([]string, SideEffects) {
	ctx = persistentContext(ctx)
	var effects SideEffects
	retired := make([]string, 0, len(docs))
	for _, prev := range docs {
		if err := storage.Delete(ctx, DeleteRequest{
			DocumentID: prev.ID, UserID: prev.UserID, Path: prev.StoragePath, BackupPath: prev.BackupPath,
		}); err != nil {
			log.Warn("failed to delete replaced object", zap.String("replaced_id", prev.ID), zap.Error(err))
			effects.Add(EffectDeleteReplaced, prev.ID, err)
		}
		if err := ledger.MarkArchived(ctx, prev.ID, prev.UserID, actor, reason); err != nil {
			log.Warn("failed to archive replaced document", zap.String("replaced_id", prev.ID), zap.Error(err))
			effects.Add(EffectArchiveReplaced, prev.ID, err)
			continue
		}
		retired = append(retired, prev.ID)
	}
	return retired, effects
}

func checkUploadRequest(req UploadRequest) error {
	if !req.HasFile {
		return newError(KindClientInput, CodeMissingFile, "a file is required", nil)
	}
	var missing []string
	if strings.TrimSpace(req.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if strings.TrimSpace(req.CategoryID) == "" {
		missing = append(missing, "category_id")
	}
	if len(missing) > 0 {
		return newError(KindClientInput, CodeMissingFields, "required fields are missing: "+strings.Join(missing, ", "), nil).
			withDetails(map[string]any{"missing_fields": missing})
	}
	return nil
}

func (o *UploadOrchestrator) resolveCategory(ctx context.Context, req UploadRequest) (models.DocumentCategory, error) {
	category, err := o.categories.Get(ctx, strings.TrimSpace(req.CategoryID))
	if err != nil {
		if IsKind(err, KindNotFound) {
			return models.DocumentCategory{}, newError(KindClientInput, CodeInvalidCategory, "unknown document category", err)
		}
		return models.DocumentCategory{}, asUploadFailure(err, KindDatabase, "failed to load document category")
	}
	if !category.IsActive {
		return models.DocumentCategory{}, newError(KindClientInput, CodeInvalidCategory, "document category is no longer accepted", nil)
	}
	if req.Role != "" && !category.RoleScope.Covers(req.Role) {
		return models.DocumentCategory{}, newError(KindClientInput, CodeInvalidCategory, "document category does not apply to this account type", nil)
	}
	return category, nil
}

func (o *UploadOrchestrator) recordRejection(ctx context.Context, req UploadRequest, transientID, code, detail string) {
	_ = o.audit.Record(persistentContext(ctx), models.AuditLog{
		UserID: req.UserID, Actor: actorOr(req.Actor, req.UserID), Action: AuditUploadRejected,
		ResourceType: "upload", ResourceID: transientID, Outcome: code, Detail: detail,
	})
}

// asUploadFailure keeps the kind of a typed error but reports it under UPLOAD_FAILED.
func asUploadFailure(err error, kind ErrorKind, message string) *Error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		kind = svcErr.Kind
		if kind == KindClientInput || kind == KindNotFound {
			kind = KindInternal
		}
	}
	return newError(kind, CodeUploadFailed, message, err)
}

func actorOr(actor, fallback string) string {
	if strings.TrimSpace(actor) != "" {
		return actor
	}
	return fallback
}

func jsonColumn(v map[string]any) datatypes.JSON {
	if len(v) == 0 {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
