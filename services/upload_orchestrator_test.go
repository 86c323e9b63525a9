package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"kyc-document-api/models"
)

// countingStorage records calls made through a real StorageEngine.
type countingStorage struct {
	StorageEngine
	mu        sync.Mutex
	stored    []string
	deleted   []string
	deleteErr error
}

func (s *countingStorage) Store(ctx context.Context, data []byte, req StoreRequest) (StoredObject, error) {
	obj, err := s.StorageEngine.Store(ctx, data, req)
	if err == nil {
		s.mu.Lock()
		s.stored = append(s.stored, obj.Path)
		s.mu.Unlock()
	}
	return obj, err
}

func (s *countingStorage) Delete(ctx context.Context, req DeleteRequest) error {
	s.mu.Lock()
	s.deleted = append(s.deleted, req.Path)
	s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.StorageEngine.Delete(ctx, req)
}

// faultyLedger injects failures into selected ledger calls.
type faultyLedger struct {
	DocumentLedger
	insertErr  error
	lookupErr  error
	archiveErr error
}

func (l *faultyLedger) Insert(ctx context.Context, doc *models.Document, actor string) error {
	if l.insertErr != nil {
		return l.insertErr
	}
	return l.DocumentLedger.Insert(ctx, doc, actor)
}

func (l *faultyLedger) FindActiveInCategory(ctx context.Context, userID, categoryID string) ([]models.Document, error) {
	if l.lookupErr != nil {
		return nil, l.lookupErr
	}
	return l.DocumentLedger.FindActiveInCategory(ctx, userID, categoryID)
}

func (l *faultyLedger) MarkArchived(ctx context.Context, documentID, userID, actor, reason string) error {
	if l.archiveErr != nil {
		return l.archiveErr
	}
	return l.DocumentLedger.MarkArchived(ctx, documentID, userID, actor, reason)
}

type recordingObserver struct {
	mu       sync.Mutex
	stages   []string
	outcomes []string
}

func (o *recordingObserver) ObserveStage(stage string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stage)
}

func (o *recordingObserver) ObserveOutcome(code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, code)
}

type brokenScanner struct{}

func (brokenScanner) Scan(context.Context, []byte, ScanRequest) (ScanResult, error) {
	return ScanResult{}, errors.New("connection refused")
}

type failingLocker struct{}

func (failingLocker) Lock(context.Context, string, string) (func(), error) {
	return nil, ErrLockNotAcquired
}

type uploadFixture struct {
	orch     *UploadOrchestrator
	ledger   *faultyLedger
	storage  *countingStorage
	store    *LocalObjectStore
	audit    *recordingAudit
	observer *recordingObserver
}

func newUploadFixture(t *testing.T) *uploadFixture {
	t.Helper()
	scanner, err := NewSignatureScanner("", nil)
	if err != nil {
		t.Fatalf("scanner: %v", err)
	}
	engine, store := newTestStorage(t)
	f := &uploadFixture{
		ledger:   &faultyLedger{DocumentLedger: NewGormLedger(newTestDB(t), nil)},
		storage:  &countingStorage{StorageEngine: engine},
		store:    store,
		audit:    &recordingAudit{},
		observer: &recordingObserver{},
	}
	categories := newStaticCategories(
		pdfCategory("bank_statement", models.ScopeBoth, true),
		pdfCategory("commercial_registration", models.ScopeContractor, true),
	)
	f.orch = NewUploadOrchestrator(scanner, NewDocumentValidator(MetadataExtractor{}, 50, nil), f.storage, f.ledger,
		categories, UploadOptions{Encrypt: true}, nil).
		WithAudit(f.audit).
		WithObserver(f.observer)
	return f
}

func pdfUpload(user, category string, data []byte) UploadRequest {
	return UploadRequest{
		UserID:       user,
		CategoryID:   category,
		Role:         models.RoleCustomer,
		HasFile:      true,
		Filename:     "statement.pdf",
		DeclaredMIME: "application/pdf",
		DeclaredSize: int64(len(data)),
		Data:         data,
	}
}

func (f *uploadFixture) active(t *testing.T, user, category string) []models.Document {
	t.Helper()
	docs, err := f.ledger.DocumentLedger.FindActiveInCategory(context.Background(), user, category)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	return docs
}

func TestUploadAcceptsCleanDocument(t *testing.T) {
	f := newUploadFixture(t)
	res, err := f.orch.Upload(context.Background(), pdfUpload("u1", "bank_statement", pdfOfSize(2048)))
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	doc := res.Document
	if doc == nil || doc.Status != models.DocumentStatusUploaded || !doc.ScanClean {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.EncryptionAlgorithm != AlgorithmXChaCha20 || doc.EncryptionKeyID == "" {
		t.Fatalf("expected encrypted storage, got %q/%q", doc.EncryptionAlgorithm, doc.EncryptionKeyID)
	}
	if !strings.HasPrefix(doc.StoragePath, "kyc/u1/bank_statement/") || len(doc.ContentHash) != 64 {
		t.Fatalf("unexpected storage path or hash %q %q", doc.StoragePath, doc.ContentHash)
	}
	if !res.Empty() || len(res.ReplacedDocumentIDs) != 0 {
		t.Fatalf("expected no warnings or replacements, got %s", res.String())
	}
	if got := f.audit.actions(); len(got) != 1 || got[0] != AuditUpload {
		t.Fatalf("expected upload audit, got %v", got)
	}
	if len(f.observer.outcomes) != 1 || f.observer.outcomes[0] != OutcomeSuccess {
		t.Fatalf("expected SUCCESS outcome, got %v", f.observer.outcomes)
	}
	want := []string{StageLookup, StageScan, StageValidate, StageStore, StagePersist, StageCleanup}
	if strings.Join(f.observer.stages, ",") != strings.Join(want, ",") {
		t.Fatalf("expected stages %v, got %v", want, f.observer.stages)
	}
}

func TestUploadInfectedStoresNothing(t *testing.T) {
	f := newUploadFixture(t)
	_, err := f.orch.Upload(context.Background(), pdfUpload("u1", "bank_statement", []byte(EICARSignature)))
	svcErr := AsError(err)
	if svcErr.Kind != KindVirusDetected || svcErr.Code != CodeVirusDetected {
		t.Fatalf("expected VIRUS_DETECTED, got %s/%s", svcErr.Kind, svcErr.Code)
	}
	if len(f.storage.stored) != 0 || len(f.active(t, "u1", "bank_statement")) != 0 {
		t.Fatal("expected nothing stored or recorded for an infected file")
	}
	if got := f.audit.actions(); len(got) != 1 || got[0] != AuditUploadRejected {
		t.Fatalf("expected rejection audit, got %v", got)
	}
	if f.observer.outcomes[0] != CodeVirusDetected {
		t.Fatalf("expected VIRUS_DETECTED outcome, got %v", f.observer.outcomes)
	}
}

func TestUploadValidationFailureStoresNothing(t *testing.T) {
	f := newUploadFixture(t)
	_, err := f.orch.Upload(context.Background(), pdfUpload("u1", "bank_statement", pdfOfSize(2<<20)))
	svcErr := AsError(err)
	if svcErr.Code != CodeValidationFailed {
		t.Fatalf("expected VALIDATION_FAILED, got %s", svcErr.Code)
	}
	if errs, _ := svcErr.Details["errors"].([]string); len(errs) == 0 {
		t.Fatalf("expected validation errors in details, got %v", svcErr.Details)
	}
	if len(f.storage.stored) != 0 {
		t.Fatalf("expected no storage writes, got %v", f.storage.stored)
	}
}

func TestUploadScannerUnavailable(t *testing.T) {
	f := newUploadFixture(t)
	f.orch.scanner = brokenScanner{}
	_, err := f.orch.Upload(context.Background(), pdfUpload("u1", "bank_statement", pdfOfSize(1024)))
	if svcErr := AsError(err); svcErr.Kind != KindScannerUnavailable || svcErr.Code != CodeScanUnavailable {
		t.Fatalf("expected SCAN_UNAVAILABLE, got %s/%s", svcErr.Kind, svcErr.Code)
	}
	if len(f.storage.stored) != 0 {
		t.Fatal("expected nothing stored when the scanner is down")
	}
}

func TestUploadReplacesPreviousDocument(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()
	first, err := f.orch.Upload(ctx, pdfUpload("u1", "bank_statement", pdfOfSize(2048)))
	if err != nil {
		t.Fatalf("first upload failed: %v", err)
	}
	second, err := f.orch.Upload(ctx, pdfUpload("u1", "bank_statement", pdfOfSize(4096)))
	if err != nil {
		t.Fatalf("second upload failed: %v", err)
	}

	if len(second.ReplacedDocumentIDs) != 1 || second.ReplacedDocumentIDs[0] != first.Document.ID {
		t.Fatalf("expected first document replaced, got %v", second.ReplacedDocumentIDs)
	}
	active := f.active(t, "u1", "bank_statement")
	if len(active) != 1 || active[0].ID != second.Document.ID {
		t.Fatalf("expected exactly the new document active, got %v", ids(active))
	}
	if _, err := f.store.Get(ctx, first.Document.StoragePath); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected replaced object removed, got %v", err)
	}
	old, err := f.ledger.GetForOwner(ctx, first.Document.ID, "u1", true)
	if err != nil || old.Status != models.DocumentStatusArchived {
		t.Fatalf("expected replaced row archived, got %v, %v", old, err)
	}
}

func TestUploadFlagsDuplicateContent(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()
	data := pdfOfSize(2048)
	if _, err := f.orch.Upload(ctx, pdfUpload("u1", "bank_statement", data)); err != nil {
		t.Fatalf("first upload failed: %v", err)
	}
	res, err := f.orch.Upload(ctx, pdfUpload("u1", "bank_statement", data))
	if err != nil {
		t.Fatalf("duplicate upload must still succeed: %v", err)
	}
	found := false
	for _, w := range res.Document.ValidationWarnings {
		if strings.HasPrefix(w, "DUPLICATE_CONTENT") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected duplicate warning, got %v", res.Document.ValidationWarnings)
	}
}

func TestUploadLookupFailureIsNotFatal(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()
	if _, err := f.orch.Upload(ctx, pdfUpload("u1", "bank_statement", pdfOfSize(2048))); err != nil {
		t.Fatalf("first upload failed: %v", err)
	}

	f.ledger.lookupErr = errors.New("replica lag")
	res, err := f.orch.Upload(ctx, pdfUpload("u1", "bank_statement", pdfOfSize(3000)))
	if err != nil {
		t.Fatalf("expected upload to succeed, got %v", err)
	}
	if effects := res.Effects(); len(effects) != 1 || effects[0] != EffectExistingLookup {
		t.Fatalf("expected lookup warning, got %v", effects)
	}
	if len(res.ReplacedDocumentIDs) != 0 {
		t.Fatalf("expected nothing replaced without a lookup, got %v", res.ReplacedDocumentIDs)
	}
}

func TestUploadCleanupFailuresBecomeWarnings(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()
	first, err := f.orch.Upload(ctx, pdfUpload("u1", "bank_statement", pdfOfSize(2048)))
	if err != nil {
		t.Fatalf("first upload failed: %v", err)
	}

	f.storage.deleteErr = errors.New("bucket unavailable")
	f.ledger.archiveErr = errors.New("deadlock")
	f.audit.err = errors.New("audit table locked")
	res, err := f.orch.Upload(ctx, pdfUpload("u1", "bank_statement", pdfOfSize(3000)))
	if err != nil {
		t.Fatalf("expected cleanup failures not to fail the upload, got %v", err)
	}
	got := strings.Join(res.Effects(), ",")
	if got != EffectDeleteReplaced+","+EffectArchiveReplaced+","+EffectAuditLog {
		t.Fatalf("unexpected warnings %s", got)
	}
	for _, w := range res.Warnings() {
		if w.Effect != EffectAuditLog && w.DocumentID != first.Document.ID {
			t.Fatalf("expected warning about %s, got %+v", first.Document.ID, w)
		}
	}
}

func TestUploadLedgerFailureRemovesStoredObject(t *testing.T) {
	f := newUploadFixture(t)
	f.ledger.insertErr = dbError("failed to record document", errors.New("disk full"))

	_, err := f.orch.Upload(context.Background(), pdfUpload("u1", "bank_statement", pdfOfSize(2048)))
	svcErr := AsError(err)
	if svcErr.Code != CodeUploadFailed || svcErr.Kind != KindDatabase {
		t.Fatalf("expected database UPLOAD_FAILED, got %s/%s", svcErr.Kind, svcErr.Code)
	}
	if len(f.storage.stored) != 1 || len(f.storage.deleted) != 1 || f.storage.deleted[0] != f.storage.stored[0] {
		t.Fatalf("expected the stored object to be deleted, stored=%v deleted=%v", f.storage.stored, f.storage.deleted)
	}
	if _, err := f.store.Get(context.Background(), f.storage.stored[0]); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected no orphan left behind, got %v", err)
	}
}

func TestUploadRequestChecks(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	req := pdfUpload("u1", "bank_statement", pdfOfSize(100))
	req.HasFile = false
	if _, err := f.orch.Upload(ctx, req); AsError(err).Code != CodeMissingFile {
		t.Fatalf("expected MISSING_FILE, got %v", err)
	}

	_, err := f.orch.Upload(ctx, pdfUpload("", "", pdfOfSize(100)))
	svcErr := AsError(err)
	if svcErr.Code != CodeMissingFields {
		t.Fatalf("expected MISSING_FIELDS, got %s", svcErr.Code)
	}
	if missing, _ := svcErr.Details["missing_fields"].([]string); len(missing) != 2 {
		t.Fatalf("expected both fields reported, got %v", svcErr.Details)
	}

	if _, err := f.orch.Upload(ctx, pdfUpload("u1", "passport", pdfOfSize(100))); AsError(err).Code != CodeInvalidCategory {
		t.Fatalf("expected INVALID_CATEGORY for unknown category, got %v", err)
	}
	if _, err := f.orch.Upload(ctx, pdfUpload("u1", "commercial_registration", pdfOfSize(100))); AsError(err).Code != CodeInvalidCategory {
		t.Fatalf("expected INVALID_CATEGORY for a contractor-only category, got %v", err)
	}
	if len(f.storage.stored) != 0 {
		t.Fatal("expected nothing stored for rejected requests")
	}
}

func TestUploadContinuesWhenLockUnavailable(t *testing.T) {
	f := newUploadFixture(t)
	f.orch.WithLocker(failingLocker{})
	res, err := f.orch.Upload(context.Background(), pdfUpload("u1", "bank_statement", pdfOfSize(2048)))
	if err != nil {
		t.Fatalf("expected upload without lock to succeed, got %v", err)
	}
	if effects := res.Effects(); len(effects) != 1 || effects[0] != EffectUploadLock {
		t.Fatalf("expected upload_lock warning, got %v", effects)
	}
}

func TestConcurrentUploadsWithKeyedMutexLeaveOneActive(t *testing.T) {
	f := newUploadFixture(t)
	f.orch.WithLocker(NewKeyedMutex())

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(size int) {
			defer wg.Done()
			_, err := f.orch.Upload(context.Background(), pdfUpload("u1", "bank_statement", pdfOfSize(size)))
			errs <- err
		}(2048 + i*100)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("upload failed: %v", err)
		}
	}
	if active := f.active(t, "u1", "bank_statement"); len(active) != 1 {
		t.Fatalf("expected one active document, got %v", ids(active))
	}
}
