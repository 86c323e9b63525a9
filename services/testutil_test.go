package services

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kyc-document-api/models"
)

var testEpoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// newTestDB opens a file-backed SQLite database with the full schema. Timestamps come
// from a ticking clock so ordering by created_at is deterministic.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	var tick int64
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "kyc.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return testEpoch.Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Second)
		},
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	// SQLite has a single writer.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func testKeyRing(t *testing.T, versions ...string) *KeyRing {
	t.Helper()
	if len(versions) == 0 {
		versions = []string{"v1"}
	}
	masters := make(map[string][]byte, len(versions))
	for i, v := range versions {
		masters[v] = bytes.Repeat([]byte{byte(i + 1)}, 32)
	}
	ring, err := NewKeyRing(masters, versions[len(versions)-1])
	if err != nil {
		t.Fatalf("failed to build keyring: %v", err)
	}
	return ring
}

func newTestStorage(t *testing.T) (*EncryptedStorage, *LocalObjectStore) {
	t.Helper()
	store, err := NewLocalObjectStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local store: %v", err)
	}
	return NewEncryptedStorage(store, nil, testKeyRing(t), nil), store
}

// pdfOfSize builds a minimal well-formed PDF of exactly n bytes.
func pdfOfSize(n int) []byte {
	head := "%PDF-1.4\n1 0 obj << /Type /Page >> endobj\n"
	tail := "\n%%EOF\n"
	pad := n - len(head) - len(tail)
	if pad < 0 {
		pad = 0
	}
	return []byte(head + strings.Repeat(" ", pad) + tail)
}

// staticCategories is an in-memory CategorySource.
type staticCategories struct {
	byID map[string]models.DocumentCategory
	list []models.DocumentCategory
}

func newStaticCategories(cats ...models.DocumentCategory) *staticCategories {
	s := &staticCategories{byID: map[string]models.DocumentCategory{}}
	for _, c := range cats {
		s.byID[c.ID] = c
		s.list = append(s.list, c)
	}
	return s
}

func (s *staticCategories) Get(_ context.Context, id string) (models.DocumentCategory, error) {
	c, ok := s.byID[id]
	if !ok {
		return models.DocumentCategory{}, newError(KindNotFound, CodeCategoryNotFound, "category not found", ErrCategoryNotFound)
	}
	return c, nil
}

func (s *staticCategories) ListForRole(_ context.Context, role models.KYCRole) ([]models.DocumentCategory, error) {
	var out []models.DocumentCategory
	for _, c := range s.list {
		if c.IsActive && c.RoleScope.Covers(role) {
			out = append(out, c)
		}
	}
	return out, nil
}

func pdfCategory(id string, scope models.RoleScope, required bool) models.DocumentCategory {
	return models.DocumentCategory{
		ID:             id,
		Name:           strings.ToUpper(id),
		RoleScope:      scope,
		RequiredForKYC: required,
		MaxFileSizeMB:  1,
		AllowedFormats: []string{"pdf", "jpg", "png"},
		IsActive:       true,
	}
}

// recordingAudit keeps audit entries in memory and can be told to fail.
type recordingAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
	err     error
}

func (a *recordingAudit) Record(_ context.Context, entry models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, entry)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}
