package services

import (
	"bytes"
	"context"
	"testing"

	"kyc-document-api/models"
)

func TestDownloadDecryptsAndAudits(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()
	data := pdfOfSize(2048)
	up, err := f.orch.Upload(ctx, pdfUpload("u1", "bank_statement", data))
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	svc := NewDocumentService(f.ledger, f.storage, f.audit, nil)
	got, effects, err := svc.Download(ctx, "u1", up.Document.ID, "")
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if !bytes.Equal(got.Content, data) {
		t.Fatal("downloaded content differs from upload")
	}
	if !effects.Empty() {
		t.Fatalf("unexpected warnings %s", effects.String())
	}
	last := f.audit.entries[len(f.audit.entries)-1]
	if last.Action != AuditDownload || last.Outcome != "served" || last.Actor != "u1" {
		t.Fatalf("unexpected audit entry %+v", last)
	}
}

func TestDownloadOtherUserIsNotFound(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()
	up, err := f.orch.Upload(ctx, pdfUpload("u1", "bank_statement", pdfOfSize(2048)))
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	svc := NewDocumentService(f.ledger, f.storage, f.audit, nil)
	if _, _, err := svc.Download(ctx, "u2", up.Document.ID, ""); !IsKind(err, KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
	if _, err := svc.Get(ctx, "u2", up.Document.ID, true); !IsKind(err, KindNotFound) {
		t.Fatalf("expected not_found from Get, got %v", err)
	}
}

func TestDownloadMissingObjectIsNotFound(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()
	up, err := f.orch.Upload(ctx, pdfUpload("u1", "bank_statement", pdfOfSize(2048)))
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if err := f.store.Delete(ctx, up.Document.StoragePath); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	svc := NewDocumentService(f.ledger, f.storage, f.audit, nil)
	_, _, err = svc.Download(ctx, "u1", up.Document.ID, "")
	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected not_found for a missing object, got %v", err)
	}
	last := f.audit.entries[len(f.audit.entries)-1]
	if last.Action != AuditDownload || last.Outcome == "served" {
		t.Fatalf("expected failed download to be audited, got %+v", last)
	}
}

func TestDeleteArchivesAndKeepsObject(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()
	up, err := f.orch.Upload(ctx, pdfUpload("u1", "bank_statement", pdfOfSize(2048)))
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	svc := NewDocumentService(f.ledger, f.storage, f.audit, nil)
	if _, err := svc.Delete(ctx, "u2", up.Document.ID, "u2"); !IsKind(err, KindNotFound) {
		t.Fatalf("expected not_found deleting another user's document, got %v", err)
	}
	if _, err := svc.Delete(ctx, "u1", up.Document.ID, "u1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := svc.Delete(ctx, "u1", up.Document.ID, "u1"); !IsKind(err, KindNotFound) {
		t.Fatalf("expected second delete to be not_found, got %v", err)
	}

	doc, err := svc.Get(ctx, "u1", up.Document.ID, true)
	if err != nil || doc.Status != models.DocumentStatusArchived {
		t.Fatalf("expected archived row, got %v, %v", doc, err)
	}
	if _, err := f.store.Get(ctx, up.Document.StoragePath); err != nil {
		t.Fatalf("expected object retained after delete, got %v", err)
	}

	docs, total, err := svc.List(ctx, "u1", DocumentFilter{})
	if err != nil || total != 0 || len(docs) != 0 {
		t.Fatalf("expected empty active list, got %d, %v", total, err)
	}
	if _, _, err := svc.List(ctx, "u1", DocumentFilter{Status: "lost"}); AsError(err).Code != CodeInvalidRequest {
		t.Fatalf("expected INVALID_REQUEST for unknown status, got %v", err)
	}
}
