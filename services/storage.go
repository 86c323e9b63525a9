package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"kyc-document-api/utils"
)

// ObjectLocation describes where an ObjectStore keeps its objects.
type ObjectLocation struct {
	Provider string
	Bucket   string
	Region   string
}

// ObjectStore is a flat key/value blob store. Get and Delete return ErrObjectNotFound
// for missing keys.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string, fn func(obj ObjectInfo) error) error
	Location() ObjectLocation
}

// ObjectInfo is one entry yielded by ObjectStore.List.
type ObjectInfo struct {
	Key          string
	LastModified time.Time
}

type StoreRequest struct {
	DocumentID  string
	UserID      string
	CategoryID  string
	Extension   string
	ContentType string
	Encrypt     bool
	Backup      bool
}

// StoredObject is what the ledger needs to find and decrypt the object again.
type StoredObject struct {
	Path       string
	BackupPath string
	KeyID      string
	Algorithm  string
	Location   ObjectLocation
	Size       int64
}

type RetrieveRequest struct {
	DocumentID string
	UserID     string
	Path       string
	BackupPath string
	KeyID      string
}

type DeleteRequest struct {
	DocumentID string
	UserID     string
	Path       string
	BackupPath string
}

// StorageEngine persists document bytes. Retrieve maps a missing object to KindNotFound
// and a key or integrity failure to KindAccessDenied.
type StorageEngine interface {
	Store(ctx context.Context, data []byte, req StoreRequest) (StoredObject, error)
	Retrieve(ctx context.Context, req RetrieveRequest) ([]byte, error)
	Delete(ctx context.Context, req DeleteRequest) error
}

// ObjectKeyPrefix is the root of every document object key.
const ObjectKeyPrefix = "kyc/"

const backupPrefix = "backup/"

// EncryptedStorage encrypts documents with per-document keys before handing them to an
// ObjectStore, optionally writing a second copy to a backup store.
type EncryptedStorage struct {
	primary ObjectStore
	backup  ObjectStore
	keys    *KeyRing
	log     *zap.Logger
}

// NewEncryptedStorage wires the engine. backup may be nil, in which case backup copies
// go to the primary store under the backup/ prefix.
func NewEncryptedStorage(primary, backup ObjectStore, keys *KeyRing, log *zap.Logger) *EncryptedStorage {
	if log == nil {
		log = zap.NewNop()
	}
	return &EncryptedStorage{primary: primary, backup: backup, keys: keys, log: log.Named("storage")}
}

func (s *EncryptedStorage) backupStore() ObjectStore {
	if s.backup != nil {
		return s.backup
	}
	return s.primary
}

// ObjectKey builds kyc/<user>/<category>/<document>[.ext][.enc].
func ObjectKey(userID, categoryID, documentID, ext string, encrypted bool) string {
	name := documentID
	if ext = strings.Trim(strings.ToLower(ext), "."); ext != "" {
		name += "." + utils.SafePathSegment(ext)
	}
	if encrypted {
		name += ".enc"
	}
	return path.Join(strings.TrimSuffix(ObjectKeyPrefix, "/"), utils.SafePathSegment(userID), utils.SafePathSegment(categoryID), name)
}

func (s *EncryptedStorage) Store(ctx context.Context, data []byte, req StoreRequest) (StoredObject, error) {
	obj := StoredObject{
		Path:      ObjectKey(req.UserID, req.CategoryID, req.DocumentID, req.Extension, req.Encrypt),
		Algorithm: AlgorithmNone,
		Location:  s.primary.Location(),
		Size:      int64(len(data)),
	}

	payload := data
	contentType := req.ContentType
	if req.Encrypt {
		keyID, key, err := s.keys.NewDataKey(req.UserID, req.DocumentID)
		if err != nil {
			return StoredObject{}, newError(KindStorage, CodeUploadFailed, "failed to derive encryption key", err)
		}
		payload, err = seal(key, data, associatedData(req.UserID, req.DocumentID))
		if err != nil {
			return StoredObject{}, newError(KindStorage, CodeUploadFailed, "failed to encrypt document", err)
		}
		obj.KeyID = keyID
		obj.Algorithm = AlgorithmXChaCha20
		contentType = "application/octet-stream"
	}

	if err := s.primary.Put(ctx, obj.Path, payload, contentType); err != nil {
		s.log.Error("object write failed", zap.String("document_id", req.DocumentID), zap.String("path", obj.Path), zap.Error(err))
		return StoredObject{}, newError(KindStorage, CodeUploadFailed, "failed to store document", err)
	}

	if req.Backup {
		backupPath := backupPrefix + obj.Path
		if err := s.backupStore().Put(ctx, backupPath, payload, contentType); err != nil {
			s.log.Warn("backup write failed", zap.String("document_id", req.DocumentID), zap.Error(err))
		} else {
			obj.BackupPath = backupPath
		}
	}

	s.log.Info("document stored",
		zap.String("document_id", req.DocumentID),
		zap.String("path", obj.Path),
		zap.String("algorithm", obj.Algorithm),
		zap.Bool("backup", obj.BackupPath != ""),
	)
	return obj, nil
}

func (s *EncryptedStorage) Retrieve(ctx context.Context, req RetrieveRequest) ([]byte, error) {
	if req.Path == "" {
		return nil, newError(KindNotFound, CodeNotFound, "document content not found", ErrObjectNotFound)
	}

	payload, err := s.primary.Get(ctx, req.Path)
	if errors.Is(err, ErrObjectNotFound) && req.BackupPath != "" {
		s.log.Warn("primary object missing, reading backup", zap.String("document_id", req.DocumentID))
		payload, err = s.backupStore().Get(ctx, req.BackupPath)
	}
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, newError(KindNotFound, CodeNotFound, "document content not found", err)
		}
		return nil, newError(KindStorage, CodeDownloadFailed, "failed to read document", err)
	}

	if req.KeyID == "" {
		return payload, nil
	}
	key, err := s.keys.DataKey(req.KeyID, req.UserID, req.DocumentID)
	if err != nil {
		s.log.Error("key resolution failed", zap.String("document_id", req.DocumentID), zap.Error(err))
		return nil, newError(KindAccessDenied, CodeAccessDenied, "document key unavailable", err)
	}
	plain, err := openSealed(key, payload, associatedData(req.UserID, req.DocumentID))
	if err != nil {
		s.log.Error("document decryption failed", zap.String("document_id", req.DocumentID), zap.Error(err))
		return nil, newError(KindAccessDenied, CodeAccessDenied, "document key unavailable", fmt.Errorf("%w: %v", ErrKeyUnavailable, err))
	}
	return plain, nil
}

// Delete removes the object and its backup. A missing object is not an error. When
// both paths are set a failed backup removal is logged only; a request naming just a
// backup path reports it.
func (s *EncryptedStorage) Delete(ctx context.Context, req DeleteRequest) error {
	if req.Path != "" {
		if err := s.primary.Delete(ctx, req.Path); err != nil && !errors.Is(err, ErrObjectNotFound) {
			return newError(KindStorage, CodeInternal, "failed to delete document", err)
		}
	}
	if req.BackupPath != "" {
		if err := s.backupStore().Delete(ctx, req.BackupPath); err != nil && !errors.Is(err, ErrObjectNotFound) {
			if req.Path == "" {
				return newError(KindStorage, CodeInternal, "failed to delete backup copy", err)
			}
			s.log.Warn("backup delete failed", zap.String("document_id", req.DocumentID), zap.Error(err))
		}
	}
	return nil
}

// ListObjects walks every document object in the primary store, then every backup copy.
// Backup keys carry the backup/ prefix.
func (s *EncryptedStorage) ListObjects(ctx context.Context, fn func(obj ObjectInfo) error) error {
	if err := s.primary.List(ctx, ObjectKeyPrefix, fn); err != nil {
		return err
	}
	return s.backupStore().List(ctx, backupPrefix+ObjectKeyPrefix, fn)
}
