// Package bootstrap builds the long-lived dependencies shared by the API server and
// the admin CLI.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"kyc-document-api/config"
	"kyc-document-api/services"
)

// Core is the database-backed part of the system.
type Core struct {
	DB         *gorm.DB
	Ledger     *services.GormLedger
	Categories *services.CategoryRegistry
	Audit      *services.GormAuditLogger
	Storage    *services.EncryptedStorage
}

// OpenCore connects to the database, runs migrations, seeds categories on first start
// and opens the document storage.
func OpenCore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Core, error) {
	db, err := config.OpenDB(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := config.Migrate(db, log); err != nil {
		return nil, err
	}

	categories := services.NewCategoryRegistry(db, time.Duration(cfg.CategoryCacheTTLSeconds)*time.Second, log).
		WithUploadLimit(cfg.UploadMaxBytes)
	seed, err := config.CategorySeed(cfg)
	if err != nil {
		return nil, err
	}
	if n, err := categories.Seed(ctx, seed, true); err != nil {
		return nil, fmt.Errorf("seed categories: %w", err)
	} else if n > 0 {
		log.Info("initial category set loaded", zap.Int("count", n))
	}

	storage, err := NewStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	return &Core{
		DB:         db,
		Ledger:     services.NewGormLedger(db, services.SystemClock()),
		Categories: categories,
		Audit:      services.NewGormAuditLogger(db, log),
		Storage:    storage,
	}, nil
}

// Close releases the database pool.
func (c *Core) Close() {
	if sqlDB, err := c.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// NewStorage builds the encrypted storage engine over the configured backend.
func NewStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (*services.EncryptedStorage, error) {
	masters, active, err := cfg.EncryptionKeys()
	if err != nil {
		return nil, err
	}
	keys, err := services.NewKeyRing(masters, active)
	if err != nil {
		return nil, err
	}

	var primary, backup services.ObjectStore
	switch cfg.StorageBackend {
	case "s3":
		store, err := services.NewMinioObjectStore(ctx, minioConfig(cfg, cfg.S3Bucket))
		if err != nil {
			return nil, err
		}
		primary = store
		if cfg.S3BackupBucket != "" {
			if backup, err = services.NewMinioObjectStore(ctx, minioConfig(cfg, cfg.S3BackupBucket)); err != nil {
				return nil, err
			}
		}
	default:
		store, err := services.NewLocalObjectStore(cfg.UploadPath)
		if err != nil {
			return nil, err
		}
		primary = store
	}

	log.Info("document storage ready",
		zap.String("backend", primary.Location().Provider),
		zap.String("bucket", primary.Location().Bucket),
		zap.Bool("separate_backup", backup != nil),
		zap.String("active_key_version", keys.ActiveVersion()))
	return services.NewEncryptedStorage(primary, backup, keys, log), nil
}

func minioConfig(cfg *config.Config, bucket string) services.MinioConfig {
	return services.MinioConfig{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    bucket,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
		PathStyle: cfg.S3PathStyle,
	}
}

// Scanner is a virus scanner together with a health probe for it.
type Scanner struct {
	services.VirusScanner
	Probe func(ctx context.Context) error
}

func NewScanner(cfg *config.Config, log *zap.Logger) (Scanner, error) {
	if cfg.ScannerBackend == "signature" {
		s, err := services.NewSignatureScanner(cfg.ScannerExtraSignatures, log)
		if err != nil {
			return Scanner{}, err
		}
		return Scanner{VirusScanner: s, Probe: func(context.Context) error { return nil }}, nil
	}
	clamd := services.NewClamdScanner(cfg.ClamdAddress, time.Duration(cfg.ClamdTimeoutSeconds)*time.Second, log)
	return Scanner{VirusScanner: clamd, Probe: clamd.Ping}, nil
}

// NewLocker returns the upload locker for UPLOAD_LOCK_MODE and, in redis mode, the
// client so the caller can close it.
func NewLocker(cfg *config.Config) (services.UploadLocker, *redis.Client) {
	ttl := time.Duration(cfg.UploadLockTTLSeconds) * time.Second
	switch cfg.UploadLockMode {
	case "local":
		return services.NewKeyedMutex(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return services.NewRedisLocker(client, ttl), client
	}
	return services.NoopLocker{}, nil
}
