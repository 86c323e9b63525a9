package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every runtime setting of the API and the admin CLI.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	GinMode     string `mapstructure:"GIN_MODE"`
	Environment string `mapstructure:"ENVIRONMENT"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogFile     string `mapstructure:"LOG_FILE"`
	CORSOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	DBDriver       string `mapstructure:"DB_DRIVER"`
	DBHost         string `mapstructure:"DB_HOST"`
	DBPort         string `mapstructure:"DB_PORT"`
	DBDatabase     string `mapstructure:"DB_DATABASE"`
	DBUsername     string `mapstructure:"DB_USERNAME"`
	DBPassword     string `mapstructure:"DB_PASSWORD"`
	DBSSLMode      string `mapstructure:"DB_SSLMODE"`
	DebugSQL       bool   `mapstructure:"DEBUG_SQL"`
	DBMaxOpenConns int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns int    `mapstructure:"DB_MAX_IDLE_CONNS"`

	JWTSecret string `mapstructure:"JWT_SECRET"`

	StorageBackend      string `mapstructure:"STORAGE_BACKEND"`
	UploadPath          string `mapstructure:"UPLOAD_PATH"`
	S3Endpoint          string `mapstructure:"S3_ENDPOINT"`
	S3Region            string `mapstructure:"S3_REGION"`
	S3Bucket            string `mapstructure:"S3_BUCKET"`
	S3BackupBucket      string `mapstructure:"S3_BACKUP_BUCKET"`
	S3AccessKey         string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey         string `mapstructure:"S3_SECRET_KEY"`
	S3UseSSL            bool   `mapstructure:"S3_USE_SSL"`
	S3PathStyle         bool   `mapstructure:"S3_PATH_STYLE"`
	StorageCreateBackup bool   `mapstructure:"STORAGE_CREATE_BACKUP"`

	MasterKeys       string `mapstructure:"KYC_MASTER_KEYS"`
	ActiveKeyVersion string `mapstructure:"KYC_ACTIVE_KEY_VERSION"`

	ScannerBackend         string `mapstructure:"SCANNER_BACKEND"`
	ClamdAddress           string `mapstructure:"CLAMD_ADDRESS"`
	ClamdTimeoutSeconds    int    `mapstructure:"CLAMD_TIMEOUT_SECONDS"`
	ScannerExtraSignatures string `mapstructure:"SCANNER_EXTRA_SIGNATURES"`

	UploadMaxBytes     int64 `mapstructure:"UPLOAD_MAX_BYTES"`
	ValidationMinScore int   `mapstructure:"VALIDATION_MIN_SCORE"`

	UploadLockMode       string `mapstructure:"UPLOAD_LOCK_MODE"`
	UploadLockTTLSeconds int    `mapstructure:"UPLOAD_LOCK_TTL_SECONDS"`
	RedisAddr            string `mapstructure:"REDIS_ADDR"`
	RedisPassword        string `mapstructure:"REDIS_PASSWORD"`
	RedisDB              int    `mapstructure:"REDIS_DB"`

	CategoryCacheTTLSeconds int    `mapstructure:"CATEGORY_CACHE_TTL_SECONDS"`
	CategorySeedFile        string `mapstructure:"CATEGORY_SEED_FILE"`

	SMTPHost          string `mapstructure:"SMTP_HOST"`
	SMTPPort          int    `mapstructure:"SMTP_PORT"`
	SMTPUser          string `mapstructure:"SMTP_USER"`
	SMTPPass          string `mapstructure:"SMTP_PASS"`
	SMTPFrom          string `mapstructure:"SMTP_FROM"`
	SMTPSkipTLSVerify bool   `mapstructure:"SMTP_SKIP_TLS_VERIFY"`
	KYCNotifyTo       string `mapstructure:"KYC_NOTIFY_TO"`

	MonitorEnabled bool `mapstructure:"MONITOR_ENABLED"`
}

var defaults = map[string]any{
	"SERVER_PORT":                "8080",
	"GIN_MODE":                   "debug",
	"ENVIRONMENT":                "development",
	"LOG_LEVEL":                  "",
	"LOG_FILE":                   "logs/kyc-document-api.log",
	"CORS_ALLOWED_ORIGINS":       "http://localhost:3000",
	"DB_DRIVER":                  "postgres",
	"DB_HOST":                    "localhost",
	"DB_PORT":                    "5432",
	"DB_DATABASE":                "kyc_documents",
	"DB_USERNAME":                "postgres",
	"DB_PASSWORD":                "",
	"DB_SSLMODE":                 "disable",
	"DEBUG_SQL":                  false,
	"DB_MAX_OPEN_CONNS":          25,
	"DB_MAX_IDLE_CONNS":          5,
	"JWT_SECRET":                 "",
	"STORAGE_BACKEND":            "local",
	"UPLOAD_PATH":                "./uploads",
	"S3_ENDPOINT":                "",
	"S3_REGION":                  "me-central-1",
	"S3_BUCKET":                  "kyc-documents",
	"S3_BACKUP_BUCKET":           "",
	"S3_ACCESS_KEY":              "",
	"S3_SECRET_KEY":              "",
	"S3_USE_SSL":                 true,
	"S3_PATH_STYLE":              true,
	"STORAGE_CREATE_BACKUP":      false,
	"KYC_MASTER_KEYS":            "",
	"KYC_ACTIVE_KEY_VERSION":     "",
	"SCANNER_BACKEND":            "clamd",
	"CLAMD_ADDRESS":              "localhost:3310",
	"CLAMD_TIMEOUT_SECONDS":      30,
	"SCANNER_EXTRA_SIGNATURES":   "",
	"UPLOAD_MAX_BYTES":           int64(25 << 20),
	"VALIDATION_MIN_SCORE":       50,
	"UPLOAD_LOCK_MODE":           "none",
	"UPLOAD_LOCK_TTL_SECONDS":    60,
	"REDIS_ADDR":                 "localhost:6379",
	"REDIS_PASSWORD":             "",
	"REDIS_DB":                   0,
	"CATEGORY_CACHE_TTL_SECONDS": 300,
	"CATEGORY_SEED_FILE":         "",
	"SMTP_HOST":                  "",
	"SMTP_PORT":                  587,
	"SMTP_USER":                  "",
	"SMTP_PASS":                  "",
	"SMTP_FROM":                  "",
	"SMTP_SKIP_TLS_VERIFY":       false,
	"KYC_NOTIFY_TO":              "",
	"MONITOR_ENABLED":            true,
}

// Load reads .env (when present) and the process environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	return loadFrom(viper.New())
}

func loadFrom(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	c.ScannerBackend = strings.ToLower(strings.TrimSpace(c.ScannerBackend))
	c.UploadLockMode = strings.ToLower(strings.TrimSpace(c.UploadLockMode))
}

// IsProduction reports whether ENVIRONMENT=production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate checks settings that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if _, _, err := c.EncryptionKeys(); err != nil {
		errs = append(errs, err)
	}

	switch c.DBDriver {
	case "postgres", "mysql":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or mysql, got %q", c.DBDriver))
	}

	switch c.StorageBackend {
	case "local":
		if c.UploadPath == "" {
			errs = append(errs, errors.New("UPLOAD_PATH is required for local storage"))
		}
	case "s3":
		if c.S3Endpoint == "" || c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_ENDPOINT and S3_BUCKET are required for s3 storage"))
		}
		if c.S3AccessKey == "" || c.S3SecretKey == "" {
			errs = append(errs, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY are required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be local or s3, got %q", c.StorageBackend))
	}

	switch c.ScannerBackend {
	case "clamd":
		if c.ClamdAddress == "" {
			errs = append(errs, errors.New("CLAMD_ADDRESS is required for the clamd scanner"))
		}
	case "signature":
	default:
		errs = append(errs, fmt.Errorf("SCANNER_BACKEND must be clamd or signature, got %q", c.ScannerBackend))
	}

	switch c.UploadLockMode {
	case "none", "local":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when UPLOAD_LOCK_MODE=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("UPLOAD_LOCK_MODE must be none, local or redis, got %q", c.UploadLockMode))
	}

	if c.ValidationMinScore < 0 || c.ValidationMinScore > 100 {
		errs = append(errs, errors.New("VALIDATION_MIN_SCORE must be between 0 and 100"))
	}
	return errors.Join(errs...)
}

// EncryptionKeys parses KYC_MASTER_KEYS ("v1:<base64>,v2:<base64>") and returns the
// keys by version together with the active version. Every key must decode to 32 bytes.
func (c *Config) EncryptionKeys() (map[string][]byte, string, error) {
	raw := strings.TrimSpace(c.MasterKeys)
	if raw == "" {
		return nil, "", errors.New("KYC_MASTER_KEYS is required")
	}

	keys := make(map[string][]byte)
	var last string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		version, encoded, ok := strings.Cut(part, ":")
		version = strings.TrimSpace(version)
		if !ok || version == "" {
			return nil, "", fmt.Errorf("KYC_MASTER_KEYS entry %q must be version:base64", part)
		}
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
		if err != nil {
			return nil, "", fmt.Errorf("KYC_MASTER_KEYS version %s: %w", version, err)
		}
		if len(key) != 32 {
			return nil, "", fmt.Errorf("KYC_MASTER_KEYS version %s must be 32 bytes, got %d", version, len(key))
		}
		keys[version] = key
		last = version
	}
	if len(keys) == 0 {
		return nil, "", errors.New("KYC_MASTER_KEYS has no usable entries")
	}

	active := strings.TrimSpace(c.ActiveKeyVersion)
	if active == "" {
		active = last
	}
	if _, ok := keys[active]; !ok {
		return nil, "", fmt.Errorf("KYC_ACTIVE_KEY_VERSION %q is not present in KYC_MASTER_KEYS", active)
	}
	return keys, active, nil
}

// CORSOriginList splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) CORSOriginList() []string {
	var out []string
	for _, origin := range strings.Split(c.CORSOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// NotifyRecipients splits KYC_NOTIFY_TO on commas.
func (c *Config) NotifyRecipients() []string {
	var out []string
	for _, addr := range strings.Split(c.KYCNotifyTo, ",") {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// String renders the configuration with secrets masked.
func (c Config) String() string {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	c.DBPassword = mask(c.DBPassword)
	c.JWTSecret = mask(c.JWTSecret)
	c.S3AccessKey = mask(c.S3AccessKey)
	c.S3SecretKey = mask(c.S3SecretKey)
	c.MasterKeys = mask(c.MasterKeys)
	c.RedisPassword = mask(c.RedisPassword)
	c.SMTPPass = mask(c.SMTPPass)
	type plain Config
	return fmt.Sprintf("%+v", plain(c))
}
