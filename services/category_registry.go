package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kyc-document-api/models"
)

// CategoryRegistry serves document categories from a short-lived in-memory cache in
// front of the database. Writes invalidate the cache.
type CategoryRegistry struct {
	db  *gorm.DB
	ttl time.Duration
	log *zap.Logger

	// uploadLimit is the largest body the upload endpoint accepts; zero means unbounded.
	uploadLimit int64

	mu    sync.RWMutex
	cache *categoryCacheEntry
}

type categoryCacheEntry struct {
	ordered   []models.DocumentCategory
	byID      map[string]models.DocumentCategory
	fetchedAt time.Time
}

const missRefreshInterval = time.Second

// WithUploadLimit rejects category definitions whose max_file_size_mb the transport
// would never let through.
func (r *CategoryRegistry) WithUploadLimit(maxBytes int64) *CategoryRegistry {
	r.uploadLimit = maxBytes
	return r
}

func NewCategoryRegistry(db *gorm.DB, ttl time.Duration, log *zap.Logger) *CategoryRegistry {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CategoryRegistry{db: db, ttl: ttl, log: log.Named("categories")}
}

func (r *CategoryRegistry) load(ctx context.Context, force bool) (*categoryCacheEntry, error) {
	r.mu.RLock()
	cached := r.cache
	r.mu.RUnlock()

	if cached != nil && !force && time.Since(cached.fetchedAt) < r.ttl {
		return cached, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cache != nil && !force && time.Since(r.cache.fetchedAt) < r.ttl {
		return r.cache, nil
	}

	var rows []models.DocumentCategory
	if err := r.db.WithContext(ctx).Order("display_order ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, dbError("failed to load document categories", err)
	}

	byID := make(map[string]models.DocumentCategory, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	entry := &categoryCacheEntry{ordered: rows, byID: byID, fetchedAt: time.Now()}
	r.cache = entry
	return entry, nil
}

// Invalidate drops the cache so the next read hits the database.
func (r *CategoryRegistry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = nil
}

// ListAll returns every category, inactive ones included.
func (r *CategoryRegistry) ListAll(ctx context.Context) ([]models.DocumentCategory, error) {
	entry, err := r.load(ctx, false)
	if err != nil {
		return nil, err
	}
	return append([]models.DocumentCategory(nil), entry.ordered...), nil
}

// ListActive returns active categories in display order.
func (r *CategoryRegistry) ListActive(ctx context.Context) ([]models.DocumentCategory, error) {
	entry, err := r.load(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]models.DocumentCategory, 0, len(entry.ordered))
	for _, c := range entry.ordered {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

// ListForRole returns active categories whose scope covers role.
func (r *CategoryRegistry) ListForRole(ctx context.Context, role models.KYCRole) ([]models.DocumentCategory, error) {
	active, err := r.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.DocumentCategory, 0, len(active))
	for _, c := range active {
		if c.RoleScope.Covers(role) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Get returns a category by id. Ids are case-insensitive. A miss refreshes the cache
// unless it was loaded within the last missRefreshInterval.
func (r *CategoryRegistry) Get(ctx context.Context, id string) (models.DocumentCategory, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return models.DocumentCategory{}, newError(KindNotFound, CodeCategoryNotFound, "category not found", ErrCategoryNotFound)
	}

	entry, err := r.load(ctx, false)
	if err != nil {
		return models.DocumentCategory{}, err
	}
	if c, ok := entry.byID[id]; ok {
		return c, nil
	}

	if time.Since(entry.fetchedAt) >= missRefreshInterval {
		entry, err = r.load(ctx, true)
		if err != nil {
			return models.DocumentCategory{}, err
		}
		if c, ok := entry.byID[id]; ok {
			return c, nil
		}
	}
	return models.DocumentCategory{}, newError(KindNotFound, CodeCategoryNotFound, fmt.Sprintf("category '%s' not found", id), ErrCategoryNotFound)
}

// RulesFor converts a category into validator rules.
func RulesFor(c models.DocumentCategory) ValidationRules {
	return ValidationRules{
		CategoryID:     c.ID,
		AllowedFormats: append([]string(nil), c.AllowedFormats...),
		MaxSizeBytes:   c.MaxFileSizeBytes(),
		MinScore:       c.MinValidationScore,
		RequiredFields: append([]string(nil), c.RequiredFields...),
	}
}

// ValidationRulesFor returns the rules for an active category.
func (r *CategoryRegistry) ValidationRulesFor(ctx context.Context, id string) (ValidationRules, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return ValidationRules{}, err
	}
	return RulesFor(c), nil
}

func validateCategory(c *models.DocumentCategory) error {
	c.ID = strings.TrimSpace(strings.ToLower(c.ID))
	c.Name = strings.TrimSpace(c.Name)
	var problems []string
	if c.ID == "" {
		problems = append(problems, "id is required")
	}
	if c.Name == "" {
		problems = append(problems, "name is required")
	}
	scope, ok := models.ParseRoleScope(string(c.RoleScope))
	if !ok {
		problems = append(problems, fmt.Sprintf("role_scope %q is invalid", c.RoleScope))
	}
	c.RoleScope = scope
	if c.MaxFileSizeMB < 0 {
		problems = append(problems, "max_file_size_mb must not be negative")
	}
	if c.MinValidationScore < 0 || c.MinValidationScore > 100 {
		problems = append(problems, "min_validation_score must be between 0 and 100")
	}
	if len(c.AllowedFormats) == 0 {
		problems = append(problems, "allowed_formats must list at least one format")
	}
	if len(problems) > 0 {
		return newError(KindClientInput, CodeInvalidCategoryDef, strings.Join(problems, "; "), nil)
	}
	return nil
}

// Upsert creates or replaces a category definition.
func (r *CategoryRegistry) Upsert(ctx context.Context, c models.DocumentCategory) (models.DocumentCategory, error) {
	if err := validateCategory(&c); err != nil {
		return models.DocumentCategory{}, err
	}
	if r.uploadLimit > 0 && c.MaxFileSizeBytes() > r.uploadLimit {
		return models.DocumentCategory{}, newError(KindClientInput, CodeInvalidCategoryDef,
			fmt.Sprintf("max_file_size_mb %d exceeds the upload limit of %d bytes", c.MaxFileSizeMB, r.uploadLimit), nil)
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "name_ar", "description", "document_type", "role_scope", "required_for_kyc",
			"max_file_size_mb", "allowed_formats", "min_validation_score", "required_fields",
			"display_order", "is_active", "updated_at",
		}),
	}).Create(&c).Error
	if err != nil {
		return models.DocumentCategory{}, dbError("failed to save category", err)
	}
	r.Invalidate()
	r.log.Info("category saved", zap.String("category_id", c.ID), zap.Bool("active", c.IsActive))
	return r.Get(ctx, c.ID)
}

// Deactivate soft-disables a category. Existing documents keep referencing it.
func (r *CategoryRegistry) Deactivate(ctx context.Context, id string) error {
	id = strings.ToLower(strings.TrimSpace(id))
	res := r.db.WithContext(ctx).Model(&models.DocumentCategory{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": false, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return dbError("failed to deactivate category", res.Error)
	}
	if res.RowsAffected == 0 {
		return newError(KindNotFound, CodeCategoryNotFound, fmt.Sprintf("category '%s' not found", id), ErrCategoryNotFound)
	}
	r.Invalidate()
	r.log.Info("category deactivated", zap.String("category_id", id))
	return nil
}

type categorySeedFile struct {
	Categories []categorySeed `yaml:"categories"`
}

type categorySeed struct {
	ID                 string   `yaml:"id"`
	Name               string   `yaml:"name"`
	NameAr             string   `yaml:"name_ar"`
	Description        string   `yaml:"description"`
	DocumentType       string   `yaml:"document_type"`
	RoleScope          string   `yaml:"role_scope"`
	RequiredForKYC     bool     `yaml:"required_for_kyc"`
	MaxFileSizeMB      int      `yaml:"max_file_size_mb"`
	AllowedFormats     []string `yaml:"allowed_formats"`
	MinValidationScore int      `yaml:"min_validation_score"`
	RequiredFields     []string `yaml:"required_fields"`
	DisplayOrder       int      `yaml:"display_order"`
	Inactive           bool     `yaml:"inactive"`
}

// ParseCategorySeed decodes a YAML category seed document.
func ParseCategorySeed(data []byte) ([]models.DocumentCategory, error) {
	var file categorySeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse category seed: %w", err)
	}
	if len(file.Categories) == 0 {
		return nil, errors.New("category seed has no categories")
	}

	seen := make(map[string]bool, len(file.Categories))
	out := make([]models.DocumentCategory, 0, len(file.Categories))
	for _, s := range file.Categories {
		c := models.DocumentCategory{
			ID:                 s.ID,
			Name:               s.Name,
			NameAr:             s.NameAr,
			Description:        s.Description,
			DocumentType:       s.DocumentType,
			RoleScope:          models.RoleScope(s.RoleScope),
			RequiredForKYC:     s.RequiredForKYC,
			MaxFileSizeMB:      s.MaxFileSizeMB,
			AllowedFormats:     s.AllowedFormats,
			MinValidationScore: s.MinValidationScore,
			RequiredFields:     s.RequiredFields,
			DisplayOrder:       s.DisplayOrder,
			IsActive:           !s.Inactive,
		}
		if err := validateCategory(&c); err != nil {
			return nil, fmt.Errorf("category %q: %w", s.ID, err)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("category %q is defined twice", c.ID)
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out, nil
}

// Seed upserts every category from a YAML seed document. With onlyIfEmpty it does
// nothing when categories already exist.
func (r *CategoryRegistry) Seed(ctx context.Context, data []byte, onlyIfEmpty bool) (int, error) {
	if onlyIfEmpty {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.DocumentCategory{}).Count(&count).Error; err != nil {
			return 0, dbError("failed to count categories", err)
		}
		if count > 0 {
			return 0, nil
		}
	}

	categories, err := ParseCategorySeed(data)
	if err != nil {
		return 0, err
	}
	for _, c := range categories {
		if _, err := r.Upsert(ctx, c); err != nil {
			return 0, err
		}
	}
	r.log.Info("categories seeded", zap.Int("count", len(categories)))
	return len(categories), nil
}
