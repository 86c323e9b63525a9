package models

import (
	"strings"
	"time"
)

// RoleScope says which kind of account a category applies to.
type RoleScope string

const (
	ScopeCustomer   RoleScope = "customer"
	ScopeContractor RoleScope = "contractor"
	ScopeBoth       RoleScope = "both"
)

// KYCRole is the role a KYC evaluation is computed for.
type KYCRole string

const (
	RoleCustomer   KYCRole = "customer"
	RoleContractor KYCRole = "contractor"
)

func ParseKYCRole(raw string) (KYCRole, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "customer", "user":
		return RoleCustomer, true
	case "contractor":
		return RoleContractor, true
	}
	return "", false
}

// Covers reports whether a category with this scope applies to role.
func (s RoleScope) Covers(role KYCRole) bool {
	switch s {
	case ScopeBoth:
		return true
	case ScopeCustomer:
		return role == RoleCustomer
	case ScopeContractor:
		return role == RoleContractor
	}
	return false
}

// UserType is the wire label for the scope: USER, CONTRACTOR or BOTH.
func (s RoleScope) UserType() string {
	switch s {
	case ScopeCustomer:
		return "USER"
	case ScopeContractor:
		return "CONTRACTOR"
	default:
		return "BOTH"
	}
}

func ParseRoleScope(raw string) (RoleScope, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "customer", "user":
		return ScopeCustomer, true
	case "contractor":
		return ScopeContractor, true
	case "both", "":
		return ScopeBoth, true
	}
	return "", false
}

// DocumentCategory is a configured document category. Categories are deactivated,
// never deleted.
type DocumentCategory struct {
	ID                 string    `gorm:"primaryKey;size:64;column:id" json:"id"`
	Name               string    `gorm:"size:128;not null;column:name" json:"name"`
	NameAr             string    `gorm:"size:128;column:name_ar" json:"name_ar,omitempty"`
	Description        string    `gorm:"type:text;column:description" json:"description"`
	DocumentType       string    `gorm:"size:64;column:document_type" json:"document_type"`
	RoleScope          RoleScope `gorm:"size:16;not null;column:role_scope" json:"role_scope"`
	RequiredForKYC     bool      `gorm:"column:required_for_kyc" json:"required_for_kyc"`
	MaxFileSizeMB      int       `gorm:"column:max_file_size_mb" json:"max_file_size_mb"`
	AllowedFormats     []string  `gorm:"serializer:json;type:text;column:allowed_formats" json:"allowed_formats"`
	MinValidationScore int       `gorm:"column:min_validation_score" json:"min_validation_score"`
	RequiredFields     []string  `gorm:"serializer:json;type:text;column:required_fields" json:"required_fields,omitempty"`
	DisplayOrder       int       `gorm:"column:display_order" json:"display_order"`
	IsActive           bool      `gorm:"column:is_active" json:"is_active"`
	CreatedAt          time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (DocumentCategory) TableName() string {
	return "kyc_document_categories"
}

// TypeTag returns the document type stored on documents of this category.
func (c DocumentCategory) TypeTag() string {
	if tag := strings.TrimSpace(c.DocumentType); tag != "" {
		return tag
	}
	return strings.ToUpper(c.ID)
}

// MaxFileSizeBytes converts the MB limit; zero means no category limit.
func (c DocumentCategory) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}
