package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
)

// Canonical names of the request fields the API accepts.
const (
	FieldUserID     = "user_id"
	FieldCategoryID = "category_id"
	FieldTemplateID = "template_id"
	FieldMetadata   = "metadata"
	FieldRole       = "role"
	FieldReason     = "reason"
	FieldNotes      = "notes"
	FieldDecision   = "decision"
)

// requestFields is the single translation table between client spellings and the
// canonical field names. Aliases are tried in order.
var requestFields = map[string][]string{
	FieldUserID:     {"user_id", "userId", "userID"},
	FieldCategoryID: {"category_id", "categoryId", "categoryID", "document_category"},
	FieldTemplateID: {"template_id", "templateId"},
	FieldMetadata:   {"metadata", "meta_data", "metaData"},
	FieldRole:       {"role", "user_type", "userType"},
	FieldReason:     {"reason", "rejection_reason", "rejectionReason"},
	FieldNotes:      {"notes", "admin_notes", "adminNotes", "comment"},
	FieldDecision:   {"decision", "action"},
}

// lookupField returns the first non-empty alias value found by get.
func lookupField(field string, get func(name string) (string, bool)) string {
	aliases, ok := requestFields[field]
	if !ok {
		aliases = []string{field}
	}
	for _, name := range aliases {
		if v, ok := get(name); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// formField reads a multipart or urlencoded form field through the alias table.
func formField(c *gin.Context, field string) string {
	return lookupField(field, c.GetPostForm)
}

// queryField reads a query parameter through the alias table.
func queryField(c *gin.Context, field string) string {
	return lookupField(field, c.GetQuery)
}

// jsonFields holds a decoded JSON object body.
type jsonFields map[string]any

// bindJSONFields decodes an optional JSON object body. An empty body is allowed.
func bindJSONFields(c *gin.Context) (jsonFields, error) {
	body := jsonFields{}
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return body, nil
	}
	if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return jsonFields{}, nil
		}
		return nil, fmt.Errorf("request body must be a JSON object: %w", err)
	}
	return body, nil
}

func (f jsonFields) get(field string) string {
	return lookupField(field, func(name string) (string, bool) {
		v, ok := f[name]
		if !ok || v == nil {
			return "", false
		}
		if s, ok := v.(string); ok {
			return s, true
		}
		return fmt.Sprint(v), true
	})
}

// parseMetadata decodes the optional metadata field, which clients send as a JSON
// object encoded in a form value.
func parseMetadata(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("metadata must be a JSON object: %w", err)
	}
	return out, nil
}
