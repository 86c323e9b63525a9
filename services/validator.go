package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"mime"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// ValidationRules are the per-category checks handed to the validator.
type ValidationRules struct {
	CategoryID     string
	AllowedFormats []string
	MaxSizeBytes   int64
	MinScore       int
	RequiredFields []string
}

// ValidationInput carries what the client declared about the file.
type ValidationInput struct {
	UserID       string
	Filename     string
	DeclaredMIME string
	DeclaredSize int64
}

// CheckResult is one section of the validation report.
type CheckResult struct {
	Passed   bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func newCheck() CheckResult {
	return CheckResult{Passed: true, Errors: []string{}, Warnings: []string{}}
}

func (c *CheckResult) fail(format string, args ...any) {
	c.Passed = false
	c.Errors = append(c.Errors, fmt.Sprintf(format, args...))
}

func (c *CheckResult) warn(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

// ValidationResult is the validator's verdict. Valid is false whenever any section has
// errors or the score falls below the category threshold.
type ValidationResult struct {
	Valid         bool           `json:"is_valid"`
	Score         int            `json:"score"`
	Confidence    float64        `json:"confidence"`
	DetectedMIME  string         `json:"detected_mime_type"`
	Extension     string         `json:"extension"`
	File          CheckResult    `json:"file_validation"`
	Content       CheckResult    `json:"content_validation"`
	Security      CheckResult    `json:"security_validation"`
	ExtractedData map[string]any `json:"extracted_data"`
}

func (r ValidationResult) Errors() []string {
	out := make([]string, 0)
	out = append(out, r.File.Errors...)
	out = append(out, r.Content.Errors...)
	return append(out, r.Security.Errors...)
}

func (r ValidationResult) Warnings() []string {
	out := make([]string, 0)
	out = append(out, r.File.Warnings...)
	out = append(out, r.Content.Warnings...)
	return append(out, r.Security.Warnings...)
}

// ContentValidator decides whether bytes are an acceptable document for a category.
type ContentValidator interface {
	Validate(ctx context.Context, data []byte, in ValidationInput, rules ValidationRules) (ValidationResult, error)
}

// Extraction is what a FieldExtractor pulled out of a document. OCR is true when the
// extractor reads document fields (so RequiredFields can be checked).
type Extraction struct {
	Fields     map[string]any
	Confidence float64
	OCR        bool
}

// FieldExtractor pulls structured data out of a document.
type FieldExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType string, categoryID string) (Extraction, error)
}

const (
	errorPenalty   = 40
	warningPenalty = 10
	minImageEdge   = 300
)

var extensionMIME = map[string]string{
	"pdf":  "application/pdf",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"heic": "image/heic",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

var executableExtensions = map[string]bool{
	"exe": true, "com": true, "bat": true, "cmd": true, "scr": true, "msi": true,
	"js": true, "vbs": true, "ps1": true, "sh": true, "jar": true, "php": true,
}

var executableMIMEs = []string{
	"application/vnd.microsoft.portable-executable",
	"application/x-msdownload",
	"application/x-elf",
	"application/x-executable",
	"application/x-mach-binary",
	"application/java-archive",
}

var pdfActiveContent = regexp.MustCompile(`/(JavaScript|JS|Launch|EmbeddedFile|AcroForm)\b`)

// DocumentValidator is the default ContentValidator.
type DocumentValidator struct {
	extractor       FieldExtractor
	defaultMinScore int
	log             *zap.Logger
}

// NewDocumentValidator builds a validator. defaultMinScore applies to categories that
// do not set their own threshold; extractor may be nil.
func NewDocumentValidator(extractor FieldExtractor, defaultMinScore int, log *zap.Logger) *DocumentValidator {
	if log == nil {
		log = zap.NewNop()
	}
	return &DocumentValidator{extractor: extractor, defaultMinScore: defaultMinScore, log: log.Named("validator")}
}

func (v *DocumentValidator) Validate(ctx context.Context, data []byte, in ValidationInput, rules ValidationRules) (ValidationResult, error) {
	result := ValidationResult{
		File:          newCheck(),
		Content:       newCheck(),
		Security:      newCheck(),
		ExtractedData: map[string]any{},
	}
	allowedExt, allowedMIME := splitAllowedFormats(rules.AllowedFormats)
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(in.Filename)), ".")
	result.Extension = ext

	// 1. File-level checks
	size := int64(len(data))
	if size == 0 {
		result.File.fail("file is empty")
	}
	if rules.MaxSizeBytes > 0 && size > rules.MaxSizeBytes {
		result.File.fail("file size %d bytes exceeds the limit of %d bytes", size, rules.MaxSizeBytes)
	}
	if in.DeclaredSize > 0 && in.DeclaredSize != size {
		result.File.warn("declared size %d does not match received size %d", in.DeclaredSize, size)
	}
	if ext == "" {
		result.File.fail("file has no extension")
	} else if len(allowedExt) > 0 && !allowedExt[ext] {
		result.File.fail("file extension .%s is not allowed for this category", ext)
	}

	declared := normalizeMIME(in.DeclaredMIME)
	switch {
	case declared == "" || declared == "application/octet-stream":
		result.File.warn("no declared content type")
	case len(allowedMIME) > 0 && !allowedMIME[declared]:
		result.File.fail("content type %s is not allowed for this category", declared)
	}

	// 2. Content sniffing
	sniffConfidence := 0.0
	if size > 0 {
		detected := mimetype.Detect(data)
		result.DetectedMIME = detected.String()
		sniffConfidence = matchConfidence(detected, ext, declared)
		if sniffConfidence == 0 {
			result.File.fail("file content (%s) does not match its extension .%s", detected.String(), ext)
		}
		v.inspectContent(data, detected, &result)
		v.inspectSecurity(data, in.Filename, detected, &result)
	}
	if !safeFilename(in.Filename) {
		result.Security.fail("filename contains path or control characters")
	}

	// 3. Field extraction
	extractConfidence := 0.0
	if v.extractor != nil && result.File.Passed && result.Security.Passed {
		extraction, err := v.extractor.Extract(ctx, data, result.DetectedMIME, rules.CategoryID)
		if err != nil {
			v.log.Warn("field extraction failed", zap.String("category_id", rules.CategoryID), zap.Error(err))
			result.Content.warn("automatic data extraction failed")
		} else {
			for k, val := range extraction.Fields {
				result.ExtractedData[k] = val
			}
			extractConfidence = extraction.Confidence
			if extraction.OCR {
				for _, field := range rules.RequiredFields {
					if _, ok := extraction.Fields[field]; !ok {
						result.Content.warn("required field %s could not be read", field)
					}
				}
			}
		}
	}

	// 4. Score and confidence
	errCount := len(result.Errors())
	warnCount := len(result.Warnings())
	score := 100 - errorPenalty*errCount - warningPenalty*warnCount
	if score < 0 {
		score = 0
	}
	result.Score = score

	confidence := sniffConfidence
	if extractConfidence > 0 {
		confidence = (sniffConfidence + extractConfidence) / 2
	}
	result.Confidence = math.Round(confidence*100) / 100

	minScore := rules.MinScore
	if minScore <= 0 {
		minScore = v.defaultMinScore
	}
	if errCount == 0 && score < minScore {
		result.Content.fail("validation score %d is below the required %d", score, minScore)
	}
	result.Valid = result.File.Passed && result.Content.Passed && result.Security.Passed
	return result, nil
}

func (v *DocumentValidator) inspectContent(data []byte, detected *mimetype.MIME, result *ValidationResult) {
	switch {
	case detected.Is("application/pdf"):
		tail := data
		if len(tail) > 1024 {
			tail = tail[len(tail)-1024:]
		}
		if !bytes.Contains(tail, []byte("%%EOF")) {
			result.Content.warn("PDF trailer missing, the file may be truncated")
		}
		if bytes.Contains(data, []byte("/Encrypt")) {
			result.Content.warn("PDF is password protected")
		}
		result.ExtractedData["page_count"] = countPDFPages(data)
	case strings.HasPrefix(detected.String(), "image/"):
		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			// formats without a registered decoder (heic, webp, tiff) are only sniffed
			if detected.Is("image/jpeg") || detected.Is("image/png") || detected.Is("image/gif") {
				result.Content.fail("image cannot be decoded")
			}
			return
		}
		result.ExtractedData["image_width"] = cfg.Width
		result.ExtractedData["image_height"] = cfg.Height
		result.ExtractedData["image_format"] = format
		if cfg.Width < minImageEdge || cfg.Height < minImageEdge {
			result.Content.warn("image resolution %dx%d is too low to read reliably", cfg.Width, cfg.Height)
		}
	}
}

func (v *DocumentValidator) inspectSecurity(data []byte, filename string, detected *mimetype.MIME, result *ValidationResult) {
	for _, m := range executableMIMEs {
		if detected.Is(m) {
			result.Security.fail("executable content is not allowed")
			break
		}
	}

	parts := strings.Split(strings.ToLower(filepath.Base(filename)), ".")
	if len(parts) > 2 {
		for _, inner := range parts[1 : len(parts)-1] {
			if executableExtensions[inner] {
				result.Security.fail("filename hides an executable extension .%s", inner)
				break
			}
		}
	}

	if detected.Is("application/pdf") {
		seen := map[string]bool{}
		for _, m := range pdfActiveContent.FindAllSubmatch(data, -1) {
			marker := string(m[1])
			if seen[marker] {
				continue
			}
			seen[marker] = true
			result.Security.warn("PDF contains active content (/%s)", marker)
		}
	}
}

// matchConfidence scores how well the sniffed type agrees with the extension and the
// declared type. Zero means they disagree.
func matchConfidence(detected *mimetype.MIME, ext, declared string) float64 {
	expected := extensionMIME[ext]
	matches := func(m *mimetype.MIME) bool {
		if expected != "" && m.Is(expected) {
			return true
		}
		return ext != "" && strings.TrimPrefix(m.Extension(), ".") == ext
	}

	if matches(detected) {
		if declared != "" && declared != "application/octet-stream" && !detected.Is(declared) {
			return 0.7
		}
		return 1.0
	}
	for p := detected.Parent(); p != nil; p = p.Parent() {
		if matches(p) {
			return 0.85
		}
	}
	return 0
}

func splitAllowedFormats(formats []string) (map[string]bool, map[string]bool) {
	exts := map[string]bool{}
	mimes := map[string]bool{}
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if strings.Contains(f, "/") {
			mimes[normalizeMIME(f)] = true
			continue
		}
		f = strings.TrimPrefix(f, ".")
		exts[f] = true
		if m, ok := extensionMIME[f]; ok {
			mimes[m] = true
		}
	}
	return exts, mimes
}

func normalizeMIME(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(raw); err == nil {
		raw = mediaType
	}
	raw = strings.ToLower(raw)
	if raw == "image/jpg" || raw == "image/pjpeg" {
		return "image/jpeg"
	}
	return raw
}

// safeFilename accepts a bare base name. Dots inside a name are fine; separators and
// the "." and ".." entries are not.
func safeFilename(name string) bool {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

var pdfPageObject = regexp.MustCompile(`/Type\s*/Page[^s]`)

func countPDFPages(data []byte) int {
	return len(pdfPageObject.FindAll(data, -1))
}

// MetadataExtractor reports structural metadata only. It does not read document
// fields, so category RequiredFields are not checked when it is in use.
type MetadataExtractor struct{}

func (MetadataExtractor) Extract(_ context.Context, data []byte, mimeType string, _ string) (Extraction, error) {
	fields := map[string]any{"mime_type": mimeType, "size_bytes": len(data)}
	if mimeType == "application/pdf" {
		if idx := bytes.Index(data, []byte("%PDF-")); idx >= 0 && len(data) >= idx+8 {
			fields["pdf_version"] = string(data[idx+5 : idx+8])
		}
	}
	return Extraction{Fields: fields, Confidence: 0}, nil
}
