package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for the HTTP boundary.
type ErrorKind string

const (
	KindClientInput        ErrorKind = "client_input"
	KindVirusDetected      ErrorKind = "virus_detected"
	KindValidationFailed   ErrorKind = "validation_failed"
	KindScannerUnavailable ErrorKind = "scanner_unavailable"
	KindNotFound           ErrorKind = "not_found"
	KindAccessDenied       ErrorKind = "access_denied"
	KindIncompleteKYC      ErrorKind = "incomplete_kyc"
	KindStorage            ErrorKind = "storage"
	KindDatabase           ErrorKind = "database"
	KindInternal           ErrorKind = "internal"
)

// Stable machine codes returned to clients.
const (
	CodeMissingFile        = "MISSING_FILE"
	CodeMissingFields      = "MISSING_FIELDS"
	CodeInvalidCategory    = "INVALID_CATEGORY"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeVirusDetected      = "VIRUS_DETECTED"
	CodeScanUnavailable    = "SCAN_UNAVAILABLE"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeUploadFailed       = "UPLOAD_FAILED"
	CodeNotFound           = "NOT_FOUND"
	CodeAccessDenied       = "ACCESS_DENIED"
	CodeDownloadFailed     = "DOWNLOAD_FAILED"
	CodeIncompleteKYC      = "INCOMPLETE_KYC"
	CodeInvalidRole        = "INVALID_ROLE"
	CodeInternal           = "INTERNAL_ERROR"
	CodeCategoryNotFound   = "CATEGORY_NOT_FOUND"
	CodeReviewNotAllowed   = "REVIEW_NOT_ALLOWED"
	CodeReasonRequired     = "REASON_REQUIRED"
	CodeInvalidCategoryDef = "INVALID_CATEGORY_DEFINITION"
)

// Error is the typed error every service returns across its public surface.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

// NewError builds a typed error for callers outside the package, such as the HTTP
// layer rejecting a request before any service runs.
func NewError(kind ErrorKind, code, message string) *Error {
	return newError(kind, code, message, nil)
}

func (e *Error) withDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// AsError extracts a *Error from err. Unknown errors come back as KindInternal with
// CodeInternal so that the boundary never leaks raw messages.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal error", Err: err}
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var svcErr *Error
	return errors.As(err, &svcErr) && svcErr.Kind == kind
}

// Sentinel causes used between components.
var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrKeyUnavailable     = errors.New("encryption key unavailable")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrCategoryNotFound   = errors.New("category not found")
	ErrLockNotAcquired    = errors.New("upload lock held by another request")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)
