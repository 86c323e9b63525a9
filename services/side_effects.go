package services

import "strings"

// SideEffectWarning records a best-effort step that failed after the primary
// operation had already succeeded.
type SideEffectWarning struct {
	Effect     string
	DocumentID string
	Err        error
}

// Side effects reported in SideEffectWarning.Effect.
const (
	EffectArchiveReplaced = "archive_replaced_document"
	EffectDeleteReplaced  = "delete_replaced_object"
	EffectExistingLookup  = "existing_document_lookup"
	EffectAuditLog        = "audit_log"
	EffectNotify          = "notify"
	EffectUploadLock      = "upload_lock"
)

// SideEffects collects secondary failures separately from the primary error of an
// operation.
type SideEffects struct {
	warnings []SideEffectWarning
}

func (s *SideEffects) Add(effect, documentID string, err error) {
	if err == nil {
		return
	}
	s.warnings = append(s.warnings, SideEffectWarning{Effect: effect, DocumentID: documentID, Err: err})
}

func (s *SideEffects) Merge(other SideEffects) {
	s.warnings = append(s.warnings, other.warnings...)
}

func (s SideEffects) Warnings() []SideEffectWarning {
	return s.warnings
}

func (s SideEffects) Empty() bool {
	return len(s.warnings) == 0
}

// Effects lists the distinct effect names, safe to show to clients.
func (s SideEffects) Effects() []string {
	seen := make(map[string]bool, len(s.warnings))
	out := make([]string, 0, len(s.warnings))
	for _, w := range s.warnings {
		if seen[w.Effect] {
			continue
		}
		seen[w.Effect] = true
		out = append(out, w.Effect)
	}
	return out
}

func (s SideEffects) String() string {
	parts := make([]string, 0, len(s.warnings))
	for _, w := range s.warnings {
		part := w.Effect
		if w.DocumentID != "" {
			part += "(" + w.DocumentID + ")"
		}
		if w.Err != nil {
			part += ": " + w.Err.Error()
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}
