package domain

import (
	"fmt"
	"strings"
)

// ValidDocumentClasses is the closed set a ProcessedDocument.DocumentType
// must belong to.
var ValidDocumentClasses = map[DocumentClass]bool{
	ClassProject:  true,
	ClassPatent:   true,
	ClassResearch: true,
	ClassOther:    true,
}

// ValidateDocument checks a Document before it is admitted to the object pool.
func ValidateDocument(d Document) error {
	if d.ID == "" || !strings.HasPrefix(d.ID, "file_") {
		return NewValidationError("id", d.ID, fmt.Errorf("document id must be \"file_\" + sha256 digest"))
	}
	if d.SizeBytes < 0 {
		return NewValidationError("size_bytes", fmt.Sprintf("%d", d.SizeBytes), fmt.Errorf("negative size"))
	}
	switch d.Promotion {
	case PromotionPending, PromotionStored, PromotionFailed:
	default:
		return NewValidationError("promotion", string(d.Promotion), fmt.Errorf("unknown promotion state"))
	}
	return nil
}

// ValidateProcessedDocument enforces §8's "validation failures demote to
// other" policy is applied by the caller; this only reports whether the
// document, as given, is schema-valid.
func ValidateProcessedDocument(pd ProcessedDocument) error {
	if !ValidDocumentClasses[pd.DocumentType] {
		return NewValidationError("document_type", string(pd.DocumentType), ErrValidation)
	}
	switch pd.DocumentType {
	case ClassProject:
		if pd.Project == nil {
			return NewValidationError("project", "", fmt.Errorf("project block required for document_type=project"))
		}
	case ClassPatent:
		if pd.Patent == nil {
			return NewValidationError("patent", "", fmt.Errorf("patent block required for document_type=patent"))
		}
	case ClassResearch:
		if pd.Research == nil {
			return NewValidationError("research", "", fmt.Errorf("research block required for document_type=research"))
		}
	}
	return nil
}

// DemoteToOther applies the validation-failure demotion policy from §4.5
// step 6 and §7: attach the error and downgrade the class, never drop the
// partial extraction.
func DemoteToOther(pd ProcessedDocument, reason string) ProcessedDocument {
	pd.DocumentType = ClassOther
	pd.Error = &ExtractError{Reason: reason}
	return pd
}

// ValidateJob checks a Job's state-machine invariants (§3).
func ValidateJob(j Job) error {
	switch j.Status {
	case JobPending, JobProcessing, JobCompleted, JobFailed:
	default:
		return NewValidationError("status", string(j.Status), fmt.Errorf("unknown job status"))
	}
	if j.Status == JobProcessing && j.ClaimedBy == "" {
		return NewValidationError("claimed_by", "", fmt.Errorf("processing job must have a claiming worker"))
	}
	return nil
}
