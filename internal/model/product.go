package model

import "time"

// Lifecycle status constants. The gate only ever writes StatusQAPassed and
// StatusQAFailed (subject to configurable labels); every other value belongs
// to the upstream generator or the downstream publisher and passes through
// untouched.
const (
	StatusPending  = "pending"
	StatusDraft    = "draft"
	StatusQAPassed = "qa_passed"
	StatusQAFailed = "qa_failed"
)

// QA verdict constants for the qa.status sub-field.
const (
	QAPassed = "passed"
	QAFailed = "failed"
)

// Fail reason constants surfaced in qa.fail_reasons.
const (
	ReasonTitleTooShort       = "title_too_short"
	ReasonDescriptionTooShort = "description_too_short"
	ReasonMissingContentsCue  = "missing_contents_cue"
	ReasonBannedClaims        = "banned_claims"
	ReasonCoverMissing        = "cover_missing_or_placeholder"
	ReasonArtifactMissing     = "artifact_missing"
	ReasonArtifactTooSmall    = "artifact_too_small"
	ReasonMissingReadme       = "missing_readme"
	ReasonPromptCountMismatch = "prompt_count_mismatch"
	ReasonArtifactUnreachable = "artifact_unreachable"
	ReasonInvalidPrice        = "invalid_price"
	ReasonDuplicateConcept    = "duplicate_concept_without_variants"
)

// Product represents a generated product record. Content fields are owned by
// the upstream generator; the gate mutates only QA, Status and UpdatedAt.
type Product struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Price          *float64 `json:"price,omitempty"`
	Currency       string   `json:"currency,omitempty"`
	ProductType    string   `json:"productType"`
	Tags           []string `json:"tags,omitempty"`
	PromptCount    *int     `json:"promptCount,omitempty"`
	CoverURL       string   `json:"coverUrl,omitempty"`
	ArtifactPath   string   `json:"artifactPath,omitempty"`
	ArtifactURL    string   `json:"artifactUrl,omitempty"`
	ProductGroupID string   `json:"productGroupId,omitempty"`
	VariantOf      string   `json:"variantOf,omitempty"`
	Source         string   `json:"source,omitempty"`
	Status         string   `json:"status"`
	QA             QAResult `json:"qa"`
	CreatedAt      string   `json:"createdAt"`
	UpdatedAt      string   `json:"updatedAt"`
}

// QAResult is the persisted qa sub-object of a Product.
type QAResult struct {
	Status      string   `json:"status,omitempty"`
	Score       int      `json:"score"`
	FailReasons []string `json:"fail_reasons,omitempty"`
	CheckedAt   string   `json:"checked_at,omitempty"`
	ConceptKey  string   `json:"concept_key,omitempty"`
	Duplicates  []string `json:"duplicates,omitempty"`
}

// IsGrouped reports whether the product carries a grouping marker that
// exempts it from duplicate penalties.
func (p *Product) IsGrouped() bool {
	return p.ProductGroupID != "" || p.VariantOf != ""
}

// HasReason reports whether the given fail reason is present.
func (q QAResult) HasReason(reason string) bool {
	for _, r := range q.FailReasons {
		if r == reason {
			return true
		}
	}
	return false
}

// ProductFilter holds query parameters for listing products.
type ProductFilter struct {
	Status []string
	Limit  int

	// OldestCheckedFirst orders by qa_checked_at ascending, never-checked
	// records first, instead of recency. Bounded sweep batches need this to
	// rotate through a backlog: evaluation bumps updated_at, so recency
	// order would hand the same records back every sweep.
	OldestCheckedFirst bool
}

// NewProduct creates a new pending Product with timestamps set.
func NewProduct(id string) Product {
	now := time.Now().UTC().Format(time.RFC3339)
	return Product{
		ID:        id,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
