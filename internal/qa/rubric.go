package qa

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nexusai/promptgate/internal/model"
)

// Rubric thresholds.
const (
	// PassThreshold is the minimum score for a passing verdict. The verdict
	// additionally requires an empty fail-reason set (the hard gate).
	PassThreshold = 80

	minTitleLength       = 12
	minDescriptionLength = 200
)

// Weights holds the per-reason score deductions. The two smallest weights
// must sum to more than 100-PassThreshold so that two simultaneous failures
// can never score into the passing band.
type Weights map[string]int

// DefaultWeights returns the standard rubric weights.
func DefaultWeights() Weights {
	return Weights{
		model.ReasonTitleTooShort:       25,
		model.ReasonDescriptionTooShort: 25,
		model.ReasonMissingContentsCue:  12,
		model.ReasonBannedClaims:        30,
		model.ReasonCoverMissing:        15,
		model.ReasonArtifactMissing:     30,
		model.ReasonArtifactTooSmall:    15,
		model.ReasonMissingReadme:       12,
		model.ReasonPromptCountMismatch: 12,
		model.ReasonArtifactUnreachable: 15,
		model.ReasonInvalidPrice:        25,
		model.ReasonDuplicateConcept:    40,
	}
}

// For returns the deduction for a reason, defaulting to 20 for reasons
// missing from the table so an incomplete table still fails the hard gate
// with a meaningful score.
func (w Weights) For(reason string) int {
	if v, ok := w[reason]; ok {
		return v
	}
	return 20
}

// placeholderTitles are generator stand-ins that must never reach a listing.
var placeholderTitles = []string{
	"untitled", "placeholder", "lorem ipsum", "new product", "test product", "tbd", "todo",
}

// contentsCues mark a description that tells the buyer what is inside.
var contentsCues = []string{
	"includes:", "what's inside", "whats inside", "contents:", "you get:", "inside:", "included:",
}

// DefaultBannedPhrases is the stock denylist of hype marketing claims.
var DefaultBannedPhrases = []string{
	"they don't want you to have",
	"they don't want you to know",
	"guaranteed income",
	"guaranteed profit",
	"get rich",
	"unfair advantage",
	"risk-free returns",
}

// placeholderImageHosts identify cover URLs pointing at stock placeholder
// services instead of generated artwork.
var placeholderImageHosts = []string{
	"via.placeholder.com", "placehold.co", "placehold.it", "placekitten.com", "dummyimage.com", "example.com",
}

// Evaluation is the pure output of the rubric for one record, computed
// before any duplicate adjustment.
type Evaluation struct {
	Score       int
	FailReasons []string
	Status      string
	ConceptKey  string
	CheckedAt   string
}

// Evaluator maps a product record to a score, a fail-reason set, and a
// verdict. Apart from CheckedAt (and whatever I/O the artifact validator
// performs), the output is a deterministic function of the record.
type Evaluator struct {
	Artifacts     ArtifactValidator
	Weights       Weights
	BannedPhrases []string

	// Now is the clock; overridable in tests. Defaults to time.Now.
	Now func() time.Time
}

// NewEvaluator builds an Evaluator with default weights and denylist.
func NewEvaluator(artifacts ArtifactValidator) *Evaluator {
	return &Evaluator{
		Artifacts:     artifacts,
		Weights:       DefaultWeights(),
		BannedPhrases: DefaultBannedPhrases,
		Now:           time.Now,
	}
}

// Evaluate runs every rubric check and combines the results. Checks never
// short-circuit each other: a record accumulates all applicable reasons in
// one pass so a correction round-trip fixes everything at once.
func (e *Evaluator) Evaluate(ctx context.Context, p *model.Product) Evaluation {
	title := Normalize(p.Title)
	description := Normalize(p.Description)

	var reasons []string

	if utf8.RuneCountInString(title) < minTitleLength || isPlaceholderTitle(title) {
		reasons = append(reasons, model.ReasonTitleTooShort)
	}

	if utf8.RuneCountInString(description) < minDescriptionLength {
		reasons = append(reasons, model.ReasonDescriptionTooShort)
	} else if !containsAny(description, contentsCues) {
		reasons = append(reasons, model.ReasonMissingContentsCue)
	}

	if containsAny(title, e.banned()) || containsAny(description, e.banned()) {
		reasons = append(reasons, model.ReasonBannedClaims)
	}

	if !validCover(p.CoverURL) {
		reasons = append(reasons, model.ReasonCoverMissing)
	}

	reasons = append(reasons, e.Artifacts.Validate(ctx, Descriptor{
		Path:        p.ArtifactPath,
		URL:         p.ArtifactURL,
		PromptCount: p.PromptCount,
	})...)

	if p.Price == nil || *p.Price <= 0 {
		reasons = append(reasons, model.ReasonInvalidPrice)
	}

	score := 100
	for _, r := range reasons {
		score -= e.Weights.For(r)
	}
	score = ClampScore(score)

	// Hard gate: any reason fails the record regardless of the numeric
	// score, so a weight misconfiguration cannot pass broken records.
	status := model.QAFailed
	if len(reasons) == 0 && score >= PassThreshold {
		status = model.QAPassed
	}

	return Evaluation{
		Score:       score,
		FailReasons: reasons,
		Status:      status,
		ConceptKey:  ConceptKey(p.Title, p.ProductType),
		CheckedAt:   e.Now().UTC().Format(time.RFC3339),
	}
}

func (e *Evaluator) banned() []string {
	if e.BannedPhrases != nil {
		return e.BannedPhrases
	}
	return DefaultBannedPhrases
}

// ClampScore bounds a score to the [0,100] band. Shared with the sweep
// orchestrator, whose duplicate downgrade deducts from an already-computed
// score.
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func isPlaceholderTitle(normalizedTitle string) bool {
	for _, p := range placeholderTitles {
		if strings.Contains(normalizedTitle, p) {
			return true
		}
	}
	return false
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func validCover(coverURL string) bool {
	if strings.TrimSpace(coverURL) == "" {
		return false
	}
	lowered := strings.ToLower(coverURL)
	for _, host := range placeholderImageHosts {
		if strings.Contains(lowered, host) {
			return false
		}
	}
	return true
}
