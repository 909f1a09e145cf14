package qa

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	nurl "net/url"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/time/rate"

	"github.com/nexusai/promptgate/internal/model"
)

// maxFetchBytes caps remote artifact downloads (32 MB).
const maxFetchBytes = 32 * 1024 * 1024

// Descriptor references a product's deliverable. At most one of Path/URL is
// authoritative; Path wins when both are set.
type Descriptor struct {
	Path        string
	URL         string
	PromptCount *int
}

// Absent reports whether no deliverable is referenced at all.
func (d Descriptor) Absent() bool {
	return d.Path == "" && d.URL == ""
}

// ArtifactValidator inspects a referenced deliverable and reports content
// violations as fail-reason strings. Implementations never return errors:
// infrastructure trouble surfaces as ReasonArtifactUnreachable.
type ArtifactValidator interface {
	Validate(ctx context.Context, d Descriptor) []string
}

// Validator is the production ArtifactValidator. Remote fetches share one
// HTTP client with a bounded timeout and a rate limiter so a sweep cannot
// hammer an artifact host.
type Validator struct {
	MinBytes             int64
	RequireReadmeInZip   bool
	PromptCountTolerance int

	client  *http.Client
	limiter *rate.Limiter
}

var _ ArtifactValidator = (*Validator)(nil)

// NewValidator builds a Validator. fetchTimeout bounds each remote artifact
// download; a slow host degrades to artifact_unreachable instead of stalling
// the sweep.
func NewValidator(minBytes int64, requireReadme bool, tolerance int, fetchTimeout time.Duration) *Validator {
	return &Validator{
		MinBytes:             minBytes,
		RequireReadmeInZip:   requireReadme,
		PromptCountTolerance: tolerance,
		client:               &http.Client{Timeout: fetchTimeout},
		limiter:              rate.NewLimiter(rate.Limit(2), 4),
	}
}

// Validate runs the artifact checks in order: presence, size, README-in-zip,
// declared prompt count. Only absence short-circuits; all later checks are
// accumulated. The prompt-count check is best-effort and reports nothing for
// formats it cannot count.
func (v *Validator) Validate(ctx context.Context, d Descriptor) []string {
	if d.Absent() {
		return []string{model.ReasonArtifactMissing}
	}

	payload, name, err := v.load(ctx, d)
	if err != nil {
		return []string{model.ReasonArtifactUnreachable}
	}

	var violations []string
	if int64(len(payload)) < v.MinBytes {
		violations = append(violations, model.ReasonArtifactTooSmall)
	}

	kind := detectKind(name, payload)

	if kind == kindZip && v.RequireReadmeInZip {
		if !zipHasReadme(payload) {
			violations = append(violations, model.ReasonMissingReadme)
		}
	}

	if d.PromptCount != nil {
		if n, ok := countPrompts(kind, payload); ok {
			if diff(n, *d.PromptCount) > v.PromptCountTolerance {
				violations = append(violations, model.ReasonPromptCountMismatch)
			}
		}
	}

	return violations
}

func (v *Validator) load(ctx context.Context, d Descriptor) ([]byte, string, error) {
	if d.Path != "" {
		data, err := os.ReadFile(d.Path)
		return data, d.Path, err
	}
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP %d for %s", resp.StatusCode, d.URL)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	name := d.URL
	if u, uErr := nurl.Parse(d.URL); uErr == nil {
		name = u.Path
	}
	return data, name, nil
}

// ---------------------------------------------------------------------------
// Payload inspection
// ---------------------------------------------------------------------------

type payloadKind int

const (
	kindUnknown payloadKind = iota
	kindZip
	kindJSON
	kindText
	kindHTML
)

var zipMagic = []byte{'P', 'K', 0x03, 0x04}

func detectKind(name string, payload []byte) payloadKind {
	switch strings.ToLower(path.Ext(name)) {
	case ".zip":
		return kindZip
	case ".json":
		return kindJSON
	case ".txt", ".md", ".markdown":
		return kindText
	case ".html", ".htm":
		return kindHTML
	}
	trimmed := bytes.TrimSpace(payload)
	switch {
	case bytes.HasPrefix(payload, zipMagic):
		return kindZip
	case len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '['):
		return kindJSON
	case bytes.Contains(bytes.ToLower(trimmed), []byte("<html")):
		return kindHTML
	}
	return kindUnknown
}

func zipHasReadme(payload []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		base := strings.ToLower(path.Base(f.Name))
		if strings.HasPrefix(base, "readme") {
			return true
		}
	}
	return false
}

// promptMarker matches numbered prompt markers at line start, e.g.
// "1. ...", "12) ...", "Prompt 3: ...".
var promptMarker = regexp.MustCompile(`(?mi)^\s*(?:\d+[.)]|prompt\s+\d+\b)`)

// countPrompts returns the detected number of prompts in the payload and
// whether the format supported counting at all. Unsupported formats report
// ok=false, which the caller treats as no violation.
func countPrompts(kind payloadKind, payload []byte) (int, bool) {
	switch kind {
	case kindZip:
		return countPromptsInZip(payload)
	case kindJSON:
		return countPromptsInJSON(payload)
	case kindText:
		return len(promptMarker.FindAll(payload, -1)), true
	case kindHTML:
		return countPromptsInHTML(payload)
	}
	return 0, false
}

func countPromptsInZip(payload []byte) (int, bool) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return 0, false
	}
	// Prefer an entry named after prompts; otherwise take the first
	// countable text/JSON entry.
	var candidate *zip.File
	for _, f := range zr.File {
		base := strings.ToLower(path.Base(f.Name))
		kind := detectKind(base, nil)
		if kind != kindJSON && kind != kindText {
			continue
		}
		if strings.Contains(base, "prompt") {
			candidate = f
			break
		}
		if candidate == nil && !strings.HasPrefix(base, "readme") {
			candidate = f
		}
	}
	if candidate == nil {
		return 0, false
	}
	rc, err := candidate.Open()
	if err != nil {
		return 0, false
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxFetchBytes))
	if err != nil {
		return 0, false
	}
	return countPrompts(detectKind(candidate.Name, data), data)
}

func countPromptsInJSON(payload []byte) (int, bool) {
	var arr []json.RawMessage
	if err := json.Unmarshal(payload, &arr); err == nil {
		return len(arr), true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err == nil {
		if raw, ok := obj["prompts"]; ok {
			if err := json.Unmarshal(raw, &arr); err == nil {
				return len(arr), true
			}
		}
	}
	return 0, false
}

// artifactBaseURL anchors relative links when parsing HTML payloads that
// were read from disk or a zip entry.
var artifactBaseURL, _ = nurl.Parse("https://artifact.invalid/")

func countPromptsInHTML(payload []byte) (int, bool) {
	article, err := readability.FromReader(bytes.NewReader(payload), artifactBaseURL)
	if err != nil {
		return 0, false
	}
	return len(promptMarker.FindAllString(article.TextContent, -1)), true
}

func diff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
