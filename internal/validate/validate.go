// Package validate is the post-drafting gate: a fully deterministic check
// that a machine-drafted message contains only the approved monetary figure
// and makes no commitments beyond the approved deliverables. Re-running it
// with identical input always produces an identical result.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/parleyhq/parley/internal/money"
)

// DefaultMinLength is the minimum draft length in characters; anything
// shorter is treated as a truncated or empty draft.
const DefaultMinLength = 50

// Severity grades a finding: errors block sending, warnings are logged
// but non-blocking.
type Severity string

// Severity values.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Check names findings by the check that produced them.
type Check string

// Check identifiers.
const (
	CheckMonetaryValue          Check = "monetary_value"
	CheckDeliverableCoverage    Check = "deliverable_coverage"
	CheckHallucinatedCommitment Check = "hallucinated_commitment"
	CheckForbiddenPhrase        Check = "forbidden_phrase"
	CheckMinimumLength          Check = "minimum_length"
)

// Failure is one finding from a validation run.
type Failure struct {
	Check    Check
	Reason   string
	Severity Severity
}

// Result is the outcome of one validation run. Pass is true iff no
// error-severity failures exist; warning-only results still pass. All
// findings are returned, not just the first.
type Result struct {
	Pass     bool
	Failures []Failure
}

// commitmentPatterns are the unauthorized-commitment scans: language that
// promises exclusivity, usage rights, rights extensions, future deals, or
// guarantees. All matching is case-insensitive.
var commitmentPatterns = []struct {
	label   string
	pattern *regexp.Regexp
}{
	{"exclusivity", regexp.MustCompile(`(?i)\bexclusiv\w*`)},
	{"usage rights", regexp.MustCompile(`(?i)\busage\s+rights?\b`)},
	{"rights extension", regexp.MustCompile(`(?i)\b(in\s+perpetuity|perpetual|worldwide\s+rights|all\s+rights)\b`)},
	{"future deals", regexp.MustCompile(`(?i)\b(future\s+(deal|campaign|collaboration|partnership)s?|long[- ]term\s+partnership|next\s+campaign)\b`)},
	{"guarantee", regexp.MustCompile(`(?i)\bguarantee[ds]?\b`)},
}

// Gate validates drafted messages. The zero value uses DefaultMinLength;
// ForbiddenPhrases is an optional caller-supplied list of off-brand phrases.
type Gate struct {
	MinLength        int
	ForbiddenPhrases []string
}

// Validate runs all five checks against a drafted message, the approved
// amount, and the expected deliverable labels. Every check runs and every
// finding is collected; callers need the complete list for escalation
// payloads or human review.
func (g Gate) Validate(draft string, expected money.Amount, deliverables []string) Result {
	minLength := g.MinLength
	if minLength <= 0 {
		minLength = DefaultMinLength
	}

	var failures []Failure

	// 1. Monetary exactness: every currency figure must equal the approved
	// amount once the symbol and separators are stripped.
	for _, found := range extractAmounts(draft) {
		if !found.Amount.Equal(expected) {
			failures = append(failures, Failure{
				Check:    CheckMonetaryValue,
				Reason:   fmt.Sprintf("draft contains %s but the approved amount is %s", found.Raw, expected),
				Severity: SeverityError,
			})
		}
	}

	// 2. Deliverable coverage is advisory: a missing label is a warning.
	lower := strings.ToLower(draft)
	for _, label := range deliverables {
		if !mentionsDeliverable(lower, label) {
			failures = append(failures, Failure{
				Check:    CheckDeliverableCoverage,
				Reason:   fmt.Sprintf("draft does not mention deliverable %q", label),
				Severity: SeverityWarning,
			})
		}
	}

	// 3. Unauthorized commitments.
	for _, c := range commitmentPatterns {
		if match := c.pattern.FindString(draft); match != "" {
			failures = append(failures, Failure{
				Check:    CheckHallucinatedCommitment,
				Reason:   fmt.Sprintf("draft contains %s language: %q", c.label, match),
				Severity: SeverityError,
			})
		}
	}

	// 4. Caller-supplied forbidden phrases.
	for _, phrase := range g.ForbiddenPhrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			failures = append(failures, Failure{
				Check:    CheckForbiddenPhrase,
				Reason:   fmt.Sprintf("draft contains forbidden phrase %q", phrase),
				Severity: SeverityError,
			})
		}
	}

	// 5. Minimum length guards against truncated or empty drafts.
	if len(draft) < minLength {
		failures = append(failures, Failure{
			Check:    CheckMinimumLength,
			Reason:   fmt.Sprintf("draft is %d characters, minimum is %d", len(draft), minLength),
			Severity: SeverityError,
		})
	}

	return Result{Pass: !hasError(failures), Failures: failures}
}

// mentionsDeliverable reports whether the lowercased draft mentions the
// label or its short form (underscores read as spaces, and the bare label
// without a leading count like "2x").
func mentionsDeliverable(lowerDraft, label string) bool {
	l := strings.ToLower(strings.TrimSpace(label))
	if l == "" {
		return true
	}
	spaced := strings.ReplaceAll(l, "_", " ")
	candidates := []string{l, spaced}
	if _, short, ok := strings.Cut(spaced, "x "); ok {
		candidates = append(candidates, strings.TrimSpace(short))
	}
	for _, c := range candidates {
		if c != "" && strings.Contains(lowerDraft, c) {
			return true
		}
	}
	return false
}

func hasError(failures []Failure) bool {
	for _, f := range failures {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}
