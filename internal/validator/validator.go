// Package validator performs schema validation and scoring of A2A
// Agent Cards, combining structural checks, signature verification
// outcomes, and availability probing into a single report.
package validator

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cardwarden/cardwarden/internal/probe"
	"github.com/cardwarden/cardwarden/internal/protocol"
	"github.com/cardwarden/cardwarden/internal/verify"
)

// Issue severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Score deductions per issue severity. The compliance score starts at
// 100 and is clamped at 0.
const (
	errorPenalty   = 25.0
	warningPenalty = 10.0
	infoPenalty    = 2.0
)

// Trust score contributions.
const (
	trustHTTPSPoints     = 40.0
	trustSignaturePoints = 60.0
)

// Issue represents a specific problem found during validation.
type Issue struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Field    string `json:"field,omitempty"`
}

// Availability summarizes the optional live-endpoint probe.
type Availability struct {
	Score       float64 `json:"score"`
	Tested      bool    `json:"tested"`
	EndpointURL string  `json:"endpointUrl,omitempty"`
	LatencyMS   int64   `json:"latencyMs,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Result contains the complete validation report for an Agent Card.
type Result struct {
	Success         bool                       `json:"success"`
	ComplianceScore float64                    `json:"complianceScore"`
	TrustScore      float64                    `json:"trustScore"`
	Availability    Availability               `json:"availability"`
	Issues          []Issue                    `json:"issues"`
	Signatures      *verify.VerificationResult `json:"signatures,omitempty"`
}

// AddError adds an error issue and marks the result unsuccessful.
func (r *Result) AddError(code, message, field string) {
	r.Issues = append(r.Issues, Issue{Code: code, Message: message, Severity: SeverityError, Field: field})
	r.Success = false
}

// AddWarning adds a warning issue.
func (r *Result) AddWarning(code, message, field string) {
	r.Issues = append(r.Issues, Issue{Code: code, Message: message, Severity: SeverityWarning, Field: field})
}

// AddInfo adds an informational issue.
func (r *Result) AddInfo(code, message, field string) {
	r.Issues = append(r.Issues, Issue{Code: code, Message: message, Severity: SeverityInfo, Field: field})
}

// Validate combines schema checks with prior signature-verification
// and probe outcomes into the final report. Either outcome may be nil
// when that stage was skipped.
func Validate(card *protocol.AgentCard, signatures *verify.VerificationResult, availability *probe.Result) Result {
	res := Result{Success: true, Issues: []Issue{}}

	checkSchema(card, &res)

	res.Signatures = signatures
	if signatures != nil && signatures.Summary.Total > 0 && !signatures.Valid {
		res.AddError("signature_invalid",
			fmt.Sprintf("%d of %d card signatures failed verification",
				signatures.Summary.Failed, signatures.Summary.Total),
			"signatures")
	}

	if availability != nil {
		res.Availability = Availability{
			Tested:      availability.Tested,
			EndpointURL: availability.EndpointURL,
			LatencyMS:   availability.LatencyMS,
			Error:       availability.Error,
		}
		switch {
		case availability.Reachable && availability.StatusCode < 500:
			res.Availability.Score = 100
		case availability.Reachable:
			res.Availability.Score = 50
			res.AddWarning("endpoint_unhealthy",
				fmt.Sprintf("endpoint responded with HTTP %d", availability.StatusCode), "url")
		default:
			res.AddWarning("endpoint_unreachable", "declared endpoint did not respond", "url")
		}
	}

	res.ComplianceScore = complianceScore(res.Issues)
	res.TrustScore = trustScore(card, signatures)

	return res
}

// checkSchema applies structural checks to the typed card.
func checkSchema(card *protocol.AgentCard, res *Result) {
	if card.Name == "" {
		res.AddError("missing_name", "Agent Card must declare a name", "name")
	}

	switch {
	case card.URL == "":
		res.AddError("missing_url", "Agent Card must declare a url", "url")
	default:
		u, err := url.Parse(card.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			res.AddError("invalid_url", fmt.Sprintf("url %q is not a valid absolute URL", card.URL), "url")
		} else if u.Scheme != "https" {
			res.AddWarning("insecure_url", "url should use https", "url")
		}
	}

	if card.Version == "" {
		res.AddWarning("missing_version", "Agent Card should declare a version", "version")
	}
	if card.Description == "" {
		res.AddInfo("missing_description", "a description helps clients choose agents", "description")
	}

	if len(card.Skills) == 0 {
		res.AddWarning("no_skills", "Agent Card declares no skills", "skills")
	}
	seen := make(map[string]bool, len(card.Skills))
	for i, skill := range card.Skills {
		field := fmt.Sprintf("skills[%d]", i)
		if skill.ID == "" {
			res.AddError("missing_skill_id", "skill must declare an id", field)
		} else if seen[skill.ID] {
			res.AddWarning("duplicate_skill_id", fmt.Sprintf("skill id %q appears more than once", skill.ID), field)
		} else {
			seen[skill.ID] = true
		}
		if skill.Name == "" {
			res.AddError("missing_skill_name", "skill must declare a name", field)
		}
	}
}

// complianceScore derives a 0-100 score from the issue list.
func complianceScore(issues []Issue) float64 {
	score := 100.0
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityError:
			score -= errorPenalty
		case SeverityWarning:
			score -= warningPenalty
		case SeverityInfo:
			score -= infoPenalty
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

// trustScore derives a 0-100 score from transport security and
// signature verification. A card with failing signatures earns no
// signature points regardless of how many entries passed.
func trustScore(card *protocol.AgentCard, signatures *verify.VerificationResult) float64 {
	score := 0.0
	if strings.HasPrefix(card.URL, "https://") {
		score += trustHTTPSPoints
	}
	if signatures != nil && signatures.Valid {
		score += trustSignaturePoints
	}
	return score
}
