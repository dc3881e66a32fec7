package verify

import "fmt"

// SignatureResult is the outcome of verifying one signature entry.
// Index is the entry's position in the card's signatures array.
type SignatureResult struct {
	Index     int    `json:"index"`
	Valid     bool   `json:"valid"`
	Algorithm string `json:"algorithm,omitempty"`
	KeyID     string `json:"keyId,omitempty"`
	JWKSURI   string `json:"jwksUri,omitempty"`
	Error     string `json:"error,omitempty"`
	Details   string `json:"details,omitempty"`
}

// Summary aggregates per-signature counts for a card.
type Summary struct {
	Total  int      `json:"total"`
	Valid  int      `json:"valid"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors"`
}

// VerificationResult is the card-level verdict. Valid is true only
// when at least one signature is present and every signature verifies.
type VerificationResult struct {
	Valid      bool              `json:"valid"`
	Signatures []SignatureResult `json:"signatures"`
	Summary    Summary           `json:"summary"`
}

// Aggregate combines per-signature outcomes into the card-level
// verdict. It never fails: an empty input yields an invalid result
// with an explanatory error entry.
func Aggregate(results []SignatureResult) VerificationResult {
	out := VerificationResult{
		Signatures: results,
		Summary:    Summary{Total: len(results), Errors: []string{}},
	}
	if out.Signatures == nil {
		out.Signatures = []SignatureResult{}
	}

	if len(results) == 0 {
		out.Summary.Errors = append(out.Summary.Errors, "No signatures present in Agent Card")
		return out
	}

	for _, r := range results {
		if r.Valid {
			out.Summary.Valid++
			continue
		}
		out.Summary.Failed++
		if r.Error != "" {
			out.Summary.Errors = append(out.Summary.Errors, fmt.Sprintf("signature %d: %s", r.Index, r.Error))
		}
	}

	// Strict all-or-nothing: one failing signature invalidates the card.
	out.Valid = out.Summary.Valid == out.Summary.Total

	return out
}
