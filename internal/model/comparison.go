package model

// CompareFields are the fields the AI comparator scores on every run.
var CompareFields = []string{"name", "address", "phone", "specialty"}

// FieldComparison is the comparator's verdict for a single field.
// Confidence is normalized to 0.0 - 1.0 before the result leaves the
// compare package, matching the provenance scale on golden records.
type FieldComparison struct {
	Match      bool    `json:"match"`
	Confidence float64 `json:"confidence"` // 0.0 - 1.0
	Reason     string  `json:"reason"`
}

// ComparisonResult is the comparator's full output for one submission.
// Matching is semantic, tolerant of abbreviation and formatting differences,
// and delegated to a reasoning backend; results are not bit-reproducible
// across calls with identical input.
type ComparisonResult struct {
	OverallMatch bool                       `json:"overall_match"`
	Confidence   float64                    `json:"confidence"` // 0 - 100
	Fields       map[string]FieldComparison `json:"fields"`
	Issues       []string                   `json:"issues"`
	Explanation  string                     `json:"explanation"`
}

// Accepted reports whether the result clears the acceptance gate: an overall
// match at or above the given confidence threshold. Anything else routes to
// review/enrichment, never outright rejection.
func (r *ComparisonResult) Accepted(threshold float64) bool {
	return r.OverallMatch && r.Confidence >= threshold
}
