package model

import (
	"sort"
	"time"
)

// MatchResult is the scored, justified outcome of comparing one patient
// profile against one trial. Results are immutable once constructed;
// re-running a match supersedes rather than overwrites earlier results.
type MatchResult struct {
	PatientID       string   `json:"patient_id,omitempty"`
	TrialID         string   `json:"trial_id"`
	NCTID           string   `json:"nct_id,omitempty"`
	Score           float64  `json:"score"`
	Reasons         []string `json:"matching_reasons"`
	LimitingFactors []string `json:"limiting_factors"`
	// Clamped marks a score the completion emitted outside [0,100]. The
	// result still ranks, but callers should treat it as suspect.
	Clamped   bool      `json:"clamped,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SortMatches orders results by descending score, breaking ties by
// ascending trial ID so the ordering is deterministic regardless of the
// order the completion emitted them in.
func SortMatches(matches []MatchResult) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].TrialID < matches[j].TrialID
	})
}
