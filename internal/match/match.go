// Package match scores a structured patient profile against a catalog of
// clinical trials via the completion capability, producing ranked results
// with matching reasons and limiting factors.
package match

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medmatch-ai/medmatch/internal/config"
	"github.com/medmatch-ai/medmatch/internal/model"
	"github.com/medmatch-ai/medmatch/pkg/llm"
)

const systemText = "You are a clinical trial eligibility analyst. Compare the patient profile against each trial's eligibility criteria and return a strict JSON evaluation for every trial. Never fabricate eligibility facts not present in the inputs."

const matchPrompt = `Given this patient information:
%s

Evaluate the patient against each of these clinical trials:
%s

Focus on:
%s

For every trial, return:
1. Match score (0-100)
2. Matching reasons
3. Limiting factors

A score of 0 must still include at least one limiting factor explaining the disqualification.

Return only a JSON array, one object per trial:
[{"trial_id": "<id>", "score": <0-100>, "matching_reasons": ["..."], "limiting_factors": ["..."]}]`

// defaultLimitingFactor is injected when a completion reports a zero score
// with no explanation, keeping the score-0 invariant intact.
const defaultLimitingFactor = "patient does not meet the trial's eligibility criteria"

// Matcher evaluates patient/trial compatibility.
type Matcher struct {
	client llm.Client
	cfg    config.AnthropicConfig
	rubric []string
}

// New creates a Matcher. An empty rubric falls back to the default
// clinical criteria.
func New(client llm.Client, cfg config.AnthropicConfig, rubric []string) *Matcher {
	if len(rubric) == 0 {
		rubric = config.DefaultRubric
	}
	return &Matcher{client: client, cfg: cfg, rubric: rubric}
}

// Match scores the profile against every trial and returns results sorted by
// descending score with ascending trial-ID tie-break. An empty trial set
// returns an empty slice without touching the completion capability. Only
// trials the completion actually addressed appear in the result.
func (m *Matcher) Match(ctx context.Context, profile *model.PatientProfile, trials []model.TrialDefinition) ([]model.MatchResult, error) {
	return m.MatchWithTemperature(ctx, profile, trials, m.cfg.Temperature)
}

// MatchWithTemperature is Match with an explicit sampling temperature, used
// by callers applying the one-shot malformed-output mitigation.
func (m *Matcher) MatchWithTemperature(ctx context.Context, profile *model.PatientProfile, trials []model.TrialDefinition, temperature float64) ([]model.MatchResult, error) {
	if profile == nil || profile.IsEmpty() {
		return nil, eris.Wrap(llm.ErrEmptyProfile, "match")
	}
	if len(trials) == 0 {
		return []model.MatchResult{}, nil
	}
	if m.client == nil {
		return nil, eris.Wrap(llm.ErrUnavailable, "match")
	}

	profileJSON, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "match: marshal profile")
	}
	trialsJSON, err := json.MarshalIndent(trials, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "match: marshal trials")
	}

	resp, err := m.client.Complete(ctx, llm.CompletionRequest{
		Model:       m.cfg.Model,
		MaxTokens:   m.cfg.MaxTokens,
		System:      systemText,
		Prompt:      fmt.Sprintf(matchPrompt, profileJSON, trialsJSON, m.rubricBlock()),
		Temperature: &temperature,
	})
	if err != nil {
		return nil, eris.Wrap(err, "match: completion")
	}
	resp.Usage.LogCost(m.cfg.Model, "match")

	results, err := parseMatches(resp.Text, trials)
	if err != nil {
		zap.L().Warn("match: completion output failed to parse",
			zap.Int("trials", len(trials)),
			zap.Int("response_len", len(resp.Text)),
			zap.Error(err),
		)
		return nil, err
	}

	model.SortMatches(results)
	return results, nil
}

func (m *Matcher) rubricBlock() string {
	var b strings.Builder
	for _, criterion := range m.rubric {
		b.WriteString("- ")
		b.WriteString(criterion)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// rawMatch is the per-trial shape the completion is instructed to emit.
type rawMatch struct {
	TrialID         string      `json:"trial_id"`
	Score           json.Number `json:"score"`
	Reasons         []string    `json:"matching_reasons"`
	LimitingFactors []string    `json:"limiting_factors"`
}

// parseMatches validates the completion text against the match schema and
// applies the scoring invariants: out-of-range scores are clamped and
// flagged, zero scores always carry a limiting factor, and trial IDs the
// catalog does not know are dropped.
func parseMatches(text string, trials []model.TrialDefinition) ([]model.MatchResult, error) {
	cleaned := llm.CleanJSON(text)

	var raw []rawMatch
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		// Some completions wrap the array in an object despite instructions.
		var wrapped struct {
			Matches []rawMatch `json:"matches"`
			Trials  []rawMatch `json:"matched_trials"`
		}
		if err2 := json.Unmarshal([]byte(cleaned), &wrapped); err2 != nil {
			return nil, eris.Wrapf(llm.ErrMalformedOutput, "match: parse results: %v", err)
		}
		raw = wrapped.Matches
		if len(raw) == 0 {
			raw = wrapped.Trials
		}
		if len(raw) == 0 {
			return nil, eris.Wrap(llm.ErrMalformedOutput, "match: no trial evaluations in output")
		}
	}

	byID := make(map[string]model.TrialDefinition, len(trials))
	for _, t := range trials {
		byID[t.ID] = t
		if t.NCTID != "" {
			byID[t.NCTID] = t
		}
	}

	results := make([]model.MatchResult, 0, len(raw))
	for _, r := range raw {
		trial, ok := byID[r.TrialID]
		if !ok {
			zap.L().Warn("match: completion referenced unknown trial",
				zap.String("trial_id", r.TrialID),
			)
			continue
		}

		result, err := resultFromRaw(trial, r)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}

	return results, nil
}

// resultFromRaw applies the scoring invariants to one evaluation: out-of-range
// scores are clamped and flagged, and a zero score always carries at least one
// limiting factor.
func resultFromRaw(trial model.TrialDefinition, r rawMatch) (*model.MatchResult, error) {
	score, err := r.Score.Float64()
	if err != nil {
		return nil, eris.Wrapf(llm.ErrMalformedOutput, "match: non-numeric score for trial %s", trial.ID)
	}

	clamped := false
	if score < 0 {
		score, clamped = 0, true
	} else if score > 100 {
		score, clamped = 100, true
	}
	if clamped {
		zap.L().Warn("match: score outside [0,100], clamped",
			zap.String("trial_id", trial.ID),
			zap.String("raw_score", r.Score.String()),
			zap.Float64("score", score),
		)
	}

	factors := r.LimitingFactors
	if score == 0 && len(factors) == 0 {
		factors = []string{defaultLimitingFactor}
	}

	return &model.MatchResult{
		TrialID:         trial.ID,
		NCTID:           trial.NCTID,
		Score:           score,
		Reasons:         r.Reasons,
		LimitingFactors: factors,
		Clamped:         clamped,
		CreatedAt:       time.Now().UTC(),
	}, nil
}
