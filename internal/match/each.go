package match

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/medmatch-ai/medmatch/internal/model"
	"github.com/medmatch-ai/medmatch/pkg/llm"
)

const matchOnePrompt = `Given this patient information:
%s

Evaluate the patient against this clinical trial:
%s

Focus on:
%s

Return:
1. Match score (0-100)
2. Matching reasons
3. Limiting factors

A score of 0 must still include at least one limiting factor explaining the disqualification.

Return only a JSON object:
{"trial_id": "%s", "score": <0-100>, "matching_reasons": ["..."], "limiting_factors": ["..."]}`

// MatchEach evaluates every trial with its own completion call instead of one
// batch prompt. Smaller prompts keep each evaluation inside the output token
// budget when the catalog is large; the gate still bounds how many calls run
// at once. A failed evaluation fails the whole operation.
func (m *Matcher) MatchEach(ctx context.Context, profile *model.PatientProfile, trials []model.TrialDefinition, maxInFlight int) ([]model.MatchResult, error) {
	if profile == nil || profile.IsEmpty() {
		return nil, eris.Wrap(llm.ErrEmptyProfile, "match")
	}
	if len(trials) == 0 {
		return []model.MatchResult{}, nil
	}
	if m.client == nil {
		return nil, eris.Wrap(llm.ErrUnavailable, "match")
	}
	if maxInFlight <= 0 {
		maxInFlight = 1
	}

	profileJSON, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "match: marshal profile")
	}

	results := make([]model.MatchResult, len(trials))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)

	for i, trial := range trials {
		i, trial := i, trial
		g.Go(func() error {
			r, err := m.matchOne(gctx, profileJSON, trial)
			if err != nil {
				return err
			}
			results[i] = *r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	model.SortMatches(results)
	return results, nil
}

func (m *Matcher) matchOne(ctx context.Context, profileJSON []byte, trial model.TrialDefinition) (*model.MatchResult, error) {
	trialJSON, err := json.MarshalIndent(trial, "", "  ")
	if err != nil {
		return nil, eris.Wrapf(err, "match: marshal trial %s", trial.ID)
	}

	resp, err := m.client.Complete(ctx, llm.CompletionRequest{
		Model:       m.cfg.Model,
		MaxTokens:   m.cfg.MaxTokens,
		System:      systemText,
		Prompt:      fmt.Sprintf(matchOnePrompt, profileJSON, trialJSON, m.rubricBlock(), trial.ID),
		Temperature: &m.cfg.Temperature,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "match: completion for trial %s", trial.ID)
	}
	resp.Usage.LogCost(m.cfg.Model, "match")

	var raw rawMatch
	if err := json.Unmarshal([]byte(llm.CleanJSON(resp.Text)), &raw); err != nil {
		return nil, eris.Wrapf(llm.ErrMalformedOutput, "match: parse evaluation for trial %s: %v", trial.ID, err)
	}

	return resultFromRaw(trial, raw)
}
