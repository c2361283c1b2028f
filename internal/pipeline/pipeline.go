// Package pipeline composes the extraction and matching stages into the
// analyze-and-match operation, with stage-tagged failures and optional
// persistence of the produced records.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medmatch-ai/medmatch/internal/model"
	"github.com/medmatch-ai/medmatch/internal/resilience"
	"github.com/medmatch-ai/medmatch/internal/store"
	"github.com/medmatch-ai/medmatch/pkg/llm"
)

// Stage names used in error tagging.
const (
	StageExtract = "extract"
	StageMatch   = "match"
	StagePersist = "persist"
)

// StageError tags a failure with the pipeline stage it occurred in, so the
// transport layer can distinguish "extraction failed" from "matching failed"
// without losing the underlying error class.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Stage returns the stage name of err if it is a StageError, else "".
func Stage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Extractor is the extraction stage contract.
type Extractor interface {
	Extract(ctx context.Context, rawText string) (*model.PatientProfile, error)
	ExtractWithTemperature(ctx context.Context, rawText string, temperature float64) (*model.PatientProfile, error)
}

// Matcher is the matching stage contract.
type Matcher interface {
	Match(ctx context.Context, profile *model.PatientProfile, trials []model.TrialDefinition) ([]model.MatchResult, error)
	MatchWithTemperature(ctx context.Context, profile *model.PatientProfile, trials []model.TrialDefinition, temperature float64) ([]model.MatchResult, error)
}

// Options tunes pipeline behavior.
type Options struct {
	// Retry applies to upstream-class completion failures in each stage.
	Retry resilience.RetryConfig

	// RetryMalformed enables exactly one re-issue of a stage whose
	// completion emitted unparseable output, with the temperature bumped by
	// MalformedTempBump. Off by default: identical prompts at low
	// temperature tend to reproduce the same malformed shape, so the retry
	// must be an explicit choice.
	RetryMalformed    bool
	MalformedTempBump float64

	// BaseTemperature is the stage temperature before any bump.
	BaseTemperature float64
}

// Result is the outcome of AnalyzeAndMatch. When matching fails after a
// successful extraction, Profile is still populated so the caller can expose
// what succeeded.
type Result struct {
	PatientID string                `json:"patient_id,omitempty"`
	Profile   *model.PatientProfile `json:"extractedInfo"`
	Matches   []model.MatchResult   `json:"matchedTrials"`
}

// Pipeline runs Extractor then Matcher in sequence.
type Pipeline struct {
	extractor Extractor
	matcher   Matcher
	store     store.Store // optional; nil disables persistence
	opts      Options
}

// New creates a Pipeline. st may be nil when the caller handles persistence.
func New(extractor Extractor, matcher Matcher, st store.Store, opts Options) *Pipeline {
	if opts.MalformedTempBump <= 0 {
		opts.MalformedTempBump = 0.2
	}
	return &Pipeline{extractor: extractor, matcher: matcher, store: st, opts: opts}
}

// Analyze runs only the extraction stage.
func (p *Pipeline) Analyze(ctx context.Context, rawText string) (*model.PatientProfile, error) {
	profile, err := p.runExtract(ctx, rawText)
	if err != nil {
		return nil, &StageError{Stage: StageExtract, Err: err}
	}
	return profile, nil
}

// AnalyzeAndMatch extracts a profile from rawText and matches it against
// trials. If extraction fails the matcher is never invoked. A matching
// failure still returns the extracted profile in Result alongside the error.
func (p *Pipeline) AnalyzeAndMatch(ctx context.Context, rawText string, trials []model.TrialDefinition) (*Result, error) {
	profile, err := p.runExtract(ctx, rawText)
	if err != nil {
		return nil, &StageError{Stage: StageExtract, Err: err}
	}

	result := &Result{Profile: profile}

	matches, err := p.runMatch(ctx, profile, trials)
	if err != nil {
		return result, &StageError{Stage: StageMatch, Err: err}
	}
	result.Matches = matches

	if p.store != nil {
		patientID, err := p.persist(ctx, profile, matches)
		if err != nil {
			return result, &StageError{Stage: StagePersist, Err: err}
		}
		result.PatientID = patientID
	}

	return result, nil
}

func (p *Pipeline) runExtract(ctx context.Context, rawText string) (*model.PatientProfile, error) {
	profile, err := resilience.DoVal(ctx, p.retryConfig("extract"), func(ctx context.Context) (*model.PatientProfile, error) {
		return p.extractor.Extract(ctx, rawText)
	})
	if err != nil && p.opts.RetryMalformed && errors.Is(err, llm.ErrMalformedOutput) {
		bumped := p.opts.BaseTemperature + p.opts.MalformedTempBump
		zap.L().Info("pipeline: retrying extraction with perturbed temperature",
			zap.Float64("temperature", bumped),
		)
		profile, err = p.extractor.ExtractWithTemperature(ctx, rawText, bumped)
	}
	return profile, err
}

func (p *Pipeline) runMatch(ctx context.Context, profile *model.PatientProfile, trials []model.TrialDefinition) ([]model.MatchResult, error) {
	matches, err := resilience.DoVal(ctx, p.retryConfig("match"), func(ctx context.Context) ([]model.MatchResult, error) {
		return p.matcher.Match(ctx, profile, trials)
	})
	if err != nil && p.opts.RetryMalformed && errors.Is(err, llm.ErrMalformedOutput) {
		bumped := p.opts.BaseTemperature + p.opts.MalformedTempBump
		zap.L().Info("pipeline: retrying match with perturbed temperature",
			zap.Float64("temperature", bumped),
		)
		matches, err = p.matcher.MatchWithTemperature(ctx, profile, trials, bumped)
	}
	return matches, err
}

func (p *Pipeline) retryConfig(stage string) resilience.RetryConfig {
	cfg := p.opts.Retry
	cfg.OnRetry = func(attempt int, err error) {
		zap.L().Warn("pipeline: retrying after upstream failure",
			zap.String("stage", stage),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return cfg
}

// persist stores the profile and its match set. Matches supersede earlier
// runs; nothing is overwritten.
func (p *Pipeline) persist(ctx context.Context, profile *model.PatientProfile, matches []model.MatchResult) (string, error) {
	patient, err := p.store.CreatePatient(ctx, profile)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: persist patient")
	}

	for i := range matches {
		matches[i].PatientID = patient.ID
	}
	if err := p.store.SaveMatches(ctx, patient.ID, matches); err != nil {
		return patient.ID, eris.Wrap(err, "pipeline: persist matches")
	}
	return patient.ID, nil
}
