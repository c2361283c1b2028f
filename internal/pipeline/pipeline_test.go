package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medmatch-ai/medmatch/internal/model"
	"github.com/medmatch-ai/medmatch/internal/resilience"
	"github.com/medmatch-ai/medmatch/internal/store"
	"github.com/medmatch-ai/medmatch/pkg/llm"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     1.0,
	}
}

func testProfile() *model.PatientProfile {
	p := &model.PatientProfile{}
	p.Diagnosis.PrimaryDiagnosis = "pancreatic adenocarcinoma"
	p.Demographics.Age = "48"
	return p
}

func testTrials() []model.TrialDefinition {
	return []model.TrialDefinition{{ID: "trial-1", NCTID: "NCT00000001", Title: "Trial One"}}
}

func testMatches() []model.MatchResult {
	return []model.MatchResult{{TrialID: "trial-1", NCTID: "NCT00000001", Score: 70, Reasons: []string{"condition match"}}}
}

func TestAnalyzeAndMatchSuccess(t *testing.T) {
	ex := &mockExtractor{}
	ma := &mockMatcher{}
	st := &mockStore{}

	profile := testProfile()
	ex.On("Extract", mock.Anything, "narrative").Return(profile, nil)
	ma.On("Match", mock.Anything, profile, testTrials()).Return(testMatches(), nil)
	st.On("CreatePatient", mock.Anything, profile).
		Return(&store.Patient{ID: "patient-123", Profile: profile}, nil)
	st.On("SaveMatches", mock.Anything, "patient-123", mock.Anything).Return(nil)

	p := New(ex, ma, st, Options{Retry: fastRetry()})
	result, err := p.AnalyzeAndMatch(context.Background(), "narrative", testTrials())
	require.NoError(t, err)

	assert.Equal(t, "patient-123", result.PatientID)
	assert.Equal(t, profile, result.Profile)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "patient-123", result.Matches[0].PatientID)

	ex.AssertExpectations(t)
	ma.AssertExpectations(t)
	st.AssertExpectations(t)
}

func TestAnalyzeAndMatchExtractFailureSkipsMatcher(t *testing.T) {
	ex := &mockExtractor{}
	ma := &mockMatcher{}

	ex.On("Extract", mock.Anything, mock.Anything).Return(nil, llm.ErrMalformedOutput)

	p := New(ex, ma, nil, Options{Retry: fastRetry()})
	result, err := p.AnalyzeAndMatch(context.Background(), "narrative", testTrials())
	require.Error(t, err)

	assert.Nil(t, result)
	assert.Equal(t, StageExtract, Stage(err))
	assert.True(t, errors.Is(err, llm.ErrMalformedOutput))
	ma.AssertNotCalled(t, "Match")
	ma.AssertNotCalled(t, "MatchWithTemperature")
}

func TestAnalyzeAndMatchMatchFailureKeepsProfile(t *testing.T) {
	ex := &mockExtractor{}
	ma := &mockMatcher{}

	profile := testProfile()
	ex.On("Extract", mock.Anything, mock.Anything).Return(profile, nil)
	ma.On("Match", mock.Anything, profile, mock.Anything).Return(nil, llm.ErrMalformedOutput)

	p := New(ex, ma, nil, Options{Retry: fastRetry()})
	result, err := p.AnalyzeAndMatch(context.Background(), "narrative", testTrials())
	require.Error(t, err)

	require.NotNil(t, result)
	assert.Equal(t, profile, result.Profile)
	assert.Empty(t, result.Matches)
	assert.Equal(t, StageMatch, Stage(err))
}

func TestAnalyzeAndMatchPersistFailure(t *testing.T) {
	ex := &mockExtractor{}
	ma := &mockMatcher{}
	st := &mockStore{}

	profile := testProfile()
	ex.On("Extract", mock.Anything, mock.Anything).Return(profile, nil)
	ma.On("Match", mock.Anything, profile, mock.Anything).Return(testMatches(), nil)
	st.On("CreatePatient", mock.Anything, profile).Return(nil, errors.New("db down"))

	p := New(ex, ma, st, Options{Retry: fastRetry()})
	result, err := p.AnalyzeAndMatch(context.Background(), "narrative", testTrials())
	require.Error(t, err)

	require.NotNil(t, result)
	assert.Equal(t, StagePersist, Stage(err))
	assert.Equal(t, profile, result.Profile)
	assert.Len(t, result.Matches, 1)
	assert.Empty(t, result.PatientID)
}

func TestAnalyzeAndMatchNoStore(t *testing.T) {
	ex := &mockExtractor{}
	ma := &mockMatcher{}

	profile := testProfile()
	ex.On("Extract", mock.Anything, mock.Anything).Return(profile, nil)
	ma.On("Match", mock.Anything, profile, mock.Anything).Return(testMatches(), nil)

	p := New(ex, ma, nil, Options{Retry: fastRetry()})
	result, err := p.AnalyzeAndMatch(context.Background(), "narrative", testTrials())
	require.NoError(t, err)
	assert.Empty(t, result.PatientID)
	assert.Len(t, result.Matches, 1)
}

func TestAnalyzeOnly(t *testing.T) {
	ex := &mockExtractor{}
	profile := testProfile()
	ex.On("Extract", mock.Anything, "narrative").Return(profile, nil)

	p := New(ex, &mockMatcher{}, nil, Options{Retry: fastRetry()})
	got, err := p.Analyze(context.Background(), "narrative")
	require.NoError(t, err)
	assert.Equal(t, profile, got)
}

func TestAnalyzeTagsExtractStage(t *testing.T) {
	ex := &mockExtractor{}
	ex.On("Extract", mock.Anything, mock.Anything).Return(nil, llm.ErrUnavailable)

	p := New(ex, &mockMatcher{}, nil, Options{Retry: fastRetry()})
	_, err := p.Analyze(context.Background(), "narrative")
	require.Error(t, err)
	assert.Equal(t, StageExtract, Stage(err))
	assert.True(t, errors.Is(err, llm.ErrUnavailable))
}

func TestUpstreamFailureIsRetried(t *testing.T) {
	ex := &mockExtractor{}
	profile := testProfile()

	ex.On("Extract", mock.Anything, mock.Anything).Return(nil, llm.ErrUpstream).Once()
	ex.On("Extract", mock.Anything, mock.Anything).Return(profile, nil).Once()

	p := New(ex, &mockMatcher{}, nil, Options{Retry: fastRetry()})
	got, err := p.Analyze(context.Background(), "narrative")
	require.NoError(t, err)
	assert.Equal(t, profile, got)
	ex.AssertNumberOfCalls(t, "Extract", 2)
}

func TestMalformedOutputNotRetriedByDefault(t *testing.T) {
	ex := &mockExtractor{}
	ex.On("Extract", mock.Anything, mock.Anything).Return(nil, llm.ErrMalformedOutput)

	p := New(ex, &mockMatcher{}, nil, Options{Retry: fastRetry()})
	_, err := p.Analyze(context.Background(), "narrative")
	require.Error(t, err)

	ex.AssertNumberOfCalls(t, "Extract", 1)
	ex.AssertNotCalled(t, "ExtractWithTemperature")
}

func TestMalformedRetryBumpsTemperature(t *testing.T) {
	ex := &mockExtractor{}
	profile := testProfile()

	ex.On("Extract", mock.Anything, mock.Anything).Return(nil, llm.ErrMalformedOutput).Once()
	ex.On("ExtractWithTemperature", mock.Anything, mock.Anything, 0.75).Return(profile, nil).Once()

	p := New(ex, &mockMatcher{}, nil, Options{
		Retry:             fastRetry(),
		RetryMalformed:    true,
		MalformedTempBump: 0.25,
		BaseTemperature:   0.5,
	})
	got, err := p.Analyze(context.Background(), "narrative")
	require.NoError(t, err)
	assert.Equal(t, profile, got)
	ex.AssertExpectations(t)
}

func TestMalformedRetryIsOneShot(t *testing.T) {
	ex := &mockExtractor{}
	ex.On("Extract", mock.Anything, mock.Anything).Return(nil, llm.ErrMalformedOutput)
	ex.On("ExtractWithTemperature", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, llm.ErrMalformedOutput)

	p := New(ex, &mockMatcher{}, nil, Options{
		Retry:           fastRetry(),
		RetryMalformed:  true,
		BaseTemperature: 0.1,
	})
	_, err := p.Analyze(context.Background(), "narrative")
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrMalformedOutput))

	ex.AssertNumberOfCalls(t, "Extract", 1)
	ex.AssertNumberOfCalls(t, "ExtractWithTemperature", 1)
}

func TestMalformedRetryAppliesToMatchStage(t *testing.T) {
	ex := &mockExtractor{}
	ma := &mockMatcher{}
	profile := testProfile()

	ex.On("Extract", mock.Anything, mock.Anything).Return(profile, nil)
	ma.On("Match", mock.Anything, profile, mock.Anything).Return(nil, llm.ErrMalformedOutput).Once()
	ma.On("MatchWithTemperature", mock.Anything, profile, mock.Anything, 0.75).
		Return(testMatches(), nil).Once()

	p := New(ex, ma, nil, Options{
		Retry:             fastRetry(),
		RetryMalformed:    true,
		MalformedTempBump: 0.25,
		BaseTemperature:   0.5,
	})
	result, err := p.AnalyzeAndMatch(context.Background(), "narrative", testTrials())
	require.NoError(t, err)
	assert.Len(t, result.Matches, 1)
	ma.AssertExpectations(t)
}

func TestStageHelper(t *testing.T) {
	assert.Equal(t, "", Stage(nil))
	assert.Equal(t, "", Stage(errors.New("plain")))
	assert.Equal(t, StageMatch, Stage(&StageError{Stage: StageMatch, Err: errors.New("x")}))
}
