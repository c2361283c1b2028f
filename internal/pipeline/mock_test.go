package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/medmatch-ai/medmatch/internal/model"
	"github.com/medmatch-ai/medmatch/internal/store"
)

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, rawText string) (*model.PatientProfile, error) {
	args := m.Called(ctx, rawText)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PatientProfile), args.Error(1)
}

func (m *mockExtractor) ExtractWithTemperature(ctx context.Context, rawText string, temperature float64) (*model.PatientProfile, error) {
	args := m.Called(ctx, rawText, temperature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PatientProfile), args.Error(1)
}

type mockMatcher struct {
	mock.Mock
}

func (m *mockMatcher) Match(ctx context.Context, profile *model.PatientProfile, trials []model.TrialDefinition) ([]model.MatchResult, error) {
	args := m.Called(ctx, profile, trials)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.MatchResult), args.Error(1)
}

func (m *mockMatcher) MatchWithTemperature(ctx context.Context, profile *model.PatientProfile, trials []model.TrialDefinition, temperature float64) ([]model.MatchResult, error) {
	args := m.Called(ctx, profile, trials, temperature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.MatchResult), args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreatePatient(ctx context.Context, profile *model.PatientProfile) (*store.Patient, error) {
	args := m.Called(ctx, profile)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Patient), args.Error(1)
}

func (m *mockStore) GetPatient(ctx context.Context, id string) (*store.Patient, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Patient), args.Error(1)
}

func (m *mockStore) CreateTrial(ctx context.Context, trial model.TrialDefinition) (*model.TrialDefinition, error) {
	args := m.Called(ctx, trial)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TrialDefinition), args.Error(1)
}

func (m *mockStore) GetTrial(ctx context.Context, id string) (*model.TrialDefinition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TrialDefinition), args.Error(1)
}

func (m *mockStore) ListTrials(ctx context.Context) ([]model.TrialDefinition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TrialDefinition), args.Error(1)
}

func (m *mockStore) SaveMatches(ctx context.Context, patientID string, matches []model.MatchResult) error {
	args := m.Called(ctx, patientID, matches)
	return args.Error(0)
}

func (m *mockStore) ListMatches(ctx context.Context, patientID string) ([]model.MatchResult, error) {
	args := m.Called(ctx, patientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.MatchResult), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
