// Package store persists patients, trial definitions and match results.
// Two drivers are provided: Postgres (pgx) and SQLite (modernc).
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/medmatch-ai/medmatch/internal/model"
)

// IsNotFound reports whether err is a no-rows lookup miss from either driver.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// Patient is a persisted patient record: an opaque ID over the extracted
// medical-info blob. Re-extraction creates a new record rather than mutating
// history in place.
type Patient struct {
	ID        string                `json:"id"`
	Profile   *model.PatientProfile `json:"medical_info"`
	CreatedAt time.Time             `json:"created_at"`
}

// Store defines the persistence interface for the matching pipeline.
// Referential integrity between matches and their patient/trial records is
// the caller's responsibility; no foreign keys are enforced.
type Store interface {
	// Patients
	CreatePatient(ctx context.Context, profile *model.PatientProfile) (*Patient, error)
	GetPatient(ctx context.Context, id string) (*Patient, error)

	// Trials
	CreateTrial(ctx context.Context, trial model.TrialDefinition) (*model.TrialDefinition, error)
	GetTrial(ctx context.Context, id string) (*model.TrialDefinition, error)
	ListTrials(ctx context.Context) ([]model.TrialDefinition, error)

	// Matches. SaveMatches is insert-only: a re-run supersedes earlier
	// result sets, it never overwrites them.
	SaveMatches(ctx context.Context, patientID string, matches []model.MatchResult) error
	ListMatches(ctx context.Context, patientID string) ([]model.MatchResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
