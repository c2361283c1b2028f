package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/medmatch-ai/medmatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS patients (
	id           TEXT PRIMARY KEY,
	medical_info TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS clinical_trials (
	id                   TEXT PRIMARY KEY,
	nct_id               TEXT NOT NULL UNIQUE,
	title                TEXT NOT NULL,
	phase                TEXT,
	status               TEXT,
	eligibility_criteria TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trial_matches (
	id               TEXT PRIMARY KEY,
	patient_id       TEXT NOT NULL,
	trial_id         TEXT NOT NULL,
	match_score      REAL NOT NULL,
	match_reasons    TEXT NOT NULL,
	limiting_factors TEXT NOT NULL,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_clinical_trials_nct_id ON clinical_trials(nct_id);
CREATE INDEX IF NOT EXISTS idx_trial_matches_patient_id ON trial_matches(patient_id);
CREATE INDEX IF NOT EXISTS idx_trial_matches_trial_id ON trial_matches(trial_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreatePatient(ctx context.Context, profile *model.PatientProfile) (*Patient, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	infoJSON, err := json.Marshal(profile)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal medical info")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO patients (id, medical_info, created_at) VALUES (?, ?, ?)`,
		id, string(infoJSON), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert patient")
	}

	return &Patient{ID: id, Profile: profile, CreatedAt: now}, nil
}

func (s *SQLiteStore) GetPatient(ctx context.Context, id string) (*Patient, error) {
	var p Patient
	var infoJSON string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, medical_info, created_at FROM patients WHERE id = ?`,
		id,
	).Scan(&p.ID, &infoJSON, &p.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get patient %s", id)
	}

	p.Profile = &model.PatientProfile{}
	if err := json.Unmarshal([]byte(infoJSON), p.Profile); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal medical info")
	}
	return &p, nil
}

func (s *SQLiteStore) CreateTrial(ctx context.Context, trial model.TrialDefinition) (*model.TrialDefinition, error) {
	if trial.ID == "" {
		trial.ID = uuid.New().String()
	}

	criteriaJSON, err := json.Marshal(trial.EligibilityCriteria)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal eligibility criteria")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO clinical_trials (id, nct_id, title, phase, status, eligibility_criteria)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (nct_id) DO UPDATE SET
		   title = excluded.title,
		   phase = excluded.phase,
		   status = excluded.status,
		   eligibility_criteria = excluded.eligibility_criteria`,
		trial.ID, trial.NCTID, trial.Title, trial.Phase, string(trial.Status), string(criteriaJSON),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert trial %s", trial.NCTID)
	}

	return &trial, nil
}

func (s *SQLiteStore) GetTrial(ctx context.Context, id string) (*model.TrialDefinition, error) {
	var t model.TrialDefinition
	var status, criteriaJSON string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, nct_id, title, phase, status, eligibility_criteria FROM clinical_trials WHERE id = ? OR nct_id = ?`,
		id, id,
	).Scan(&t.ID, &t.NCTID, &t.Title, &t.Phase, &status, &criteriaJSON)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get trial %s", id)
	}

	t.Status = model.TrialStatus(status)
	if err := json.Unmarshal([]byte(criteriaJSON), &t.EligibilityCriteria); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal eligibility criteria")
	}
	return &t, nil
}

func (s *SQLiteStore) ListTrials(ctx context.Context) ([]model.TrialDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, nct_id, title, phase, status, eligibility_criteria FROM clinical_trials ORDER BY nct_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list trials")
	}
	defer rows.Close()

	var trials []model.TrialDefinition
	for rows.Next() {
		var t model.TrialDefinition
		var status, criteriaJSON string
		if err := rows.Scan(&t.ID, &t.NCTID, &t.Title, &t.Phase, &status, &criteriaJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trial")
		}
		t.Status = model.TrialStatus(status)
		if err := json.Unmarshal([]byte(criteriaJSON), &t.EligibilityCriteria); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal eligibility criteria")
		}
		trials = append(trials, t)
	}
	return trials, eris.Wrap(rows.Err(), "sqlite: list trials rows")
}

func (s *SQLiteStore) SaveMatches(ctx context.Context, patientID string, matches []model.MatchResult) error {
	for _, m := range matches {
		reasonsJSON, err := json.Marshal(m.Reasons)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal reasons")
		}
		factorsJSON, err := json.Marshal(m.LimitingFactors)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal limiting factors")
		}

		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		_, err = s.db.ExecContext(ctx,
			`INSERT INTO trial_matches (id, patient_id, trial_id, match_score, match_reasons, limiting_factors, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), patientID, m.TrialID, m.Score, string(reasonsJSON), string(factorsJSON), createdAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert match for trial %s", m.TrialID)
		}
	}
	return nil
}

func (s *SQLiteStore) ListMatches(ctx context.Context, patientID string) ([]model.MatchResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT patient_id, trial_id, match_score, match_reasons, limiting_factors, created_at
		 FROM trial_matches WHERE patient_id = ? ORDER BY match_score DESC, trial_id ASC`,
		patientID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list matches for %s", patientID)
	}
	defer rows.Close()

	var matches []model.MatchResult
	for rows.Next() {
		var m model.MatchResult
		var reasonsJSON, factorsJSON string
		if err := rows.Scan(&m.PatientID, &m.TrialID, &m.Score, &reasonsJSON, &factorsJSON, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan match")
		}
		if err := json.Unmarshal([]byte(reasonsJSON), &m.Reasons); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal reasons")
		}
		if err := json.Unmarshal([]byte(factorsJSON), &m.LimitingFactors); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal limiting factors")
		}
		matches = append(matches, m)
	}
	return matches, eris.Wrap(rows.Err(), "sqlite: list matches rows")
}
