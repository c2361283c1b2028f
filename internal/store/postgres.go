package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/medmatch-ai/medmatch/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses, extracted so tests can
// substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_patient": `INSERT INTO patients (id, medical_info, created_at) VALUES ($1, $2, $3)`,
	"get_patient":    `SELECT id, medical_info, created_at FROM patients WHERE id = $1`,
	"get_trial":      `SELECT id, nct_id, title, phase, status, eligibility_criteria FROM clinical_trials WHERE id = $1 OR nct_id = $1`,
	"insert_match":   `INSERT INTO trial_matches (id, patient_id, trial_id, match_score, match_reasons, limiting_factors, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS patients (
	id           TEXT PRIMARY KEY,
	medical_info JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS clinical_trials (
	id                   TEXT PRIMARY KEY,
	nct_id               TEXT NOT NULL UNIQUE,
	title                TEXT NOT NULL,
	phase                TEXT,
	status               TEXT,
	eligibility_criteria JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS trial_matches (
	id               TEXT PRIMARY KEY,
	patient_id       TEXT NOT NULL,
	trial_id         TEXT NOT NULL,
	match_score      DOUBLE PRECISION NOT NULL,
	match_reasons    JSONB NOT NULL,
	limiting_factors JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_clinical_trials_nct_id ON clinical_trials(nct_id);
CREATE INDEX IF NOT EXISTS idx_trial_matches_patient_id ON trial_matches(patient_id);
CREATE INDEX IF NOT EXISTS idx_trial_matches_trial_id ON trial_matches(trial_id);
CREATE INDEX IF NOT EXISTS idx_trial_matches_created_at ON trial_matches(patient_id, created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreatePatient(ctx context.Context, profile *model.PatientProfile) (*Patient, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	infoJSON, err := json.Marshal(profile)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal medical info")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO patients (id, medical_info, created_at) VALUES ($1, $2, $3)`,
		id, infoJSON, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert patient")
	}

	return &Patient{ID: id, Profile: profile, CreatedAt: now}, nil
}

func (s *PostgresStore) GetPatient(ctx context.Context, id string) (*Patient, error) {
	var p Patient
	var infoJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, medical_info, created_at FROM patients WHERE id = $1`,
		id,
	).Scan(&p.ID, &infoJSON, &p.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get patient %s", id)
	}

	p.Profile = &model.PatientProfile{}
	if err := json.Unmarshal(infoJSON, p.Profile); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal medical info")
	}
	return &p, nil
}

func (s *PostgresStore) CreateTrial(ctx context.Context, trial model.TrialDefinition) (*model.TrialDefinition, error) {
	if trial.ID == "" {
		trial.ID = uuid.New().String()
	}

	criteriaJSON, err := json.Marshal(trial.EligibilityCriteria)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal eligibility criteria")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO clinical_trials (id, nct_id, title, phase, status, eligibility_criteria)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (nct_id) DO UPDATE SET
		   title = EXCLUDED.title,
		   phase = EXCLUDED.phase,
		   status = EXCLUDED.status,
		   eligibility_criteria = EXCLUDED.eligibility_criteria`,
		trial.ID, trial.NCTID, trial.Title, trial.Phase, string(trial.Status), criteriaJSON,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert trial %s", trial.NCTID)
	}

	return &trial, nil
}

func (s *PostgresStore) GetTrial(ctx context.Context, id string) (*model.TrialDefinition, error) {
	var t model.TrialDefinition
	var status string
	var criteriaJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, nct_id, title, phase, status, eligibility_criteria FROM clinical_trials WHERE id = $1 OR nct_id = $1`,
		id,
	).Scan(&t.ID, &t.NCTID, &t.Title, &t.Phase, &status, &criteriaJSON)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get trial %s", id)
	}

	t.Status = model.TrialStatus(status)
	if err := json.Unmarshal(criteriaJSON, &t.EligibilityCriteria); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal eligibility criteria")
	}
	return &t, nil
}

func (s *PostgresStore) ListTrials(ctx context.Context) ([]model.TrialDefinition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, nct_id, title, phase, status, eligibility_criteria FROM clinical_trials ORDER BY nct_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list trials")
	}
	defer rows.Close()

	var trials []model.TrialDefinition
	for rows.Next() {
		var t model.TrialDefinition
		var status string
		var criteriaJSON []byte
		if err := rows.Scan(&t.ID, &t.NCTID, &t.Title, &t.Phase, &status, &criteriaJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan trial")
		}
		t.Status = model.TrialStatus(status)
		if err := json.Unmarshal(criteriaJSON, &t.EligibilityCriteria); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal eligibility criteria")
		}
		trials = append(trials, t)
	}
	return trials, eris.Wrap(rows.Err(), "postgres: list trials rows")
}

func (s *PostgresStore) SaveMatches(ctx context.Context, patientID string, matches []model.MatchResult) error {
	for _, m := range matches {
		reasonsJSON, err := json.Marshal(m.Reasons)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal reasons")
		}
		factorsJSON, err := json.Marshal(m.LimitingFactors)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal limiting factors")
		}

		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		_, err = s.pool.Exec(ctx,
			`INSERT INTO trial_matches (id, patient_id, trial_id, match_score, match_reasons, limiting_factors, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New().String(), patientID, m.TrialID, m.Score, reasonsJSON, factorsJSON, createdAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert match for trial %s", m.TrialID)
		}
	}
	return nil
}

func (s *PostgresStore) ListMatches(ctx context.Context, patientID string) ([]model.MatchResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT patient_id, trial_id, match_score, match_reasons, limiting_factors, created_at
		 FROM trial_matches WHERE patient_id = $1 ORDER BY match_score DESC, trial_id ASC`,
		patientID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list matches for %s", patientID)
	}
	defer rows.Close()

	var matches []model.MatchResult
	for rows.Next() {
		var m model.MatchResult
		var reasonsJSON, factorsJSON []byte
		if err := rows.Scan(&m.PatientID, &m.TrialID, &m.Score, &reasonsJSON, &factorsJSON, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan match")
		}
		if err := json.Unmarshal(reasonsJSON, &m.Reasons); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal reasons")
		}
		if err := json.Unmarshal(factorsJSON, &m.LimitingFactors); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal limiting factors")
		}
		matches = append(matches, m)
	}
	return matches, eris.Wrap(rows.Err(), "postgres: list matches rows")
}
