package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// for tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
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
// faster execution of the hot pipeline operations.
var preparedStatements = map[string]string{
	"insert_submission":       `INSERT INTO raw_submissions (source, npi, input_payload, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
	"update_submission":       `UPDATE raw_submissions SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
	"set_registry_response":   `UPDATE raw_submissions SET registry_response = $1, updated_at = $2 WHERE id = $3`,
	"get_submission":          `SELECT id, source, npi, input_payload, registry_response, status, error_message, created_at, updated_at FROM raw_submissions WHERE id = $1`,
	"get_provider_by_npi":     `SELECT id, npi, record, status, overall_confidence, created_at, updated_at, last_verified FROM providers_master WHERE npi = $1`,
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

// NewPostgresWithPool wraps an existing pool; used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS raw_submissions (
	id                BIGSERIAL PRIMARY KEY,
	source            TEXT NOT NULL,
	npi               TEXT,
	input_payload     JSONB,
	registry_response JSONB,
	status            TEXT NOT NULL DEFAULT 'queued',
	error_message     TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_raw_submissions_status ON raw_submissions(status);
CREATE INDEX IF NOT EXISTS idx_raw_submissions_npi ON raw_submissions(npi);

CREATE TABLE IF NOT EXISTS providers_master (
	id                 BIGSERIAL PRIMARY KEY,
	npi                TEXT NOT NULL UNIQUE,
	record             JSONB NOT NULL,
	status             TEXT NOT NULL,
	overall_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_verified      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_providers_master_status ON providers_master(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

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

func (s *PostgresStore) CreateSubmission(ctx context.Context, source model.SubmissionSource, npi string, payload map[string]any) (*model.Submission, error) {
	now := time.Now().UTC()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal input payload")
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO raw_submissions (source, npi, input_payload, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		string(source), npi, payloadJSON, string(model.StatusQueued), now, now,
	).Scan(&id)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert submission")
	}

	return &model.Submission{
		ID:           id,
		Source:       source,
		NPI:          npi,
		InputPayload: payload,
		Status:       model.StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *PostgresStore) UpdateSubmissionStatus(ctx context.Context, id int64, status model.SubmissionStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE raw_submissions SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
		string(status), errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update submission %d status", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "submission %d", id)
	}
	return nil
}

func (s *PostgresStore) SetRegistryResponse(ctx context.Context, id int64, raw json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE raw_submissions SET registry_response = $1, updated_at = $2 WHERE id = $3`,
		[]byte(raw), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set registry response %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "submission %d", id)
	}
	return nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	sub, err := scanSubmission(s.pool.QueryRow(ctx,
		`SELECT id, source, npi, input_payload, registry_response, status, error_message, created_at, updated_at FROM raw_submissions WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "submission %d", id)
		}
		return nil, eris.Wrapf(err, "postgres: get submission %d", id)
	}
	return sub, nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error) {
	query := `SELECT id, source, npi, input_payload, registry_response, status, error_message, created_at, updated_at FROM raw_submissions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.NPI != "" {
		query += fmt.Sprintf(` AND npi = $%d`, argIdx)
		args = append(args, filter.NPI)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list submissions")
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan submission")
		}
		subs = append(subs, *sub)
	}
	return subs, eris.Wrap(rows.Err(), "postgres: list submissions iterate")
}

// scanSubmission reads one submission row. Works for both QueryRow and Rows
// since pgx.Rows satisfies pgx.Row.
func scanSubmission(row pgx.Row) (*model.Submission, error) {
	var sub model.Submission
	var npi, errMsg *string
	var payloadJSON, registryJSON []byte

	if err := row.Scan(&sub.ID, &sub.Source, &npi, &payloadJSON, &registryJSON,
		&sub.Status, &errMsg, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}

	if npi != nil {
		sub.NPI = *npi
	}
	if errMsg != nil {
		sub.ErrorMessage = *errMsg
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &sub.InputPayload); err != nil {
			return nil, eris.Wrap(err, "unmarshal input payload")
		}
	}
	if len(registryJSON) > 0 {
		sub.RegistryResponse = json.RawMessage(registryJSON)
	}
	return &sub, nil
}

func (s *PostgresStore) GetProviderByNPI(ctx context.Context, npi string) (*model.Provider, error) {
	p, err := scanProvider(s.pool.QueryRow(ctx,
		`SELECT id, npi, record, status, overall_confidence, created_at, updated_at, last_verified FROM providers_master WHERE npi = $1`,
		npi,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "provider %s", npi)
		}
		return nil, eris.Wrapf(err, "postgres: get provider %s", npi)
	}
	return p, nil
}

func (s *PostgresStore) UpsertProvider(ctx context.Context, p *model.Provider) (*model.Provider, error) {
	now := time.Now().UTC()
	p.UpdatedAt = now
	if p.LastVerified.IsZero() {
		p.LastVerified = now
	}

	recordJSON, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal provider")
	}

	var id int64
	var createdAt time.Time
	err = s.pool.QueryRow(ctx,
		`INSERT INTO providers_master (npi, record, status, overall_confidence, created_at, updated_at, last_verified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (npi) DO UPDATE SET
		   record = $2, status = $3, overall_confidence = $4, updated_at = $6, last_verified = $7
		 RETURNING id, created_at`,
		p.NPI, recordJSON, string(p.Status), p.OverallConfidence, now, now, p.LastVerified,
	).Scan(&id, &createdAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert provider %s", p.NPI)
	}

	p.ID = id
	p.CreatedAt = createdAt
	return p, nil
}

func (s *PostgresStore) ListProviders(ctx context.Context, filter ProviderFilter) ([]model.Provider, error) {
	query := `SELECT id, npi, record, status, overall_confidence, created_at, updated_at, last_verified FROM providers_master WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list providers")
	}
	defer rows.Close()

	var providers []model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan provider")
		}
		providers = append(providers, *p)
	}
	return providers, eris.Wrap(rows.Err(), "postgres: list providers iterate")
}

// scanProvider reads one golden-record row. The JSONB record column is the
// source of truth for nested fields; scalar columns override identity and
// bookkeeping values.
func scanProvider(row pgx.Row) (*model.Provider, error) {
	var p model.Provider
	var recordJSON []byte
	var status string

	if err := row.Scan(&p.ID, &p.NPI, &recordJSON, &status, &p.OverallConfidence,
		&p.CreatedAt, &p.UpdatedAt, &p.LastVerified); err != nil {
		return nil, err
	}

	id, npi := p.ID, p.NPI
	createdAt, updatedAt, lastVerified := p.CreatedAt, p.UpdatedAt, p.LastVerified
	confidence := p.OverallConfidence

	if err := json.Unmarshal(recordJSON, &p); err != nil {
		return nil, eris.Wrap(err, "unmarshal provider record")
	}

	p.ID = id
	p.NPI = npi
	p.Status = model.ProviderStatus(status)
	p.OverallConfidence = confidence
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	p.LastVerified = lastVerified
	return &p, nil
}
