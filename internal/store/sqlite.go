package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/provider-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local
// single-operator runs where standing up Postgres is overkill.
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
CREATE TABLE IF NOT EXISTS raw_submissions (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	source            TEXT NOT NULL,
	npi               TEXT,
	input_payload     TEXT,
	registry_response TEXT,
	status            TEXT NOT NULL DEFAULT 'queued',
	error_message     TEXT,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_raw_submissions_status ON raw_submissions(status);
CREATE INDEX IF NOT EXISTS idx_raw_submissions_npi ON raw_submissions(npi);

CREATE TABLE IF NOT EXISTS providers_master (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	npi                TEXT NOT NULL UNIQUE,
	record             TEXT NOT NULL,
	status             TEXT NOT NULL,
	overall_confidence REAL NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	last_verified      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_providers_master_status ON providers_master(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSubmission(ctx context.Context, source model.SubmissionSource, npi string, payload map[string]any) (*model.Submission, error) {
	now := time.Now().UTC()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal input payload")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_submissions (source, npi, input_payload, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(source), npi, string(payloadJSON), string(model.StatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert submission")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last insert id")
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

func (s *SQLiteStore) UpdateSubmissionStatus(ctx context.Context, id int64, status model.SubmissionStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raw_submissions SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update submission %d status", id)
	}
	return checkRowsAffected(res, "submission", id)
}

func (s *SQLiteStore) SetRegistryResponse(ctx context.Context, id int64, raw json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raw_submissions SET registry_response = ?, updated_at = ? WHERE id = ?`,
		string(raw), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set registry response %d", id)
	}
	return checkRowsAffected(res, "submission", id)
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, npi, input_payload, registry_response, status, error_message, created_at, updated_at FROM raw_submissions WHERE id = ?`,
		id,
	)
	sub, err := scanSubmissionSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "submission %d", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get submission %d", id)
	}
	return sub, nil
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error) {
	query := `SELECT id, source, npi, input_payload, registry_response, status, error_message, created_at, updated_at FROM raw_submissions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.NPI != "" {
		query += ` AND npi = ?`
		args = append(args, filter.NPI)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list submissions")
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmissionSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan submission")
		}
		subs = append(subs, *sub)
	}
	return subs, eris.Wrap(rows.Err(), "sqlite: list submissions iterate")
}

func (s *SQLiteStore) GetProviderByNPI(ctx context.Context, npi string) (*model.Provider, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, npi, record, status, overall_confidence, created_at, updated_at, last_verified FROM providers_master WHERE npi = ?`,
		npi,
	)
	p, err := scanProviderSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "provider %s", npi)
		}
		return nil, eris.Wrapf(err, "sqlite: get provider %s", npi)
	}
	return p, nil
}

func (s *SQLiteStore) UpsertProvider(ctx context.Context, p *model.Provider) (*model.Provider, error) {
	now := time.Now().UTC()
	p.UpdatedAt = now
	if p.LastVerified.IsZero() {
		p.LastVerified = now
	}

	recordJSON, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal provider")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO providers_master (npi, record, status, overall_confidence, created_at, updated_at, last_verified)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (npi) DO UPDATE SET
		   record = excluded.record, status = excluded.status,
		   overall_confidence = excluded.overall_confidence,
		   updated_at = excluded.updated_at, last_verified = excluded.last_verified`,
		p.NPI, string(recordJSON), string(p.Status), p.OverallConfidence, now, now, p.LastVerified,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert provider %s", p.NPI)
	}

	var id int64
	var createdAt time.Time
	err = s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM providers_master WHERE npi = ?`, p.NPI,
	).Scan(&id, &createdAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: reread provider %s", p.NPI)
	}

	p.ID = id
	p.CreatedAt = createdAt
	return p, nil
}

func (s *SQLiteStore) ListProviders(ctx context.Context, filter ProviderFilter) ([]model.Provider, error) {
	query := `SELECT id, npi, record, status, overall_confidence, created_at, updated_at, last_verified FROM providers_master WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list providers")
	}
	defer rows.Close()

	var providers []model.Provider
	for rows.Next() {
		p, err := scanProviderSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provider")
		}
		providers = append(providers, *p)
	}
	return providers, eris.Wrap(rows.Err(), "sqlite: list providers iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %d", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSubmissionSQLite(row scannable) (*model.Submission, error) {
	var sub model.Submission
	var npi, errMsg sql.NullString
	var payloadJSON, registryJSON sql.NullString

	if err := row.Scan(&sub.ID, &sub.Source, &npi, &payloadJSON, &registryJSON,
		&sub.Status, &errMsg, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}

	sub.NPI = npi.String
	sub.ErrorMessage = errMsg.String
	if payloadJSON.Valid && payloadJSON.String != "" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &sub.InputPayload); err != nil {
			return nil, eris.Wrap(err, "unmarshal input payload")
		}
	}
	if registryJSON.Valid && registryJSON.String != "" {
		sub.RegistryResponse = json.RawMessage(registryJSON.String)
	}
	return &sub, nil
}

func scanProviderSQLite(row scannable) (*model.Provider, error) {
	var p model.Provider
	var recordJSON, status string

	if err := row.Scan(&p.ID, &p.NPI, &recordJSON, &status, &p.OverallConfidence,
		&p.CreatedAt, &p.UpdatedAt, &p.LastVerified); err != nil {
		return nil, err
	}

	id, npi := p.ID, p.NPI
	createdAt, updatedAt, lastVerified := p.CreatedAt, p.UpdatedAt, p.LastVerified
	confidence := p.OverallConfidence

	if err := json.Unmarshal([]byte(recordJSON), &p); err != nil {
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
