package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_CreateSubmission(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO raw_submissions`).
		WithArgs("form", "1891106191", pgxmock.AnyArg(), "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	sub, err := s.CreateSubmission(context.Background(), model.SourceForm, "1891106191",
		map[string]any{"name": "Satyasree Upadhyayula"})
	require.NoError(t, err)

	assert.Equal(t, int64(42), sub.ID)
	assert.Equal(t, model.StatusQueued, sub.Status)
	assert.Equal(t, "1891106191", sub.NPI)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSubmission_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, source, npi, input_payload, registry_response, status, error_message, created_at, updated_at FROM raw_submissions WHERE id = \$1`).
		WithArgs(int64(999)).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetSubmission(context.Background(), 999)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSubmission(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	npi := "1891106191"
	payload := []byte(`{"name":"Satyasree Upadhyayula"}`)
	registry := []byte(`{"result_count":1}`)

	mock.ExpectQuery(`SELECT id, source, npi, input_payload, registry_response, status, error_message, created_at, updated_at FROM raw_submissions WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "source", "npi", "input_payload", "registry_response", "status", "error_message", "created_at", "updated_at"}).
			AddRow(int64(7), "form", &npi, payload, registry, "processed", (*string)(nil), now, now))

	sub, err := s.GetSubmission(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, int64(7), sub.ID)
	assert.Equal(t, model.StatusProcessed, sub.Status)
	assert.Equal(t, "Satyasree Upadhyayula", sub.InputPayload["name"])
	assert.JSONEq(t, `{"result_count":1}`, string(sub.RegistryResponse))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSubmissionStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE raw_submissions SET status = \$1, error_message = \$2, updated_at = \$3 WHERE id = \$4`).
		WithArgs("validating", "", pgxmock.AnyArg(), int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateSubmissionStatus(context.Background(), 7, model.StatusValidating, "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSubmissionStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE raw_submissions`).
		WithArgs("validating", "", pgxmock.AnyArg(), int64(999)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateSubmissionStatus(context.Background(), 999, model.StatusValidating, "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetRegistryResponse(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE raw_submissions SET registry_response`).
		WithArgs([]byte(`{"result_count":1}`), pgxmock.AnyArg(), int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.SetRegistryResponse(context.Background(), 7, json.RawMessage(`{"result_count":1}`))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProviderByNPI_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, npi, record, status, overall_confidence, created_at, updated_at, last_verified FROM providers_master WHERE npi = \$1`).
		WithArgs("9999999999").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetProviderByNPI(context.Background(), "9999999999")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertProvider(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`ON CONFLICT \(npi\) DO UPDATE`).
		WithArgs("1891106191", pgxmock.AnyArg(), "verified", 92.0, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(3), now))

	p := &model.Provider{
		NPI:               "1891106191",
		DisplayName:       "Satyasree Upadhyayula, M.D.",
		Status:            model.ProviderVerified,
		OverallConfidence: 92,
	}
	saved, err := s.UpsertProvider(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, int64(3), saved.ID)
	assert.Equal(t, now, saved.CreatedAt)
	assert.False(t, saved.LastVerified.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSubmissions_Filtered(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .+ FROM raw_submissions WHERE true AND status = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("queued", 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "source", "npi", "input_payload", "registry_response", "status", "error_message", "created_at", "updated_at"}).
			AddRow(int64(1), "csv", (*string)(nil), []byte(nil), []byte(nil), "queued", (*string)(nil), now, now))

	subs, err := s.ListSubmissions(context.Background(), SubmissionFilter{Status: model.StatusQueued, Limit: 50})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, model.SourceCSV, subs[0].Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListProviders(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	record := []byte(`{"npi":"1891106191","display_name":"Satyasree Upadhyayula, M.D.","phone":"314-653-5100"}`)

	mock.ExpectQuery(`SELECT .+ FROM providers_master WHERE true ORDER BY updated_at DESC LIMIT \$1`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "npi", "record", "status", "overall_confidence", "created_at", "updated_at", "last_verified"}).
			AddRow(int64(3), "1891106191", record, "verified", 92.0, now, now, now))

	providers, err := s.ListProviders(context.Background(), ProviderFilter{})
	require.NoError(t, err)
	require.Len(t, providers, 1)

	assert.Equal(t, "Satyasree Upadhyayula, M.D.", providers[0].DisplayName)
	assert.Equal(t, "314-653-5100", providers[0].Phone)
	assert.Equal(t, model.ProviderVerified, providers[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS raw_submissions`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	err := s.Migrate(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
