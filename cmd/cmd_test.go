package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-cli/internal/model"
	"github.com/sells-group/provider-cli/internal/store"
)

func TestBuildSubmitPayload(t *testing.T) {
	t.Run("FlagsOnly", func(t *testing.T) {
		payload, npi, err := buildSubmitPayload("", "1891106191", []string{"first_name=Satyasree", "city=Saint Louis"})
		require.NoError(t, err)
		assert.Equal(t, "1891106191", npi)
		assert.Equal(t, "Satyasree", payload["first_name"])
		assert.Equal(t, "Saint Louis", payload["city"])
		assert.Equal(t, "1891106191", payload["npi"])
	})

	t.Run("FileWithFlagOverride", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "record.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"npi":"0000000000","phone":"314-653-5100"}`), 0o644))

		payload, npi, err := buildSubmitPayload(path, "1891106191", nil)
		require.NoError(t, err)
		assert.Equal(t, "1891106191", npi)
		assert.Equal(t, "314-653-5100", payload["phone"])
	})

	t.Run("NoNPI", func(t *testing.T) {
		payload, npi, err := buildSubmitPayload("", "", []string{"first_name=Jane"})
		require.NoError(t, err)
		assert.Empty(t, npi)
		assert.NotContains(t, payload, "npi")
	})

	t.Run("Errors", func(t *testing.T) {
		_, _, err := buildSubmitPayload("", "", nil)
		assert.Error(t, err)

		_, _, err = buildSubmitPayload("", "", []string{"no-equals-sign"})
		assert.Error(t, err)

		_, _, err = buildSubmitPayload("/nonexistent/record.json", "", nil)
		assert.Error(t, err)
	})
}

func TestProfilePayload(t *testing.T) {
	profile := &model.ProviderProfile{
		ProviderType: model.TypeIndividual,
		NPI:          "1891106191",
		FirstName:    "Satyasree",
		LastName:     "Upadhyayula",
		Credential:   "M.D.",
		Phones:       []string{"314-653-5100", "314-653-5101"},
		Specialties:  []string{"Internal Medicine"},
		Locations: []model.Location{
			{StreetAddress1: "12345 W Florissant Ave", City: "Saint Louis", State: "MO", AddressType: "Practice"},
		},
		AdditionalFields: map[string]string{"dea_number": "BU1234567"},
	}

	payload := profilePayload(profile)

	assert.Equal(t, "1891106191", payload["npi"])
	assert.Equal(t, "314-653-5100", payload["phone"])
	assert.Equal(t, "Internal Medicine", payload["specialty"])
	assert.Equal(t, "Saint Louis", payload["city"])
	assert.Equal(t, "BU1234567", payload["dea_number"])
	assert.NotContains(t, payload, "email")
	assert.NotContains(t, payload, "organization")
}

type countingProcessor struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
	failIDs  map[int64]bool
	calls    atomic.Int64
}

func (p *countingProcessor) Process(ctx context.Context, id int64) error {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.maxSeen {
		p.maxSeen = p.inFlight
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	p.calls.Add(1)
	if p.failIDs[id] {
		return eris.New("processing failed")
	}
	return nil
}

func TestProcessBatch(t *testing.T) {
	proc := &countingProcessor{failIDs: map[int64]bool{3: true}}
	ids := []int64{1, 2, 3, 4, 5}

	processed := processBatch(context.Background(), proc, ids, 2)

	assert.EqualValues(t, 4, processed)
	assert.EqualValues(t, 5, proc.calls.Load())
	assert.LessOrEqual(t, proc.maxSeen, 2)
}

func TestReadRows_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.csv")
	data := "npi,first_name\n1891106191,Satyasree\n1234567893,Jane\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	rows, err := readRows(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"npi", "first_name"}, rows[0])
	assert.Equal(t, "1891106191", rows[1][0])
}

func TestIngestFile(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	path := filepath.Join(t.TempDir(), "providers.csv")
	data := "npi,first_name,city\n1891106191,Satyasree,Saint Louis\n1234567893,Jane,Denver\n,NoNPI,Nowhere\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	ids, batchID, err := ingestFile(context.Background(), st, path, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, batchID)
	require.Len(t, ids, 3)

	subs, err := st.ListSubmissions(context.Background(), store.SubmissionFilter{NPI: "1891106191"})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, model.SourceCSV, subs[0].Source)
	assert.Equal(t, batchID, subs[0].InputPayload["batch_id"])

	// Rows without an NPI still become submissions; the pipeline fails them.
	all, err := st.ListSubmissions(context.Background(), store.SubmissionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestIngestFile_NoNPIColumn(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	path := filepath.Join(t.TempDir(), "providers.csv")
	require.NoError(t, os.WriteFile(path, []byte("first_name,city\nJane,Denver\n"), 0o644))

	_, _, err = ingestFile(context.Background(), st, path, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no NPI column")
}

func TestIngestFile_Limit(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	path := filepath.Join(t.TempDir(), "providers.csv")
	data := "npi\n1000000001\n1000000002\n1000000003\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	ids, _, err := ingestFile(context.Background(), st, path, 2)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}
