package store

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/callintake/internal/extractor"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "call_records.json")
	return New(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func strPtr(s string) *string { return &s }

func record(id, transcript string, c extractor.Criticality) extractor.CallRecord {
	return extractor.CallRecord{
		CallID:        id,
		Timestamp:     "2026-10-15T09:30:00Z",
		PhoneNumber:   "+91 98765 43210",
		Transcription: transcript,
		Criticality:   c,
	}
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	s := newTestStore(t)

	records := s.Load()

	require.NotNil(t, records)
	require.Empty(t, records)
}

func TestLoad_CorruptFileIsEmpty(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	require.Empty(t, s.Load())
}

func TestUpsert_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	age := 65
	rec := record("CALL_1", "chest pain", extractor.CriticalityHigh)
	rec.Location = extractor.Location{
		"address":     "123 MG Road",
		"city":        "Bangalore",
		"landmark":    nil,
		"coordinates": map[string]any{"lat": 12.97, "lng": 77.59},
	}
	rec.Address = strPtr("123 MG Road")
	rec.PatientAge = &age
	rec.Symptoms = []string{"chest pain", "sweating"}
	rec.ExtractedData = map[string]any{"criticality": "high", "patient_age": float64(65)}

	require.NoError(t, s.Upsert(rec))

	loaded := s.Load()
	require.Len(t, loaded, 1)
	require.Equal(t, rec, loaded[0])
}

func TestUpsert_ReplacesInPlace(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Upsert(record("CALL_A", "first", extractor.CriticalityLow)))
	require.NoError(t, s.Upsert(record("CALL_B", "second", extractor.CriticalityLow)))
	require.NoError(t, s.Upsert(record("CALL_C", "third", extractor.CriticalityLow)))

	replacement := record("CALL_A", "first, updated", extractor.CriticalityHigh)
	require.NoError(t, s.Upsert(replacement))

	loaded := s.Load()
	require.Len(t, loaded, 3)
	require.Equal(t, "CALL_A", loaded[0].CallID)
	require.Equal(t, "first, updated", loaded[0].Transcription)
	require.Equal(t, extractor.CriticalityHigh, loaded[0].Criticality)
	require.Equal(t, "CALL_B", loaded[1].CallID)
	require.Equal(t, "CALL_C", loaded[2].CallID)
}

func TestUpsert_OverwritesCorruptFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path(), []byte("garbage"), 0o644))

	require.NoError(t, s.Upsert(record("CALL_1", "t", extractor.CriticalityMedium)))

	require.Len(t, s.Load(), 1)
}

func TestUpsert_WriteFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	s := New(filepath.Join(blocker, "calls.json"), slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.Error(t, s.Upsert(record("CALL_1", "t", extractor.CriticalityMedium)))
}

func TestUpsert_ReplacesFileWithoutLeftovers(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Upsert(record("CALL_1", "first", extractor.CriticalityLow)))
	require.NoError(t, s.Upsert(record("CALL_2", "second", extractor.CriticalityHigh)))

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, filepath.Base(s.Path()), entries[0].Name())

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), info.Mode().Perm())
	require.Len(t, s.Load(), 2)
}

func TestUpsert_FailedReplaceRemovesTempFile(t *testing.T) {
	s := newTestStore(t)
	// A non-empty directory at the store path makes the final rename fail.
	require.NoError(t, os.MkdirAll(filepath.Join(s.Path(), "occupied"), 0o755))

	require.Error(t, s.Upsert(record("CALL_1", "t", extractor.CriticalityMedium)))

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, filepath.Base(s.Path()), entries[0].Name())
}

func TestGet(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Upsert(record("CALL_1", "one", extractor.CriticalityLow)))
	require.NoError(t, s.Upsert(record("CALL_2", "two", extractor.CriticalityHigh)))

	got, ok := s.Get("CALL_2")
	require.True(t, ok)
	require.Equal(t, "two", got.Transcription)

	_, ok = s.Get("CALL_404")
	require.False(t, ok)
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Upsert(record("CALL_1", "one", extractor.CriticalityLow)))

	require.NoError(t, s.Clear())

	require.Empty(t, s.Load())
	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	require.Equal(t, "[]", string(data))
}
