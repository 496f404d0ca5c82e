package simulate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSamples_Embedded(t *testing.T) {
	samples, err := LoadSamples("")
	require.NoError(t, err)
	require.Len(t, samples, 9)

	levels := map[string]int{}
	for _, s := range samples {
		levels[s.Criticality]++
		require.NotEmpty(t, s.Transcription)
		require.False(t, strings.HasSuffix(s.Transcription, "\n"))
	}
	require.Equal(t, 4, levels["high"])
	require.Equal(t, 3, levels["medium"])
	require.Equal(t, 2, levels["low"])
}

func TestLoadSamples_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
samples:
  - criticality: low
    transcription: "Minor cut on hand, patient is fine and talking"
`), 0o644))

	samples, err := LoadSamples(path)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	require.Equal(t, "low", samples[0].Criticality)
}

func TestParseSamples_Invalid(t *testing.T) {
	_, err := ParseSamples([]byte("samples: []"))
	require.Error(t, err)

	_, err = ParseSamples([]byte("samples:\n  - criticality: high\n    transcription: \"  \"\n"))
	require.Error(t, err)

	_, err = ParseSamples([]byte("samples: [unterminated"))
	require.Error(t, err)

	_, err = LoadSamples(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestGenerator_Next(t *testing.T) {
	samples, err := LoadSamples("")
	require.NoError(t, err)
	g := NewGenerator(samples, 42)

	known := map[string]bool{}
	for _, s := range samples {
		known[s.Transcription] = true
	}

	for _, c := range g.Batch(50) {
		require.True(t, known[c.Transcription], "unexpected transcription %q", c.Transcription)
		require.True(t, strings.HasPrefix(c.PhoneNumber, "+91 "))
		require.Len(t, strings.TrimPrefix(c.PhoneNumber, "+91 "), 10)
	}
}

func TestGenerator_Deterministic(t *testing.T) {
	samples, err := LoadSamples("")
	require.NoError(t, err)

	a := NewGenerator(samples, 7).Batch(10)
	b := NewGenerator(samples, 7).Batch(10)
	require.Equal(t, a, b)
}

func TestGenerator_Fill(t *testing.T) {
	samples, err := LoadSamples("")
	require.NoError(t, err)
	g := NewGenerator(samples, 1)

	c := g.Fill("custom transcript", "")
	require.Equal(t, "custom transcript", c.Transcription)
	require.NotEmpty(t, c.PhoneNumber)

	c = g.Fill("", "+91 12345")
	require.Equal(t, "+91 12345", c.PhoneNumber)
	require.NotEmpty(t, c.Transcription)
}
