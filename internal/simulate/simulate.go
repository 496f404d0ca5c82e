// Package simulate generates synthetic emergency calls for load testing the
// intake pipeline.
package simulate

import (
	_ "embed"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed samples.yaml
var defaultCatalogue []byte

// Sample is one scripted call. Criticality is the level a rule-following
// model is expected to assign.
type Sample struct {
	Criticality   string `yaml:"criticality"`
	PhoneNumber   string `yaml:"phone_number"`
	Transcription string `yaml:"transcription"`
}

// Call is a generated intake request.
type Call struct {
	Transcription string
	PhoneNumber   string
}

type catalogue struct {
	Samples []Sample `yaml:"samples"`
}

// LoadSamples reads a catalogue from path, or the embedded one when path is empty.
func LoadSamples(path string) ([]Sample, error) {
	if path == "" {
		return ParseSamples(defaultCatalogue)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	return ParseSamples(data)
}

func ParseSamples(data []byte) ([]Sample, error) {
	var c catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse samples: %w", err)
	}

	samples := make([]Sample, 0, len(c.Samples))
	for i, s := range c.Samples {
		s.Transcription = strings.TrimSpace(s.Transcription)
		if s.Transcription == "" {
			return nil, fmt.Errorf("sample %d: empty transcription", i)
		}
		samples = append(samples, s)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples in catalogue")
	}
	return samples, nil
}

// Generator hands out random samples with fresh caller numbers. Safe for
// concurrent use.
type Generator struct {
	samples []Sample

	mu  sync.Mutex
	rng *rand.Rand
}

func NewGenerator(samples []Sample, seed uint64) *Generator {
	return &Generator{
		samples: samples,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (g *Generator) Next() Call {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.samples[g.rng.IntN(len(g.samples))]
	return Call{
		Transcription: s.Transcription,
		PhoneNumber:   fmt.Sprintf("+91 %d", 1_000_000_000+g.rng.Int64N(9_000_000_000)),
	}
}

// Batch returns n generated calls.
func (g *Generator) Batch(n int) []Call {
	calls := make([]Call, n)
	for i := range calls {
		calls[i] = g.Next()
	}
	return calls
}

// Fill completes a partially specified call: a missing transcription is
// taken from a random sample, a missing phone number is generated.
func (g *Generator) Fill(transcription, phone string) Call {
	c := g.Next()
	if transcription != "" {
		c.Transcription = transcription
	}
	if phone != "" {
		c.PhoneNumber = phone
	}
	return c
}
