package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/callintake/internal/extractor"
	"github.com/MikeSquared-Agency/callintake/internal/hermes"
	"github.com/MikeSquared-Agency/callintake/internal/store"
)

var (
	ErrNotFound       = errors.New("call not found")
	ErrInvalidRequest = errors.New("invalid call request")
)

// Publisher fans call events out to other services. Optional.
type Publisher interface {
	Publish(subject string, data any) error
}

// Alerter notifies dispatchers about high-criticality calls. Optional.
type Alerter interface {
	PostDispatchAlert(ctx context.Context, rec *extractor.CallRecord) (string, error)
}

// CallRequest is one intake: a transcript and the number it came from.
type CallRequest struct {
	Transcription string `json:"transcription"`
	PhoneNumber   string `json:"phone_number"`
}

// Filter narrows ListAll results. Zero values match everything.
type Filter struct {
	Criticality extractor.Criticality
	Query       string
	Limit       int
}

// state is the in-memory mirror of the store. The store file is the source
// of truth; state is rebuilt from it on startup.
type state struct {
	mu      sync.RWMutex
	active  map[string]struct{}
	history []extractor.CallRecord
	index   map[string]int
	seq     int
}

// Processor orchestrates the call intake pipeline: extract, remember, persist.
type Processor struct {
	store       *store.Store
	extractor   *extractor.Extractor
	events      Publisher
	alerts      Alerter
	logger      *slog.Logger
	concurrency int
	now         func() time.Time

	// writeMu orders record writes so memory and the store file see them in
	// the same sequence. Extraction runs outside it.
	writeMu sync.Mutex
	state   state
}

func New(s *store.Store, ext *extractor.Extractor, events Publisher, alerts Alerter, logger *slog.Logger) *Processor {
	p := &Processor{
		store:       s,
		extractor:   ext,
		events:      events,
		alerts:      alerts,
		logger:      logger,
		concurrency: 1,
		now:         time.Now,
	}
	p.rebuild()
	return p
}

// SetBatchConcurrency sets how many batch items are extracted at once.
func (p *Processor) SetBatchConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	p.concurrency = n
}

func (p *Processor) rebuild() {
	records := p.store.Load()

	p.state.mu.Lock()
	defer p.state.mu.Unlock()

	p.state.active = make(map[string]struct{})
	p.state.history = make([]extractor.CallRecord, 0, len(records))
	p.state.index = make(map[string]int, len(records))
	for _, rec := range records {
		p.rememberLocked(rec)
	}
	p.state.seq = len(p.state.history)

	p.logger.Info("call state rebuilt from store",
		"path", p.store.Path(),
		"calls", len(p.state.history),
		"active", len(p.state.active),
	)
}

// Process extracts a record from the transcript, registers it as active and
// persists it. Extraction trouble yields a degraded outcome, not an error.
func (p *Processor) Process(ctx context.Context, req CallRequest) (extractor.Outcome, error) {
	if strings.TrimSpace(req.Transcription) == "" {
		return extractor.Outcome{}, fmt.Errorf("%w: transcription is required", ErrInvalidRequest)
	}
	if err := ctx.Err(); err != nil {
		return extractor.Outcome{}, err
	}

	out := p.extractor.Extract(ctx, extractor.Request{
		CallID:        p.nextID(),
		Transcription: req.Transcription,
		PhoneNumber:   req.PhoneNumber,
	})

	p.writeMu.Lock()
	p.state.mu.Lock()
	p.rememberLocked(*out.Record)
	p.state.mu.Unlock()
	p.save(*out.Record)
	p.writeMu.Unlock()

	p.announce(ctx, *out.Record, hermes.SubjectProcessed, out.Degraded)
	return out, nil
}

// Reextract runs extraction again on a corrected transcript for an existing
// call. The id, timestamp and phone number are kept and the record is
// replaced in place. answered_at is taken from the entry current at commit
// time, so an Answer during extraction survives.
func (p *Processor) Reextract(ctx context.Context, callID, transcription string) (extractor.Outcome, error) {
	if strings.TrimSpace(transcription) == "" {
		return extractor.Outcome{}, fmt.Errorf("%w: transcription is required", ErrInvalidRequest)
	}
	existing, err := p.Get(callID)
	if err != nil {
		return extractor.Outcome{}, err
	}

	out := p.extractor.Extract(ctx, extractor.Request{
		CallID:        existing.CallID,
		Timestamp:     existing.Timestamp,
		Transcription: transcription,
		PhoneNumber:   existing.PhoneNumber,
	})

	p.writeMu.Lock()
	p.state.mu.Lock()
	i, ok := p.state.index[callID]
	if !ok {
		p.state.mu.Unlock()
		p.writeMu.Unlock()
		return extractor.Outcome{}, fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	out.Record.AnsweredAt = p.state.history[i].AnsweredAt
	p.rememberLocked(*out.Record)
	p.state.mu.Unlock()
	p.save(*out.Record)
	p.writeMu.Unlock()

	p.announce(ctx, *out.Record, hermes.SubjectUpdated, out.Degraded)
	return out, nil
}

// Answer marks a call as picked up by a dispatcher. It leaves the active set
// but stays in history. Answering twice keeps the first timestamp.
func (p *Processor) Answer(ctx context.Context, callID string) (*extractor.CallRecord, error) {
	p.writeMu.Lock()
	p.state.mu.Lock()
	i, ok := p.state.index[callID]
	if !ok {
		p.state.mu.Unlock()
		p.writeMu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	rec := p.state.history[i]
	if rec.AnsweredAt != nil {
		p.state.mu.Unlock()
		p.writeMu.Unlock()
		return &rec, nil
	}
	answeredAt := p.now().UTC().Format(time.RFC3339Nano)
	rec.AnsweredAt = &answeredAt
	p.rememberLocked(rec)
	p.state.mu.Unlock()
	p.save(rec)
	p.writeMu.Unlock()

	p.announce(ctx, rec, hermes.SubjectUpdated, false)
	return &rec, nil
}

// Get looks a call up in memory, active or not.
func (p *Processor) Get(callID string) (*extractor.CallRecord, error) {
	p.state.mu.RLock()
	defer p.state.mu.RUnlock()

	i, ok := p.state.index[callID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	rec := p.state.history[i]
	return &rec, nil
}

// ListAll returns the full history in insertion order.
func (p *Processor) ListAll() []extractor.CallRecord {
	return p.Search(Filter{})
}

// Search returns history entries matching f, in insertion order.
func (p *Processor) Search(f Filter) []extractor.CallRecord {
	p.state.mu.RLock()
	defer p.state.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]extractor.CallRecord, 0, len(p.state.history))
	for _, rec := range p.state.history {
		if f.Criticality != "" && rec.Criticality != f.Criticality {
			continue
		}
		if query != "" && !matches(rec, query) {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// ListActive returns calls not yet answered, oldest first.
func (p *Processor) ListActive() []extractor.CallRecord {
	p.state.mu.RLock()
	defer p.state.mu.RUnlock()

	positions := make([]int, 0, len(p.state.active))
	for id := range p.state.active {
		positions = append(positions, p.state.index[id])
	}
	sort.Ints(positions)

	out := make([]extractor.CallRecord, 0, len(positions))
	for _, i := range positions {
		out = append(out, p.state.history[i])
	}
	return out
}

// Clear empties the store and then the in-memory state. If the store cannot
// be cleared, memory is left untouched.
func (p *Processor) Clear(ctx context.Context) error {
	p.writeMu.Lock()
	if err := p.store.Clear(); err != nil {
		p.writeMu.Unlock()
		return err
	}

	p.state.mu.Lock()
	dropped := len(p.state.history)
	p.state.active = make(map[string]struct{})
	p.state.history = nil
	p.state.index = make(map[string]int)
	p.state.mu.Unlock()
	p.writeMu.Unlock()

	p.logger.Info("all calls cleared", "dropped", dropped)
	p.publish(hermes.SubjectCleared, map[string]any{
		"event_id":  uuid.NewString(),
		"dropped":   dropped,
		"timestamp": p.now().UTC().Format(time.RFC3339),
	})
	return nil
}

// nextID hands out CALL_<date>_<time>_<seq>. The sequence never goes
// backwards, and ids already known are skipped.
func (p *Processor) nextID() string {
	stamp := p.now().Format("20060102_150405")

	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	for {
		id := fmt.Sprintf("CALL_%s_%d", stamp, p.state.seq)
		p.state.seq++
		if _, taken := p.state.index[id]; !taken {
			return id
		}
	}
}

// rememberLocked inserts rec into history, or replaces the entry with the
// same id in place. Unanswered calls are active.
func (p *Processor) rememberLocked(rec extractor.CallRecord) {
	if i, ok := p.state.index[rec.CallID]; ok {
		p.state.history[i] = rec
	} else {
		p.state.index[rec.CallID] = len(p.state.history)
		p.state.history = append(p.state.history, rec)
	}

	if rec.AnsweredAt == nil {
		p.state.active[rec.CallID] = struct{}{}
	} else {
		delete(p.state.active, rec.CallID)
	}
}

// save writes rec to the store. Failures are logged only: the caller
// already has its record. Callers hold writeMu.
func (p *Processor) save(rec extractor.CallRecord) {
	if err := p.store.Upsert(rec); err != nil {
		p.logger.Error("failed to persist call", "call_id", rec.CallID, "error", err)
	}
}

// announce publishes the call event and pages dispatch for new high calls.
func (p *Processor) announce(ctx context.Context, rec extractor.CallRecord, subject string, degraded bool) {
	evt := hermes.CallEvent{
		EventID:     uuid.NewString(),
		CallID:      rec.CallID,
		Criticality: string(rec.Criticality),
		PhoneNumber: rec.PhoneNumber,
		Degraded:    degraded,
		Answered:    rec.AnsweredAt != nil,
		Timestamp:   rec.Timestamp,
	}
	if rec.Address != nil {
		evt.Address = *rec.Address
	}
	p.publish(subject, evt)

	if p.alerts != nil && rec.Criticality == extractor.CriticalityHigh && rec.AnsweredAt == nil && subject == hermes.SubjectProcessed {
		if _, err := p.alerts.PostDispatchAlert(ctx, &rec); err != nil {
			p.logger.Error("dispatch alert failed", "call_id", rec.CallID, "error", err)
		}
	}

	p.logger.Info("call recorded",
		"call_id", rec.CallID,
		"criticality", string(rec.Criticality),
		"degraded", degraded,
	)
}

func (p *Processor) publish(subject string, data any) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish call event", "subject", subject, "error", err)
	}
}

func matches(rec extractor.CallRecord, query string) bool {
	fields := []string{rec.CallID, rec.Transcription, rec.PhoneNumber}
	if rec.Address != nil {
		fields = append(fields, *rec.Address)
	}
	if rec.Condition != nil {
		fields = append(fields, *rec.Condition)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), query) {
			return true
		}
	}
	return false
}
