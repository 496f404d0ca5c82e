package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// LLM is any backend that turns a prompt into reply text.
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Extractor struct {
	llm     LLM
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func New(llm LLM, logger *slog.Logger) *Extractor {
	return &Extractor{llm: llm, logger: logger, now: time.Now}
}

// SetTimeout bounds each model call. Zero means no deadline beyond ctx.
func (e *Extractor) SetTimeout(d time.Duration) {
	e.timeout = d
}

// Extract never fails: model errors, timeouts, panics and unparsable replies
// all produce a degraded outcome whose record has criticality medium.
func (e *Extractor) Extract(ctx context.Context, req Request) Outcome {
	ts := req.Timestamp
	if ts == "" {
		ts = e.now().UTC().Format(time.RFC3339Nano)
	}
	base := CallRecord{
		CallID:        req.CallID,
		Timestamp:     ts,
		PhoneNumber:   req.PhoneNumber,
		Transcription: req.Transcription,
		Criticality:   CriticalityMedium,
	}

	e.logger.Info("extracting from call",
		"call_id", req.CallID,
		"transcript_len", len(req.Transcription),
	)

	raw, err := e.generate(ctx, BuildPrompt(req.Transcription))
	if err != nil {
		return e.degrade(base, fmt.Sprintf("llm extraction: %v", err))
	}

	fields, err := decodeReply(raw)
	if err != nil {
		e.logger.Debug("unparsable extraction reply", "call_id", req.CallID, "raw", raw)
		return e.degrade(base, fmt.Sprintf("parse extraction: %v", err))
	}

	rec, defaulted := mapFields(base, fields)
	if defaulted {
		e.logger.Warn("criticality missing from reply, using medium", "call_id", req.CallID)
	}

	e.logger.Info("extraction complete",
		"call_id", req.CallID,
		"criticality", string(rec.Criticality),
		"symptoms", len(rec.Symptoms),
	)
	return Outcome{Record: &rec, CriticalityDefaulted: defaulted}
}

func (e *Extractor) generate(ctx context.Context, prompt string) (raw string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("llm panic: %v", r)
		}
	}()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.llm.Generate(ctx, prompt)
}

func (e *Extractor) degrade(base CallRecord, reason string) Outcome {
	e.logger.Warn("extraction degraded to minimal record",
		"call_id", base.CallID,
		"reason", reason,
	)
	return Outcome{Record: &base, Degraded: true, Reason: reason}
}
