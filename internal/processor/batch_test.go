package processor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/callintake/internal/extractor"
	"github.com/MikeSquared-Agency/callintake/internal/hermes"
)

func TestProcessBatch_FailingItemDoesNotAbort(t *testing.T) {
	f := newFixture(t)

	items := f.proc.ProcessBatch(context.Background(), []CallRequest{
		{Transcription: "minor cut on hand", PhoneNumber: "+91 1"},
		{Transcription: "explode", PhoneNumber: "+91 2"},
		{Transcription: "patient unconscious", PhoneNumber: "+91 3"},
	})

	require.Len(t, items, 3)
	for _, item := range items {
		require.NoError(t, item.Err)
		require.NotNil(t, item.Record)
	}
	require.Equal(t, extractor.CriticalityLow, items[0].Record.Criticality)
	require.True(t, items[1].Degraded)
	require.Equal(t, extractor.CriticalityMedium, items[1].Record.Criticality)
	require.Equal(t, extractor.CriticalityHigh, items[2].Record.Criticality)
	require.Equal(t, "+91 2", items[1].PhoneNumber)

	require.Len(t, f.store.Load(), 3)
}

func TestProcessBatch_PerItemValidationError(t *testing.T) {
	f := newFixture(t)

	items := f.proc.ProcessBatch(context.Background(), []CallRequest{
		{Transcription: "back pain", PhoneNumber: "+91 1"},
		{Transcription: "", PhoneNumber: "+91 2"},
		{Transcription: "minor cut", PhoneNumber: "+91 3"},
	})

	require.Len(t, items, 3)
	require.NotNil(t, items[0].Record)
	require.ErrorIs(t, items[1].Err, ErrInvalidRequest)
	require.Nil(t, items[1].Record)
	require.Equal(t, "+91 2", items[1].PhoneNumber)
	require.NotNil(t, items[2].Record)
	require.Len(t, f.proc.ListAll(), 2)
}

func TestProcessBatch_Concurrent(t *testing.T) {
	f := newFixture(t)
	f.proc.SetBatchConcurrency(4)

	reqs := make([]CallRequest, 20)
	for i := range reqs {
		reqs[i] = CallRequest{Transcription: "back pain", PhoneNumber: "+91 " + string(rune('a'+i))}
	}

	items := f.proc.ProcessBatch(context.Background(), reqs)

	require.Len(t, items, 20)
	ids := map[string]bool{}
	for i, item := range items {
		require.NoError(t, item.Err)
		require.Equal(t, reqs[i].PhoneNumber, item.Record.PhoneNumber)
		ids[item.Record.CallID] = true
	}
	require.Len(t, ids, 20)
	require.Len(t, f.store.Load(), 20)
	require.Len(t, f.proc.ListActive(), 20)
}

func TestHandleIntake(t *testing.T) {
	f := newFixture(t)

	data, err := json.Marshal(hermes.IntakeEvent{Transcription: "patient unconscious", PhoneNumber: "+91 9"})
	require.NoError(t, err)
	f.proc.HandleIntake(hermes.SubjectIntake, data)

	all := f.proc.ListAll()
	require.Len(t, all, 1)
	require.Equal(t, "+91 9", all[0].PhoneNumber)
	require.Equal(t, extractor.CriticalityHigh, all[0].Criticality)
}

func TestHandleIntake_BadPayload(t *testing.T) {
	f := newFixture(t)

	f.proc.HandleIntake(hermes.SubjectIntake, []byte("not json"))
	f.proc.HandleIntake(hermes.SubjectIntake, []byte(`{"phone_number":"+91 1"}`))

	require.Empty(t, f.proc.ListAll())
	require.Zero(t, f.llm.calls)
}
