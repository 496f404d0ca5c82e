package slack

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/callintake/internal/extractor"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

func highCall() *extractor.CallRecord {
	age := 70
	return &extractor.CallRecord{
		CallID:        "CALL_20261015_093000_3",
		Timestamp:     "2026-10-15T09:30:00Z",
		PhoneNumber:   "+91 98765 43215",
		Transcription: "My mother collapsed and is unconscious!",
		Criticality:   extractor.CriticalityHigh,
		Location: extractor.Location{
			"address":  "321 Whitefield Main Road",
			"landmark": "ITPL",
		},
		Address:       strPtr("321 Whitefield Main Road"),
		Condition:     strPtr("Unresponsive elderly patient"),
		PatientAge:    &age,
		PatientGender: strPtr("female"),
		Symptoms:      []string{"unconscious", "unresponsive"},
	}
}

func TestFormatDispatchAlert_FullRecord(t *testing.T) {
	msg := formatDispatchAlert(highCall())

	checks := []string{
		"HIGH criticality call",
		"+91 98765 43215",
		"321 Whitefield Main Road",
		"near ITPL",
		"Unresponsive elderly patient",
		"70 y/o, female",
		"unconscious, unresponsive",
		"My mother collapsed",
	}
	for _, check := range checks {
		if !strings.Contains(msg, check) {
			t.Errorf("expected message to contain %q", check)
		}
	}
}

func TestFormatDispatchAlert_MinimalRecord(t *testing.T) {
	msg := formatDispatchAlert(&extractor.CallRecord{
		CallID:        "CALL_1",
		PhoneNumber:   "+91 1",
		Transcription: "help",
		Criticality:   extractor.CriticalityMedium,
	})

	if !strings.Contains(msg, "not captured") {
		t.Errorf("expected missing address note, got %q", msg)
	}
	if strings.Contains(msg, "Patient:") || strings.Contains(msg, "Symptoms:") {
		t.Errorf("expected absent fields skipped, got %q", msg)
	}
}

func TestPostDispatchAlert_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			t.Errorf("expected Bearer xoxb-test, got %q", r.Header.Get("Authorization"))
		}

		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		json.Unmarshal(body, &payload)

		if payload["channel"] != "C123" {
			t.Errorf("expected channel C123, got %v", payload["channel"])
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"ts": "1234567890.123456",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	ts, err := p.PostDispatchAlert(context.Background(), highCall())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts != "1234567890.123456" {
		t.Errorf("expected ts 1234567890.123456, got %q", ts)
	}
}

func TestPostDispatchAlert_SlackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": "channel_not_found",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	_, err := p.PostDispatchAlert(context.Background(), highCall())
	if err == nil {
		t.Fatal("expected error for slack error response")
	}
}
