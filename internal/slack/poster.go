package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/callintake/internal/extractor"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// Poster sends dispatch alerts for high-criticality calls to one channel.
type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostDispatchAlert posts rec to the dispatch channel and returns the message ts.
func (p *Poster) PostDispatchAlert(ctx context.Context, rec *extractor.CallRecord) (string, error) {
	text := formatDispatchAlert(rec)

	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "Call " + rec.CallID + " received " + rec.Timestamp,
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}

	p.logger.Info("posted dispatch alert to slack", "ts", slackResp.TS, "call_id", rec.CallID)
	return slackResp.TS, nil
}

func formatDispatchAlert(rec *extractor.CallRecord) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, ":rotating_light: *%s criticality call* from %s\n", strings.ToUpper(string(rec.Criticality)), rec.PhoneNumber)

	if rec.Address != nil {
		fmt.Fprintf(&sb, "*Address:* %s", *rec.Address)
		if landmark := rec.Location.Field("landmark"); landmark != nil {
			fmt.Fprintf(&sb, " (near %s)", *landmark)
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("*Address:* _not captured, check transcript_\n")
	}

	if rec.Condition != nil {
		fmt.Fprintf(&sb, "*Condition:* %s\n", *rec.Condition)
	}

	var patient []string
	if rec.PatientAge != nil {
		patient = append(patient, fmt.Sprintf("%d y/o", *rec.PatientAge))
	}
	if rec.PatientGender != nil {
		patient = append(patient, *rec.PatientGender)
	}
	if len(patient) > 0 {
		fmt.Fprintf(&sb, "*Patient:* %s\n", strings.Join(patient, ", "))
	}

	if len(rec.Symptoms) > 0 {
		fmt.Fprintf(&sb, "*Symptoms:* %s\n", strings.Join(rec.Symptoms, ", "))
	}

	fmt.Fprintf(&sb, "> %s", rec.Transcription)
	return sb.String()
}
