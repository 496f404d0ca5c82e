package processor

import (
	"context"
	"encoding/json"

	"github.com/MikeSquared-Agency/callintake/internal/hermes"
)

// HandleIntake is the NATS handler for dispatch.call.intake.
func (p *Processor) HandleIntake(subject string, data []byte) {
	var evt hermes.IntakeEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse intake event", "subject", subject, "error", err)
		return
	}

	out, err := p.Process(context.Background(), CallRequest{
		Transcription: evt.Transcription,
		PhoneNumber:   evt.PhoneNumber,
	})
	if err != nil {
		p.logger.Error("intake rejected", "subject", subject, "phone_number", evt.PhoneNumber, "error", err)
		return
	}

	p.logger.Info("intake processed",
		"call_id", out.Record.CallID,
		"criticality", string(out.Record.Criticality),
		"degraded", out.Degraded,
	)
}
