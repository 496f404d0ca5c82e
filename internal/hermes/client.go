package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectIntake carries calls from upstream telephony into the pipeline.
	SubjectIntake = "dispatch.call.intake"
	// SubjectProcessed announces a newly extracted call.
	SubjectProcessed = "dispatch.call.processed"
	// SubjectUpdated announces a re-extracted or answered call.
	SubjectUpdated = "dispatch.call.updated"
	// SubjectCleared announces that every record was dropped.
	SubjectCleared = "dispatch.calls.cleared"
)

// IntakeEvent is the payload expected on SubjectIntake.
type IntakeEvent struct {
	Transcription string `json:"transcription"`
	PhoneNumber   string `json:"phone_number"`
}

// CallEvent is published after every record write.
type CallEvent struct {
	EventID     string `json:"event_id"`
	CallID      string `json:"call_id"`
	Criticality string `json:"criticality"`
	PhoneNumber string `json:"phone_number"`
	Address     string `json:"address,omitempty"`
	Degraded    bool   `json:"degraded"`
	Answered    bool   `json:"answered"`
	Timestamp   string `json:"timestamp"`
}

// drainTimeout bounds Close. It outlasts the default LLM timeout so an
// intake handler mid-extraction can still persist its call.
const drainTimeout = 150 * time.Second

type Client struct {
	conn         *nats.Conn
	logger       *slog.Logger
	closed       chan struct{}
	drainTimeout time.Duration
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	closed := make(chan struct{})
	opts := []nats.Option{
		nats.Name("callintake"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			close(closed)
		}),
		nats.DrainTimeout(drainTimeout),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger, closed: closed, drainTimeout: drainTimeout}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	_, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Close drains the connection: subscriptions stop taking new messages,
// messages already delivered are handled, pending publishes are flushed. It
// blocks until the connection is closed or the drain times out.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed, closing", "error", err)
		c.conn.Close()
		return
	}
	if !c.awaitClosed() {
		c.logger.Warn("nats drain timed out, closing", "timeout", c.drainTimeout)
		c.conn.Close()
	}
}

func (c *Client) awaitClosed() bool {
	select {
	case <-c.closed:
		return true
	case <-time.After(c.drainTimeout):
		return false
	}
}
