package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/logger"
)

const (
	defaultNATSSubject = "job-radar.notifications"
	defaultNATSStream  = "JOB_RADAR"
	natsConnectTimeout = 10 * time.Second
)

type NATSConfig struct {
	URL     string
	Subject string
	Stream  string
	Timeout time.Duration
}

type jetStreamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATS publishes the digest to a JetStream subject. The server acknowledgement is the delivery confirmation.
type NATS struct {
	conn    *nats.Conn
	js      jetStreamPublisher
	subject string
	logger  *zap.Logger
}

type natsPayload struct {
	Subject   string        `json:"subject"`
	Body      string        `json:"body"`
	CreatedAt time.Time     `json:"created_at"`
	To        []string      `json:"to,omitempty"`
	Listings  []natsListing `json:"listings"`
}

type natsListing struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Company  string  `json:"company"`
	URL      string  `json:"url"`
	Location string  `json:"location,omitempty"`
	Source   string  `json:"source,omitempty"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason,omitempty"`
}

func NewNATS(cfg NATSConfig, log *zap.Logger) (*NATS, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("nats url is required")
	}
	if cfg.Subject == "" {
		cfg.Subject = defaultNATSSubject
	}
	if cfg.Stream == "" {
		cfg.Stream = defaultNATSStream
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = natsConnectTimeout
	}

	opts := []nats.Option{
		nats.Name("job-radar"),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(cfg.Stream); errors.Is(err, nats.ErrStreamNotFound) {
		if _, err := js.AddStream(&nats.StreamConfig{Name: cfg.Stream, Subjects: []string{cfg.Subject}}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("create stream %s: %w", cfg.Stream, err)
		}
	} else if err != nil {
		conn.Close()
		return nil, fmt.Errorf("stream info %s: %w", cfg.Stream, err)
	}

	return &NATS{conn: conn, js: js, subject: cfg.Subject, logger: logger.OrNop(log)}, nil
}

func (n *NATS) Send(ctx context.Context, msg Message) error {
	data, err := encodeNATSPayload(msg)
	if err != nil {
		return err
	}

	ack, err := n.js.Publish(n.subject, data, nats.Context(ctx))
	if err != nil {
		n.logger.Error("failed to publish notification",
			zap.String("subject", n.subject),
			zap.Error(err))
		return fmt.Errorf("publishing notification: %w", err)
	}

	n.logger.Info("notification published",
		zap.String("subject", n.subject),
		zap.String("stream", ack.Stream),
		zap.Uint64("sequence", ack.Sequence),
		zap.Int("listings", len(msg.Listings)),
	)
	return nil
}

func (n *NATS) Close() error {
	if n.conn != nil {
		n.conn.Close()
	}
	return nil
}

func encodeNATSPayload(msg Message) ([]byte, error) {
	payload := natsPayload{
		Subject:   msg.Subject,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt.UTC(),
		To:        msg.To,
		Listings:  make([]natsListing, 0, len(msg.Listings)),
	}
	for i := range msg.Listings {
		l := &msg.Listings[i]
		payload.Listings = append(payload.Listings, natsListing{
			ID:       l.ID(),
			Title:    l.Title,
			Company:  l.Company,
			URL:      l.URL,
			Location: l.Location,
			Source:   l.Source,
			Score:    l.Score,
			Reason:   l.Reason,
		})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling notification: %w", err)
	}
	return data, nil
}
