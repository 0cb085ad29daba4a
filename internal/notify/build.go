package notify

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type Config struct {
	Transport string
	SMTP      SMTPConfig
	NATS      NATSConfig
}

// New builds the configured transport. It returns nil when no transport is configured.
func New(cfg Config, log *zap.Logger) (Notifier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case TransportNone:
		return nil, nil
	case TransportSMTP:
		return NewSMTP(cfg.SMTP, log)
	case TransportNATS:
		return NewNATS(cfg.NATS, log)
	default:
		return nil, fmt.Errorf("unknown notification transport %q", cfg.Transport)
	}
}
