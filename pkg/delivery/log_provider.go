package delivery

import (
	"context"
	"errors"
	"strings"

	"github.com/relayq/relayq/pkg/observability/logger"
)

// LogProvider writes emails to the log instead of sending them. Meant for
// local development and demo deployments without provider credentials.
type LogProvider struct {
	from string
	log  logger.Logger
}

// NewLogProvider creates a log-only email provider.
func NewLogProvider(from string, log logger.Logger) (*LogProvider, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &LogProvider{from: strings.TrimSpace(from), log: log}, nil
}

// Send logs the message and reports success.
func (p *LogProvider) Send(ctx context.Context, message Message) (Receipt, error) {
	msg := message.normalized()
	msg, err := applyDefaultSender(msg, p.from)
	if err != nil {
		return Receipt{}, err
	}
	if err := msg.validate(); err != nil {
		return Receipt{}, err
	}

	p.log.Info("email delivery skipped (log provider)",
		"from", msg.From,
		"to", strings.Join(msg.To, ","),
		"subject", msg.Subject,
	)
	return Receipt{Response: "logged without sending"}, nil
}

// Close releases provider resources.
func (p *LogProvider) Close() error {
	return nil
}
