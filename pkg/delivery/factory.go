package delivery

import (
	"fmt"
	"strings"

	"github.com/relayq/relayq/pkg/observability/logger"
)

// Email provider type constants.
const (
	// ProviderSMTP uses standard SMTP protocol.
	ProviderSMTP = "smtp"
	// ProviderSendGrid uses the SendGrid API.
	ProviderSendGrid = "sendgrid"
	// ProviderLog logs emails instead of sending them.
	ProviderLog = "log"
)

// EmailConfig is the email provider factory configuration.
type EmailConfig struct {
	Provider string
	From     string

	SMTP     SMTPConfig
	SendGrid SendGridConfig
}

// NewEmailProvider creates an email provider adapter from configuration.
func NewEmailProvider(cfg EmailConfig, log logger.Logger) (EmailProvider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderSMTP:
		smtpCfg := cfg.SMTP
		if strings.TrimSpace(smtpCfg.From) == "" {
			smtpCfg.From = cfg.From
		}
		return NewSMTPProvider(smtpCfg, log)
	case ProviderSendGrid:
		sendgridCfg := cfg.SendGrid
		if strings.TrimSpace(sendgridCfg.From) == "" {
			sendgridCfg.From = cfg.From
		}
		return NewSendGridProvider(sendgridCfg, log)
	case ProviderLog, "":
		return NewLogProvider(cfg.From, log)
	default:
		return nil, fmt.Errorf("unsupported email provider %q (supported: smtp, sendgrid, log)", cfg.Provider)
	}
}
