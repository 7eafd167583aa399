package factory

import (
	"fmt"

	"github.com/mikey/mail2cal/internal/adapters/imap"
	"github.com/mikey/mail2cal/internal/adapters/smtp"
	"github.com/mikey/mail2cal/internal/config"
	"github.com/mikey/mail2cal/internal/core"
	"go.uber.org/zap"
)

// MailboxFactory creates the mailbox the processor polls
type MailboxFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewMailboxFactory creates a new mailbox factory
func NewMailboxFactory(cfg *config.Config, logger *zap.Logger) *MailboxFactory {
	return &MailboxFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateMailbox creates a mailbox based on the configuration. An SMTP
// intake mailbox is already listening when returned.
func (f *MailboxFactory) CreateMailbox() (core.Mailbox, error) {
	mailboxType := f.cfg.GetMailbox().Type

	switch mailboxType {
	case "imap":
		imapCfg := f.cfg.GetIMAP()
		if imapCfg.Username == "" || imapCfg.Password == "" {
			return nil, &core.FatalConfigError{Reason: "IMAP username and password are required"}
		}
		f.logger.Info("Using IMAP mailbox",
			zap.String("address", imapCfg.Address),
			zap.String("mailbox", imapCfg.Mailbox),
			zap.String("processed_flag", imapCfg.ProcessedFlag))
		return imap.NewMailbox(
			imapCfg.Address,
			imapCfg.Username,
			imapCfg.Password,
			imapCfg.Mailbox,
			imapCfg.ProcessedFlag,
			imapCfg.Timeout,
			f.logger.Named("imap"),
		), nil
	case "smtp":
		smtpCfg := f.cfg.GetSMTP()
		mailbox := smtp.NewMailbox(
			smtpCfg.ListenAddress,
			smtpCfg.Domain,
			smtpCfg.MaxMessageBytes,
			smtpCfg.SpoolSize,
			f.logger.Named("smtp"),
		)
		if err := mailbox.Start(); err != nil {
			return nil, &core.FatalConfigError{Reason: "failed to start SMTP intake", Err: err}
		}
		return mailbox, nil
	default:
		return nil, &core.FatalConfigError{Reason: fmt.Sprintf("unsupported mailbox type: %s", mailboxType)}
	}
}
