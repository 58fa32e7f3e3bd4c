package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/quota-admission/internal/core/domain/quota"
	"github.com/avatarctic/quota-admission/internal/core/ports"
)

// EmailConfig holds email service configuration
type EmailConfig struct {
	SendGridAPIKey string
	FromEmail      string
	FromName       string
	CompanyName    string
}

// Sender is the part of the SendGrid client the notifier uses.
type Sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

const overQuotaTemplate = `<!DOCTYPE html>
<html>
<body>
  <p>Hi {{.Name}},</p>
  <p>You have used all {{.Limit}} requests included in your {{.CompanyName}} plan for the period ending {{.ResetsAt}}.</p>
  <p>Further requests will be rejected until the quota resets.</p>
</body>
</html>`

// OverQuotaData holds data for the over-quota template
type OverQuotaData struct {
	CompanyName string
	Name        string
	Limit       int64
	ResetsAt    string
}

// QuotaNotifier emails the identity owner when their period quota is exhausted.
type QuotaNotifier struct {
	config   *EmailConfig
	profiles ports.ProfileRepository
	sender   Sender
	tmpl     *template.Template
	logger   *logrus.Logger
}

// NewQuotaNotifier creates a notifier that sends through SendGrid.
func NewQuotaNotifier(config *EmailConfig, profiles ports.ProfileRepository, logger *logrus.Logger) (*QuotaNotifier, error) {
	return NewQuotaNotifierWithSender(config, profiles, sendgrid.NewSendClient(config.SendGridAPIKey), logger)
}

// NewQuotaNotifierWithSender creates a notifier with an explicit sender.
func NewQuotaNotifierWithSender(config *EmailConfig, profiles ports.ProfileRepository, sender Sender, logger *logrus.Logger) (*QuotaNotifier, error) {
	tmpl, err := template.New("over_quota").Parse(overQuotaTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse over-quota template: %w", err)
	}
	return &QuotaNotifier{
		config:   config,
		profiles: profiles,
		sender:   sender,
		tmpl:     tmpl,
		logger:   logger,
	}, nil
}

// NotifyOverQuota implements ports.QuotaNotifier.
func (n *QuotaNotifier) NotifyOverQuota(ctx context.Context, identity quota.Identity, status quota.Status) error {
	p, err := n.profiles.GetByID(ctx, identity.ID)
	if err != nil {
		return fmt.Errorf("failed to load profile for notification: %w", err)
	}
	if p.Email == "" {
		return fmt.Errorf("profile %s has no email address", identity.ID)
	}

	name := p.DisplayName
	if name == "" {
		name = p.Email
	}
	data := OverQuotaData{
		CompanyName: n.config.CompanyName,
		Name:        name,
		Limit:       status.Limit,
		ResetsAt:    status.Period.End.Format(time.RFC1123),
	}

	var buf bytes.Buffer
	if err := n.tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to execute over-quota template: %w", err)
	}

	subject := fmt.Sprintf("You have reached your monthly quota - %s", n.config.CompanyName)
	return n.sendEmail(ctx, p.Email, subject, buf.String())
}

func (n *QuotaNotifier) sendEmail(ctx context.Context, to, subject, htmlContent string) error {
	from := mail.NewEmail(n.config.FromName, n.config.FromEmail)
	recipient := mail.NewEmail("", to)
	message := mail.NewSingleEmail(from, subject, recipient, "", htmlContent)

	response, err := n.sender.SendWithContext(ctx, message)
	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"to":      to,
			"subject": subject,
			"error":   err,
		}).Error("Failed to send email")
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 300 {
		n.logger.WithFields(logrus.Fields{
			"to":          to,
			"status_code": response.StatusCode,
		}).Error("Email provider rejected message")
		return fmt.Errorf("email provider returned status %d", response.StatusCode)
	}

	n.logger.WithFields(logrus.Fields{
		"to":          to,
		"subject":     subject,
		"status_code": response.StatusCode,
	}).Info("Email sent successfully")
	return nil
}
