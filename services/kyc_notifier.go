package services

import (
	"context"
	"fmt"
	"html"

	"kyc-document-api/models"
)

// Notifier tells the compliance team about KYC workflow events.
type Notifier interface {
	KYCSubmitted(ctx context.Context, overview models.KYCOverview) error
	KYCDecided(ctx context.Context, overview models.KYCOverview, actor, reason string) error
}

// MailSender is satisfied by config.Mailer.
type MailSender interface {
	Send(to []string, subject, html string) error
}

// MailNotifier emails the compliance inbox.
type MailNotifier struct {
	mailer     MailSender
	recipients []string
}

func NewMailNotifier(mailer MailSender, recipients []string) *MailNotifier {
	return &MailNotifier{mailer: mailer, recipients: recipients}
}

func (n *MailNotifier) KYCSubmitted(_ context.Context, o models.KYCOverview) error {
	subject := fmt.Sprintf("[KYC] %s %s submitted for review", o.Role, o.UserID)
	body := fmt.Sprintf(
		"<p>User <b>%s</b> (%s) submitted %d of %d required documents for KYC review.</p>",
		html.EscapeString(o.UserID), html.EscapeString(string(o.Role)), o.UploadedRequired, o.RequiredTotal,
	)
	return n.mailer.Send(n.recipients, subject, body)
}

func (n *MailNotifier) KYCDecided(_ context.Context, o models.KYCOverview, actor, reason string) error {
	subject := fmt.Sprintf("[KYC] %s %s is now %s", o.Role, o.UserID, o.Status)
	body := fmt.Sprintf(
		"<p>KYC for user <b>%s</b> (%s) was set to <b>%s</b> by %s.</p>",
		html.EscapeString(o.UserID), html.EscapeString(string(o.Role)), html.EscapeString(string(o.Status)), html.EscapeString(actor),
	)
	if reason != "" {
		body += "<p>Reason: " + html.EscapeString(reason) + "</p>"
	}
	return n.mailer.Send(n.recipients, subject, body)
}

type nopNotifier struct{}

func (nopNotifier) KYCSubmitted(context.Context, models.KYCOverview) error { return nil }

func (nopNotifier) KYCDecided(context.Context, models.KYCOverview, string, string) error {
	return nil
}
