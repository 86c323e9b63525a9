package config

import (
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail/v2"
)

// Mailer sends HTML mail over SMTP with STARTTLS.
type Mailer struct {
	host          string
	port          int
	user          string
	pass          string
	from          string
	skipTLSVerify bool
}

func NewMailer(cfg *Config) *Mailer {
	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}
	return &Mailer{
		host:          cfg.SMTPHost,
		port:          port,
		user:          cfg.SMTPUser,
		pass:          cfg.SMTPPass,
		from:          cfg.SMTPFrom,
		skipTLSVerify: cfg.SMTPSkipTLSVerify,
	}
}

// Configured reports whether SMTP_HOST and SMTP_FROM are set.
func (m *Mailer) Configured() bool {
	return m != nil && m.host != "" && m.from != ""
}

func (m *Mailer) Send(to []string, subject, html string) error {
	if len(to) == 0 {
		return nil
	}
	if !m.Configured() {
		return fmt.Errorf("smtp not configured (SMTP_HOST/SMTP_FROM)")
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", html)

	d := mail.NewDialer(m.host, m.port, m.user, m.pass)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{
		ServerName:         m.host,
		InsecureSkipVerify: m.skipTLSVerify,
	}

	return d.DialAndSend(msg)
}
