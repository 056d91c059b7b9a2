// Package mailer implements C12: SMTP delivery of the rendered digest and
// error/re-auth notification emails, per §4.8 and §6's Email Format.
package mailer

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mail "github.com/go-mail/mail/v2"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
)

// Config configures the SMTP connection.
type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	FromName           string
	Recipient          string
	Timeout            time.Duration
	TLS                bool
	StartTLS           bool
	InsecureSkipVerify bool
}

// Mailer is C12.
type Mailer struct {
	cfg Config
}

// New constructs a Mailer.
func New(cfg Config) *Mailer {
	return &Mailer{cfg: cfg}
}

// SendDigest renders and delivers the digest email for a completed run.
// Per §4.8, callers must not write ProcessedStore records until this
// returns successfully.
func (m *Mailer) SendDigest(output model.DigestOutput) error {
	subject := fmt.Sprintf("Your %s AI Digest", strings.Title(string(output.Mode)))
	html := RenderDigest(output)
	text := stripHTML(html)
	return m.send(subject, html, text)
}

// SendErrorNotification delivers an alert email for a non-retryable
// pipeline failure, per §6: subject `[ALERT] AI Digest Error: {context}`,
// body includes the error message and a JSON-ish detail dump.
func (m *Mailer) SendErrorNotification(context string, pipelineErr *model.PipelineError) error {
	subject := fmt.Sprintf("[ALERT] AI Digest Error: %s", context)
	html := RenderErrorNotice(context, pipelineErr)
	return m.send(subject, html, stripHTML(html))
}

// SendReauthNotification delivers a notice that the Gmail OAuth token has
// been revoked and needs re-authorization, per §6.
func (m *Mailer) SendReauthNotification(reauthURL string) error {
	subject := "[ALERT] AI Digest: Re-authorization required"
	html := RenderReauthNotice(reauthURL)
	return m.send(subject, html, stripHTML(html))
}

func (m *Mailer) send(subject, htmlBody, textBody string) error {
	if m.cfg.Host == "" {
		slog.Info("mailer: SMTP not configured, email not sent", "subject", subject)
		return nil
	}
	if m.cfg.Recipient == "" {
		return fmt.Errorf("mailer: no recipient configured")
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(m.cfg.From, m.cfg.FromName))
	msg.SetHeader("To", m.cfg.Recipient)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)

	dialer := mail.NewDialer(m.cfg.Host, m.cfg.Port, m.cfg.Username, m.cfg.Password)
	if m.cfg.TLS {
		dialer.SSL = true
		dialer.TLSConfig = &tls.Config{ServerName: m.cfg.Host, InsecureSkipVerify: m.cfg.InsecureSkipVerify}
	} else if m.cfg.StartTLS {
		dialer.TLSConfig = &tls.Config{ServerName: m.cfg.Host, InsecureSkipVerify: m.cfg.InsecureSkipVerify}
		dialer.StartTLSPolicy = mail.MandatoryStartTLS
	}
	timeout := m.cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer.Timeout = timeout

	slog.Info("mailer: sending email", "to", m.cfg.Recipient, "subject", subject)

	if err := dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	slog.Info("mailer: email sent successfully", "to", m.cfg.Recipient)
	return nil
}

var tagPattern = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<p>", "\n", "</p>", "")

func stripHTML(html string) string {
	text := tagPattern.Replace(html)
	var b strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
