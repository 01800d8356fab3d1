// Package mail delivers transactional email over SMTP.
package mail

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"windscope.org/internal/obs"
)

// Config holds SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer sends OTP and account lifecycle mail through an SMTP relay.
// It implements auth.Sender.
type Mailer struct {
	cfg        Config
	dialer     *gomail.Dialer
	adminAddrs []string
}

// New constructs a Mailer. adminAddrs receive new-registration alerts.
func New(cfg Config, adminAddrs []string) *Mailer {
	return &Mailer{
		cfg:        cfg,
		dialer:     gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		adminAddrs: adminAddrs,
	}
}

// SendOTP delivers a one-time code. purpose is "registration", "login"
// or "password reset" and only affects the wording.
func (m *Mailer) SendOTP(ctx context.Context, email, code, purpose string) error {
	subject := fmt.Sprintf("Your Windscope %s code", purpose)
	body := fmt.Sprintf(
		"<p>Your %s verification code is:</p><h2>%s</h2><p>The code expires in 5 minutes. If you did not request it, ignore this message.</p>",
		purpose, code)
	return m.send(ctx, []string{email}, subject, body)
}

// SendAdminAlert notifies administrators that a verified registration
// awaits approval.
func (m *Mailer) SendAdminAlert(ctx context.Context, name, email, phone string) error {
	if len(m.adminAddrs) == 0 {
		return nil
	}
	body := fmt.Sprintf(
		"<p>A new account awaits approval.</p><ul><li>Name: %s</li><li>Email: %s</li><li>Phone: %s</li></ul>",
		name, email, phone)
	return m.send(ctx, m.adminAddrs, "Windscope: account pending approval", body)
}

// SendApprovalNotice tells a user their account was approved.
func (m *Mailer) SendApprovalNotice(ctx context.Context, email, name string) error {
	body := fmt.Sprintf("<p>Hi %s,</p><p>Your Windscope account has been approved. You can now sign in.</p>", name)
	return m.send(ctx, []string{email}, "Windscope: account approved", body)
}

func (m *Mailer) send(ctx context.Context, to []string, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)
	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("mail: send %q: %w", subject, err)
	}
	return nil
}

// LogSender writes mail to the log instead of SMTP. Used when no relay
// is configured, e.g. local development.
type LogSender struct{}

func (LogSender) SendOTP(_ context.Context, email, code, purpose string) error {
	obs.Log(map[string]any{"level": "info", "msg": "mail (log only)", "to": email, "purpose": purpose, "code": code})
	return nil
}

func (LogSender) SendAdminAlert(_ context.Context, name, email, _ string) error {
	obs.Log(map[string]any{"level": "info", "msg": "mail (log only)", "kind": "admin alert", "name": name, "email": email})
	return nil
}

func (LogSender) SendApprovalNotice(_ context.Context, email, _ string) error {
	obs.Log(map[string]any{"level": "info", "msg": "mail (log only)", "kind": "approval notice", "to": email})
	return nil
}
