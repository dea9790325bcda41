package smtp

import (
	"context"
	"fmt"

	"github.com/chatauth/internal/config"
	"github.com/chatauth/internal/domain"
	"gopkg.in/gomail.v2"
)

// sender is satisfied by *gomail.Dialer.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer delivers OTP codes by email.
type Mailer struct {
	dialer sender
	from   string
}

func NewMailer(cfg *config.Config) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword),
		from:   cfg.SMTPFrom,
	}
}

func (m *Mailer) SendOTP(ctx context.Context, email, code, purpose string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", email)
	subject, body := otpContent(code, purpose)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send otp email: %w", err)
	}
	return nil
}

func otpContent(code, purpose string) (subject, body string) {
	if purpose == domain.PurposeReset {
		return "Reset your password", fmt.Sprintf(`
		<h3>Password reset requested</h3>
		<p>Use this code to reset your password: <strong>%s</strong></p>
		<p>The code expires in 5 minutes. If you did not ask for a reset, ignore this email.</p>
	`, code)
	}
	return "Verify your email", fmt.Sprintf(`
		<h3>Welcome!</h3>
		<p>Your verification code is <strong>%s</strong></p>
		<p>The code expires in 5 minutes.</p>
	`, code)
}
