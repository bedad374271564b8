package notify

import (
	"fmt"
	"net/smtp"

	"github.com/gofiber/fiber/v2/log"

	"github.com/paycycle/paycycle/internal/pkg/env"
)

// Notifier sends user-facing notifications. It is a best-effort collaborator:
// callers dispatch asynchronously and never let a send failure propagate into
// payment processing.
type Notifier interface {
	Send(to, subject, body string) error
}

// Dispatch runs a notification in the background. Webhook acknowledgements
// and processor cycles must not wait on or fail with slow downstream sends.
func Dispatch(n Notifier, to, subject, body string) {
	if n == nil || to == "" {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("[Notify] panic during send: %v", r)
			}
		}()
		if err := n.Send(to, subject, body); err != nil {
			log.Errorf("[Notify] send to %s failed: %v", to, err)
		}
	}()
}

// SMTPNotifier sends notifications via SMTP.
type SMTPNotifier struct{}

// Send delivers a single HTML mail using the SMTP_* environment config.
func (SMTPNotifier) Send(to, subject, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "25")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")

	if sender == "" {
		sender = "no-reply@localhost"
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)
	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	return smtp.SendMail(addr, auth, sender, []string{to}, msg)
}
