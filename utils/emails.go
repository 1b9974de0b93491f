package utils

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"time"

	"archpay-bend/config"

	"github.com/mailgun/mailgun-go/v3"
	"gopkg.in/gomail.v2"
)

//go:embed email_template/*.html
var emailTemplates embed.FS

var templates = template.Must(template.ParseFS(emailTemplates, "email_template/*.html"))

// ErrMailNotConfigured is returned when neither mailgun nor smtp is set up
var ErrMailNotConfigured = errors.New("mail delivery is not configured")

// EmailData represents the data format for emails
type EmailData struct {
	Title       string
	ContentData interface{}
	EmailTo     string
	Template    string
}

// Mailer sends templated emails through mailgun, falling back to smtp
type Mailer struct {
	cfg config.Mail
}

// NewMailer ...
func NewMailer(cfg config.Mail) *Mailer {
	return &Mailer{cfg: cfg}
}

// Render executes an email template
func Render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// SendEmail ...
func (m *Mailer) SendEmail(data EmailData) error {
	if data.EmailTo == "" {
		return errors.New("email recipient is empty")
	}
	body, err := Render(data.Template, data.ContentData)
	if err != nil {
		return err
	}

	switch {
	case m.cfg.MailgunDomain != "" && m.cfg.MailgunKey != "":
		return m.sendMailgun(data, body)
	case m.cfg.SMTPHost != "":
		return m.sendGoMail(data, body)
	}
	return ErrMailNotConfigured
}

func (m *Mailer) sendMailgun(data EmailData, body string) error {
	mg := mailgun.NewMailgun(m.cfg.MailgunDomain, m.cfg.MailgunKey)
	message := mg.NewMessage(
		fmt.Sprintf("ArchPay <%s>", m.cfg.From),
		data.Title,
		"Sent from ArchPay",
		data.EmailTo,
	)
	message.SetHtml(body)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	_, _, err := mg.Send(ctx, message)
	return err
}

func (m *Mailer) sendGoMail(data EmailData, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", data.EmailTo)
	msg.SetHeader("Subject", data.Title)
	msg.SetBody("text/html", body)

	d := gomail.NewDialer(m.cfg.SMTPHost, m.cfg.SMTPPort, m.cfg.SMTPUser, m.cfg.SMTPPass)
	return d.DialAndSend(msg)
}
