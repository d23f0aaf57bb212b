package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/smtp"
	"net/textproto"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// Sender delivers one HTML message to one recipient.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailService sends multipart mail over SMTP. Without a host or user it
// runs in dev mode and only logs.
type EmailService struct {
	host     string
	port     string
	user     string
	pass     string
	from     string
	devMode  bool
	sendMail sendMailFunc
	log      *slog.Logger
}

var _ Sender = (*EmailService)(nil)

func NewEmailService(host, port, user, pass, from string, log *slog.Logger) *EmailService {
	devMode := host == "" || user == ""
	if devMode {
		log.Warn("email service running in dev mode: SMTP_HOST or SMTP_USER is missing, messages are logged only")
	}
	return &EmailService{
		host:     host,
		port:     port,
		user:     user,
		pass:     pass,
		from:     from,
		devMode:  devMode,
		sendMail: smtp.SendMail,
		log:      log,
	}
}

func (s *EmailService) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.devMode {
		s.log.Info("dev email", slog.String("to", to), slog.String("subject", subject))
		s.log.Debug("dev email body", slog.String("html", htmlBody))
		return nil
	}

	message, err := buildMessage(s.from, to, subject, htmlBody)
	if err != nil {
		return fmt.Errorf("failed to build email to %s: %w", to, err)
	}

	auth := smtp.PlainAuth("", s.user, s.pass, s.host)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	if err := s.sendMail(addr, auth, envelopeAddress(s.from), []string{to}, message); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}

// buildMessage renders a multipart/alternative message with a plain-text
// part converted from the HTML. Both parts are quoted-printable so no line
// exceeds the SMTP limit.
func buildMessage(from, to, subject, htmlBody string) ([]byte, error) {
	plain, err := htmltomarkdown.ConvertString(htmlBody)
	if err != nil {
		return nil, fmt.Errorf("convert html to text: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	for _, part := range []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", plain},
		{"text/html; charset=UTF-8", htmlBody},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(part.content)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	headers := []string{
		fmt.Sprintf("From: %s", from),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", mime.BEncoding.Encode("UTF-8", subject)),
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", mw.Boundary()),
	}

	var msg bytes.Buffer
	msg.WriteString(strings.Join(headers, "\r\n"))
	msg.WriteString("\r\n\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// envelopeAddress extracts the bare address from "Name <addr>".
func envelopeAddress(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.LastIndex(from, ">"); j > i {
			return from[i+1 : j]
		}
	}
	return strings.TrimSpace(from)
}
