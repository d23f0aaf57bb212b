package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"strings"
	"testing"

	"github.com/kenjisakuragi/YT2Mail/internal/logging"
	"github.com/kenjisakuragi/YT2Mail/internal/models"
)

func TestBuildMessage(t *testing.T) {
	msg, err := buildMessage(
		"Insights <insights@example.com>",
		"user@example.com",
		"Starter Story Insight: 月商100万円",
		"<h1>Title</h1><p>Hello <strong>world</strong></p>",
	)
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}
	s := string(msg)

	for _, want := range []string{
		"From: Insights <insights@example.com>\r\n",
		"To: user@example.com\r\n",
		"Subject: =?UTF-8?b?",
		"MIME-Version: 1.0\r\n",
		"Content-Type: multipart/alternative; boundary=",
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Type: text/html; charset=UTF-8",
		"<p>Hello <strong>world</strong></p>",
		"# Title",
		"Hello **world**",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("message missing %q\n%s", want, s)
		}
	}

	if strings.Index(s, "text/plain") > strings.Index(s, "text/html") {
		t.Error("plain part should come before the html part")
	}
}

func TestBuildMessage_LinesWithinLimit(t *testing.T) {
	overview := strings.Repeat("売上", 250)
	video := &models.Video{
		ExternalID: "abc123",
		Title:      "月商1000万円のSaaS",
		Summary:    models.SummaryDocument{BusinessOverview: overview},
	}
	html, err := NewDeliveryService(nil, nil, "http://localhost:3000", logging.Discard()).render(video)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(html, overview) {
		t.Fatal("rendered digest should hold the overview on one line")
	}

	msg, err := buildMessage("from@example.com", "to@example.com", "subject", html)
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}
	for i, line := range strings.Split(string(msg), "\n") {
		if n := len(strings.TrimSuffix(line, "\r")); n > 998 {
			t.Fatalf("line %d is %d bytes", i+1, n)
		}
	}

	// The parts must still decode to the original content.
	parsed, err := mail.ReadMessage(bytes.NewReader(msg))
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	_, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("content type: %v", err)
	}
	mr := multipart.NewReader(parsed.Body, params["boundary"])
	var decoded []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next part: %v", err)
		}
		b, err := io.ReadAll(part)
		if err != nil {
			t.Fatalf("read part: %v", err)
		}
		decoded = append(decoded, string(b))
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(decoded))
	}
	if !strings.Contains(decoded[1], overview) {
		t.Error("html part does not decode to the rendered digest")
	}
}

func TestEnvelopeAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Starter Story Insights <insights@yt2mail.app>", "insights@yt2mail.app"},
		{"insights@yt2mail.app", "insights@yt2mail.app"},
		{"  bare@example.com ", "bare@example.com"},
		{"Broken <nope", "Broken <nope"},
	}
	for _, tt := range tests {
		if got := envelopeAddress(tt.in); got != tt.want {
			t.Errorf("envelopeAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEmailService_DevModeDoesNotSend(t *testing.T) {
	svc := NewEmailService("", "587", "", "", "from@example.com", logging.Discard())
	svc.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("sendMail must not be called in dev mode")
		return nil
	}

	if err := svc.Send(context.Background(), "to@example.com", "subject", "<p>body</p>"); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestEmailService_Send(t *testing.T) {
	svc := NewEmailService("smtp.example.com", "2525", "user", "pass", "Insights <insights@example.com>", logging.Discard())

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	svc.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if err := svc.Send(context.Background(), "to@example.com", "hello", "<p>body</p>"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "smtp.example.com:2525" {
		t.Errorf("addr = %q", gotAddr)
	}
	if gotFrom != "insights@example.com" {
		t.Errorf("envelope from = %q", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "to@example.com" {
		t.Errorf("to = %v", gotTo)
	}
	if !strings.Contains(string(gotMsg), "<p>body</p>") {
		t.Error("message body missing html")
	}
}

func TestEmailService_SendError(t *testing.T) {
	svc := NewEmailService("smtp.example.com", "587", "user", "pass", "from@example.com", logging.Discard())
	boom := errors.New("535 authentication failed")
	svc.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return boom }

	err := svc.Send(context.Background(), "to@example.com", "s", "<p>b</p>")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped smtp error, got %v", err)
	}
	if errors.Is(err, models.ErrDeliveryFailed) {
		t.Error("classification belongs to the caller")
	}
}

func TestEmailService_CanceledContext(t *testing.T) {
	svc := NewEmailService("smtp.example.com", "587", "user", "pass", "from@example.com", logging.Discard())
	svc.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("sendMail must not be called after cancel")
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := svc.Send(ctx, "to@example.com", "s", "<p>b</p>"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
