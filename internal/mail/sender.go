package mail

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"

	"github.com/toolhub/hubauth/internal/config"
	appErr "github.com/toolhub/hubauth/internal/pkg/errors"
)

type Mail struct {
	To      string
	Subject string
	Text    string
	HTML    string
	ReplyTo string
}

type Sender interface {
	Send(ctx context.Context, m Mail) error
}

type smtpSender struct {
	cfg config.MailConfig
}

func NewSender(cfg config.MailConfig) Sender {
	return &smtpSender{cfg: cfg}
}

func (s *smtpSender) Send(ctx context.Context, m Mail) error {
	from := strings.TrimSpace(s.cfg.From)
	if s.cfg.Host == "" || s.cfg.Port == 0 || from == "" {
		return appErr.ErrInvalid
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := buildMessage(from, m)
	if err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	return smtp.SendMail(addr, auth, from, []string{m.To}, msg)
}

func buildMessage(from string, m Mail) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("From: " + from + "\r\n")
	buf.WriteString("To: " + m.To + "\r\n")
	if m.ReplyTo != "" {
		buf.WriteString("Reply-To: " + m.ReplyTo + "\r\n")
	}
	buf.WriteString("Subject: " + m.Subject + "\r\n")
	buf.WriteString("MIME-Version: 1.0\r\n")
	if m.HTML == "" {
		buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		buf.WriteString(m.Text)
		return buf.Bytes(), nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	buf.WriteString("Content-Type: multipart/alternative; boundary=" + mw.Boundary() + "\r\n\r\n")
	for _, part := range []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", m.Text},
		{"text/html; charset=UTF-8", m.HTML},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {part.contentType}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	buf.Write(body.Bytes())
	return buf.Bytes(), nil
}
