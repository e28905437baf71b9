package mail

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toolhub/hubauth/internal/config"
	appErr "github.com/toolhub/hubauth/internal/pkg/errors"
)

func TestComposerRendersMarkdown(t *testing.T) {
	c := NewComposer("Hub", "ops@example.com")
	m, err := c.LoginOTP("user@example.com", "123456", 10)
	require.NoError(t, err)
	require.Equal(t, "user@example.com", m.To)
	require.Equal(t, "ops@example.com", m.ReplyTo)
	require.Contains(t, m.Text, "**123456**")
	require.Contains(t, m.HTML, "<strong>123456</strong>")
	require.Contains(t, m.Subject, "Hub")
}

func TestBuildMessageMultipart(t *testing.T) {
	msg, err := buildMessage("noreply@example.com", Mail{To: "a@example.com", Subject: "s", Text: "plain", HTML: "<p>rich</p>", ReplyTo: "r@example.com"})
	require.NoError(t, err)
	body := string(msg)
	require.Contains(t, body, "Reply-To: r@example.com\r\n")
	require.Contains(t, body, "multipart/alternative; boundary=")
	require.True(t, strings.Contains(body, "plain") && strings.Contains(body, "<p>rich</p>"))
}

func TestBuildMessagePlain(t *testing.T) {
	msg, err := buildMessage("noreply@example.com", Mail{To: "a@example.com", Subject: "s", Text: "plain"})
	require.NoError(t, err)
	require.Contains(t, string(msg), "Content-Type: text/plain; charset=UTF-8\r\n\r\nplain")
}

func TestSMTPSenderRequiresConfig(t *testing.T) {
	err := NewSender(config.MailConfig{}).Send(context.Background(), Mail{To: "a@example.com"})
	require.ErrorIs(t, err, appErr.ErrInvalid)
}
