package mail

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Composer builds the verification mails. Bodies are written in markdown;
// the text part is the markdown source and the html part its rendering.
type Composer struct {
	appName string
	replyTo string
	md      goldmark.Markdown
}

func NewComposer(appName, replyTo string) *Composer {
	if appName == "" {
		appName = "Tool Hub"
	}
	return &Composer{
		appName: appName,
		replyTo: replyTo,
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

func (c *Composer) LoginOTP(to, code string, ttlMinutes int) (Mail, error) {
	return c.compose(to, c.appName+" - your login code", fmt.Sprintf(
		"Hello,\n\nUse this code to sign in to %s:\n\n**%s**\n\nIt expires in %d minutes. If you did not request it, ignore this mail.\n",
		c.appName, code, ttlMinutes))
}

func (c *Composer) PasswordReset(to, code string, ttlMinutes int) (Mail, error) {
	return c.compose(to, c.appName+" - password reset", fmt.Sprintf(
		"Hello,\n\nA password reset was requested for your %s account. Your reset code is:\n\n**%s**\n\nIt expires in %d minutes.\n",
		c.appName, code, ttlMinutes))
}

func (c *Composer) EmailVerification(to, code string, ttlMinutes int) (Mail, error) {
	return c.compose(to, c.appName+" - verify your email", fmt.Sprintf(
		"Hello,\n\nYour %s verification code is:\n\n**%s**\n\nIt expires in %d minutes.\n",
		c.appName, code, ttlMinutes))
}

func (c *Composer) AdminConfirmation(to, requester, code string, ttlMinutes int) (Mail, error) {
	return c.compose(to, c.appName+" - admin confirmation", fmt.Sprintf(
		"Hello,\n\n`%s` asked for an account on %s. Share this confirmation code with them if you approve:\n\n**%s**\n\nIt expires in %d minutes.\n",
		requester, c.appName, code, ttlMinutes))
}

func (c *Composer) compose(to, subject, markdown string) (Mail, error) {
	var out bytes.Buffer
	if err := c.md.Convert([]byte(markdown), &out); err != nil {
		return Mail{}, err
	}
	return Mail{To: to, Subject: subject, Text: markdown, HTML: out.String(), ReplyTo: c.replyTo}, nil
}
