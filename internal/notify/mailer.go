// Package notify sends the transactional emails triggered by order events.
package notify

import (
	"context"
	"fmt"

	"github.com/keighl/postmark"
)

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
	Tag     string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// PostmarkMailer sends through the Postmark API.
type PostmarkMailer struct {
	client *postmark.Client
	from   string
}

func NewPostmarkMailer(serverToken, from string) *PostmarkMailer {
	return &PostmarkMailer{client: postmark.NewClient(serverToken, ""), from: from}
}

// WithBaseURL points the client at another API host.
func (m *PostmarkMailer) WithBaseURL(url string) *PostmarkMailer {
	m.client.BaseURL = url
	return m
}

func (m *PostmarkMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := m.client.SendEmail(postmark.Email{
		From:     m.from,
		To:       msg.To,
		Subject:  msg.Subject,
		HtmlBody: msg.HTML,
		TextBody: msg.Text,
		Tag:      msg.Tag,
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if res.ErrorCode != 0 {
		return fmt.Errorf("failed to send email: postmark error %d: %s", res.ErrorCode, res.Message)
	}
	return nil
}
