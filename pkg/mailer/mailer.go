// Package mailer sends transactional email through Amazon SES.
package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESAPI is the subset of the SES client used here; tests substitute a fake.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Message is one email. HTML is optional; Text is always sent.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer sends email from a fixed sender address.
type Mailer struct {
	client SESAPI
	sender string
}

// New returns a Mailer backed by client.
func New(client SESAPI, sender string) (*Mailer, error) {
	if client == nil {
		return nil, errors.New("mailer: SES client cannot be nil")
	}
	if sender == "" {
		return nil, errors.New("mailer: sender email address cannot be empty")
	}
	return &Mailer{client: client, sender: sender}, nil
}

// NewSES loads the default AWS configuration for region and returns a Mailer using SES.
func NewSES(ctx context.Context, region, sender string) (*Mailer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return New(ses.NewFromConfig(cfg), sender)
}

// Send delivers msg and returns the SES message id.
func (m *Mailer) Send(ctx context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", errors.New("recipient email address cannot be empty")
	}
	if msg.Subject == "" {
		return "", errors.New("email subject cannot be empty")
	}

	body := &types.Body{Text: &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}

	out, err := m.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{ToAddresses: []string{msg.To}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body:    body,
		},
		Source: aws.String(m.sender),
	})
	if err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
