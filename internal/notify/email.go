package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/resend/resend-go/v2"
)

// EmailNotifier delivers run reports via the Resend API; an optional
// secondary channel next to Telegram.
type EmailNotifier struct {
	client *resend.Client
	from   string
	to     string
}

func NewEmailNotifier(apiKey, from, to string) *EmailNotifier {
	return &EmailNotifier{
		client: resend.NewClient(apiKey),
		from:   from,
		to:     to,
	}
}

func (n *EmailNotifier) RunFinished(ctx context.Context, report RunReport) error {
	subject := fmt.Sprintf("[fleetcron] %s: %s", report.Status, report.JobName)
	body := "<pre>" + strings.ReplaceAll(report.Message(), "\n", "<br>") + "</pre>"

	params := &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{n.to},
		Subject: subject,
		Html:    body,
	}
	_, err := n.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		err = fmt.Errorf("send email: %w", err)
	}
	observe("email", err)
	return err
}
