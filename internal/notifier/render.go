// Package notifier turns subscription changes into lifecycle emails.
package notifier

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/example/subscription-sync/internal/models"
	"github.com/example/subscription-sync/pkg/mailer"
)

var htmlBody = template.Must(template.New("email").Parse(`<html>
  <body>
    <p>Hi {{.Name}},</p>
    {{range .Lines}}<p>{{.}}</p>
    {{end}}
  </body>
</html>`))

// Render builds the email for change. It reports false for changes that do not
// warrant an email.
func Render(change models.SubscriptionChange, to, name string) (mailer.Message, bool, error) {
	if name == "" {
		name = "there"
	}

	var subject string
	var lines []string
	switch change.Status {
	case models.SubscriptionStatusActive:
		if change.Plan == models.PlanLifetime {
			subject = "Your lifetime access is active"
			lines = append(lines, "Thanks for your purchase. Your lifetime access is now active.")
		} else {
			subject = "Your subscription is active"
			lines = append(lines, "Thanks for subscribing. Your monthly subscription is now active.")
		}
		if change.Amount > 0 && change.Currency != "" {
			lines = append(lines, fmt.Sprintf("Amount paid: %s %s.", formatAmount(change.Amount), change.Currency))
		}
	case models.SubscriptionStatusCancelled:
		subject = "Your subscription has been cancelled"
		lines = append(lines,
			"Your subscription has been cancelled and will not renew.",
			"You can subscribe again at any time from your dashboard.")
	default:
		return mailer.Message{}, false, nil
	}

	var html bytes.Buffer
	if err := htmlBody.Execute(&html, struct {
		Name  string
		Lines []string
	}{name, lines}); err != nil {
		return mailer.Message{}, false, fmt.Errorf("failed to render email: %w", err)
	}

	return mailer.Message{
		To:      to,
		Subject: subject,
		Text:    "Hi " + name + ",\n\n" + strings.Join(lines, "\n") + "\n",
		HTML:    html.String(),
	}, true, nil
}

func formatAmount(amount float64) string {
	s := fmt.Sprintf("%.2f", amount)
	return strings.TrimSuffix(s, ".00")
}
