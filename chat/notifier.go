package chat

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/veridict/dispute-chat-api/databases"
	"github.com/veridict/dispute-chat-api/models"
)

// Notifier tells a participant with no live connection that a dispute they are
// part of has new activity
type Notifier interface {
	NotifyOffline(ctx context.Context, participant models.Participant, dispute *models.Dispute, msg *models.Message) error
}

// notifyThrottle bounds how often one participant is emailed per dispute
const notifyThrottle = 6 * time.Hour

// EmailNotifier sends offline-activity mail through SendGrid, throttled per
// participant per dispute
type EmailNotifier struct {
	NDB databases.NotificationDatabase
}

// NewEmailNotifier creates a notifier backed by the notifications collection
func NewEmailNotifier(ndb databases.NotificationDatabase) *EmailNotifier {
	return &EmailNotifier{NDB: ndb}
}

// NotifyOffline emails the participant unless they were already notified about
// this dispute within the throttle window
func (n *EmailNotifier) NotifyOffline(ctx context.Context, participant models.Participant, dispute *models.Dispute, msg *models.Message) error {
	last, err := n.NDB.LastNotified(ctx, participant.AccountID, dispute.ID)
	if err != nil {
		return err
	}
	if time.Since(last) < notifyThrottle {
		return nil
	}

	subject := fmt.Sprintf("New message in dispute #%d", dispute.ID)
	plainText := fmt.Sprintf("%s wrote in %q. Sign in to read and reply.", msg.AuthorUsername, dispute.Title)
	htmlContent := fmt.Sprintf("<p><strong>%s</strong> wrote in <em>%s</em>. Sign in to read and reply.</p>",
		msg.AuthorUsername, dispute.Title)

	if err := n.sendEmail(participant.Email, participant.Username, subject, htmlContent, plainText); err != nil {
		return err
	}

	return n.NDB.MarkNotified(ctx, participant.AccountID, dispute.ID, time.Now().UTC())
}

func (n *EmailNotifier) sendEmail(toEmail, toName, subject, htmlContent, plainText string) error {
	from := mail.NewEmail("Veridict", "no-reply@veridict.io")
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainText, htmlContent)
	client := sendgrid.NewSendClient(os.Getenv("SENDGRID_API_KEY"))
	response, err := client.Send(message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 400 {
		zap.S().Errorw("sendgrid returned error status", "status", response.StatusCode, "body", response.Body)
	}
	return nil
}
