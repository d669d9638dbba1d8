package delivery

import (
	"bytes"
	"context"
	"html/template"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"kashee-notify/internal/models"
)

// EmailSender is the slice of the SES client the adapter needs.
type EmailSender interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// EmailConfig configures the SES adapter.
type EmailConfig struct {
	FromAddress string
	FromName    string
}

var emailLayout = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body style="margin:0;padding:0;background:#f4f5f7;font-family:Arial,Helvetica,sans-serif;">
  <table role="presentation" width="100%" cellpadding="0" cellspacing="0">
    <tr><td align="center" style="padding:24px;">
      <table role="presentation" width="560" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:8px;">
        <tr><td style="padding:20px 28px;border-bottom:1px solid #e8eaed;">
          <strong style="font-size:18px;color:#1a5632;">Kashee Milk Producer Company</strong>
        </td></tr>
        <tr><td style="padding:24px 28px;color:#333;font-size:14px;line-height:1.6;">
          {{.Body}}
        </td></tr>
        {{if .DeepLink}}
        <tr><td style="padding:0 28px 24px;">
          <a href="{{.DeepLink}}" style="display:inline-block;padding:10px 20px;background:#1a5632;color:#fff;border-radius:4px;text-decoration:none;font-size:14px;">Open in App</a>
        </td></tr>
        {{end}}
        <tr><td style="padding:16px 28px;border-top:1px solid #e8eaed;color:#999;font-size:12px;">
          This is an automated notification. Please do not reply.
        </td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>`))

// EmailAdapter delivers via Amazon SES.
type EmailAdapter struct {
	client EmailSender
	cfg    EmailConfig
}

func NewEmailAdapter(client EmailSender, cfg EmailConfig) *EmailAdapter {
	return &EmailAdapter{client: client, cfg: cfg}
}

func (*EmailAdapter) Channel() models.Channel { return models.ChannelEmail }

func (a *EmailAdapter) Send(ctx context.Context, job *Job) models.SendResult {
	n := job.Notification
	to := strings.TrimSpace(job.User.Email)
	if to == "" {
		return models.SendResult{Status: models.StatusSkipped, Error: "recipient has no email address"}
	}
	if !strings.Contains(to, "@") {
		return models.SendResult{Status: models.StatusFailed, Error: "invalid email address: " + to, Permanent: true}
	}

	subject := n.EmailSubject
	if subject == "" {
		subject = n.Title
	}
	body := n.EmailBody
	if body == "" {
		body = n.Body
	}

	var html bytes.Buffer
	err := emailLayout.Execute(&html, struct {
		Body     template.HTML
		DeepLink string
	}{Body: template.HTML(body), DeepLink: n.DeepLinkURL})
	if err != nil {
		return models.SendResult{Status: models.StatusFailed, Error: "email layout: " + err.Error(), Permanent: true}
	}

	source := a.cfg.FromAddress
	if a.cfg.FromName != "" {
		source = a.cfg.FromName + " <" + a.cfg.FromAddress + ">"
	}

	out, err := a.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      awssdk.String(source),
		Destination: &types.Destination{ToAddresses: []string{to}},
		Message: &types.Message{
			Subject: &types.Content{Data: awssdk.String(subject)},
			Body: &types.Body{
				Html: &types.Content{Data: awssdk.String(html.String())},
			},
		},
	})
	if err != nil {
		return models.SendResult{Status: models.StatusFailed, Error: err.Error()}
	}
	return models.SendResult{Status: models.StatusDelivered, ExternalID: awssdk.ToString(out.MessageId)}
}
