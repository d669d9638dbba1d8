package delivery

import (
	"context"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"kashee-notify/internal/models"
)

const smsMaxLength = 160

// SMSSender is the slice of the SNS client the adapter needs.
type SMSSender interface {
	Publish(ctx context.Context, input *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SMSConfig configures the SNS adapter.
type SMSConfig struct {
	SenderID string
}

// SMSAdapter delivers via Amazon SNS direct-to-phone publish.
type SMSAdapter struct {
	client SMSSender
	cfg    SMSConfig
}

func NewSMSAdapter(client SMSSender, cfg SMSConfig) *SMSAdapter {
	return &SMSAdapter{client: client, cfg: cfg}
}

func (*SMSAdapter) Channel() models.Channel { return models.ChannelSMS }

func (a *SMSAdapter) Send(ctx context.Context, job *Job) models.SendResult {
	phone := strings.TrimSpace(job.User.Phone)
	if phone == "" {
		return models.SendResult{Status: models.StatusSkipped, Error: "recipient has no phone number"}
	}

	input := &sns.PublishInput{
		PhoneNumber: awssdk.String(phone),
		Message:     awssdk.String(truncateSMS(job.Notification.Body)),
	}
	if a.cfg.SenderID != "" {
		input.MessageAttributes = map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    awssdk.String("String"),
				StringValue: awssdk.String(a.cfg.SenderID),
			},
		}
	}

	out, err := a.client.Publish(ctx, input)
	if err != nil {
		permanent := strings.Contains(err.Error(), "InvalidParameter")
		return models.SendResult{Status: models.StatusFailed, Error: err.Error(), Permanent: permanent}
	}
	return models.SendResult{Status: models.StatusDelivered, ExternalID: awssdk.ToString(out.MessageId)}
}

// truncateSMS cuts at 160 characters, rune-safe; long bodies are truncated,
// never rejected.
func truncateSMS(body string) string {
	runes := []rune(body)
	if len(runes) <= smsMaxLength {
		return body
	}
	return string(runes[:smsMaxLength])
}
