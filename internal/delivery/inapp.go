package delivery

import (
	"context"

	"kashee-notify/internal/models"
)

// InAppAdapter marks the inbox channel delivered. The notification row is
// the inbox entry itself, so there is no outbound call to make.
type InAppAdapter struct{}

func NewInAppAdapter() *InAppAdapter { return &InAppAdapter{} }

func (*InAppAdapter) Channel() models.Channel { return models.ChannelInApp }

func (*InAppAdapter) Send(ctx context.Context, job *Job) models.SendResult {
	return models.SendResult{Status: models.StatusDelivered}
}
