package notification

import (
	"context"

	"FleetRiskAPI/internal/models"
	"FleetRiskAPI/internal/websocket"
)

type UserNotifier interface {
	SendToUser(userID, msgType string, payload interface{}) error
}

// InAppChannel pushes notifications to the recipient's live dashboard sessions.
type InAppChannel struct {
	hub UserNotifier
}

func NewInAppChannel(hub UserNotifier) *InAppChannel {
	return &InAppChannel{hub: hub}
}

func (c *InAppChannel) Name() string { return models.ChannelInApp }

func (c *InAppChannel) Address(r models.Recipient) string { return r.ID }

func (c *InAppChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.hub.SendToUser(msg.Recipient.ID, websocket.TypeAlertNotification, msg)
}
