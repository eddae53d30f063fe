package models

import "time"

const (
	ChannelInApp = "in_app"
	ChannelEmail = "email"
	ChannelChat  = "chat"
)

type ReceiptStatus string

const (
	// ReceiptPending marks a pair claimed by a dispatcher whose delivery is in flight.
	ReceiptPending ReceiptStatus = "PENDING"
	ReceiptSent    ReceiptStatus = "SENT"
	ReceiptFailed  ReceiptStatus = "FAILED"
	ReceiptSkipped ReceiptStatus = "SKIPPED"
)

type NotificationReceipt struct {
	ID          int64         `json:"id" db:"id"`
	AlertID     string        `json:"alert_id" db:"alert_id"`
	Channel     string        `json:"channel" db:"channel"`
	RecipientID string        `json:"recipient_id" db:"recipient_id"`
	Status      ReceiptStatus `json:"status" db:"status"`
	Error       string        `json:"error,omitempty" db:"error"`
	AttemptedAt time.Time     `json:"attempted_at" db:"attempted_at"`
}

// Recipient is a user that can receive alert notifications.
type Recipient struct {
	ID                  string   `json:"id" db:"id"`
	Name                string   `json:"name" db:"name"`
	Email               string   `json:"email" db:"email"`
	ChatHandle          string   `json:"chat_handle" db:"chat_handle"`
	Role                string   `json:"role" db:"role"`
	CanViewAllResources bool     `json:"can_view_all_resources" db:"can_view_all_resources"`
	Channels            []string `json:"channels" db:"channels"`
}

// Wants reports whether the recipient opted into the channel.
func (r Recipient) Wants(channel string) bool {
	for _, c := range r.Channels {
		if c == channel {
			return true
		}
	}
	return false
}

type DispatchFailure struct {
	Channel     string `json:"channel"`
	RecipientID string `json:"recipient_id"`
	Reason      string `json:"reason"`
}

type DispatchReport struct {
	AlertID  string                `json:"alert_id"`
	Receipts []NotificationReceipt `json:"receipts"`
	Failures []DispatchFailure     `json:"failures"`
}

// Sent counts receipts in SENT state.
func (r *DispatchReport) Sent() int {
	n := 0
	for _, rc := range r.Receipts {
		if rc.Status == ReceiptSent {
			n++
		}
	}
	return n
}
