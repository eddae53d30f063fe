// Package notification delivers alert messages over in-app, email and chat
// channels. Each Channel delivers one message to one recipient.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"FleetRiskAPI/internal/models"
)

var ErrNoAddress = errors.New("recipient has no address for channel")

type Message struct {
	AlertID   string           `json:"alert_id"`
	AssetID   string           `json:"asset_id"`
	Severity  models.RiskLevel `json:"severity"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Recipient models.Recipient `json:"-"`
}

// NewMessage renders the notification for alert addressed to r.
func NewMessage(alert *models.Alert, r models.Recipient) Message {
	return Message{
		AlertID:   alert.ID,
		AssetID:   alert.AssetID,
		Severity:  alert.Severity,
		Title:     fmt.Sprintf("[%s] %s", alert.Severity, alert.Title),
		Body:      alert.Message,
		Recipient: r,
	}
}

type Channel interface {
	Name() string
	// Address returns where r is reached on this channel, or "" if nowhere.
	Address(r models.Recipient) string
	Send(ctx context.Context, msg Message) error
}

// Registry maps channel names to enabled channels.
type Registry struct {
	channels map[string]Channel
}

func NewRegistry(channels ...Channel) *Registry {
	reg := &Registry{channels: make(map[string]Channel)}
	for _, ch := range channels {
		if ch != nil {
			reg.channels[ch.Name()] = ch
		}
	}
	return reg
}

func (r *Registry) Get(name string) (Channel, bool) {
	ch, ok := r.channels[name]
	return ch, ok
}

func (r *Registry) Enabled(name string) bool {
	_, ok := r.channels[name]
	return ok
}

// Names returns the enabled channel names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func joinErrors(errs []error) error {
	var msgs []string
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return errors.New(strings.Join(msgs, "; "))
}
