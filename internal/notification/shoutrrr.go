package notification

import (
	"context"
	"fmt"
	"net/url"

	"FleetRiskAPI/internal/models"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
)

type messageSender interface {
	Send(message string, params *types.Params) []error
}

type senderFactory func(rawURL string) (messageSender, error)

func defaultSenderFactory(rawURL string) (messageSender, error) {
	return shoutrrr.CreateSender(rawURL)
}

// ShoutrrrChannel delivers through a shoutrrr service URL. Email targets the
// recipient by rewriting the URL's toaddresses; chat posts to one room and
// mentions the recipient's handle.
type ShoutrrrChannel struct {
	name       string
	serviceURL string
	newSender  senderFactory
}

func NewEmailChannel(smtpURL string) (*ShoutrrrChannel, error) {
	return newShoutrrrChannel(models.ChannelEmail, smtpURL)
}

func NewChatChannel(serviceURL string) (*ShoutrrrChannel, error) {
	return newShoutrrrChannel(models.ChannelChat, serviceURL)
}

func newShoutrrrChannel(name, serviceURL string) (*ShoutrrrChannel, error) {
	if _, err := url.Parse(serviceURL); err != nil {
		return nil, fmt.Errorf("invalid %s service url: %w", name, err)
	}
	// Fail fast on unsupported schemes instead of at first delivery.
	if _, err := shoutrrr.CreateSender(serviceURL); err != nil {
		return nil, fmt.Errorf("invalid %s service url: %w", name, err)
	}
	return &ShoutrrrChannel{name: name, serviceURL: serviceURL, newSender: defaultSenderFactory}, nil
}

func (c *ShoutrrrChannel) Name() string { return c.name }

func (c *ShoutrrrChannel) Address(r models.Recipient) string {
	if c.name == models.ChannelEmail {
		return r.Email
	}
	return r.ChatHandle
}

func (c *ShoutrrrChannel) targetURL(address string) (string, error) {
	if c.name != models.ChannelEmail {
		return c.serviceURL, nil
	}
	u, err := url.Parse(c.serviceURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("toaddresses", address)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *ShoutrrrChannel) body(msg Message, address string) string {
	if c.name == models.ChannelChat {
		return fmt.Sprintf("@%s %s\n%s", address, msg.Title, msg.Body)
	}
	return msg.Body
}

// Send delivers msg. shoutrrr is not context aware, so the call runs in a
// goroutine and ctx expiry abandons it.
func (c *ShoutrrrChannel) Send(ctx context.Context, msg Message) error {
	address := c.Address(msg.Recipient)
	if address == "" {
		return fmt.Errorf("%w %s", ErrNoAddress, c.name)
	}

	target, err := c.targetURL(address)
	if err != nil {
		return fmt.Errorf("failed to build %s url: %w", c.name, err)
	}
	sender, err := c.newSender(target)
	if err != nil {
		return fmt.Errorf("failed to create %s sender: %w", c.name, err)
	}

	params := types.Params{"title": msg.Title}
	done := make(chan error, 1)
	go func() {
		done <- joinErrors(sender.Send(c.body(msg, address), &params))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s delivery failed: %w", c.name, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s delivery abandoned: %w", c.name, ctx.Err())
	}
}
