package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"FleetRiskAPI/internal/config"
	"FleetRiskAPI/internal/logger"
	"FleetRiskAPI/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultHandlerTimeout bounds one inbound message when the config leaves
// MQTT_HANDLER_TIMEOUT unset.
const DefaultHandlerTimeout = 15 * time.Second

type Client struct {
	client         mqtt.Client
	cfg            *config.MQTTConfig
	log            *logger.Logger
	routes         map[string]AssetHandler
	mu             sync.RWMutex
	connected      bool
	handlerTimeout time.Duration
	ctx            context.Context
	cancel         context.CancelFunc
}

// AssetHandler processes one message for the asset named by its topic. ctx
// ends when the handler timeout elapses or the client disconnects.
type AssetHandler func(ctx context.Context, assetID string, payload []byte) error

type ClientConfig struct {
	MQTT   *config.MQTTConfig
	Logger *logger.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.MQTT == nil {
		return nil, fmt.Errorf("mqtt config cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	timeout := cfg.MQTT.HandlerTimeout
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}

	c := &Client{
		cfg:            cfg.MQTT,
		log:            cfg.Logger,
		routes:         make(map[string]AssetHandler),
		handlerTimeout: timeout,
		ctx:            ctx,
		cancel:         cancel,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Broker, cfg.MQTT.Port))
	opts.SetClientID(cfg.MQTT.ClientID)
	opts.SetKeepAlive(cfg.MQTT.KeepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(cfg.MQTT.ConnectTimeout)
	opts.SetAutoReconnect(cfg.MQTT.AutoReconnect)
	// Messages for one asset must reach the pipeline in arrival order.
	opts.SetOrderMatters(true)
	opts.SetCleanSession(true)

	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = mqtt.NewClient(opts)

	return c, nil
}

func (c *Client) Connect() error {
	c.log.Info("Connecting to MQTT broker: %s:%d", c.cfg.Broker, c.cfg.Port)

	token := c.client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("connection timeout after %v", c.cfg.ConnectTimeout)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	c.log.Info("Successfully connected to MQTT broker")
	return nil
}

// Disconnect cancels in-flight handler contexts before closing the session.
func (c *Client) Disconnect() error {
	c.log.Info("Disconnecting from MQTT broker")

	c.cancel()

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.client.Disconnect(250)

	c.log.Info("Disconnected from MQTT broker")
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SubscribeAssets routes every topic matching pattern to handler. pattern
// must carry one single-level wildcard standing for the asset id, as in
// fleet/assets/+/features.
func (c *Client) SubscribeAssets(pattern string, handler AssetHandler) error {
	if _, err := assetSegment(pattern); err != nil {
		return err
	}
	if !c.IsConnected() {
		return fmt.Errorf("not connected to broker")
	}

	c.route(pattern, handler)

	c.log.Debug("Subscribing to topic: %s (QoS: %d)", pattern, c.cfg.QoS)

	token := c.client.Subscribe(pattern, c.cfg.QoS, c.onMessage)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic: %s", pattern)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe failed for topic %s: %w", pattern, err)
	}

	c.log.Info("Successfully subscribed to topic: %s", pattern)
	return nil
}

func (c *Client) route(pattern string, handler AssetHandler) {
	c.mu.Lock()
	c.routes[pattern] = handler
	c.mu.Unlock()
}

func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.IsConnected() {
		return fmt.Errorf("not connected to broker")
	}

	c.log.Debug("Publishing to topic: %s (size: %d bytes)", topic, len(payload))

	token := c.client.Publish(topic, c.cfg.QoS, c.cfg.RetainMessages, payload)

	wait, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	select {
	case <-token.Done():
	case <-wait.Done():
		return fmt.Errorf("publish to %s: %w", topic, wait.Err())
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed for topic %s: %w", topic, err)
	}

	c.log.Debug("Successfully published to topic: %s", topic)
	return nil
}

// PublishResolved emits evt on {events_prefix}/{asset_id}/alerts/resolved.
func (c *Client) PublishResolved(ctx context.Context, evt models.AlertResolvedEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal resolved event: %w", err)
	}
	return c.Publish(ctx, ResolvedAlertTopic(c.cfg.EventsPrefix, evt.AssetID), payload)
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	c.handleMessage(msg)
}

func (c *Client) handleMessage(msg mqtt.Message) {
	topic := msg.Topic()
	payload := msg.Payload()

	c.log.Debug("Received message on topic: %s (size: %d bytes)", topic, len(payload))

	pattern, handler := c.lookup(topic)
	if handler == nil {
		c.log.Warn("No handler found for topic: %s", topic)
		return
	}

	assetID, err := AssetIDFromTopic(pattern, topic)
	if err != nil {
		c.log.Warn("Dropping message on %s: %v", topic, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.handlerTimeout)
	defer cancel()

	if err := handler(ctx, assetID, payload); err != nil {
		c.log.Error("Handler error for asset %s on %s: %v", assetID, topic, err)
	}
}

func (c *Client) lookup(topic string) (string, AssetHandler) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for pattern, h := range c.routes {
		if matchTopic(pattern, topic) {
			return pattern, h
		}
	}
	return "", nil
}

func (c *Client) onConnect(client mqtt.Client) {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	c.log.Info("MQTT connection established")

	c.mu.RLock()
	patterns := make([]string, 0, len(c.routes))
	for pattern := range c.routes {
		patterns = append(patterns, pattern)
	}
	c.mu.RUnlock()

	for _, pattern := range patterns {
		c.log.Debug("Re-subscribing to topic: %s", pattern)
		token := client.Subscribe(pattern, c.cfg.QoS, c.onMessage)
		if token.Wait() && token.Error() != nil {
			c.log.Error("Failed to re-subscribe to %s: %v", pattern, token.Error())
		}
	}
}

func (c *Client) onConnectionLost(client mqtt.Client, err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.log.Error("MQTT connection lost: %v", err)
}

func (c *Client) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	c.log.Warn("Attempting to reconnect to MQTT broker...")
}

func matchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	patternParts := splitTopic(pattern)
	topicParts := splitTopic(topic)

	if len(patternParts) > len(topicParts) {
		return false
	}

	for i, part := range patternParts {
		if part == "#" {
			return true
		}
		if part == "+" {
			continue
		}
		if i >= len(topicParts) || part != topicParts[i] {
			return false
		}
	}

	return len(patternParts) == len(topicParts)
}

func splitTopic(topic string) []string {
	parts := []string{}
	for _, p := range strings.Split(topic, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
