// Package mqtt publishes cycle snapshots to an MQTT broker
package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/satstat/satstat/pkg/cell"
	"github.com/satstat/satstat/pkg/logx"
	"github.com/satstat/satstat/pkg/radio"
)

// Config holds MQTT configuration
type Config struct {
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
	Enabled     bool   `json:"enabled"`
}

// DefaultConfig returns default MQTT configuration
func DefaultConfig() *Config {
	return &Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "satstatd",
		TopicPrefix: "satstat",
		QoS:         1,
		Retain:      true,
		Enabled:     false,
	}
}

// publisher is the part of the broker connection the client uses
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	IsConnected() bool
	Disconnect(quiesce uint)
}

type pahoPublisher struct {
	client MQTT.Client
}

func (p pahoPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (p pahoPublisher) IsConnected() bool { return p.client.IsConnected() }

func (p pahoPublisher) Disconnect(quiesce uint) { p.client.Disconnect(quiesce) }

// Client publishes towers and diagnostics. A disabled or disconnected
// client drops messages silently.
type Client struct {
	logger *logx.Logger
	config *Config

	mu          sync.Mutex
	pub         publisher
	connected   bool
	lastPublish time.Time
}

// NewClient creates a new MQTT client
func NewClient(config *Config, logger *logx.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Client{
		logger: logger.With("component", "mqtt"),
		config: config,
	}
}

// Connect establishes connection to MQTT broker
func (c *Client) Connect() error {
	if !c.config.Enabled {
		c.logger.Debug("MQTT client disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	opts.SetOnConnectHandler(func(MQTT.Client) { c.setConnected(true, nil) })
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) { c.setConnected(false, err) })

	client := MQTT.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.mu.Lock()
	c.pub = pahoPublisher{client: client}
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("MQTT client connected", "broker", c.config.Broker, "port", c.config.Port)
	return nil
}

func (c *Client) setConnected(connected bool, err error) {
	c.mu.Lock()
	c.connected = connected
	c.mu.Unlock()
	if err != nil {
		c.logger.Error("MQTT connection lost", "error", err)
	} else if connected {
		c.logger.Info("MQTT connection established")
	}
}

// Disconnect disconnects from MQTT broker
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pub != nil && c.connected {
		c.pub.Disconnect(250)
		c.connected = false
		c.logger.Info("MQTT client disconnected")
	}
	return nil
}

// IsConnected returns whether the MQTT client is connected
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.pub != nil && c.pub.IsConnected()
}

// LastPublish returns the timestamp of the last publish
func (c *Client) LastPublish() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPublish
}

// CellsTopic returns the topic carrying the towers of a family
func (c *Client) CellsTopic(f cell.Family) string {
	return fmt.Sprintf("%s/cells/%s", c.config.TopicPrefix, f)
}

// ServingTopic returns the topic carrying the serving cell
func (c *Client) ServingTopic() string {
	return c.config.TopicPrefix + "/serving"
}

// EventsTopic returns the topic carrying diagnostics
func (c *Client) EventsTopic() string {
	return c.config.TopicPrefix + "/events"
}

type cellsPayload struct {
	Timestamp  time.Time    `json:"timestamp"`
	Generation int          `json:"generation"`
	Cells      []cell.Tower `json:"cells"`
}

// PublishSnapshot publishes every family list and the serving cell
func (c *Client) PublishSnapshot(snap radio.Snapshot) error {
	if !c.ready() {
		return nil
	}

	for _, f := range cell.Families {
		towers := snap.Cells(f)
		if towers == nil {
			towers = []cell.Tower{}
		}
		payload := cellsPayload{Timestamp: snap.Time, Generation: snap.Generation, Cells: towers}
		if err := c.publishJSON(c.CellsTopic(f), payload); err != nil {
			return err
		}
	}
	return c.publishJSON(c.ServingTopic(), snap.Serving)
}

// PublishEvent publishes a diagnostic
func (c *Client) PublishEvent(d radio.Diagnostic) error {
	if !c.ready() {
		return nil
	}
	return c.publishJSON(c.EventsTopic(), d)
}

// OnCycle publishes the snapshot, logging failures
func (c *Client) OnCycle(snap radio.Snapshot) {
	if err := c.PublishSnapshot(snap); err != nil {
		c.logger.Warn("MQTT publish failed", "error", err)
	}
}

// OnDiagnostic publishes the diagnostic, logging failures
func (c *Client) OnDiagnostic(d radio.Diagnostic) {
	if err := c.PublishEvent(d); err != nil {
		c.logger.Warn("MQTT event publish failed", "error", err)
	}
}

func (c *Client) ready() bool {
	if !c.config.Enabled {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.pub != nil
}

// publishJSON publishes JSON payload to MQTT topic
func (c *Client) publishJSON(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	c.mu.Lock()
	pub := c.pub
	c.mu.Unlock()

	if err := pub.Publish(topic, byte(c.config.QoS), c.config.Retain, data); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}

	c.mu.Lock()
	c.lastPublish = time.Now()
	c.mu.Unlock()
	c.logger.Debug("MQTT message published", "topic", topic, "size", len(data))

	return nil
}
