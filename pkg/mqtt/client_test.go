package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/satstat/satstat/pkg/cell"
	"github.com/satstat/satstat/pkg/logx"
	"github.com/satstat/satstat/pkg/radio"
)

// mockPublisher records published messages
type mockPublisher struct {
	mu         sync.Mutex
	connected  bool
	published  []publishedMessage
	shouldFail bool
}

type publishedMessage struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{connected: true}
}

func (m *mockPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFail {
		return errors.New("broker unavailable")
	}
	m.published = append(m.published, publishedMessage{topic, qos, retained, payload})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) Disconnect(uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *mockPublisher) messages() map[string]publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]publishedMessage, len(m.published))
	for _, msg := range m.published {
		out[msg.Topic] = msg
	}
	return out
}

func newTestClient(enabled bool) (*Client, *mockPublisher) {
	config := DefaultConfig()
	config.Enabled = enabled
	config.TopicPrefix = "test"
	client := NewClient(config, logx.Nop())
	pub := newMockPublisher()
	client.pub = pub
	client.connected = true
	return client, pub
}

func testSnapshot() radio.Snapshot {
	serving := cell.NewLTE(262, 1, 100, 5000, 10)
	serving.AddSource(cell.SourceCellLocation)
	serving.SetDbm(-97)
	serving.SetGeneration(4)
	return radio.Snapshot{
		Time:       time.Now(),
		LTE:        []cell.Tower{*serving},
		Serving:    serving,
		Generation: 4,
	}
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(nil, nil)
	if client.config.TopicPrefix != "satstat" || client.config.Enabled {
		t.Errorf("unexpected default config %+v", client.config)
	}
	if err := client.Connect(); err != nil {
		t.Errorf("disabled client should not connect: %v", err)
	}
	if client.IsConnected() {
		t.Error("disabled client must not report connected")
	}
}

func TestPublishSnapshot(t *testing.T) {
	client, pub := newTestClient(true)

	if err := client.PublishSnapshot(testSnapshot()); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	msgs := pub.messages()
	for _, topic := range []string{"test/cells/gsm", "test/cells/cdma", "test/cells/lte", "test/serving"} {
		if _, ok := msgs[topic]; !ok {
			t.Errorf("missing topic %s", topic)
		}
	}

	var lte struct {
		Generation int                      `json:"generation"`
		Cells      []map[string]interface{} `json:"cells"`
	}
	if err := json.Unmarshal(msgs["test/cells/lte"].Payload, &lte); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if lte.Generation != 4 || len(lte.Cells) != 1 || lte.Cells[0]["text"] != "lte:262-1-100-5000" {
		t.Errorf("unexpected LTE payload %s", msgs["test/cells/lte"].Payload)
	}
	if !strings.Contains(string(msgs["test/cells/gsm"].Payload), `"cells":[]`) {
		t.Errorf("empty family should publish an empty list: %s", msgs["test/cells/gsm"].Payload)
	}
	if msgs["test/serving"].QoS != 1 || !msgs["test/serving"].Retained {
		t.Error("expected QoS 1 retained messages")
	}
}

func TestPublishServingNull(t *testing.T) {
	client, pub := newTestClient(true)
	if err := client.PublishSnapshot(radio.Snapshot{Time: time.Now()}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if got := string(pub.messages()["test/serving"].Payload); got != "null" {
		t.Errorf("serving payload = %q; want null", got)
	}
}

func TestPublishSkippedWhenDisabledOrDisconnected(t *testing.T) {
	tests := []struct {
		name      string
		enabled   bool
		connected bool
	}{
		{"disabled", false, true},
		{"disconnected", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, pub := newTestClient(tt.enabled)
			client.connected = tt.connected

			client.OnCycle(testSnapshot())
			client.OnDiagnostic(radio.Diagnostic{Kind: radio.KindError})
			if len(pub.messages()) != 0 {
				t.Errorf("expected no messages, got %d", len(pub.messages()))
			}
		})
	}
}

func TestPublishError(t *testing.T) {
	client, pub := newTestClient(true)
	pub.shouldFail = true

	err := client.PublishSnapshot(testSnapshot())
	if err == nil || !strings.Contains(err.Error(), "test/cells/gsm") {
		t.Errorf("expected topic in error, got %v", err)
	}
	if !client.LastPublish().IsZero() {
		t.Error("failed publish must not update LastPublish")
	}
}

func TestOnDiagnosticPublishesEvent(t *testing.T) {
	client, pub := newTestClient(true)
	client.OnDiagnostic(radio.Diagnostic{Source: radio.SourceCellInfo, Kind: radio.KindPermissionDenied, Message: "denied"})

	msg, ok := pub.messages()["test/events"]
	if !ok {
		t.Fatal("event not published")
	}
	if !strings.Contains(string(msg.Payload), `"kind":"permission_denied"`) {
		t.Errorf("unexpected event payload %s", msg.Payload)
	}
	if client.LastPublish().IsZero() {
		t.Error("LastPublish not updated")
	}
}

func TestDisconnect(t *testing.T) {
	client, pub := newTestClient(true)
	if !client.IsConnected() {
		t.Fatal("expected connected client")
	}
	if err := client.Disconnect(); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if client.IsConnected() || pub.IsConnected() {
		t.Error("client still connected after Disconnect")
	}
}
