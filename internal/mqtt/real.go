package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sweeney/engine-sync/internal/monitor"
)

// bufferCapacity is the number of messages held while disconnected.
const bufferCapacity = 256

// client is the subset of paho.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the broker is unreachable are buffered and replayed on reconnect.
type RealPublisher struct {
	client client
	now    func() time.Time

	mu            sync.Mutex
	connected     bool
	connectedOnce bool
	buf           *outbox
}

// ClientID returns a unique client id so several daemons can share a broker.
func ClientID() string {
	return "engine-sync-" + uuid.NewString()[:8]
}

// NewRealPublisher creates a publisher for the given broker. Connection
// happens in the background and is retried until it succeeds.
func NewRealPublisher(broker string) *RealPublisher {
	p := newPublisher(nil)

	will, _ := FormatSystemPayload(WillEvent(time.Now()))
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(ClientID()).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { p.onConnectionLost(err) })

	c := paho.NewClient(opts)
	p.client = c
	c.Connect()
	return p
}

func newPublisher(c client) *RealPublisher {
	return &RealPublisher{
		client: c,
		now:    time.Now,
		buf:    newOutbox(bufferCapacity),
	}
}

func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	p.connected = true
	reconnect := p.connectedOnce
	p.connectedOnce = true
	pending := p.buf.flush()
	p.mu.Unlock()

	if !reconnect {
		log.Printf("mqtt: connected")
		return
	}
	log.Printf("mqtt: reconnected, replaying %d buffered messages", len(pending))
	if payload, err := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"}); err == nil {
		p.client.Publish(TopicSystem, 1, false, payload)
	}
	// handler goroutine: do not wait on tokens here
	for _, m := range pending {
		p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	}
}

func (p *RealPublisher) onConnectionLost(err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	log.Printf("mqtt: connection lost: %v", err)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	buffered, _ := p.Backlog()
	return buffered
}

// Backlog implements ConnectionStatus.
func (p *RealPublisher) Backlog() (buffered, dropped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.stats()
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	msg := queuedMsg{topic: topic, payload: payload, qos: qos, retained: retained}
	p.mu.Lock()
	if !p.connected {
		p.buf.add(msg)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.requeue(msg)
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.requeue(msg)
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (p *RealPublisher) requeue(msg queuedMsg) {
	p.mu.Lock()
	p.buf.add(msg)
	p.mu.Unlock()
}

// Publish sends a sync event to the MQTT broker.
func (p *RealPublisher) Publish(event monitor.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(Topic, 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) so shutdown reaches the broker
	if err := p.publish(TopicSystem, 1, event.Retained, payload); err != nil {
		return fmt.Errorf("system %s: %w", event.Event, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
