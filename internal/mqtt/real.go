package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// outboxCapacity bounds how many messages are held while disconnected.
// At a 2s cycle interval this covers roughly half an hour offline.
const outboxCapacity = 1000

// RealPublisher publishes to an actual MQTT broker. While the broker is
// unreachable, cycle and system messages are queued in a bounded outbox
// and replayed in order on reconnect.
type RealPublisher struct {
	client  paho.Client
	handler CommandHandler
	log     *logrus.Entry

	mu  sync.Mutex
	box *outbox
}

// NewRealPublisher creates a publisher connected to the given broker.
// If handler is non-nil the publisher subscribes to TopicCommand and
// forwards parsed commands to it.
func NewRealPublisher(broker, clientID string, handler CommandHandler, log *logrus.Logger) (*RealPublisher, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	p := &RealPublisher{
		handler: handler,
		log:     log.WithField("component", "mqtt"),
		box:     newOutbox(outboxCapacity),
	}

	lwt, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "connection lost",
	})

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(TopicSystem, string(lwt), 1, false).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.WithError(err).Warn("connection lost, queueing messages")
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// onConnect resubscribes to the command topic and replays anything
// queued while offline.
func (p *RealPublisher) onConnect(client paho.Client) {
	if p.handler != nil {
		token := client.Subscribe(TopicCommand, 1, p.onCommand)
		if !token.WaitTimeout(5 * time.Second) {
			p.log.Error("subscribe to command topic timed out")
		} else if err := token.Error(); err != nil {
			p.log.WithError(err).Error("subscribe to command topic")
		}
	}

	p.mu.Lock()
	dropped := p.box.droppedCount()
	queued := p.box.drainAll()
	p.mu.Unlock()

	if dropped > 0 {
		p.log.WithField("dropped", dropped).Warn("outbox overflowed while offline")
	}
	for _, msg := range queued {
		token := client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if !token.WaitTimeout(5 * time.Second) {
			p.log.WithField("topic", msg.topic).Error("replay queued message timed out")
		} else if err := token.Error(); err != nil {
			p.log.WithError(err).Error("replay queued message")
		}
	}
	if len(queued) > 0 {
		p.log.WithField("count", len(queued)).Info("replayed queued messages")
	}
}

func (p *RealPublisher) onCommand(_ paho.Client, msg paho.Message) {
	cmd, err := ParseCommand(msg.Payload())
	if err != nil {
		p.log.WithError(err).Warn("ignoring malformed command")
		return
	}
	p.handler(cmd)
}

// PublishCycle sends a cycle record to the broker, queueing it when the
// connection is down.
func (p *RealPublisher) PublishCycle(event CycleEvent) error {
	payload, err := FormatCyclePayload(event)
	if err != nil {
		return fmt.Errorf("format cycle payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.publish(TopicCycles, 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return p.publish(TopicSystem, 1, event.Retained, payload)
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnected() {
		p.mu.Lock()
		p.box.push(queuedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		n := p.box.len()
		p.mu.Unlock()
		p.log.WithFields(logrus.Fields{"topic": topic, "queued": n}).Debug("broker offline, message queued")
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports the broker connection state.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
