package mqtt

import (
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

// stuckToken never completes, as when the broker stalls mid-handshake.
type stuckToken struct{}

func (stuckToken) Wait() bool                     { return false }
func (stuckToken) WaitTimeout(time.Duration) bool { return false }
func (stuckToken) Done() <-chan struct{}          { return make(chan struct{}) }
func (stuckToken) Error() error                   { return nil }

// stalledClient hands out stuck tokens for every operation.
type stalledClient struct {
	subscribes []string
	publishes  []string
}

func (c *stalledClient) IsConnected() bool      { return true }
func (c *stalledClient) IsConnectionOpen() bool { return true }
func (c *stalledClient) Connect() paho.Token    { return stuckToken{} }
func (c *stalledClient) Disconnect(uint)        {}

func (c *stalledClient) Publish(topic string, _ byte, _ bool, _ interface{}) paho.Token {
	c.publishes = append(c.publishes, topic)
	return stuckToken{}
}

func (c *stalledClient) Subscribe(topic string, _ byte, _ paho.MessageHandler) paho.Token {
	c.subscribes = append(c.subscribes, topic)
	return stuckToken{}
}

func (c *stalledClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return stuckToken{}
}

func (c *stalledClient) Unsubscribe(...string) paho.Token { return stuckToken{} }

func (c *stalledClient) AddRoute(string, paho.MessageHandler) {}

func (c *stalledClient) OptionsReader() paho.ClientOptionsReader {
	return paho.ClientOptionsReader{}
}

// A subscribe or replay whose token never completes must leave a log
// trail, not vanish silently.
func TestOnConnectLogsStalledTokens(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	client := &stalledClient{}
	p := &RealPublisher{
		client:  client,
		handler: func(Command) {},
		log:     logger.WithField("component", "mqtt"),
		box:     newOutbox(10),
	}
	p.box.push(queuedMsg{topic: TopicCycles, payload: []byte(`{}`)})

	p.onConnect(client)

	if len(client.subscribes) != 1 || client.subscribes[0] != TopicCommand {
		t.Fatalf("subscribes = %v, want [%s]", client.subscribes, TopicCommand)
	}
	if len(client.publishes) != 1 || client.publishes[0] != TopicCycles {
		t.Fatalf("publishes = %v, want [%s]", client.publishes, TopicCycles)
	}

	var messages []string
	for _, e := range hook.AllEntries() {
		messages = append(messages, e.Message)
	}
	for _, want := range []string{
		"subscribe to command topic timed out",
		"replay queued message timed out",
	} {
		found := false
		for _, m := range messages {
			if m == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing %q log entry; got %v", want, messages)
		}
	}
}
