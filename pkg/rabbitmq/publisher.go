package rabbitmq

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// IPublisher is the outbound side used by services.
type IPublisher interface {
	Publish(topic string, payload []byte) error
	Close()
}

// Publisher publishes on a shared MQTT client. The topic is chosen per
// message: status notifications carry the node id in the topic suffix.
type Publisher struct {
	client mqtt.Client
}

func NewPublisher(client mqtt.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, qosFor(topic), false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	return nil
}

// Close disconnects the underlying client.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
