package rabbitmq

import (
	"context"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// IConsumer is the subscription side used by services; the handler is
// injected after construction so services can wire themselves first.
type IConsumer interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler func(topic string, message mqtt.Message) error)
}

// Consumer subscribes to one topic filter on a shared MQTT client.
type Consumer struct {
	client  mqtt.Client
	topic   string
	handler func(topic string, message mqtt.Message) error
}

func NewConsumer(client mqtt.Client, topic string, handler func(topic string, message mqtt.Message) error) *Consumer {
	return &Consumer{client: client, topic: topic, handler: handler}
}

func (c *Consumer) SetHandler(handler func(topic string, message mqtt.Message) error) {
	c.handler = handler
}

// qosFor: readings ride QoS 1 (the broker may redeliver; consumers dedup),
// derived notifications ride QoS 0.
func qosFor(topic string) byte {
	if strings.HasPrefix(strings.TrimSpace(topic), "sensor/reading") {
		return 1
	}
	return 0
}

// ConsumeMessage subscribes and dispatches until ctx is cancelled.
func (c *Consumer) ConsumeMessage(ctx context.Context) {
	token := c.client.Subscribe(
		c.topic,
		qosFor(c.topic),
		func(_ mqtt.Client, message mqtt.Message) {
			if c.handler == nil {
				log.Printf("rabbitmq: no handler set for topic %s", c.topic)
				return
			}
			if err := c.handler(message.Topic(), message); err != nil {
				log.Printf("rabbitmq: handler error on %s: %v", message.Topic(), err)
			}
		},
	)
	if token.Wait() && token.Error() != nil {
		log.Printf("rabbitmq: subscribe error on %s: %v", c.topic, token.Error())
		return
	}
	log.Printf("rabbitmq: subscribed to %s", c.topic)

	<-ctx.Done()

	unsub := c.client.Unsubscribe(c.topic)
	unsub.Wait()
}
