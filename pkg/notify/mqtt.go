// Package notify forwards controller events to external sinks.
package notify

import (
	"encoding/json"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 2 * time.Second

// publishClient is the part of mqtt.Client used for publishing.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes events as JSON to "<prefix>/<event name>".
type MQTT struct {
	client publishClient
	prefix string
	closer func()
}

// DialMQTT connects to broker and returns a publisher for topics under prefix.
func DialMQTT(broker, clientID, prefix string) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, pkgerrors.Wrapf(token.Error(), "failed to connect to MQTT broker %s", broker)
	}
	logrus.WithField("broker", broker).Info("connected to MQTT broker")

	m := newMQTT(c, prefix)
	m.closer = func() { c.Disconnect(250) }
	return m, nil
}

func newMQTT(c publishClient, prefix string) *MQTT {
	return &MQTT{
		client: c,
		prefix: strings.TrimSuffix(prefix, "/"),
	}
}

// Topic returns the topic an event is published to.
func (m *MQTT) Topic(name string) string {
	if m.prefix == "" {
		return name
	}
	return m.prefix + "/" + name
}

func (m *MQTT) Publish(name string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).WithField("event", name).Error("failed to marshal event")
		return
	}

	topic := m.Topic(name)
	token := m.client.Publish(topic, 0, false, b)
	if !token.WaitTimeout(publishTimeout) {
		logrus.WithField("topic", topic).Warn("timed out publishing event")
		return
	}
	if token.Error() != nil {
		logrus.WithError(token.Error()).WithField("topic", topic).Error("failed to publish event")
	}
}

func (m *MQTT) Close() {
	if m.closer != nil {
		m.closer()
	}
}
