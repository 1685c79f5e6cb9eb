package sink

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"

	"rttydec/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const mqttConnectTimeout = 10 * time.Second

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnectionOpen() bool
}

// LineMessage is the JSON body published for each line.
type LineMessage struct {
	Time    time.Time `json:"ts"`
	Station string    `json:"station"`
	Text    string    `json:"text"`
}

// MQTT publishes completed lines to a broker topic. Publishing never blocks
// the decoder: while the broker is unreachable lines are dropped.
type MQTT struct {
	*LineAssembler
	client  publisher
	closer  func()
	topic   string
	qos     byte
	retain  bool
	station string
}

// ConnectMQTT connects to the configured broker. Paho reconnects on its own
// after the initial connection succeeds.
func ConnectMQTT(cfg config.MQTTConfig, station string) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout).
		SetCleanSession(true)
	if strings.TrimSpace(cfg.Username) != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt: connect %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", cfg.Broker, err)
	}
	m := newMQTT(client, cfg.Topic, byte(cfg.QoS), cfg.Retain, station)
	m.closer = func() { client.Disconnect(250) }
	return m, nil
}

func newMQTT(client publisher, topic string, qos byte, retain bool, station string) *MQTT {
	m := &MQTT{client: client, topic: topic, qos: qos, retain: retain, station: station}
	m.LineAssembler = NewLineAssembler(m.publish)
	return m
}

func (m *MQTT) publish(text string, at time.Time) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if !m.client.IsConnectionOpen() {
		return nil
	}
	payload, err := json.Marshal(LineMessage{Time: at.UTC(), Station: m.station, Text: text})
	if err != nil {
		return fmt.Errorf("mqtt: encode: %w", err)
	}
	m.client.Publish(m.topic, m.qos, m.retain, payload)
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	if m.closer != nil {
		m.closer()
	}
}
