// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package notice

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/qualitylog/pkg/logger"
)

const publishTimeout = 10 * time.Second

// Publisher is the part of mqtt.Client used to send notices.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes every notice as JSON on one topic.
type MQTTSink struct {
	client Publisher
	topic  string
	log    *zap.SugaredLogger
}

func NewMQTTSink(client Publisher, topic string) *MQTTSink {
	return &MQTTSink{client: client, topic: topic, log: logger.For(logger.ComponentNotice)}
}

// ConnectMQTT connects to brokerURL with auto reconnect enabled.
func ConnectMQTT(brokerURL, clientID string) (mqtt.Client, error) {
	log := logger.For(logger.ComponentNotice)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Infow("Connected to MQTT broker", "broker", brokerURL)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnw("Connection to MQTT broker lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to %s: %w", brokerURL, token.Error())
	}

	return client, nil
}

func (m *MQTTSink) Notify(n Notice) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}

	token := m.client.Publish(m.topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("timed out publishing notice")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish notice: %w", err)
	}
	m.log.Debugw("Published notice", "topic", m.topic, "title", n.Title)

	return nil
}
