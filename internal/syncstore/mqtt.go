package syncstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Jakob98-code/distance-tracker/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MQTTOptions configures the MQTT store
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// MQTTStore maps every path to a retained topic. The broker keeps exactly one
// retained message per topic, which gives last-write-wins per child for free.
type MQTTStore struct {
	client mqtt.Client
	qos    byte
	conn   *connectivity

	mu      sync.Mutex
	watches map[*mqttWatch]struct{}
}

type mqttWatch struct {
	path   string
	box    *mailbox[Snapshot]
	mu     sync.Mutex
	values Snapshot
}

// NewMQTTStore connects to the broker and returns the store
func NewMQTTStore(opts MQTTOptions) (*MQTTStore, error) {
	s := &MQTTStore{
		qos:     opts.QoS,
		conn:    newConnectivity(),
		watches: make(map[*mqttWatch]struct{}),
	}

	clientID := opts.ClientID
	if clientID == "" {
		clientID = "distance-" + uuid.New().String()
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(clientID)
	co.SetUsername(opts.Username)
	co.SetPassword(opts.Password)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(2 * time.Second)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.SetOnConnectHandler(func(c mqtt.Client) {
		s.conn.set(models.Connected)
		log.Info().Str("broker", opts.Broker).Str("client_id", clientID).Msg("MQTT connection established")
		s.resubscribe()
	})
	co.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		s.conn.set(models.Disconnected)
		log.Warn().Err(err).Str("broker", opts.Broker).Msg("MQTT connection lost, will auto-reconnect")
	})

	s.client = mqtt.NewClient(co)

	token := s.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return s, nil
}

// Set publishes value as the retained message of path
func (s *MQTTStore) Set(ctx context.Context, path string, value []byte) error {
	if _, _, err := SplitPath(path); err != nil {
		return err
	}
	token := s.client.Publish(path, s.qos, true, value)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

// Watch subscribes to path/+ and delivers the accumulated children
func (s *MQTTStore) Watch(path string, fn func(Snapshot)) (Subscription, error) {
	w := &mqttWatch{
		path:   path,
		box:    newMailbox(fn),
		values: make(Snapshot),
	}

	s.mu.Lock()
	s.watches[w] = struct{}{}
	s.mu.Unlock()

	if err := s.subscribe(w); err != nil {
		s.mu.Lock()
		delete(s.watches, w)
		s.mu.Unlock()
		w.box.close()
		return nil, err
	}
	w.box.offer(w.snapshot())

	var once sync.Once
	return subscriptionFunc(func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watches, w)
			s.mu.Unlock()
			s.client.Unsubscribe(w.topic())
			w.box.close()
		})
	}), nil
}

func (s *MQTTStore) subscribe(w *mqttWatch) error {
	token := s.client.Subscribe(w.topic(), s.qos, func(c mqtt.Client, msg mqtt.Message) {
		w.apply(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt subscribe timeout for %s", w.path)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", w.path, err)
	}
	return nil
}

// resubscribe restores watches after a reconnect with a clean session
func (s *MQTTStore) resubscribe() {
	s.mu.Lock()
	watches := make([]*mqttWatch, 0, len(s.watches))
	for w := range s.watches {
		watches = append(watches, w)
	}
	s.mu.Unlock()

	for _, w := range watches {
		go func(w *mqttWatch) {
			if err := s.subscribe(w); err != nil {
				log.Error().Err(err).Str("path", w.path).Msg("Failed to restore MQTT subscription")
			}
		}(w)
	}
}

func (w *mqttWatch) topic() string {
	return w.path + "/+"
}

// apply records a retained or live message; an empty payload clears the child
func (w *mqttWatch) apply(topic string, payload []byte) {
	key := strings.TrimPrefix(topic, w.path+"/")
	if key == topic || key == "" {
		return
	}

	w.mu.Lock()
	if len(payload) == 0 {
		delete(w.values, key)
	} else {
		w.values[key] = append([]byte(nil), payload...)
	}
	snap := w.values.clone()
	w.mu.Unlock()

	w.box.offer(snap)
}

func (w *mqttWatch) snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.values.clone()
}

// WatchConnectivity reports the client's connect / connection-lost events
func (s *MQTTStore) WatchConnectivity(fn func(models.Connectivity)) Subscription {
	return s.conn.watch(fn)
}

// Close disconnects from the broker
func (s *MQTTStore) Close() error {
	s.client.Disconnect(250)
	s.conn.set(models.Disconnected)
	s.conn.closeAll()
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
