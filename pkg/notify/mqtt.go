// Package notify publishes pairing and commissioning events to an MQTT
// broker so that other services can follow device onboarding.
//
// Events go to <prefix>/devices/<node id>/<kind> as JSON. The notifier's
// availability is published retained on <prefix>/state.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/pairing"
)

// DefaultTopicPrefix is used when Config.TopicPrefix is empty.
const DefaultTopicPrefix = "mash-commissioner"

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Event kinds, also the last topic level.
const (
	KindPairing       = "pairing"
	KindPairingDone   = "paired"
	KindDeleted       = "deleted"
	KindStage         = "stage"
	KindCommissioning = "commissioned"
)

// Event is the JSON payload of a published event.
type Event struct {
	Device string    `json:"device"`
	Kind   string    `json:"kind"`
	State  string    `json:"state,omitempty"`
	Stage  string    `json:"stage,omitempty"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
	Time   time.Time `json:"time"`
}

// Publisher is the part of an MQTT client the notifier uses.
// pahomqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// Config configures a broker connection.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string

	// Next receives every event after it was published. Optional.
	Next pairing.Delegate

	Logger *slog.Logger
}

// Notifier is a pairing.Delegate publishing to MQTT.
type Notifier struct {
	pub    Publisher
	client pahomqtt.Client
	prefix string
	next   pairing.Delegate
	logger *slog.Logger
	now    func() time.Time
}

var _ pairing.Delegate = (*Notifier)(nil)

// Dial connects to the broker and returns a notifier owning the connection.
func Dial(cfg Config) (*Notifier, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	n := newNotifier(nil, cfg)
	if cfg.ClientID == "" {
		cfg.ClientID = "mash-commissioner"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(n.prefix+"/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			n.logger.Info("MQTT connected", "broker", cfg.Broker)
			n.publish(n.prefix+"/state", []byte("online"), true)
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			n.logger.Warn("MQTT connection lost", "error", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect: timeout after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	n.pub = client
	n.client = client
	return n, nil
}

// New creates a notifier on an existing publisher.
func New(pub Publisher, cfg Config) *Notifier {
	return newNotifier(pub, cfg)
}

func newNotifier(pub Publisher, cfg Config) *Notifier {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifier{
		pub:    pub,
		prefix: prefix,
		next:   cfg.Next,
		logger: logger.With("component", "notify"),
		now:    time.Now,
	}
}

// Close publishes the offline state and disconnects a dialed client.
func (n *Notifier) Close() {
	if n.client == nil {
		return
	}
	n.publishSync(n.prefix+"/state", []byte("offline"), true)
	n.client.Disconnect(250)
}

// Topic returns the topic events of kind for a device are published on.
func (n *Notifier) Topic(deviceID fabric.NodeID, kind string) string {
	return n.prefix + "/devices/" + deviceID.String() + "/" + kind
}

func (n *Notifier) OnStatusUpdate(deviceID fabric.NodeID, state pairing.State) {
	n.emit(deviceID, Event{Kind: KindPairing, State: state.String(), OK: state != pairing.StateFailed})
	if n.next != nil {
		n.next.OnStatusUpdate(deviceID, state)
	}
}

func (n *Notifier) OnPairingComplete(deviceID fabric.NodeID, err error) {
	n.emit(deviceID, withErr(Event{Kind: KindPairingDone}, err))
	if n.next != nil {
		n.next.OnPairingComplete(deviceID, err)
	}
}

func (n *Notifier) OnPairingDeleted(deviceID fabric.NodeID, err error) {
	n.emit(deviceID, withErr(Event{Kind: KindDeleted}, err))
	if n.next != nil {
		n.next.OnPairingDeleted(deviceID, err)
	}
}

func (n *Notifier) OnCommissioningStatusUpdate(deviceID fabric.NodeID, stage string, err error) {
	n.emit(deviceID, withErr(Event{Kind: KindStage, Stage: stage}, err))
	if n.next != nil {
		n.next.OnCommissioningStatusUpdate(deviceID, stage, err)
	}
}

func (n *Notifier) OnCommissioningComplete(deviceID fabric.NodeID, err error) {
	n.emit(deviceID, withErr(Event{Kind: KindCommissioning}, err))
	if n.next != nil {
		n.next.OnCommissioningComplete(deviceID, err)
	}
}

func withErr(ev Event, err error) Event {
	ev.OK = err == nil
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

func (n *Notifier) emit(deviceID fabric.NodeID, ev Event) {
	ev.Device = deviceID.String()
	ev.Time = n.now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("encode event", "error", err)
		return
	}
	// Completion events are retained so late subscribers see the outcome.
	retained := ev.Kind == KindCommissioning
	n.publish(n.Topic(deviceID, ev.Kind), payload, retained)
}

func (n *Notifier) publish(topic string, payload []byte, retained bool) {
	token := n.pub.Publish(topic, 1, retained, payload)
	go n.await(topic, token)
}

func (n *Notifier) publishSync(topic string, payload []byte, retained bool) {
	n.await(topic, n.pub.Publish(topic, 1, retained, payload))
}

func (n *Notifier) await(topic string, token pahomqtt.Token) {
	if !token.WaitTimeout(publishTimeout) {
		n.logger.Warn("MQTT publish timeout", "topic", topic)
	} else if err := token.Error(); err != nil {
		n.logger.Warn("MQTT publish error", "topic", topic, "error", err)
	}
}
