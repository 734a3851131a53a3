package notify_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/notify"
	"github.com/mash-protocol/mash-commissioner/pkg/pairing"
)

type doneToken struct{ err error }

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                 { return t.err }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeBroker struct {
	mu       sync.Mutex
	messages []message
	err      error
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, message{topic, qos, retained, payload.([]byte)})
	return doneToken{b.err}
}

func (b *fakeBroker) published() []message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]message(nil), b.messages...)
}

type forwarded struct {
	pairing.BaseDelegate
	stages []string
	done   []error
}

func (f *forwarded) OnCommissioningStatusUpdate(_ fabric.NodeID, stage string, _ error) {
	f.stages = append(f.stages, stage)
}

func (f *forwarded) OnCommissioningComplete(_ fabric.NodeID, err error) {
	f.done = append(f.done, err)
}

func decode(t *testing.T, m message) notify.Event {
	t.Helper()
	var ev notify.Event
	require.NoError(t, json.Unmarshal(m.payload, &ev))
	return ev
}

func TestNotifierPublishesEvents(t *testing.T) {
	broker := &fakeBroker{}
	n := notify.New(broker, notify.Config{TopicPrefix: "site"})
	device := fabric.NodeID(0x2A)

	n.OnStatusUpdate(device, pairing.StateEstablished)
	n.OnPairingComplete(device, nil)
	n.OnCommissioningStatusUpdate(device, "ISSUE_NOC", nil)
	n.OnCommissioningComplete(device, errors.New("device rejected NOC"))

	msgs := broker.published()
	require.Len(t, msgs, 4)

	assert.Equal(t, "site/devices/000000000000002A/pairing", msgs[0].topic)
	ev := decode(t, msgs[0])
	assert.Equal(t, "ESTABLISHED", ev.State)
	assert.True(t, ev.OK)
	assert.Equal(t, device.String(), ev.Device)

	assert.Equal(t, n.Topic(device, notify.KindPairingDone), msgs[1].topic)
	assert.True(t, decode(t, msgs[1]).OK)

	ev = decode(t, msgs[2])
	assert.Equal(t, notify.KindStage, ev.Kind)
	assert.Equal(t, "ISSUE_NOC", ev.Stage)

	ev = decode(t, msgs[3])
	assert.False(t, ev.OK)
	assert.Equal(t, "device rejected NOC", ev.Error)
	assert.True(t, msgs[3].retained)

	for _, m := range msgs {
		assert.Equal(t, byte(1), m.qos)
	}
	for _, m := range msgs[:3] {
		assert.False(t, m.retained, m.topic)
	}
}

func TestNotifierFailedStateIsNotOK(t *testing.T) {
	broker := &fakeBroker{}
	n := notify.New(broker, notify.Config{})

	n.OnStatusUpdate(fabric.NodeID(1), pairing.StateFailed)
	n.OnPairingDeleted(fabric.NodeID(1), nil)

	msgs := broker.published()
	require.Len(t, msgs, 2)
	assert.Equal(t, notify.DefaultTopicPrefix+"/devices/0000000000000001/pairing", msgs[0].topic)
	assert.False(t, decode(t, msgs[0]).OK)
	assert.Equal(t, notify.KindDeleted, decode(t, msgs[1]).Kind)
}

func TestNotifierForwardsToNext(t *testing.T) {
	next := &forwarded{}
	broker := &fakeBroker{err: errors.New("not connected")}
	n := notify.New(broker, notify.Config{Next: next})

	n.OnCommissioningStatusUpdate(fabric.NodeID(7), "ARM_FAILSAFE", nil)
	n.OnCommissioningComplete(fabric.NodeID(7), nil)

	assert.Equal(t, []string{"ARM_FAILSAFE"}, next.stages)
	assert.Equal(t, []error{nil}, next.done)
	assert.Len(t, broker.published(), 2)
}

func TestDialRequiresBroker(t *testing.T) {
	_, err := notify.Dial(notify.Config{})
	assert.Error(t, err)
}

func TestCloseWithoutClientIsNoop(t *testing.T) {
	broker := &fakeBroker{}
	n := notify.New(broker, notify.Config{})
	n.Close()
	assert.Empty(t, broker.published())
}
