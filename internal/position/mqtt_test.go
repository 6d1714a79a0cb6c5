package position

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justineMD2002/FSM-sub001/internal/lib/geo"
)

// fakeMQTTClient mimics the part of paho that matters here: a single
// message handler per topic filter, where a later Subscribe replaces the
// handler and Unsubscribe removes the topic entirely.
type fakeMQTTClient struct {
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	subscribes   map[string]int
	unsubscribes map[string]int
	subscribeErr error
}

func newFakeMQTTClient() *fakeMQTTClient {
	return &fakeMQTTClient{
		handlers:     make(map[string]mqtt.MessageHandler),
		subscribes:   make(map[string]int),
		unsubscribes: make(map[string]int),
	}
}

func (c *fakeMQTTClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return &fakeToken{err: c.subscribeErr}
	}
	c.subscribes[topic]++
	c.handlers[topic] = callback
	return &fakeToken{}
}

func (c *fakeMQTTClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		c.unsubscribes[topic]++
		delete(c.handlers, topic)
	}
	return &fakeToken{}
}

// publish delivers a payload to the topic's handler, as the broker would.
func (c *fakeMQTTClient) publish(topic string, payload []byte) {
	c.mu.Lock()
	h := c.handlers[topic]
	c.mu.Unlock()
	if h != nil {
		h(c, &fakeMessage{topic: topic, payload: payload})
	}
}

func (c *fakeMQTTClient) subscribeCount(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes[topic]
}

func (c *fakeMQTTClient) unsubscribeCount(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribes[topic]
}

func (c *fakeMQTTClient) IsConnected() bool      { return true }
func (c *fakeMQTTClient) IsConnectionOpen() bool { return true }
func (c *fakeMQTTClient) Connect() mqtt.Token    { return &fakeToken{} }
func (c *fakeMQTTClient) Disconnect(uint)        {}
func (c *fakeMQTTClient) Publish(string, byte, bool, interface{}) mqtt.Token {
	return &fakeToken{}
}
func (c *fakeMQTTClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}
func (c *fakeMQTTClient) AddRoute(string, mqtt.MessageHandler) {}
func (c *fakeMQTTClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func fixPayload(lat, lng float64) []byte {
	return []byte(fmt.Sprintf(`{"technician_id":"tech-1","latitude":%f,"longitude":%f,"timestamp":1715003456}`, lat, lng))
}

const tech1Topic = "/fleet/technician/tech-1/location"

func TestMQTTSource_WatchSurvivesOneShotFix(t *testing.T) {
	client := newFakeMQTTClient()
	feed := NewMQTTFeed(client, 30*time.Millisecond)
	src := feed.SourceFor("tech-1")

	var mu sync.Mutex
	var got []geo.Point
	sub, err := src.Watch(func(p geo.Point) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	}, nil)
	require.NoError(t, err)
	defer sub.Cancel()

	client.publish(tech1Topic, fixPayload(33.1, -112.1))

	// A one-shot fix on the same technician, with nothing published, must
	// time out without touching the watch's broker subscription.
	_, err = src.GetOnce(context.Background())
	require.ErrorIs(t, err, ErrTimeout)

	client.publish(tech1Topic, fixPayload(33.2, -112.2))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2, "watch must keep receiving after an unrelated GetOnce")
	assert.InDelta(t, 33.2, got[1].Latitude, 1e-9)
	assert.Equal(t, 0, client.unsubscribeCount(tech1Topic), "the watched topic must stay subscribed")
}

func TestMQTTSource_GetOnceReceivesFix(t *testing.T) {
	client := newFakeMQTTClient()
	feed := NewMQTTFeed(client, time.Second)
	src := feed.SourceFor("tech-1")

	done := make(chan geo.Point, 1)
	go func() {
		p, err := src.GetOnce(context.Background())
		if err == nil {
			done <- p
		}
	}()

	require.Eventually(t, func() bool {
		return client.subscribeCount(tech1Topic) == 1
	}, time.Second, 5*time.Millisecond)
	client.publish(tech1Topic, fixPayload(33.4, -112.0))

	select {
	case p := <-done:
		assert.InDelta(t, 33.4, p.Latitude, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("GetOnce never returned")
	}

	// The one-shot listener was the only one; its departure drops the
	// broker subscription.
	require.Eventually(t, func() bool {
		return client.unsubscribeCount(tech1Topic) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMQTTSource_GetOnceTimeout(t *testing.T) {
	client := newFakeMQTTClient()
	feed := NewMQTTFeed(client, 20*time.Millisecond)

	_, err := feed.SourceFor("tech-1").GetOnce(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestMQTTFeed_SingleBrokerSubscriptionPerTopic(t *testing.T) {
	client := newFakeMQTTClient()
	feed := NewMQTTFeed(client, time.Second)
	src := feed.SourceFor("tech-1")

	var mu sync.Mutex
	counts := make(map[int]int)
	watch := func(id int) Subscription {
		sub, err := src.Watch(func(geo.Point) {
			mu.Lock()
			counts[id]++
			mu.Unlock()
		}, nil)
		require.NoError(t, err)
		return sub
	}

	first := watch(1)
	second := watch(2)
	assert.Equal(t, 1, client.subscribeCount(tech1Topic), "one broker subscription serves every listener")

	client.publish(tech1Topic, fixPayload(33.0, -112.0))

	mu.Lock()
	assert.Equal(t, 1, counts[1])
	assert.Equal(t, 1, counts[2])
	mu.Unlock()

	first.Cancel()
	assert.Equal(t, 0, client.unsubscribeCount(tech1Topic), "topic stays subscribed while a listener remains")

	second.Cancel()
	assert.Equal(t, 1, client.unsubscribeCount(tech1Topic))

	// Cancel is idempotent at the broker too
	second.Cancel()
	assert.Equal(t, 1, client.unsubscribeCount(tech1Topic))
}

func TestMQTTSource_NoCallbackAfterCancel(t *testing.T) {
	client := newFakeMQTTClient()
	feed := NewMQTTFeed(client, time.Second)

	var mu sync.Mutex
	count := 0
	sub, err := feed.SourceFor("tech-1").Watch(func(geo.Point) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)
	require.NoError(t, err)

	client.publish(tech1Topic, fixPayload(33.0, -112.0))
	sub.Cancel()
	client.publish(tech1Topic, fixPayload(34.0, -112.0))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestMQTTSource_InvalidPayloadsIgnored(t *testing.T) {
	client := newFakeMQTTClient()
	feed := NewMQTTFeed(client, time.Second)

	var mu sync.Mutex
	var got []geo.Point
	sub, err := feed.SourceFor("tech-1").Watch(func(p geo.Point) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	}, nil)
	require.NoError(t, err)
	defer sub.Cancel()

	client.publish(tech1Topic, []byte(`not json`))
	client.publish(tech1Topic, []byte(`{"latitude":120,"longitude":0,"timestamp":1}`))
	client.publish(tech1Topic, fixPayload(33.4, -112.0))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.InDelta(t, 33.4, got[0].Latitude, 1e-9)
}

func TestMQTTSource_SubscribeErrorClassified(t *testing.T) {
	client := newFakeMQTTClient()
	client.subscribeErr = assertErr("connection lost: not authorized")
	feed := NewMQTTFeed(client, time.Second)
	src := feed.SourceFor("tech-1")

	_, err := src.Watch(func(geo.Point) {}, nil)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = src.GetOnce(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
}
