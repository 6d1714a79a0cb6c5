package position

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/justineMD2002/FSM-sub001/internal/lib/geo"
)

// Technician devices publish fixes to a per-technician topic.
const topicFormat = "/fleet/technician/%s/location"

// DefaultFixTimeout bounds how long a one-shot fix waits for the device to
// publish before surfacing ErrTimeout.
const DefaultFixTimeout = 8 * time.Second

// MQTTFeed multiplexes one broker connection across technicians. Paho
// keeps a single handler per topic filter, so independent Subscribe calls
// for the same topic silently replace each other and an Unsubscribe tears
// the topic down for everyone. The feed therefore owns exactly one broker
// subscription per topic and fans incoming fixes out to every attached
// listener; one-shot fixes and continuous watches coexist without
// disturbing each other.
type MQTTFeed struct {
	client     mqtt.Client
	fixTimeout time.Duration

	// mu also serializes broker subscribe/unsubscribe, so a topic is never
	// unsubscribed while a new listener is attaching to it.
	mu     sync.Mutex
	relays map[string]*topicRelay
}

// NewMQTTFeed wraps a connected client. A fixTimeout of zero falls back
// to DefaultFixTimeout.
func NewMQTTFeed(client mqtt.Client, fixTimeout time.Duration) *MQTTFeed {
	if fixTimeout <= 0 {
		fixTimeout = DefaultFixTimeout
	}
	return &MQTTFeed{
		client:     client,
		fixTimeout: fixTimeout,
		relays:     make(map[string]*topicRelay),
	}
}

// SourceFor returns the position source for one technician's location
// topic. Sources share the feed's broker subscriptions.
func (f *MQTTFeed) SourceFor(technicianID string) *MQTTSource {
	return &MQTTSource{feed: f, technicianID: technicianID}
}

// topicRelay owns the single broker subscription for one topic and fans
// parsed fixes out to its listeners.
type topicRelay struct {
	topic string

	mu        sync.Mutex
	listeners map[*dispatcher]struct{}
}

func (r *topicRelay) handle(_ mqtt.Client, msg mqtt.Message) {
	p, err := parseFix(msg.Payload())
	if err != nil {
		log.Printf("Ignoring invalid position payload: %v", err)
		return
	}

	r.mu.Lock()
	listeners := make([]*dispatcher, 0, len(r.listeners))
	for d := range r.listeners {
		listeners = append(listeners, d)
	}
	r.mu.Unlock()

	// Delivery happens outside the relay lock; each dispatcher enforces
	// its own no-callback-after-cancel guarantee.
	for _, d := range listeners {
		d.update(p)
	}
}

// attach registers a listener for the topic, subscribing at the broker
// only for the first one.
func (f *MQTTFeed) attach(topic string, d *dispatcher) (*topicRelay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if relay, ok := f.relays[topic]; ok {
		relay.mu.Lock()
		relay.listeners[d] = struct{}{}
		relay.mu.Unlock()
		return relay, nil
	}

	relay := &topicRelay{
		topic:     topic,
		listeners: map[*dispatcher]struct{}{d: {}},
	}

	token := f.client.Subscribe(topic, 1, relay.handle)
	if token.Wait() && token.Error() != nil {
		return nil, classifySubscribeError(token.Error())
	}

	f.relays[topic] = relay
	return relay, nil
}

// detach removes a listener, unsubscribing at the broker when the last
// one leaves.
func (f *MQTTFeed) detach(relay *topicRelay, d *dispatcher) {
	f.mu.Lock()
	defer f.mu.Unlock()

	relay.mu.Lock()
	delete(relay.listeners, d)
	empty := len(relay.listeners) == 0
	relay.mu.Unlock()

	if empty {
		delete(f.relays, relay.topic)
		f.client.Unsubscribe(relay.topic)
	}
}

// MQTTSource is the production position source for one technician: the
// mobile client publishes location fixes to the broker and the feed relays
// them here.
type MQTTSource struct {
	feed         *MQTTFeed
	technicianID string
}

type fixMessage struct {
	TechnicianID string  `json:"technician_id"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Timestamp    int64   `json:"timestamp"`
}

func (s *MQTTSource) topic() string {
	return fmt.Sprintf(topicFormat, s.technicianID)
}

// GetOnce waits for the technician's next valid fix. It attaches a
// short-lived listener to the shared topic relay, so an active Watch on
// the same technician keeps receiving updates throughout.
func (s *MQTTSource) GetOnce(ctx context.Context) (geo.Point, error) {
	fixes := make(chan geo.Point, 1)
	d := newDispatcher(func(p geo.Point) {
		select {
		case fixes <- p:
		default:
		}
	}, nil)

	relay, err := s.feed.attach(s.topic(), d)
	if err != nil {
		return geo.Point{}, err
	}
	defer func() {
		s.feed.detach(relay, d)
		d.cancel()
	}()

	timer := time.NewTimer(s.feed.fixTimeout)
	defer timer.Stop()

	select {
	case p := <-fixes:
		return p, nil
	case <-timer.C:
		return geo.Point{}, ErrTimeout
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return geo.Point{}, ErrTimeout
		}
		return geo.Point{}, ctx.Err()
	}
}

// Watch opens a continuous subscription to the technician's location topic.
func (s *MQTTSource) Watch(onUpdate func(geo.Point), onError func(error)) (Subscription, error) {
	d := newDispatcher(onUpdate, onError)

	relay, err := s.feed.attach(s.topic(), d)
	if err != nil {
		return nil, err
	}

	return &mqttSubscription{feed: s.feed, relay: relay, dispatcher: d}, nil
}

type mqttSubscription struct {
	feed       *MQTTFeed
	relay      *topicRelay
	dispatcher *dispatcher
	once       sync.Once
}

func (s *mqttSubscription) Cancel() {
	s.once.Do(func() {
		// Detach first so the relay stops fanning out to us, then close
		// the dispatcher so anything already in flight is dropped.
		s.feed.detach(s.relay, s.dispatcher)
		s.dispatcher.cancel()
	})
}

func parseFix(payload []byte) (geo.Point, error) {
	var raw fixMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return geo.Point{}, fmt.Errorf("unmarshal fix: %w", err)
	}
	if raw.Timestamp <= 0 {
		return geo.Point{}, fmt.Errorf("timestamp: must be positive")
	}
	p, err := geo.NewPoint(raw.Latitude, raw.Longitude)
	if err != nil {
		return geo.Point{}, fmt.Errorf("coordinates: %w", err)
	}
	return p, nil
}

func classifySubscribeError(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "not authorized") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
