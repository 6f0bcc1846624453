package statestream

import (
	"sync"
	"testing"
	"time"

	"github.com/dinodia/dinodia-core/internal/infrastructure/config"
)

// fakeMessage implements pahomqtt.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func newTestListener(trigger TriggerFunc) *Listener {
	return &Listener{
		cfg: config.StatestreamConfig{
			TopicPrefix: "homeassistant/statestream",
		},
		trigger:   trigger,
		pendingIn: make(map[string]bool),
	}
}

func TestEntityIDFromTopic(t *testing.T) {
	tests := []struct {
		name   string
		topic  string
		wantID string
		wantOK bool
	}{
		{"state topic", "homeassistant/statestream/light/kitchen/state", "light.kitchen", true},
		{"attribute topic ignored", "homeassistant/statestream/light/kitchen/brightness", "", false},
		{"wrong prefix", "zigbee2mqtt/light/kitchen/state", "", false},
		{"too deep", "homeassistant/statestream/light/kitchen/extra/state", "", false},
		{"missing object id", "homeassistant/statestream/light//state", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := entityIDFromTopic("homeassistant/statestream", tt.topic)
			if ok != tt.wantOK || got != tt.wantID {
				t.Errorf("entityIDFromTopic(%q) = (%q, %v), want (%q, %v)",
					tt.topic, got, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestTopicFilter(t *testing.T) {
	l := newTestListener(func([]string) {})
	if got := l.topicFilter(); got != "homeassistant/statestream/+/+/state" {
		t.Errorf("topicFilter() = %q", got)
	}

	l.cfg.TopicPrefix = "homeassistant/statestream/"
	if got := l.topicFilter(); got != "homeassistant/statestream/+/+/state" {
		t.Errorf("topicFilter() with trailing slash = %q", got)
	}
}

func TestHandleMessageDebouncesBursts(t *testing.T) {
	var mu sync.Mutex
	var batches [][]string
	l := newTestListener(func(ids []string) {
		mu.Lock()
		batches = append(batches, ids)
		mu.Unlock()
	})

	// A scene flips three entities, one of them twice, within the window.
	topics := []string{
		"homeassistant/statestream/light/kitchen/state",
		"homeassistant/statestream/light/hall/state",
		"homeassistant/statestream/light/kitchen/state",
		"homeassistant/statestream/cover/bedroom/state",
	}
	for _, topic := range topics {
		l.handleMessage(nil, &fakeMessage{topic: topic, payload: []byte("on")})
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(batches)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for debounced trigger")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 1 {
		t.Fatalf("trigger fired %d times, want 1 coalesced batch", len(batches))
	}
	want := []string{"light.kitchen", "light.hall", "cover.bedroom"}
	if len(batches[0]) != len(want) {
		t.Fatalf("batch = %v, want %v", batches[0], want)
	}
	for i, id := range want {
		if batches[0][i] != id {
			t.Errorf("batch[%d] = %q, want %q", i, batches[0][i], id)
		}
	}
}

func TestHandleMessageIgnoresAttributeTopics(t *testing.T) {
	fired := make(chan struct{}, 1)
	l := newTestListener(func([]string) { fired <- struct{}{} })

	l.handleMessage(nil, &fakeMessage{
		topic:   "homeassistant/statestream/light/kitchen/brightness",
		payload: []byte("128"),
	})

	select {
	case <-fired:
		t.Error("trigger fired for a non-state topic")
	case <-time.After(debounceWindow + 200*time.Millisecond):
	}
}

func TestTriggerPanicRecovered(t *testing.T) {
	// A panicking trigger runs on the debounce timer goroutine; the flush
	// must recover it instead of crashing the process.
	done := make(chan struct{})
	l := newTestListener(func([]string) {
		defer close(done)
		panic("downstream blew up")
	})

	l.handleMessage(nil, &fakeMessage{
		topic:   "homeassistant/statestream/light/kitchen/state",
		payload: []byte("on"),
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trigger")
	}
	// Give the deferred recover a moment to run; reaching here without a
	// crash is the assertion.
	time.Sleep(20 * time.Millisecond)
}
