package statestream

import (
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dinodia/dinodia-core/internal/infrastructure/config"
)

// Connection constants.
const (
	// connectTimeout is the maximum time to wait for initial connection.
	connectTimeout = 10 * time.Second

	// subscribeTimeout is the maximum time to wait for subscription
	// acknowledgment.
	subscribeTimeout = 5 * time.Second

	// disconnectQuiesce is the time in milliseconds to wait for pending
	// operations on disconnect.
	disconnectQuiesce = 1000

	// debounceWindow coalesces bursts of statestream messages into one
	// trigger. Automation scenes flip dozens of entities within a few
	// hundred milliseconds.
	debounceWindow = 500 * time.Millisecond

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// TriggerFunc is invoked, after debouncing, when entity states changed.
// EntityIDs lists the entities seen in the coalesced window, in arrival
// order without duplicates.
type TriggerFunc func(entityIDs []string)

// Listener consumes the Home Assistant MQTT statestream.
//
// All methods are safe for concurrent use. The statestream subscription
// is restored automatically on reconnection.
type Listener struct {
	client  pahomqtt.Client
	cfg     config.StatestreamConfig
	trigger TriggerFunc

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// pending accumulates entity ids during the debounce window.
	pending   []string
	pendingIn map[string]bool
	timer     *time.Timer
	pendMu    sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Connect establishes a connection to the MQTT broker and subscribes to
// the statestream topic tree. Trigger fires after each debounced batch of
// state changes.
func Connect(cfg config.StatestreamConfig, trigger TriggerFunc) (*Listener, error) {
	if trigger == nil {
		return nil, fmt.Errorf("%w: trigger cannot be nil", ErrSubscribeFailed)
	}

	l := &Listener{
		cfg:       cfg,
		trigger:   trigger,
		pendingIn: make(map[string]bool),
	}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		l.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		l.handleDisconnect(err)
	})

	l.client = pahomqtt.NewClient(opts)
	token := l.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnectHandler runs asynchronously; set the state here so
	// IsConnected() is true immediately after Connect returns.
	l.connMu.Lock()
	l.connected = true
	l.connMu.Unlock()

	if err := l.subscribe(); err != nil {
		l.client.Disconnect(disconnectQuiesce)
		return nil, err
	}

	return l, nil
}

// handleConnect is called when the connection is established.
func (l *Listener) handleConnect() {
	l.connMu.Lock()
	wasDisconnected := !l.connected
	l.connected = true
	l.connMu.Unlock()

	// Restore the subscription after a reconnect. Subscribing twice to the
	// same filter is harmless, so the race with Connect's initial
	// subscribe does not matter.
	if wasDisconnected {
		if err := l.subscribe(); err != nil {
			if logger := l.getLogger(); logger != nil {
				logger.Error("statestream re-subscribe failed", "error", err)
			}
		}
	}
}

// handleDisconnect is called when the connection is lost.
func (l *Listener) handleDisconnect(err error) {
	l.connMu.Lock()
	l.connected = false
	l.connMu.Unlock()

	if logger := l.getLogger(); logger != nil {
		logger.Warn("statestream connection lost", "error", err)
	}
}

// subscribe registers the handler on <prefix>/+/+/state.
func (l *Listener) subscribe() error {
	topic := l.topicFilter()
	token := l.client.Subscribe(topic, byte(l.cfg.QoS), l.handleMessage) // #nosec G115 -- QoS validated by config
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, subscribeTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

func (l *Listener) topicFilter() string {
	return strings.TrimSuffix(l.cfg.TopicPrefix, "/") + "/+/+/state"
}

// handleMessage parses one statestream message and feeds the debouncer.
// Panics in downstream triggers must not take the paho router down.
func (l *Listener) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			if logger := l.getLogger(); logger != nil {
				logger.Error("statestream handler panic recovered",
					"topic", msg.Topic(), "panic", r)
			}
		}
	}()

	entityID, ok := entityIDFromTopic(l.cfg.TopicPrefix, msg.Topic())
	if !ok {
		return
	}

	l.pendMu.Lock()
	defer l.pendMu.Unlock()

	if !l.pendingIn[entityID] {
		l.pendingIn[entityID] = true
		l.pending = append(l.pending, entityID)
	}
	if l.timer == nil {
		l.timer = time.AfterFunc(debounceWindow, l.flush)
	} else {
		l.timer.Reset(debounceWindow)
	}
}

// flush delivers the coalesced batch to the trigger. It runs on a timer
// goroutine, so a panicking trigger must be recovered here or it takes
// the whole process down.
func (l *Listener) flush() {
	defer func() {
		if r := recover(); r != nil {
			if logger := l.getLogger(); logger != nil {
				logger.Error("statestream trigger panic recovered", "panic", r)
			}
		}
	}()

	l.pendMu.Lock()
	batch := l.pending
	l.pending = nil
	l.pendingIn = make(map[string]bool)
	l.timer = nil
	l.pendMu.Unlock()

	if len(batch) == 0 {
		return
	}
	l.trigger(batch)
}

// entityIDFromTopic turns <prefix>/<domain>/<object_id>/state into
// <domain>.<object_id>. Non-state topics and malformed paths are ignored.
func entityIDFromTopic(prefix, topic string) (string, bool) {
	rest := strings.TrimPrefix(topic, strings.TrimSuffix(prefix, "/")+"/")
	if rest == topic {
		return "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "state" || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[0] + "." + parts[1], true
}

// IsConnected returns the current connection state.
func (l *Listener) IsConnected() bool {
	l.connMu.RLock()
	defer l.connMu.RUnlock()
	return l.connected && l.client.IsConnected()
}

// Close disconnects from the broker and drops any pending debounce batch.
func (l *Listener) Close() error {
	if l.client == nil {
		return nil
	}

	l.pendMu.Lock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.pending = nil
	l.pendingIn = make(map[string]bool)
	l.pendMu.Unlock()

	l.client.Disconnect(disconnectQuiesce)

	l.connMu.Lock()
	l.connected = false
	l.connMu.Unlock()

	return nil
}

// SetLogger sets a logger for connection and handler diagnostics.
// If not set, failures inside handlers are silently ignored.
func (l *Listener) SetLogger(logger Logger) {
	l.loggerMu.Lock()
	l.logger = logger
	l.loggerMu.Unlock()
}

func (l *Listener) getLogger() Logger {
	l.loggerMu.RLock()
	defer l.loggerMu.RUnlock()
	return l.logger
}

// buildClientOptions creates paho MQTT options from statestream config.
func buildClientOptions(cfg config.StatestreamConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(connectTimeout)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}
