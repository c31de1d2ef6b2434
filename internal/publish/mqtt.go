package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/yegors/livemap/internal/airport"
	"github.com/yegors/livemap/internal/weather"
	"github.com/yegors/livemap/pkg/logger"
)

// ErrNotConnected is returned when changes arrive while the broker is unreachable
var ErrNotConnected = errors.New("mqtt client not connected")

const publishTimeout = 5 * time.Second

// Config holds the broker settings
type Config struct {
	Broker      string
	Port        int
	ClientID    string
	TopicPrefix string
}

// CategoryMessage is the retained payload a display controller reads for one airport
type CategoryMessage struct {
	ICAO       string           `json:"icao"`
	LED        int              `json:"led"`
	Category   weather.Category `json:"category"`
	Raw        string           `json:"raw"`
	ObservedAt *time.Time       `json:"observation_time,omitempty"`
}

// client is the part of the paho client the publisher needs
type client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher pushes flight category changes to remote LED and display controllers
type Publisher struct {
	client    client
	cfg       Config
	logger    *logger.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPublisher creates a publisher with an auto-reconnecting paho client
func NewPublisher(cfg Config, log *logger.Logger) *Publisher {
	p := &Publisher{
		cfg:    cfg,
		logger: log.Named("mqtt"),
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		p.logger.Info("MQTT connected",
			logger.String("broker", cfg.Broker),
			logger.Int("port", cfg.Port))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		p.logger.Warn("MQTT connection lost", logger.Error(err))
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect waits for the first broker connection, honoring ctx and Disconnect
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return errors.New("publisher stopped")
	default:
	}

	if p.IsConnected() {
		return nil
	}

	token := p.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return errors.New("publisher stopped")
		default:
		}
	}
}

// HandleChanges publishes one retained message per category change
func (p *Publisher) HandleChanges(_ context.Context, changes []airport.Change) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	var errs []error
	for _, c := range changes {
		if !c.CategoryChanged() || airport.IsPlaceholder(c.ICAO) {
			continue
		}
		if err := p.publish(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Topic returns the retained topic of an airport
func (p *Publisher) Topic(icao string) string {
	prefix := strings.TrimSuffix(p.cfg.TopicPrefix, "/")
	return prefix + "/" + airport.NormalizeICAO(icao)
}

func (p *Publisher) publish(c airport.Change) error {
	msg := CategoryMessage{
		ICAO:     c.ICAO,
		LED:      c.LED,
		Category: c.Category,
		Raw:      c.RawText,
	}
	if !c.ObservedAt.IsZero() {
		t := c.ObservedAt
		msg.ObservedAt = &t
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal category message: %w", err)
	}

	topic := p.Topic(c.ICAO)
	token := p.client.Publish(topic, 1, true, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		p.logger.Error("Failed to publish category",
			logger.String("topic", topic),
			logger.Error(err))
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	p.logger.Debug("Published category",
		logger.String("topic", topic),
		logger.String("category", string(c.Category)))
	return nil
}

// IsConnected reports whether the broker connection is up
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Disconnect stops the publisher. Safe to call more than once.
func (p *Publisher) Disconnect() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.client != nil {
		p.client.Disconnect(250)
	}
	p.setConnected(false)
	p.logger.Info("MQTT disconnected")
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}
