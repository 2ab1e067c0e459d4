package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"easee-invoicing/internal/invoicing/application"
)

// LoggingPublisher logs invoice events.
type LoggingPublisher struct {
	logger *zap.Logger
}

// NewLoggingPublisher constructs a logging publisher.
func NewLoggingPublisher(logger *zap.Logger) *LoggingPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingPublisher{logger: logger}
}

// PublishInvoiceEvent logs the event.
func (p *LoggingPublisher) PublishInvoiceEvent(ctx context.Context, event application.InvoiceEvent) error {
	_ = ctx
	if p == nil {
		return errors.New("invoice publisher: nil publisher")
	}
	p.logger.Info(event.Type,
		zap.String("invoice_id", event.InvoiceID),
		zap.String("charger_id", event.ChargerID),
		zap.String("month", event.Month),
		zap.Int("version", event.Version),
		zap.Float64("total_amount", event.TotalAmount),
		zap.String("currency", event.Currency))
	return nil
}

// MQTTPublisher publishes invoice events as JSON to <prefix>/invoices/<charger_id>.
type MQTTPublisher struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
}

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Timeout     time.Duration
}

// NewMQTTPublisher connects to the broker.
func NewMQTTPublisher(opts MQTTOptions, logger *zap.Logger) (*MQTTPublisher, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqtt publisher: empty broker")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	broker := opts.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	clientOpts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(opts.Timeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			logger.Info("mqtt connected", zap.String("broker", broker))
		})
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(opts.Timeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt publisher: connect to %s timed out", opts.Broker)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt publisher: connect: %w", err)
	}
	return newMQTTPublisher(client, opts.TopicPrefix, opts.Timeout), nil
}

func newMQTTPublisher(client mqtt.Client, prefix string, timeout time.Duration) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: strings.TrimSuffix(prefix, "/"), timeout: timeout}
}

// Topic returns the topic for a charger.
func (p *MQTTPublisher) Topic(chargerID string) string {
	return p.prefix + "/invoices/" + chargerID
}

// PublishInvoiceEvent publishes the event with QoS 1, not retained.
func (p *MQTTPublisher) PublishInvoiceEvent(ctx context.Context, event application.InvoiceEvent) error {
	if p == nil || p.client == nil {
		return errors.New("mqtt publisher: nil client")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.Topic(event.ChargerID), 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return fmt.Errorf("mqtt publisher: publish to %s timed out", p.Topic(event.ChargerID))
	}
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	if p == nil || p.client == nil {
		return
	}
	p.client.Disconnect(250)
}

// MultiPublisher fans an event out to several publishers.
type MultiPublisher struct {
	publishers []application.InvoicePublisher
}

// NewMultiPublisher constructs a MultiPublisher, skipping nil entries.
func NewMultiPublisher(publishers ...application.InvoicePublisher) *MultiPublisher {
	var kept []application.InvoicePublisher
	for _, p := range publishers {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &MultiPublisher{publishers: kept}
}

// PublishInvoiceEvent publishes to every publisher and joins their errors.
func (m *MultiPublisher) PublishInvoiceEvent(ctx context.Context, event application.InvoiceEvent) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.PublishInvoiceEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
