// Package telemetry publishes printer and emulator state changes to an MQTT broker.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/arloliu/go-gcodelink/emulator"
	"github.com/arloliu/go-gcodelink/logger"
	"github.com/arloliu/go-gcodelink/printer"
	"github.com/arloliu/go-gcodelink/stream"
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("telemetry: not connected")

// DefaultPublishTimeout bounds how long a publish waits for the broker.
const DefaultPublishTimeout = 5 * time.Second

// ClientConfig holds the broker settings used by NewClient.
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// NewClient connects an auto-reconnecting MQTT client.
func NewClient(cfg ClientConfig, l logger.Logger) (mqtt.Client, error) {
	if l == nil {
		l = logger.GetLogger()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		l.Info("mqtt client connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		l.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotConnected, cfg.Broker, token.Error())
	}

	return client, nil
}

// StateMessage is published on every communication state change.
type StateMessage struct {
	Printer  string            `json:"printer"`
	Previous printer.CommState `json:"previous"`
	State    printer.CommState `json:"state"`
	Time     time.Time         `json:"time"`
}

// PauseMessage is published on every pause transition.
type PauseMessage struct {
	Printer string `json:"printer"`
	stream.PauseEvent
}

// EmulatorMessage is published for emulator machine events.
type EmulatorMessage struct {
	Printer string `json:"printer"`
	emulator.Event
	Time time.Time `json:"time"`
}

// Publisher sends JSON messages below <prefix>/<printer>/.
type Publisher struct {
	client    mqtt.Client
	prefix    string
	printerID string
	qos       byte
	timeout   time.Duration
	logger    logger.Logger
	now       func() time.Time
}

// NewPublisher returns a publisher for printerID below the topic prefix.
func NewPublisher(client mqtt.Client, prefix string, printerID string, l logger.Logger) *Publisher {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Publisher{
		client:    client,
		prefix:    prefix,
		printerID: printerID,
		qos:       1,
		timeout:   DefaultPublishTimeout,
		logger:    l.With("printer", printerID),
		now:       time.Now,
	}
}

// Topic returns the full topic of kind, e.g. "gcodelink/mk3/pause".
func (p *Publisher) Topic(kind string) string {
	return p.prefix + "/" + p.printerID + "/" + kind
}

// PublishState publishes a communication state change.
func (p *Publisher) PublishState(prev printer.CommState, next printer.CommState) error {
	return p.publishJSON(p.Topic("state"), StateMessage{
		Printer:  p.printerID,
		Previous: prev,
		State:    next,
		Time:     p.now(),
	}, true, "state")
}

// PublishPause publishes a pause transition.
func (p *Publisher) PublishPause(evt stream.PauseEvent) error {
	return p.publishJSON(p.Topic("pause"), PauseMessage{Printer: p.printerID, PauseEvent: evt}, true, "pause")
}

// PublishEmulatorEvent publishes a machine event. ReceivedInstruction events are skipped.
func (p *Publisher) PublishEmulatorEvent(evt emulator.Event) error {
	if evt.Kind == emulator.ReceivedInstruction {
		return nil
	}

	return p.publishJSON(p.Topic("emulator"), EmulatorMessage{Printer: p.printerID, Event: evt, Time: p.now()}, false, "emulator")
}

// StateHandler adapts PublishState to printer.CommStateChangeHandler.
//
// Publishing runs in its own goroutine because state handlers are called with the
// state lock held.
func (p *Publisher) StateHandler() printer.CommStateChangeHandler {
	return func(prev printer.CommState, next printer.CommState) {
		go func() {
			p.logError(p.PublishState(prev, next), "state")
		}()
	}
}

// PauseHandler adapts PublishPause to stream.PauseEventHandler.
func (p *Publisher) PauseHandler() stream.PauseEventHandler {
	return func(evt stream.PauseEvent) {
		p.logError(p.PublishPause(evt), "pause")
	}
}

// EmulatorHandler adapts PublishEmulatorEvent to emulator.EventHandler.
func (p *Publisher) EmulatorHandler() emulator.EventHandler {
	return func(evt emulator.Event) {
		p.logError(p.PublishEmulatorEvent(evt), "emulator")
	}
}

func (p *Publisher) logError(err error, kind string) {
	if err != nil {
		p.logger.Warn("telemetry publish failed", "kind", kind, "error", err)
	}
}

func (p *Publisher) publishJSON(topic string, v any, retained bool, kind string) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("telemetry: marshal %s message: %w", kind, err)
	}

	token := p.client.Publish(topic, p.qos, retained, data)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("telemetry: publish %s timed out", kind)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: publish %s: %w", kind, err)
	}

	p.logger.Debug("telemetry published", "topic", topic, "kind", kind)

	return nil
}
