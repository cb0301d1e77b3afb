package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/korb/internal/buildinfo"
	"github.com/nugget/korb/internal/config"
	"github.com/nugget/korb/internal/events"
)

// publishClient is the part of the connection manager the publisher
// writes through.
type publishClient interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Publisher owns the broker connection. It announces the device,
// mirrors bus events and periodically refreshes sensor states.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	bus        *events.Bus
	activity   *Activity
	workflows  WorkflowRunner
	limiter    *commandWindow
	logger     *slog.Logger

	cm *autopaho.ConnectionManager

	mu     sync.Mutex
	client publishClient
}

// New creates a Publisher but does not connect. workflows may be nil, in
// which case no command topic is subscribed.
func New(cfg config.MQTTConfig, instanceID string, bus *events.Bus, workflows WorkflowRunner, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 30
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		bus:        bus,
		activity:   NewActivity(nil),
		workflows:  workflows,
		limiter:    newCommandWindow(limit, time.Minute, logger),
		logger:     logger,
	}
}

// Activity exposes the folded event state.
func (p *Publisher) Activity() *Activity {
	return p.activity
}

// Start connects and runs until ctx is cancelled. Every (re-)connect
// republishes discovery configs, the "online" birth message and the
// command subscription.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	sub := p.bus.Subscribe(events.DefaultBuffer)
	defer p.bus.Unsubscribe(sub)

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.setClient(cm)
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx)
			p.publishAvailability(ctx, "online")
			p.subscribeCommands(ctx, cm)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "korb-" + p.cfg.DeviceName,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					p.onMessage(ctx, pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm
	p.setClient(cm)

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, retrying in background", "error", err)
	}

	p.runLoop(ctx, sub)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, "offline")
	return p.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is up or ctx ends.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	if p.cm == nil {
		return errors.New("mqtt publisher not started")
	}
	return p.cm.AwaitConnection(ctx)
}

func (p *Publisher) baseTopic() string         { return p.cfg.BaseTopic }
func (p *Publisher) availabilityTopic() string { return p.baseTopic() + "/availability" }
func (p *Publisher) eventTopic() string        { return p.baseTopic() + "/event" }
func (p *Publisher) commandTopic() string      { return p.baseTopic() + "/workflow/run" }
func (p *Publisher) resultTopic() string       { return p.baseTopic() + "/workflow/result" }

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

type sensorDef struct {
	entity string
	config SensorConfig
}

func (p *Publisher) sensor(entity, name, icon string) sensorDef {
	return sensorDef{
		entity: entity,
		config: SensorConfig{
			Name:              name,
			ObjectID:          entity,
			HasEntityName:     true,
			UniqueID:          p.instanceID + "_" + entity,
			StateTopic:        p.stateTopic(entity),
			AvailabilityTopic: p.availabilityTopic(),
			Device:            p.device,
			Icon:              icon,
		},
	}
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	status := p.sensor("status", "Status", "mdi:robot")

	generations := p.sensor("generations_today", "Generations Today", "mdi:chat-processing")
	generations.config.StateClass = "total_increasing"

	toolCalls := p.sensor("tool_calls_today", "Tool Calls Today", "mdi:tools")
	toolCalls.config.StateClass = "total_increasing"

	lastRequest := p.sensor("last_request", "Last Request", "mdi:clock-check")
	lastRequest.config.EntityCategory = "diagnostic"

	version := p.sensor("version", "Version", "mdi:tag")
	version.config.EntityCategory = "diagnostic"

	uptime := p.sensor("uptime", "Uptime", "mdi:clock-outline")
	uptime.config.EntityCategory = "diagnostic"

	return []sensorDef{status, generations, toolCalls, lastRequest, version, uptime}
}

func (p *Publisher) setClient(c publishClient) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = c
}

func (p *Publisher) connected() publishClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

func (p *Publisher) publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	client := p.connected()
	if client == nil {
		return errors.New("mqtt publisher not connected")
	}
	_, err := client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	})
	return err
}

func (p *Publisher) publishDiscovery(ctx context.Context) {
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic("sensor", s.entity)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload", "entity", s.entity, "error", err)
			continue
		}
		if err := p.publish(ctx, topic, payload, 1, true); err != nil {
			p.logger.Warn("mqtt discovery publish failed", "entity", s.entity, "topic", topic, "error", err)
			continue
		}
		p.logger.Debug("mqtt discovery published", "entity", s.entity, "topic", topic)
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, status string) {
	if err := p.publish(ctx, p.availabilityTopic(), []byte(status), 1, true); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	p.logger.Info("mqtt availability published", "status", status)
}

func (p *Publisher) subscribeCommands(ctx context.Context, cm *autopaho.ConnectionManager) {
	if !p.cfg.Commands || p.workflows == nil {
		return
	}
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: p.commandTopic(), QoS: 1}},
	}); err != nil {
		p.logger.Warn("mqtt command subscribe failed", "topic", p.commandTopic(), "error", err)
		return
	}
	p.logger.Info("mqtt command topic subscribed", "topic", p.commandTopic())
}

func (p *Publisher) runLoop(ctx context.Context, sub <-chan events.Event) {
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.publishStates(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			p.handleEvent(ctx, e)
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

// handleEvent records e and mirrors it to the event topic. Generation
// boundaries also refresh the sensor states.
func (p *Publisher) handleEvent(ctx context.Context, e events.Event) {
	p.activity.Observe(e)

	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	if err := p.publish(ctx, p.eventTopic(), payload, 0, true); err != nil {
		p.logger.Debug("mqtt event publish failed", "kind", e.Kind, "error", err)
	}

	if e.Kind == events.KindRequestStart || e.Kind == events.KindRequestComplete {
		p.publishStates(ctx)
	}
}

// stateValues renders a snapshot as sensor states keyed by entity.
func stateValues(snap ActivitySnapshot, uptime time.Duration, version string) map[string]string {
	status := "idle"
	if snap.Generating {
		status = "generating"
	}
	lastRequest := "never"
	if !snap.LastRequest.IsZero() {
		lastRequest = snap.LastRequest.Format(time.RFC3339)
	}
	return map[string]string{
		"status":            status,
		"generations_today": strconv.FormatInt(snap.Generations, 10),
		"tool_calls_today":  strconv.FormatInt(snap.ToolCalls, 10),
		"last_request":      lastRequest,
		"version":           version,
		"uptime":            uptime.Truncate(time.Second).String(),
	}
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.connected() == nil {
		return
	}
	states := stateValues(p.activity.Snapshot(), buildinfo.Uptime(), buildinfo.Version)
	for entity, value := range states {
		if err := p.publish(ctx, p.stateTopic(entity), []byte(value), 0, true); err != nil {
			p.logger.Debug("mqtt state publish failed", "entity", entity, "error", err)
		}
	}
	p.logger.Debug("mqtt sensor states published", "entities", len(states))
}

func (p *Publisher) onMessage(ctx context.Context, topic string, payload []byte) {
	if topic != p.commandTopic() {
		p.logger.Debug("mqtt message ignored", "topic", topic, "payload_size", len(payload))
		return
	}
	if !p.limiter.allow() {
		return
	}
	go p.handleCommand(ctx, payload)
}

type commandResult struct {
	Workflow string `json:"workflow"`
	Result   string `json:"result"`
}

// handleCommand runs the requested workflow and publishes its report.
func (p *Publisher) handleCommand(ctx context.Context, payload []byte) {
	name := workflowName(payload)
	if name == "" {
		p.logger.Warn("mqtt workflow command without a name", "payload_size", len(payload))
		return
	}

	p.logger.Info("mqtt workflow command", "workflow", name)
	report := p.workflows.Describe(ctx, name)
	p.bus.Emit(events.SourceWorkflow, events.KindWorkflowRun, map[string]any{
		"workflow": name,
		"via":      "mqtt",
	})

	out, _ := json.Marshal(commandResult{Workflow: name, Result: report})
	if err := p.publish(ctx, p.resultTopic(), out, 1, false); err != nil {
		p.logger.Warn("mqtt workflow result publish failed", "workflow", name, "error", err)
	}
}
