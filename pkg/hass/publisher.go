package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"
	"github.com/mygasbridge/mygasbridge/pkg/common"
	"github.com/mygasbridge/mygasbridge/pkg/log"
	"github.com/mygasbridge/mygasbridge/pkg/registry"
	"github.com/mygasbridge/mygasbridge/pkg/types"
)

const (
	publishTimeout = 5 * time.Second
	commandTimeout = time.Minute
)

// Coordinator is the part of the coordinator the publisher needs.
type Coordinator interface {
	Snapshot() *types.Snapshot
	SendReadings(ctx context.Context, deviceID string, value float64) ([]map[string]any, error)
	GetBill(ctx context.Context, deviceID string, date time.Time, email string) (map[string]any, error)
}

// Devices lists the registered counter devices.
type Devices interface {
	Devices() []registry.Entry
}

type broker interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Publisher exposes the MyGas data to Home Assistant over MQTT discovery and
// accepts meter readings and bill requests on command topics.
type Publisher struct {
	conn   mqtt.Client
	client broker

	coordinator    Coordinator
	devices        Devices
	requestRefresh func()

	topicPrefix     string
	discoveryPrefix string
}

// Configured sets up flags for the MQTT publisher and returns the instance.
// Without a broker the publisher is disabled and every method is a no-op.
func Configured(coordinator Coordinator, devices Devices, requestRefresh func()) *Publisher {
	p := New(nil, coordinator, devices, requestRefresh)
	brokerURL := lflag.String("mqtt-broker", "", "MQTT broker URL (tcp://host:1883), empty disables Home Assistant discovery")
	clientID := lflag.String("mqtt-client-id", "mygasbridge", "MQTT client id")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	topicPrefix := lflag.String("mqtt-topic-prefix", p.topicPrefix, "Prefix of the state and command topics")
	discoveryPrefix := lflag.String("mqtt-discovery-prefix", p.discoveryPrefix, "Home Assistant discovery prefix")

	lflag.Do(func() {
		p.topicPrefix = strings.TrimSuffix(*topicPrefix, "/")
		p.discoveryPrefix = strings.TrimSuffix(*discoveryPrefix, "/")
		if p.topicPrefix == "" || p.discoveryPrefix == "" {
			panic("mqtt-topic-prefix and mqtt-discovery-prefix are required")
		}
		if *brokerURL == "" {
			return
		}

		opts := p.clientOptions(*brokerURL, *clientID, *username, *password)
		p.conn = mqtt.NewClient(opts)
		p.client = p.conn
	})

	return p
}

// clientOptions lets paho run every message handler in its own goroutine
// since the command handlers call the MyGas API.
func (p *Publisher) clientOptions(brokerURL, clientID, username, password string) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetUsername(username)
	opts.SetPassword(password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		ctx := context.Background()
		if err := p.subscribe(ctx, c); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to subscribe to command topics", slog.Any("error", err))
		}
		// the broker may have lost retained messages while we were away
		if err := p.Publish(ctx, nil); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to publish after connect", slog.Any("error", err))
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		ctx := context.Background()
		log.Ctx(ctx).WarnContext(ctx, "mqtt connection lost", slog.Any("error", err))
	})
	return opts
}

// New returns a Publisher on an existing client. A nil client disables it.
func New(client mqtt.Client, coordinator Coordinator, devices Devices, requestRefresh func()) *Publisher {
	p := &Publisher{
		conn:            client,
		coordinator:     coordinator,
		devices:         devices,
		requestRefresh:  requestRefresh,
		topicPrefix:     "mygas",
		discoveryPrefix: "homeassistant",
	}
	if client != nil {
		p.client = client
	}
	return p
}

// Enabled returns true if a broker is configured.
func (p *Publisher) Enabled() bool {
	return p.client != nil
}

// Run connects to the broker and stays connected until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	if p.conn == nil {
		log.Ctx(ctx).InfoContext(ctx, "mqtt disabled")
		<-ctx.Done()
		return nil
	}

	log.Ctx(ctx).InfoContext(ctx, "connecting to mqtt broker")
	token := p.conn.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to connect to mqtt broker: %w", err)
		}
	case <-ctx.Done():
	}

	<-ctx.Done()
	log.Ctx(ctx).InfoContext(ctx, "disconnecting from mqtt broker")
	p.conn.Disconnect(250)
	return nil
}

func (p *Publisher) subscribe(ctx context.Context, c broker) error {
	for topic, handler := range map[string]mqtt.MessageHandler{
		p.topicPrefix + "/+/reading/set": p.handleReading,
		p.topicPrefix + "/+/bill/get":    p.handleBill,
	} {
		if err := wait(c.Subscribe(topic, 1, handler)); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		log.Ctx(ctx).DebugContext(ctx, "subscribed", slog.String("topic", topic))
	}
	return nil
}

// Publish sends the discovery configuration and state of every device and
// clears the configuration of removed devices.
func (p *Publisher) Publish(ctx context.Context, removed []string) error {
	if !p.Enabled() {
		return nil
	}

	for _, id := range removed {
		log.Ctx(ctx).InfoContext(ctx, "removing device from home assistant", slog.String("deviceID", id))
		for _, topic := range p.deviceConfigTopics(id) {
			if err := p.publish(ctx, topic, true, []byte{}); err != nil {
				return err
			}
		}
	}

	bridge := Device{
		Identifiers:  []string{"mygasbridge"},
		Name:         "MyGas",
		Manufacturer: "MyGas",
		Model:        "Personal account",
		SWVersion:    common.Version(),
	}
	stateTopic := p.topicPrefix + "/state"
	for _, item := range []ConfigurationItem{
		{
			DeviceClass:       DeviceClassMonetary,
			UnitOfMeasurement: UnitRuble,
			StateClass:        "total",
			Device:            bridge,
			UniqueID:          "mygas_balance",
			Name:              "Balance",
			StateTopic:        stateTopic,
			ValueTemplate:     "{{ value_json.balance }}",
		},
		{
			DeviceClass:   DeviceClassTimestamp,
			Device:        bridge,
			UniqueID:      "mygas_last_update",
			Name:          "Last update",
			StateTopic:    stateTopic,
			ValueTemplate: "{{ value_json.lastUpdate }}",
		},
	} {
		if err := p.publish(ctx, p.discoveryPrefix+"/sensor/"+item.UniqueID+"/config", true, item); err != nil {
			return err
		}
	}

	snap := p.coordinator.Snapshot()
	if snap == nil {
		snap = &types.Snapshot{}
	}
	if err := p.publish(ctx, stateTopic, true, bridgeState{
		Balance:    snap.Balance,
		LastUpdate: snap.LastUpdate,
		Shape:      snap.Shape,
		Accounts:   len(snap.AccountIDs),
	}); err != nil {
		return err
	}

	for _, e := range p.devices.Devices() {
		if err := p.publishDevice(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

type bridgeState struct {
	Balance    *float64    `json:"balance"`
	LastUpdate time.Time   `json:"lastUpdate"`
	Shape      types.Shape `json:"shape"`
	Accounts   int         `json:"accounts"`
}

type deviceState struct {
	AccountNumber string          `json:"accountNumber"`
	Alias         string          `json:"alias,omitempty"`
	UUID          string          `json:"uuid"`
	AccountID     types.AccountID `json:"accountID"`
	SubAccount    int             `json:"subAccount"`
	Counter       map[string]any  `json:"counter"`
}

func (p *Publisher) publishDevice(ctx context.Context, e registry.Entry) error {
	d := e.Device
	device := Device{
		Identifiers:  append([]string{e.ID}, e.Identifiers...),
		Name:         d.Name(),
		Manufacturer: "MyGas",
		Model:        "Gas meter",
	}
	stateTopic := p.topicPrefix + "/" + e.ID + "/state"
	topics := p.deviceConfigTopics(e.ID)
	minReading := 0.0
	maxReading := 99999999.0

	if err := p.publish(ctx, topics[0], true, ConfigurationItem{
		Device:              device,
		UniqueID:            e.ID + "_account",
		Name:                "Account",
		Icon:                "mdi:meter-gas",
		StateTopic:          stateTopic,
		ValueTemplate:       "{{ value_json.accountNumber }}",
		JSONAttributesTopic: stateTopic,
	}); err != nil {
		return err
	}
	if err := p.publish(ctx, topics[1], true, ConfigurationItem{
		DeviceClass:       DeviceClassGas,
		UnitOfMeasurement: UnitCubicMeters,
		Device:            device,
		UniqueID:          e.ID + "_reading",
		Name:              "Send reading",
		CommandTopic:      p.topicPrefix + "/" + e.ID + "/reading/set",
		Min:               &minReading,
		Max:               &maxReading,
		Step:              0.001,
		Mode:              "box",
	}); err != nil {
		return err
	}

	return p.publish(ctx, stateTopic, true, deviceState{
		AccountNumber: d.AccountNumber,
		Alias:         d.Alias,
		UUID:          d.UUID,
		AccountID:     d.Path.AccountID,
		SubAccount:    d.Path.SubAccount,
		Counter:       d.Counter,
	})
}

func (p *Publisher) deviceConfigTopics(id string) []string {
	return []string{
		p.discoveryPrefix + "/sensor/" + id + "/config",
		p.discoveryPrefix + "/number/" + id + "_reading/config",
	}
}

type readingCommand struct {
	Value *float64 `json:"value"`
}

type commandResult struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (p *Publisher) handleReading(_ mqtt.Client, msg mqtt.Message) {
	deviceID, ok := p.commandDevice(msg.Topic(), "reading/set")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	ctx = log.WithAttrs(ctx, slog.String("deviceID", deviceID))
	resultTopic := p.topicPrefix + "/" + deviceID + "/reading/result"

	value, err := parseReading(msg.Payload())
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "invalid reading payload", slog.String("payload", string(msg.Payload())), slog.Any("error", err))
		p.publishResult(ctx, resultTopic, nil, err)
		return
	}

	res, err := p.coordinator.SendReadings(ctx, deviceID, value)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to send reading", slog.Any("error", err))
		p.publishResult(ctx, resultTopic, nil, err)
		return
	}
	p.publishResult(ctx, resultTopic, res, nil)
	if p.requestRefresh != nil {
		p.requestRefresh()
	}
}

type billCommand struct {
	Date  string `json:"date"`
	Email string `json:"email"`
}

func (p *Publisher) handleBill(_ mqtt.Client, msg mqtt.Message) {
	deviceID, ok := p.commandDevice(msg.Topic(), "bill/get")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	ctx = log.WithAttrs(ctx, slog.String("deviceID", deviceID))
	resultTopic := p.topicPrefix + "/" + deviceID + "/bill"

	var cmd billCommand
	if payload := strings.TrimSpace(string(msg.Payload())); payload != "" {
		if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "invalid bill payload", slog.String("payload", payload), slog.Any("error", err))
			p.publishResult(ctx, resultTopic, nil, err)
			return
		}
	}
	var date time.Time
	if cmd.Date != "" {
		var err error
		date, err = time.Parse(time.DateOnly, cmd.Date)
		if err != nil {
			p.publishResult(ctx, resultTopic, nil, fmt.Errorf("invalid date: %w", err))
			return
		}
	}

	res, err := p.coordinator.GetBill(ctx, deviceID, date, cmd.Email)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get bill", slog.Any("error", err))
		p.publishResult(ctx, resultTopic, nil, err)
		return
	}
	if res == nil {
		p.publishResult(ctx, resultTopic, nil, types.ErrDeviceNotFound)
		return
	}
	p.publishResult(ctx, resultTopic, res, nil)
}

// commandDevice extracts the device id from <prefix>/<deviceID>/<suffix>.
func (p *Publisher) commandDevice(topic, suffix string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, p.topicPrefix+"/")
	if !ok {
		return "", false
	}
	deviceID, ok := strings.CutSuffix(rest, "/"+suffix)
	if !ok || deviceID == "" || strings.Contains(deviceID, "/") {
		return "", false
	}
	return deviceID, true
}

// parseReading accepts a bare number or {"value": number}.
func parseReading(payload []byte) (float64, error) {
	var v float64
	var cmd readingCommand
	if err := json.Unmarshal(payload, &cmd); err == nil && cmd.Value != nil {
		v = *cmd.Value
	} else {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
		if err != nil {
			return 0, errors.New("reading must be a number")
		}
		v = parsed
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("reading must be a number")
	}
	if v < 0 {
		return 0, errors.New("reading must not be negative")
	}
	return v, nil
}

func (p *Publisher) publishResult(ctx context.Context, topic string, res any, err error) {
	r := commandResult{Result: res}
	if err != nil {
		r.Error = err.Error()
	}
	if err := p.publish(ctx, topic, false, r); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to publish command result", slog.String("topic", topic), slog.Any("error", err))
	}
}

func (p *Publisher) publish(ctx context.Context, topic string, retained bool, payload any) error {
	b, ok := payload.([]byte)
	if !ok {
		var err error
		b, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s payload: %w", topic, err)
		}
	}
	log.Ctx(ctx).DebugContext(ctx, "mqtt publish", slog.String("topic", topic), slog.Int("bytes", len(b)))
	if err := wait(p.client.Publish(topic, 1, retained, b)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	return nil
}

func wait(token mqtt.Token) error {
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("timed out waiting for broker")
	}
	return token.Error()
}
