// Package bridge relays between an MQTT-speaking device and the remote store:
// telemetry samples published by the device become children of the sensor
// data node, and every change of the control node is published back.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"water_monitor/internal/logger"
	"water_monitor/internal/metrics"
	"water_monitor/internal/remote"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrBadPayload = errors.New("invalid telemetry payload")

const (
	disconnectQuiesceMs = 250
	tokenTimeout        = 10 * time.Second
	defaultRetries      = 5
)

type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TelemetryTopic string
	ControlTopic   string
	QoS            byte
	ConnectRetries int
	MaxBackoff     time.Duration // re-listen delay cap after a control listener error
}

// Client is the part of mqtt.Client the bridge needs.
type Client interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Connect dials the broker, retrying with exponential backoff.
func Connect(cfg Config, log *logger.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	retries := cfg.ConnectRetries
	if retries <= 0 {
		retries = defaultRetries
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		token := client.Connect()
		if !token.WaitTimeout(tokenTimeout) {
			return fmt.Errorf("connect to %s: timed out", cfg.Broker)
		}
		if err := token.Error(); err != nil {
			if log != nil {
				log.Warnw("mqtt_connect_failed", "broker", cfg.Broker, "err", err)
			}
			return err
		}
		return nil
	}, backoff.WithMaxRetries(bo, uint64(retries-1)))
	if err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	if log != nil {
		log.Infow("mqtt_connected", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	return client, nil
}

// Bridge owns one telemetry subscription and one control listener.
type Bridge struct {
	client      Client
	store       remote.Store
	cfg         Config
	sensorData  string
	controlNode string
	log         *logger.Logger
	now         func() time.Time

	mu      sync.Mutex
	lastKey int64
}

func New(client Client, store remote.Store, cfg Config, sensorData, control string, log *logger.Logger) *Bridge {
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Bridge{
		client:      client,
		store:       store,
		cfg:         cfg,
		sensorData:  sensorData,
		controlNode: control,
		log:         log,
		now:         time.Now,
	}
}

func wait(t mqtt.Token) error {
	if !t.WaitTimeout(tokenTimeout) {
		return errors.New("mqtt operation timed out")
	}
	return t.Error()
}

// Run relays until ctx is canceled, then unsubscribes and disconnects.
func (b *Bridge) Run(ctx context.Context) error {
	if err := wait(b.client.Subscribe(b.cfg.TelemetryTopic, b.cfg.QoS, b.onTelemetry(ctx))); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.cfg.TelemetryTopic, err)
	}
	defer func() {
		_ = wait(b.client.Unsubscribe(b.cfg.TelemetryTopic))
		b.client.Disconnect(disconnectQuiesceMs)
	}()

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = b.cfg.MaxBackoff
	bo.MaxElapsedTime = 0

	for {
		err := b.relayControl(ctx)
		if ctx.Err() != nil {
			return nil
		}
		d := bo.NextBackOff()
		if b.log != nil {
			b.log.Warnw("bridge_control_relisten", "err", err, "wait", d.String())
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d):
		}
	}
}

// relayControl publishes every control snapshot until the listener ends.
// The listener callback runs on the store's delivery goroutine, so it only
// hands the snapshot over; publishing happens on a goroutine of its own and
// sees the newest snapshot when it falls behind.
func (b *Bridge) relayControl(ctx context.Context) error {
	pending := make(chan remote.Snapshot, 1)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.publishLoop(stop, pending)
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	done := make(chan error, 1)
	reg, err := b.store.Listen(b.controlNode, remote.Query{}, func(ev remote.Event) {
		if ev.Err != nil {
			select {
			case done <- ev.Err:
			default:
			}
			return
		}
		offerLatest(pending, ev.Snapshot)
	})
	if err != nil {
		return fmt.Errorf("listen %s: %w", b.controlNode, err)
	}
	defer reg.Remove()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// offerLatest puts snap into the one-slot channel, replacing a value the
// publisher has not taken yet. ch has a single writer.
func offerLatest(ch chan remote.Snapshot, snap remote.Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (b *Bridge) publishLoop(stop <-chan struct{}, pending <-chan remote.Snapshot) {
	for {
		select {
		case <-stop:
			return
		case snap := <-pending:
			b.publishControl(snap)
		}
	}
}

func (b *Bridge) publishControl(snap remote.Snapshot) {
	payload, err := json.Marshal(snap.Value)
	if err == nil {
		err = wait(b.client.Publish(b.cfg.ControlTopic, b.cfg.QoS, true, payload))
	}
	if err != nil {
		metrics.BridgeMessages.WithLabelValues("to_device", "failed").Inc()
		if b.log != nil {
			b.log.Warnw("bridge_publish_failed", "topic", b.cfg.ControlTopic, "err", err)
		}
		return
	}
	metrics.BridgeMessages.WithLabelValues("to_device", "ok").Inc()
}

func (b *Bridge) onTelemetry(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		if err := b.storeSample(ctx, msg.Payload()); err != nil {
			metrics.BridgeMessages.WithLabelValues("from_device", "failed").Inc()
			if b.log != nil {
				b.log.Warnw("bridge_telemetry_rejected", "topic", msg.Topic(), "err", err)
			}
			return
		}
		metrics.BridgeMessages.WithLabelValues("from_device", "ok").Inc()
	}
}

// storeSample writes one device sample. The child key is the sample's "key"
// field when present, otherwise the receive time in unix seconds, bumped to
// stay strictly increasing. A key spanning several path segments is rejected.
func (b *Bridge) storeSample(ctx context.Context, payload []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return ErrBadPayload
	}
	raw, _ := fields["key"].(string)
	delete(fields, "key")
	var key string
	switch segs := remote.Split(raw); len(segs) {
	case 0:
		key = b.nextKey()
	case 1:
		key = segs[0]
	default:
		// a nested key would create a child that parses as an empty sample
		return fmt.Errorf("%w: key %q is not a single path segment", ErrBadPayload, raw)
	}
	return b.store.Set(ctx, remote.Join(b.sensorData, key), fields)
}

func (b *Bridge) nextKey() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := b.now().Unix()
	if k <= b.lastKey {
		k = b.lastKey + 1
	}
	b.lastKey = k
	return strconv.FormatInt(k, 10)
}
