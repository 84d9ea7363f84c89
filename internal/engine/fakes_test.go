package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/nerrad567/fora-knx-bridge/internal/bridges/knx"
	"github.com/nerrad567/fora-knx-bridge/internal/catalog"
	"github.com/nerrad567/fora-knx-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/fora-knx-bridge/internal/journal"
)

var errUnreachable = errors.New("connection refused")

// fakeCatalog keeps devices in memory and creates datapoints the way the
// remote catalog does: by name, once per device.
type fakeCatalog struct {
	mu         sync.Mutex
	gateway    string
	devices    []catalog.Device
	creates    int
	failFetch  bool
	failEnsure map[string]bool
}

func (f *fakeCatalog) FetchAppConfig(context.Context) (catalog.AppConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFetch {
		return catalog.AppConfig{}, fmt.Errorf("%w: %w", catalog.ErrRemoteUnavailable, errUnreachable)
	}
	return catalog.AppConfig{GatewayHost: f.gateway}, nil
}

func (f *fakeCatalog) ListDevices(context.Context) ([]catalog.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFetch {
		return nil, fmt.Errorf("%w: %w", catalog.ErrRemoteUnavailable, errUnreachable)
	}
	out := make([]catalog.Device, len(f.devices))
	for i, d := range f.devices {
		d.Datapoints = slices.Clone(d.Datapoints)
		out[i] = d
	}
	return out, nil
}

func (f *fakeCatalog) EnsureDatapoint(_ context.Context, device *catalog.Device, name string, cfg catalog.DatapointConfig) (catalog.Datapoint, error) {
	if dp, ok := device.FindDatapoint(name); ok {
		return dp, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEnsure[name] {
		return catalog.Datapoint{}, fmt.Errorf("%w: status 502", catalog.ErrRemoteUnavailable)
	}
	f.creates++
	dp := catalog.Datapoint{ID: fmt.Sprintf("dp-%d", f.creates), DeviceID: device.ID, Name: name, Config: cfg}
	device.Datapoints = append(device.Datapoints, dp)
	for i := range f.devices {
		if f.devices[i].ID == device.ID {
			f.devices[i].Datapoints = append(f.devices[i].Datapoints, dp)
		}
	}
	return dp, nil
}

func (f *fakeCatalog) setDevices(devices ...catalog.Device) {
	f.mu.Lock()
	f.devices = devices
	f.mu.Unlock()
}

type message struct {
	Topic    string
	Payload  string
	Retained bool
}

type fakeBus struct {
	mu           sync.Mutex
	published    []message
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	failSub      bool

	// gate, when set, holds every Publish until it is closed, like a
	// broker whose acknowledgement has not arrived yet.
	gate chan struct{}
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBus) Publish(topic string, payload []byte, _ byte, retained bool) error {
	b.mu.Lock()
	gate := b.gate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, message{topic, string(payload), retained})
	return nil
}

func (b *fakeBus) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSub {
		return mqtt.ErrNotConnected
	}
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBus) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	b.unsubscribed = append(b.unsubscribed, topic)
	return nil
}

// deliver hands a message to the subscribed handler, as the broker would.
func (b *fakeBus) deliver(topic, payload string) bool {
	b.mu.Lock()
	h, ok := b.handlers[topic]
	b.mu.Unlock()
	if ok {
		_ = h(topic, []byte(payload))
	}
	return ok
}

func (b *fakeBus) on(topic string) []message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []message
	for _, m := range b.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (b *fakeBus) subscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[topic]
	return ok
}

type sent struct {
	GA   string
	Data []byte
}

// fakeConnector stands in for the knxd group socket.
type fakeConnector struct {
	mu         sync.Mutex
	connected  bool
	closed     bool
	sent       []sent
	reads      []string
	onTelegram func(knx.Telegram)
}

func (c *fakeConnector) Send(_ context.Context, ga knx.GroupAddress, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sent{ga.String(), data})
	return nil
}

func (c *fakeConnector) SendRead(_ context.Context, ga knx.GroupAddress) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads = append(c.reads, ga.String())
	return nil
}

func (c *fakeConnector) SetOnTelegram(fn func(knx.Telegram)) {
	c.mu.Lock()
	c.onTelegram = fn
	c.mu.Unlock()
}

func (c *fakeConnector) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConnector) Stats() knx.KNXDStats {
	return knx.KNXDStats{Connected: c.IsConnected()}
}

func (c *fakeConnector) Close() error {
	c.mu.Lock()
	c.connected = false
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConnector) write(address string, data []byte) {
	ga, err := knx.ParseGroupAddress(address)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	fn := c.onTelegram
	c.mu.Unlock()
	if fn != nil {
		fn(knx.Telegram{Source: "1.1.20", Destination: ga, APCI: knx.APCIWrite, Data: data})
	}
}

func (c *fakeConnector) sentTelegrams() []sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sent)
}

// fakeDialer returns a fresh connector per dial and remembers them.
type fakeDialer struct {
	mu    sync.Mutex
	hosts []string
	conns []*fakeConnector
	err   error
}

func (d *fakeDialer) dial(_ context.Context, host string) (knx.Connector, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hosts = append(d.hosts, host)
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeConnector{connected: true}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) last() *fakeConnector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type telemetryPoint struct {
	DeviceID, DatapointID, Name string
	Value                       any
}

type fakeTelemetry struct {
	mu     sync.Mutex
	points []telemetryPoint
}

func (t *fakeTelemetry) WriteDatapointValue(deviceID, datapointID, name string, value any) {
	t.mu.Lock()
	t.points = append(t.points, telemetryPoint{deviceID, datapointID, name, value})
	t.mu.Unlock()
}

// memJournal is an in-memory journal.Repository.
type memJournal struct {
	mu        sync.Mutex
	passes    []journal.Pass
	devices   []journal.DeviceRecord
	creations []journal.Creation
}

func (j *memJournal) BeginPass(_ context.Context, trigger, gateway string) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.passes = append(j.passes, journal.Pass{ID: int64(len(j.passes) + 1), Trigger: trigger, Gateway: gateway})
	return int64(len(j.passes)), nil
}

func (j *memJournal) FinishPass(_ context.Context, id int64, devices, failed int, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	p := &j.passes[id-1]
	p.Devices, p.Failed, p.Error = devices, failed, errMsg
	return nil
}

func (j *memJournal) RecordDevice(_ context.Context, rec journal.DeviceRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.devices = append(j.devices, rec)
	return nil
}

func (j *memJournal) RecordCreation(_ context.Context, c journal.Creation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.creations = append(j.creations, c)
	return nil
}

func (j *memJournal) ListPasses(context.Context, int) ([]journal.Pass, error) {
	return j.passes, nil
}

func (j *memJournal) PassDevices(context.Context, int64) ([]journal.DeviceRecord, error) {
	return j.devices, nil
}

func (j *memJournal) DeviceHistory(context.Context, string, int) ([]journal.DeviceRecord, error) {
	return j.devices, nil
}

func (j *memJournal) ListCreations(context.Context, int) ([]journal.Creation, error) {
	return j.creations, nil
}
