package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/fora-knx-bridge/internal/bridges/knx"
	"github.com/nerrad567/fora-knx-bridge/internal/catalog"
)

type harness struct {
	engine  *Engine
	catalog *fakeCatalog
	bus     *fakeBus
	dialer  *fakeDialer
}

func newHarness(t *testing.T, mutate func(*Options), devices ...catalog.Device) *harness {
	t.Helper()
	h := &harness{
		catalog: &fakeCatalog{gateway: "10.0.0.7", devices: devices},
		bus:     newFakeBus(),
		dialer:  &fakeDialer{},
	}
	opts := Options{
		Catalog: h.catalog,
		Bus:     h.bus,
		Dial:    h.dialer.dial,
		QoS:     1,
	}
	if mutate != nil {
		mutate(&opts)
	}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	h.engine = e
	return h
}

func (h *harness) reload(t *testing.T) Summary {
	t.Helper()
	s, err := h.engine.Reload(context.Background(), TriggerStartup)
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	return s
}

// control delivers a control message and waits until it has been applied.
func (h *harness) control(t *testing.T, topic, payload string) bool {
	t.Helper()
	if !h.bus.deliver(topic, payload) {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.engine.awaitControls(ctx); err != nil {
		t.Fatalf("awaitControls() error = %v", err)
	}
	return true
}

func switchDevice(id string, config map[string]any) catalog.Device {
	return catalog.Device{ID: id, General: catalog.DeviceGeneral{Type: "binarySwitch"}, Config: config}
}

func fanInSwitch() catalog.Device {
	return switchDevice("dev-1", map[string]any{
		"power_control": "1/1/1",
		"power_status":  []any{"1/1/2", "1/1/3"},
	})
}

func TestNewValidatesOptions(t *testing.T) {
	d := &fakeDialer{}
	tests := []struct {
		name string
		opts Options
	}{
		{"no catalog", Options{Bus: newFakeBus(), Dial: d.dial}},
		{"no bus", Options{Catalog: &fakeCatalog{}, Dial: d.dial}},
		{"no dialer", Options{Catalog: &fakeCatalog{}, Bus: newFakeBus()}},
		{"bad echo mode", Options{Catalog: &fakeCatalog{}, Bus: newFakeBus(), Dial: d.dial, EchoMode: "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("New() error = nil")
			}
		})
	}
}

func TestBinarySwitchFanIn(t *testing.T) {
	h := newHarness(t, nil, fanInSwitch())
	summary := h.reload(t)

	if h.catalog.creates != 1 {
		t.Fatalf("catalog creates = %d, want 1", h.catalog.creates)
	}
	created := h.catalog.devices[0].Datapoints[0]
	if created.Name != "power" || !created.Config.IsControllable || !created.Config.IsStatusable {
		t.Errorf("created datapoint = %+v", created)
	}
	if summary.Active != 1 || summary.Bindings != 3 || summary.Controls != 1 {
		t.Errorf("summary = %+v", summary)
	}

	conn := h.dialer.last()
	status := "dps/" + created.ID

	conn.write("1/1/3", []byte{0x01})
	if got := h.bus.on(status); len(got) != 0 {
		t.Fatalf("initial value published: %+v", got)
	}

	conn.write("1/1/3", []byte{0x00})
	got := h.bus.on(status)
	if len(got) != 1 || got[0] != (message{status, "false", true}) {
		t.Fatalf("status after true -> false = %+v", got)
	}

	// The other fan-in source publishes to the same topic once it has a
	// previous value of its own.
	conn.write("1/1/2", []byte{0x00})
	conn.write("1/1/2", []byte{0x01})
	got = h.bus.on(status)
	if len(got) != 2 || got[1].Payload != "true" {
		t.Errorf("status after 1/1/2 change = %+v", got)
	}

	if !h.bus.subscribed(status + "/control") {
		t.Error("control topic not subscribed")
	}
}

func TestReloadIsIdempotent(t *testing.T) {
	h := newHarness(t, nil, fanInSwitch())
	first := h.reload(t)
	second := h.reload(t)

	if h.catalog.creates != 1 {
		t.Errorf("catalog creates after two passes = %d, want 1", h.catalog.creates)
	}
	if first.Bindings != second.Bindings {
		t.Errorf("bindings %d then %d", first.Bindings, second.Bindings)
	}
	if len(h.dialer.hosts) != 1 {
		t.Errorf("dialed %d times for an unchanged gateway", len(h.dialer.hosts))
	}

	// Listeners from the first pass are gone: one change, one publish.
	conn := h.dialer.last()
	conn.write("1/1/2", []byte{0x01})
	conn.write("1/1/2", []byte{0x00})
	if got := h.bus.on("dps/dp-1"); len(got) != 1 {
		t.Errorf("publishes after reload = %+v, want exactly 1", got)
	}
}

func TestUnknownDeviceTypeIsSkipped(t *testing.T) {
	toaster := catalog.Device{ID: "dev-0", General: catalog.DeviceGeneral{Type: "toaster"}}
	h := newHarness(t, nil, toaster, fanInSwitch())
	summary := h.reload(t)

	if summary.Devices != 2 || summary.Active != 1 || summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	devices := h.engine.Status().Devices
	if devices[0].State != StateFailed || !strings.Contains(devices[0].Error, "unknown device type") {
		t.Errorf("toaster = %+v", devices[0])
	}
	if devices[1].State != StateBindingsActive {
		t.Errorf("switch = %+v", devices[1])
	}
}

func TestStatusReportsLiveCounts(t *testing.T) {
	h := newHarness(t, nil, fanInSwitch())
	if snap := h.engine.Status(); snap.Gateway != nil || snap.Bindings != 0 {
		t.Errorf("status before first pass = %+v", snap)
	}

	summary := h.reload(t)
	snap := h.engine.Status()
	if snap.Bindings == 0 || snap.Bindings != summary.Bindings {
		t.Errorf("Bindings = %d, summary has %d", snap.Bindings, summary.Bindings)
	}
	if snap.ControlRoutes != 1 {
		t.Errorf("ControlRoutes = %d, want 1", snap.ControlRoutes)
	}
	if snap.Gateway == nil || !snap.Gateway.Connected {
		t.Errorf("Gateway = %+v", snap.Gateway)
	}
}

func TestInvalidConfigFailsDevice(t *testing.T) {
	bad := switchDevice("dev-9", map[string]any{"power_control": "kitchen"})
	h := newHarness(t, nil, bad)
	h.reload(t)

	dev := h.engine.Status().Devices[0]
	if dev.State != StateFailed || h.catalog.creates != 0 {
		t.Errorf("device = %+v, creates = %d", dev, h.catalog.creates)
	}
}

func TestCatalogUnreachableKeepsPreviousPass(t *testing.T) {
	h := newHarness(t, nil, switchDevice("dev-1", map[string]any{
		"power_control": "1/1/1",
		"power_status":  []any{"1/1/1"},
	}))
	h.reload(t)

	h.catalog.mu.Lock()
	h.catalog.failFetch = true
	h.catalog.mu.Unlock()

	_, err := h.engine.Reload(context.Background(), TriggerNotify)
	if !errors.Is(err, ErrCatalogFetch) || !errors.Is(err, catalog.ErrRemoteUnavailable) {
		t.Fatalf("Reload() error = %v", err)
	}

	snap := h.engine.Status()
	if len(snap.Devices) != 1 || snap.Devices[0].State != StateBindingsActive {
		t.Errorf("devices after failed reload = %+v", snap.Devices)
	}
	if snap.LastPass == nil || snap.LastPass.Trigger != TriggerStartup {
		t.Errorf("last pass = %+v", snap.LastPass)
	}

	if !h.control(t, "dps/dp-1/control", "true") {
		t.Fatal("control topic lost its subscription")
	}
	if sent := h.dialer.last().sentTelegrams(); len(sent) != 1 || sent[0].GA != "1/1/1" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestControlEcho(t *testing.T) {
	tests := []struct {
		name     string
		mode     EchoMode
		status   []any
		wantEcho bool
	}{
		{"shared address echoes", EchoShared, []any{"1/1/1"}, true},
		{"separate address does not", EchoShared, []any{"1/1/2"}, false},
		{"always", EchoAlways, []any{"1/1/2"}, true},
		{"never", EchoNever, []any{"1/1/1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(o *Options) { o.EchoMode = tt.mode },
				switchDevice("dev-1", map[string]any{"power_control": "1/1/1", "power_status": tt.status}))
			h.reload(t)

			h.control(t, "dps/dp-1/control", "true")

			sent := h.dialer.last().sentTelegrams()
			if len(sent) != 1 || sent[0].GA != "1/1/1" || sent[0].Data[0] != 0x01 {
				t.Fatalf("sent = %+v", sent)
			}
			echoes := h.bus.on("dps/dp-1")
			if tt.wantEcho {
				if len(echoes) != 1 || echoes[0] != (message{"dps/dp-1", "true", true}) {
					t.Errorf("echoes = %+v", echoes)
				}
			} else if len(echoes) != 0 {
				t.Errorf("unexpected echoes = %+v", echoes)
			}
			if got := h.engine.Status().Devices[0].Datapoints[0].Echo; got != tt.wantEcho {
				t.Errorf("DatapointStatus.Echo = %v", got)
			}
		})
	}
}

func TestControlHandlerDoesNotWaitForEchoAck(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.EchoMode = EchoAlways }, fanInSwitch())
	h.reload(t)

	gate := make(chan struct{})
	h.bus.mu.Lock()
	h.bus.gate = gate
	h.bus.mu.Unlock()

	delivered := make(chan struct{})
	go func() {
		h.bus.deliver("dps/dp-1/control", "true")
		h.bus.deliver("dps/dp-1/control", "false")
		close(delivered)
	}()
	select {
	case <-delivered:
	case <-time.After(time.Second):
		close(gate)
		t.Fatal("bus handler blocked while the echo was unacknowledged")
	}

	close(gate)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.engine.awaitControls(ctx); err != nil {
		t.Fatalf("awaitControls() error = %v", err)
	}

	sent := h.dialer.last().sentTelegrams()
	if len(sent) != 2 || sent[0].Data[0] != 0x01 || sent[1].Data[0] != 0x00 {
		t.Errorf("sent = %+v, want true then false", sent)
	}
	echoes := h.bus.on("dps/dp-1")
	if len(echoes) != 2 || echoes[0].Payload != "true" || echoes[1].Payload != "false" {
		t.Errorf("echoes = %+v", echoes)
	}
}

func TestControlQueueFullDrops(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	h := newHarness(t, func(o *Options) { o.EchoMode = EchoAlways; o.Metrics = m }, fanInSwitch())
	h.reload(t)

	gate := make(chan struct{})
	h.bus.mu.Lock()
	h.bus.gate = gate
	h.bus.mu.Unlock()
	defer close(gate)

	var dropped error
	for i := 0; i < controlQueueSize+2 && dropped == nil; i++ {
		dropped = h.engine.handleControl("dps/dp-1/control", []byte("true"))
	}
	if dropped == nil {
		t.Fatal("handleControl() never reported a full queue")
	}
	if got := testutil.ToFloat64(m.dropped); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
}

func TestMalformedControlPayloadStillEchoes(t *testing.T) {
	h := newHarness(t, nil, switchDevice("dev-1", map[string]any{
		"power_control": "1/1/1",
		"power_status":  "1/1/1",
	}))
	h.reload(t)

	res := h.engine.Dispatch(context.Background(), "dps/dp-1/control", []byte("maybe"))
	if res.Matched != 1 || res.Written != 0 || len(res.Errors) != 1 {
		t.Errorf("Dispatch() = %+v", res)
	}
	if echoes := h.bus.on("dps/dp-1"); len(echoes) != 1 || echoes[0].Payload != "maybe" {
		t.Errorf("echoes = %+v", echoes)
	}
}

func TestFieldbusUnavailable(t *testing.T) {
	h := newHarness(t, nil, fanInSwitch())
	h.dialer.err = errUnreachable
	summary := h.reload(t)

	if summary.Failed != 1 || summary.Error == "" {
		t.Errorf("summary = %+v", summary)
	}
	if h.catalog.creates != 1 {
		t.Errorf("datapoints must still be ensured, creates = %d", h.catalog.creates)
	}
	dev := h.engine.Status().Devices[0]
	if dev.State != StateFailed || !strings.Contains(dev.Error, knx.ErrNotConnected.Error()) {
		t.Errorf("device = %+v", dev)
	}
	if h.engine.Connected() {
		t.Error("Connected() = true without a session")
	}
}

func TestMissingGateway(t *testing.T) {
	h := newHarness(t, nil, fanInSwitch())
	h.catalog.gateway = ""
	h.reload(t)

	if len(h.dialer.hosts) != 0 {
		t.Errorf("dialed %v without a gateway", h.dialer.hosts)
	}
	if dev := h.engine.Status().Devices[0]; dev.State != StateFailed {
		t.Errorf("device = %+v", dev)
	}
}

func TestGatewayChangeRedials(t *testing.T) {
	h := newHarness(t, nil, fanInSwitch())
	h.reload(t)
	first := h.dialer.last()

	h.catalog.gateway = "10.0.0.8"
	h.reload(t)

	if len(h.dialer.hosts) != 2 || h.dialer.hosts[1] != "10.0.0.8" {
		t.Fatalf("dialed %v", h.dialer.hosts)
	}
	if !first.closed {
		t.Error("previous connector not closed")
	}
}

func TestDatapointFailureIsolated(t *testing.T) {
	light := catalog.Device{
		ID:      "dev-2",
		General: catalog.DeviceGeneral{Type: "dimmableLight"},
		Config: map[string]any{
			"power_status":       []any{"1/2/2"},
			"brightness_control": "1/2/3",
			"brightness_status":  "1/2/4",
		},
	}
	h := newHarness(t, nil, light, fanInSwitch())
	h.catalog.failEnsure = map[string]bool{"brightness": true}
	summary := h.reload(t)

	devices := h.engine.Status().Devices
	if devices[0].State != StateFailed || len(devices[0].Datapoints) != 1 || devices[0].Bindings != 1 {
		t.Errorf("light = %+v", devices[0])
	}
	if devices[1].State != StateBindingsActive {
		t.Errorf("switch = %+v", devices[1])
	}
	if summary.Failed != 1 || summary.Active != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestStatusFormattingAndTelemetry(t *testing.T) {
	tel := &fakeTelemetry{}
	room := catalog.Device{
		ID:      "dev-3",
		General: catalog.DeviceGeneral{Type: "roomController1"},
		Config:  map[string]any{"temperature": "3/1/1", "temperatureSetpoint": "3/1/2"},
	}
	h := newHarness(t, func(o *Options) { o.Telemetry = tel }, room)
	h.reload(t)

	first, _ := knx.TagTemperature.Encode(21.0)
	second, _ := knx.TagTemperature.Encode(21.5)
	conn := h.dialer.last()
	conn.write("3/1/1", first)
	conn.write("3/1/1", second)

	dp, _ := h.catalog.devices[0].FindDatapoint("temperature")
	got := h.bus.on("dps/" + dp.ID)
	if len(got) != 1 || got[0].Payload != "21.50" || !got[0].Retained {
		t.Fatalf("temperature status = %+v", got)
	}
	if len(tel.points) != 1 || tel.points[0].Name != "temperature" || tel.points[0].DeviceID != "dev-3" {
		t.Errorf("telemetry = %+v", tel.points)
	}

	// The setpoint is controllable whatever the record says.
	setpoint, _ := h.catalog.devices[0].FindDatapoint("temperatureSetpoint")
	if !h.bus.subscribed("dps/" + setpoint.ID + "/control") {
		t.Error("setpoint control topic not subscribed")
	}
}

func TestReadOnBind(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ReadOnBind = true }, fanInSwitch())
	h.reload(t)

	conn := h.dialer.last()
	conn.mu.Lock()
	reads := append([]string(nil), conn.reads...)
	conn.mu.Unlock()
	if strings.Join(reads, ",") != "1/1/2,1/1/3" {
		t.Errorf("reads = %v, want status addresses only", reads)
	}
}

func TestStaleControlTopicsUnsubscribed(t *testing.T) {
	h := newHarness(t, nil, fanInSwitch())
	h.reload(t)

	h.catalog.setDevices()
	h.reload(t)

	if h.bus.subscribed("dps/dp-1/control") {
		t.Error("stale control topic still subscribed")
	}
	if len(h.bus.unsubscribed) != 1 {
		t.Errorf("unsubscribed = %v", h.bus.unsubscribed)
	}
	if len(h.engine.Routes()) != 0 {
		t.Errorf("routes = %+v", h.engine.Routes())
	}
}

func TestSubscribeFailureLeavesDeviceActive(t *testing.T) {
	h := newHarness(t, nil, fanInSwitch())
	h.bus.failSub = true
	h.reload(t)

	if dev := h.engine.Status().Devices[0]; dev.State != StateBindingsActive {
		t.Errorf("device = %+v", dev)
	}

	// The next pass retries the subscription.
	h.bus.failSub = false
	h.reload(t)
	if !h.bus.subscribed("dps/dp-1/control") {
		t.Error("subscription not retried")
	}
}

func TestJournalRecordsPass(t *testing.T) {
	j := &memJournal{}
	toaster := catalog.Device{ID: "dev-0", General: catalog.DeviceGeneral{Type: "toaster"}}
	h := newHarness(t, func(o *Options) { o.Journal = j }, toaster, fanInSwitch())
	h.reload(t)

	if len(j.passes) != 1 || j.passes[0].Devices != 2 || j.passes[0].Failed != 1 {
		t.Fatalf("passes = %+v", j.passes)
	}
	if len(j.devices) != 2 || j.devices[1].State != string(StateBindingsActive) || j.devices[1].Bindings != 3 {
		t.Errorf("devices = %+v", j.devices)
	}
	if len(j.creations) != 1 || j.creations[0].Name != "power" || j.creations[0].PassID != 1 {
		t.Errorf("creations = %+v", j.creations)
	}

	h.catalog.failFetch = true
	h.engine.Reload(context.Background(), TriggerNotify)
	if len(j.passes) != 2 || j.passes[1].Error == "" {
		t.Errorf("aborted pass = %+v", j.passes)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	h := newHarness(t, func(o *Options) { o.Metrics = m }, fanInSwitch())
	h.reload(t)

	conn := h.dialer.last()
	conn.write("1/1/2", []byte{0x01})
	conn.write("1/1/2", []byte{0x00})

	if got := testutil.ToFloat64(m.passes.WithLabelValues("ok")); got != 1 {
		t.Errorf("passes ok = %v", got)
	}
	if got := testutil.ToFloat64(m.created); got != 1 {
		t.Errorf("created = %v", got)
	}
	if got := testutil.ToFloat64(m.suppressed); got != 1 {
		t.Errorf("suppressed = %v", got)
	}
	if got := testutil.ToFloat64(m.published.WithLabelValues("ok")); got != 1 {
		t.Errorf("published = %v", got)
	}
	if got := testutil.ToFloat64(m.devices.WithLabelValues(string(StateBindingsActive))); got != 1 {
		t.Errorf("active devices = %v", got)
	}
	if got := testutil.ToFloat64(m.bindings); got != 3 {
		t.Errorf("bindings = %v", got)
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t, nil, fanInSwitch())
	h.reload(t)
	conn := h.dialer.last()

	if err := h.engine.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !conn.closed {
		t.Error("connector not closed")
	}
	if h.bus.subscribed("dps/dp-1/control") {
		t.Error("control topic still subscribed")
	}
	if _, err := h.engine.Reload(context.Background(), TriggerAPI); !errors.Is(err, ErrClosed) {
		t.Errorf("Reload() after Close error = %v", err)
	}
	if res := h.engine.Dispatch(context.Background(), "dps/dp-1/control", []byte("true")); res.Matched != 0 {
		t.Errorf("Dispatch() after Close = %+v", res)
	}
	if err := h.engine.handleControl("dps/dp-1/control", []byte("true")); !errors.Is(err, ErrClosed) {
		t.Errorf("handleControl() after Close error = %v", err)
	}
}

func TestCloseAppliesQueuedControls(t *testing.T) {
	h := newHarness(t, nil, fanInSwitch())
	h.reload(t)
	conn := h.dialer.last()

	if err := h.engine.handleControl("dps/dp-1/control", []byte("true")); err != nil {
		t.Fatalf("handleControl() error = %v", err)
	}
	if err := h.engine.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if sent := conn.sentTelegrams(); len(sent) != 1 || sent[0].GA != "1/1/1" {
		t.Errorf("sent = %+v, want the queued write", sent)
	}
}
