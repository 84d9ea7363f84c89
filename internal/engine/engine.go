package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/fora-knx-bridge/internal/bridges/knx"
	"github.com/nerrad567/fora-knx-bridge/internal/catalog"
	"github.com/nerrad567/fora-knx-bridge/internal/control"
	"github.com/nerrad567/fora-knx-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/fora-knx-bridge/internal/journal"
)

// Reload triggers recorded in the journal.
const (
	TriggerStartup = "startup"
	TriggerNotify  = "notify"
	TriggerAPI     = "api"
)

// writeTimeout bounds a single control write to the bus.
const writeTimeout = 5 * time.Second

// controlQueueSize bounds control messages waiting for the dispatcher.
// A full queue drops the newest message.
const controlQueueSize = 256

// EchoMode decides when a control write is echoed as status.
type EchoMode string

const (
	// EchoShared echoes only when the control address is also one of the
	// datapoint's status addresses.
	EchoShared EchoMode = "shared"
	// EchoAlways echoes every control write.
	EchoAlways EchoMode = "always"
	// EchoNever disables echoes.
	EchoNever EchoMode = "never"
)

// Catalog is the part of the catalog client the engine uses.
type Catalog interface {
	FetchAppConfig(ctx context.Context) (catalog.AppConfig, error)
	ListDevices(ctx context.Context) ([]catalog.Device, error)
	EnsureDatapoint(ctx context.Context, device *catalog.Device, name string, cfg catalog.DatapointConfig) (catalog.Datapoint, error)
}

// Bus is the message bus connection.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Dialer opens a fieldbus connection to the gateway on host.
type Dialer func(ctx context.Context, host string) (knx.Connector, error)

// Telemetry receives every published status value.
type Telemetry interface {
	WriteDatapointValue(deviceID, datapointID, name string, value any)
}

// Options configures an Engine. Catalog, Bus and Dial are required.
type Options struct {
	Catalog Catalog
	Bus     Bus
	Dial    Dialer
	QoS     byte

	EchoMode   EchoMode
	ReadOnBind bool

	// Optional collaborators.
	Telemetry     Telemetry
	Journal       journal.Repository
	Metrics       *Metrics
	RouterMetrics *control.Metrics
	Tap           func(knx.Telegram)
	Logger        *slog.Logger
}

// Engine owns the fieldbus session, the bindings of the active pass and the
// control router they are registered in.
//
// Thread Safety: all methods are safe for concurrent use. Reloads are
// serialized; a second Reload waits for the one in flight.
type Engine struct {
	opts   Options
	logger *slog.Logger
	topics mqtt.Topics

	// reloadMu serializes passes and Close.
	reloadMu sync.Mutex
	closed   bool
	host     string
	bindings []*knx.Binding
	subs     []knx.Subscription

	// mu guards the fields below. session is written with both locks held.
	mu         sync.RWMutex
	session    *knx.Session
	router     *control.Router
	subscribed map[string]bool
	devices    []DeviceStatus
	lastPass   *Summary

	// Control messages are dispatched on one goroutine, in arrival order,
	// so bus handlers never block on fieldbus writes or echo acks.
	controls chan inbound
	stop     chan struct{}
	workerWG sync.WaitGroup
}

// inbound is a queued control message. A non-nil done marks a barrier:
// the dispatcher closes it once everything queued before it has run.
type inbound struct {
	topic   string
	payload []byte
	done    chan struct{}
}

// New creates an engine. Nothing is connected until the first Reload.
func New(opts Options) (*Engine, error) {
	if opts.Catalog == nil {
		return nil, errors.New("engine: catalog is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("engine: bus is required")
	}
	if opts.Dial == nil {
		return nil, errors.New("engine: dialer is required")
	}
	switch opts.EchoMode {
	case "":
		opts.EchoMode = EchoShared
	case EchoShared, EchoAlways, EchoNever:
	default:
		return nil, fmt.Errorf("engine: unknown echo mode %q", opts.EchoMode)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	e := &Engine{
		opts:       opts,
		logger:     logger.With("component", "engine"),
		subscribed: make(map[string]bool),
		controls:   make(chan inbound, controlQueueSize),
		stop:       make(chan struct{}),
	}
	e.workerWG.Add(1)
	go e.dispatchControls()
	return e, nil
}

// Reload runs one synchronization pass. It returns an error only when the
// pass could not start (catalog unreachable, engine closed); per-device
// failures are reported through Status and the journal.
func (e *Engine) Reload(ctx context.Context, trigger string) (Summary, error) {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	if e.closed {
		return Summary{}, ErrClosed
	}

	start := time.Now()
	summary := Summary{Trigger: trigger, StartedAt: start.UTC()}
	e.logger.Info("synchronization pass starting", "trigger", trigger)

	appCfg, err := e.opts.Catalog.FetchAppConfig(ctx)
	if err != nil {
		return e.abortPass(ctx, summary, fmt.Errorf("%w: app config: %w", ErrCatalogFetch, err))
	}
	summary.Gateway = appCfg.GatewayHost

	devices, err := e.opts.Catalog.ListDevices(ctx)
	if err != nil {
		return e.abortPass(ctx, summary, fmt.Errorf("%w: devices: %w", ErrCatalogFetch, err))
	}

	sessionErr := e.ensureSession(ctx, appCfg.GatewayHost)
	if sessionErr != nil {
		e.logger.Error("fieldbus unavailable for this pass",
			"gateway", appCfg.GatewayHost,
			"error", sessionErr,
		)
	}

	previous := e.teardown()
	router := control.NewRouter(e.opts.Bus, e.opts.QoS, e.opts.RouterMetrics, e.logger)

	statuses := make([]DeviceStatus, len(devices))
	for i := range devices {
		statuses[i] = DeviceStatus{
			DeviceID: devices[i].ID,
			Type:     devices[i].Type(),
			State:    StateUnprovisioned,
		}
	}
	e.mu.Lock()
	e.router = router
	e.devices = statuses
	e.mu.Unlock()

	passID := e.beginJournal(ctx, trigger, appCfg.GatewayHost)

	p := &pass{
		engine:     e,
		id:         passID,
		router:     router,
		session:    e.session,
		sessionErr: sessionErr,
	}
	for i := range devices {
		status := p.provision(ctx, i, &devices[i])
		e.setDeviceStatus(i, status)
		e.recordDevice(ctx, passID, status)

		switch status.State {
		case StateBindingsActive:
			summary.Active++
		case StateFailed:
			summary.Failed++
		}
	}

	e.dropStaleSubscriptions(previous, router.Topics())

	summary.Devices = len(devices)
	summary.Bindings = len(e.bindings)
	summary.Controls = len(router.Topics())
	summary.FinishedAt = time.Now().UTC()
	if sessionErr != nil {
		summary.Error = sessionErr.Error()
	}

	e.finishJournal(ctx, passID, summary)
	e.mu.Lock()
	e.lastPass = &summary
	e.mu.Unlock()

	e.opts.Metrics.recordPass("ok", time.Since(start).Seconds())
	e.opts.Metrics.recordDevices(e.Status().Devices, summary.Bindings)

	e.logger.Info("synchronization pass finished",
		"trigger", trigger,
		"devices", summary.Devices,
		"active", summary.Active,
		"failed", summary.Failed,
		"bindings", summary.Bindings,
		"control_topics", summary.Controls,
		"duration", time.Since(start),
	)
	return summary, nil
}

// abortPass logs and records a pass that could not fetch its inputs.
// Bindings and routes of the previous pass are left untouched.
func (e *Engine) abortPass(ctx context.Context, summary Summary, err error) (Summary, error) {
	e.logger.Error("synchronization pass aborted, keeping previous pass",
		"trigger", summary.Trigger,
		"error", err,
	)
	summary.FinishedAt = time.Now().UTC()
	summary.Error = err.Error()

	passID := e.beginJournal(ctx, summary.Trigger, summary.Gateway)
	e.finishJournal(ctx, passID, summary)
	e.opts.Metrics.recordPass("catalog_error", 0)
	return summary, err
}

// ensureSession keeps the current session when the host is unchanged and
// connected, otherwise dials a new one. Caller holds reloadMu.
func (e *Engine) ensureSession(ctx context.Context, host string) error {
	if host == "" {
		e.closeSession()
		return fmt.Errorf("%w: %w", knx.ErrNotConnected, ErrNoGateway)
	}
	if e.session != nil && e.host == host {
		return nil
	}

	e.closeSession()
	conn, err := e.opts.Dial(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", knx.ErrNotConnected, host, err)
	}

	session := knx.NewSession(conn, e.logger)
	if e.opts.Tap != nil {
		session.SetTap(e.opts.Tap)
	}
	e.mu.Lock()
	e.session = session
	e.mu.Unlock()
	e.host = host
	e.logger.Info("fieldbus session opened", "gateway", host)
	return nil
}

func (e *Engine) closeSession() {
	if e.session == nil {
		return
	}
	if err := e.session.Close(); err != nil {
		e.logger.Warn("closing fieldbus session", "gateway", e.host, "error", err)
	}
	e.mu.Lock()
	e.session = nil
	e.mu.Unlock()
	e.host = ""
}

// teardown cancels every observer and closes every binding of the active
// pass. It returns the control topics that pass had subscribed.
// Caller holds reloadMu.
func (e *Engine) teardown() []string {
	for _, s := range e.subs {
		s.Cancel()
	}
	for _, b := range e.bindings {
		b.Close()
	}
	e.subs = nil
	e.bindings = nil

	e.mu.RLock()
	defer e.mu.RUnlock()
	topics := make([]string, 0, len(e.subscribed))
	for t := range e.subscribed {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	return topics
}

// dropStaleSubscriptions unsubscribes control topics that the new router
// does not route.
func (e *Engine) dropStaleSubscriptions(previous, current []string) {
	for _, topic := range previous {
		if slices.Contains(current, topic) {
			continue
		}
		if err := e.opts.Bus.Unsubscribe(topic); err != nil {
			e.logger.Warn("unsubscribing stale control topic", "topic", topic, "error", err)
		}
		e.mu.Lock()
		delete(e.subscribed, topic)
		e.mu.Unlock()
	}
}

// subscribe subscribes topic once across passes. The handler always reads
// the router installed at delivery time.
func (e *Engine) subscribe(topic string) {
	e.mu.RLock()
	done := e.subscribed[topic]
	e.mu.RUnlock()
	if done {
		return
	}

	if err := e.opts.Bus.Subscribe(topic, e.opts.QoS, e.handleControl); err != nil {
		e.logger.Warn("subscribing control topic", "topic", topic, "error", err)
		return
	}
	e.mu.Lock()
	e.subscribed[topic] = true
	e.mu.Unlock()
}

// handleControl runs on the bus client's delivery goroutine. It only
// queues the message; dispatchControls applies it.
func (e *Engine) handleControl(topic string, payload []byte) error {
	msg := inbound{topic: topic, payload: slices.Clone(payload)}
	select {
	case <-e.stop:
		return ErrClosed
	default:
	}
	select {
	case e.controls <- msg:
		return nil
	default:
		e.opts.Metrics.recordControlDropped()
		return fmt.Errorf("control queue full, dropped message on %s", topic)
	}
}

func (e *Engine) dispatchControls() {
	defer e.workerWG.Done()
	for {
		select {
		case <-e.stop:
			return
		case msg := <-e.controls:
			if msg.done != nil {
				close(msg.done)
				continue
			}
			e.Dispatch(context.Background(), msg.topic, msg.payload)
		}
	}
}

// awaitControls blocks until every control message queued before the
// call has been dispatched, or ctx ends.
func (e *Engine) awaitControls(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case e.controls <- inbound{done: done}:
	case <-e.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-e.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch routes an inbound control message through the active router.
func (e *Engine) Dispatch(ctx context.Context, topic string, payload []byte) control.Result {
	e.mu.RLock()
	router := e.router
	e.mu.RUnlock()
	if router == nil {
		return control.Result{}
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return router.Dispatch(ctx, topic, payload)
}

// Routes returns the active router's table.
func (e *Engine) Routes() []control.Route {
	e.mu.RLock()
	router := e.router
	e.mu.RUnlock()
	if router == nil {
		return []control.Route{}
	}
	return router.Snapshot()
}

// Connected reports whether the fieldbus session is up.
func (e *Engine) Connected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connectedLocked()
}

func (e *Engine) connectedLocked() bool {
	s := e.session
	return s != nil && s.Connected()
}

// Status returns a copy of the per-device states and the last pass.
func (e *Engine) Status() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := Snapshot{
		Connected: e.connectedLocked(),
		Devices:   make([]DeviceStatus, len(e.devices)),
	}
	for i, d := range e.devices {
		d.Datapoints = slices.Clone(d.Datapoints)
		snap.Devices[i] = d
	}
	if e.lastPass != nil {
		last := *e.lastPass
		snap.LastPass = &last
	}
	if e.session != nil {
		stats := e.session.Stats()
		snap.Gateway = &stats
		snap.Bindings = e.session.BindingCount()
	}
	if e.router != nil {
		snap.ControlRoutes = e.router.Len()
	}
	return snap
}

// Close tears down the active pass, unsubscribes its control topics and
// closes the fieldbus session.
func (e *Engine) Close() error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	// Apply controls accepted before shutdown, then stop the dispatcher.
	drainCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	if err := e.awaitControls(drainCtx); err != nil {
		e.logger.Warn("control queue not drained before close", "error", err)
	}
	cancel()
	close(e.stop)
	e.workerWG.Wait()

	topics := e.teardown()
	e.dropStaleSubscriptions(topics, nil)
	e.closeSession()

	e.mu.Lock()
	e.router = nil
	e.mu.Unlock()
	return nil
}

func (e *Engine) setDeviceStatus(i int, status DeviceStatus) {
	e.mu.Lock()
	if i < len(e.devices) {
		e.devices[i] = status
	}
	e.mu.Unlock()
}

func (e *Engine) track(b *knx.Binding, s knx.Subscription) {
	if b != nil {
		e.bindings = append(e.bindings, b)
	}
	if s != nil {
		e.subs = append(e.subs, s)
	}
}

func (e *Engine) beginJournal(ctx context.Context, trigger, gateway string) int64 {
	if e.opts.Journal == nil {
		return 0
	}
	id, err := e.opts.Journal.BeginPass(ctx, trigger, gateway)
	if err != nil {
		e.logger.Warn("journal: recording pass start", "error", err)
		return 0
	}
	return id
}

func (e *Engine) finishJournal(ctx context.Context, passID int64, s Summary) {
	if e.opts.Journal == nil || passID == 0 {
		return
	}
	if err := e.opts.Journal.FinishPass(ctx, passID, s.Devices, s.Failed, s.Error); err != nil {
		e.logger.Warn("journal: recording pass end", "pass", passID, "error", err)
	}
}

func (e *Engine) recordDevice(ctx context.Context, passID int64, s DeviceStatus) {
	if e.opts.Journal == nil || passID == 0 {
		return
	}
	err := e.opts.Journal.RecordDevice(ctx, journal.DeviceRecord{
		PassID:     passID,
		DeviceID:   s.DeviceID,
		DeviceType: s.Type,
		State:      string(s.State),
		Error:      s.Error,
		Datapoints: len(s.Datapoints),
		Bindings:   s.Bindings,
	})
	if err != nil {
		e.logger.Warn("journal: recording device", "device", s.DeviceID, "error", err)
	}
}
