// Package app runs the bridge lifecycle on the message bus: it publishes
// the config schema, runs the first synchronization pass and reacts to the
// app's command and notify topics.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nerrad567/fora-knx-bridge/internal/bridges/knx"
	"github.com/nerrad567/fora-knx-bridge/internal/devicetype"
	"github.com/nerrad567/fora-knx-bridge/internal/engine"
	"github.com/nerrad567/fora-knx-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/fora-knx-bridge/internal/infrastructure/mqtt"
)

// Reloader runs synchronization passes.
type Reloader interface {
	Reload(ctx context.Context, trigger string) (engine.Summary, error)
}

// SchemaPublisher registers the declarative config schema.
type SchemaPublisher interface {
	PublishConfigSchema(ctx context.Context, schema any) error
}

// Bus is the subscription side of the message bus.
type Bus interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Options configures an App. Every field except Logger is required.
type Options struct {
	Engine Reloader
	Schema SchemaPublisher
	Bus    Bus
	Topics mqtt.Topics
	QoS    byte
	Remote *logging.Remote
	Logger *slog.Logger
}

// App ties the engine to the app's control topics.
type App struct {
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// New creates an App. Call Start to begin.
func New(opts Options) (*App, error) {
	switch {
	case opts.Engine == nil:
		return nil, errors.New("app: engine is required")
	case opts.Schema == nil:
		return nil, errors.New("app: schema publisher is required")
	case opts.Bus == nil:
		return nil, errors.New("app: bus is required")
	case opts.Remote == nil:
		return nil, errors.New("app: remote log is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		opts:   opts,
		logger: logger.With("component", "app"),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start subscribes the command and notify topics, publishes the config
// schema and runs the first synchronization pass. Only a subscribe failure
// is returned; schema and pass failures are logged.
func (a *App) Start(ctx context.Context) error {
	if err := a.opts.Bus.Subscribe(a.opts.Topics.Command(), a.opts.QoS, a.handleCommand); err != nil {
		return fmt.Errorf("subscribing command topic: %w", err)
	}
	if err := a.opts.Bus.Subscribe(a.opts.Topics.Notify(), a.opts.QoS, a.handleNotify); err != nil {
		return fmt.Errorf("subscribing notify topic: %w", err)
	}

	if err := a.opts.Schema.PublishConfigSchema(ctx, devicetype.ConfigSchema()); err != nil {
		a.logger.Error("publishing config schema", "error", err)
		a.opts.Remote.Logf("config schema not published: %v", err)
	}

	a.reload(ctx, engine.TriggerStartup)
	return nil
}

// Reload runs a pass on behalf of an external caller.
func (a *App) Reload(ctx context.Context, trigger string) (engine.Summary, error) {
	return a.reload(ctx, trigger)
}

// Stop cancels background reloads and waits for them to return.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		a.cancel()
		a.wg.Wait()
	})
}

// OnConnect announces a (re)connection on the remote log. The mqtt client
// publishes the online presence and restores subscriptions itself.
func (a *App) OnConnect() {
	a.opts.Remote.Log("connected to message bus")
}

func (a *App) reload(ctx context.Context, trigger string) (engine.Summary, error) {
	a.opts.Remote.Logf("synchronizing devices (%s)", trigger)
	summary, err := a.opts.Engine.Reload(ctx, trigger)
	if err != nil {
		a.logger.Error("synchronization pass failed", "trigger", trigger, "error", err)
		a.opts.Remote.Logf("synchronization failed: %v", err)
		return summary, err
	}
	a.opts.Remote.Logf("synchronized %d devices: %d active, %d failed",
		summary.Devices, summary.Active, summary.Failed)
	return summary, nil
}

func (a *App) handleCommand(topic string, payload []byte) error {
	a.logger.Info("command received", "topic", topic, "payload", string(payload))
	return nil
}

// handleNotify starts a background pass on reloadApplication. The bus
// callback returns at once; passes queue behind each other in the engine.
func (a *App) handleNotify(topic string, payload []byte) error {
	msg := string(payload)
	if msg != mqtt.NotifyReload {
		a.logger.Debug("ignoring notification", "topic", topic, "payload", msg)
		return nil
	}
	if a.ctx.Err() != nil {
		return nil
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reload(a.ctx, engine.TriggerNotify)
	}()
	return nil
}

// TelegramLogger returns a tap that writes every bus telegram to the remote
// log as "event, source, destination, value".
func TelegramLogger(remote *logging.Remote) func(knx.Telegram) {
	return func(t knx.Telegram) {
		remote.Logf("%s, %s, %s, %s", t.Kind(), t.Source, t.Destination, telegramValue(t))
	}
}

func telegramValue(t knx.Telegram) string {
	if !t.CarriesValue() {
		return "null"
	}
	return fmt.Sprintf("%x", t.Data)
}
