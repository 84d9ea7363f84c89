package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nerrad567/fora-knx-bridge/internal/bridges/knx"
	"github.com/nerrad567/fora-knx-bridge/internal/catalog"
	"github.com/nerrad567/fora-knx-bridge/internal/control"
	"github.com/nerrad567/fora-knx-bridge/internal/devicetype"
	"github.com/nerrad567/fora-knx-bridge/internal/journal"
)

// pass holds what one Reload provisions into.
type pass struct {
	engine     *Engine
	id         int64
	router     *control.Router
	session    *knx.Session
	sessionErr error
}

// provision runs the device state machine. Datapoints are handled strictly
// in declaration order and each step waits for the previous one.
func (p *pass) provision(ctx context.Context, index int, device *catalog.Device) DeviceStatus {
	e := p.engine
	status := DeviceStatus{
		DeviceID:   device.ID,
		Type:       device.Type(),
		State:      StateUnprovisioned,
		Datapoints: []DatapointStatus{},
	}
	log := e.logger.With("device", device.ID, "type", device.Type())

	kind, err := devicetype.Lookup(device.Type())
	if err != nil {
		return p.fail(log, status, err)
	}
	if err := kind.Validate(device.Config); err != nil {
		return p.fail(log, status, err)
	}

	status.State = StateDatapointsResolving
	e.setDeviceStatus(index, status)

	var errs []error
	for _, spec := range kind.Datapoints {
		ds, bound, err := p.provisionDatapoint(ctx, log, device, spec)
		if ds != nil {
			status.Datapoints = append(status.Datapoints, *ds)
		}
		status.Bindings += bound
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", spec.Name, err))
		}
	}
	if len(errs) > 0 {
		return p.fail(log, status, errors.Join(errs...))
	}

	status.State = StateBindingsActive
	log.Info("device provisioned",
		"datapoints", len(status.Datapoints),
		"bindings", status.Bindings,
	)
	return status
}

func (p *pass) fail(log *slog.Logger, status DeviceStatus, err error) DeviceStatus {
	status.State = StateFailed
	status.Error = err.Error()
	if errors.Is(err, devicetype.ErrUnknownDeviceType) {
		log.Warn("skipping device", "error", err)
	} else {
		log.Error("device provisioning failed", "error", err)
	}
	return status
}

// provisionDatapoint ensures the catalog record, then binds status and
// control addresses. Bindings made before an error stay active.
func (p *pass) provisionDatapoint(
	ctx context.Context,
	log *slog.Logger,
	device *catalog.Device,
	spec devicetype.DatapointSpec,
) (*DatapointStatus, int, error) {
	e := p.engine

	statusSrc, err := addressSource(device.Config, spec.StatusField)
	if err != nil {
		return nil, 0, err
	}
	controlSrc, err := addressSource(device.Config, spec.ControlField)
	if err != nil {
		return nil, 0, err
	}

	_, existed := device.FindDatapoint(spec.Name)
	dp, err := e.opts.Catalog.EnsureDatapoint(ctx, device, spec.Name, spec.CreateConfig(device.Config))
	if err != nil {
		return nil, 0, fmt.Errorf("ensuring datapoint: %w", err)
	}
	ds := &DatapointStatus{Name: dp.Name, ID: dp.ID, Created: !existed}
	if !existed {
		p.recordCreation(ctx, log, device.ID, dp)
	}

	wantStatus := spec.WantsStatus(dp.Config) && !statusSrc.Empty()
	wantControl := spec.WantsControl(dp.Config) && !controlSrc.Empty()
	if !wantStatus && !wantControl {
		return ds, 0, nil
	}
	if p.sessionErr != nil {
		return ds, 0, p.sessionErr
	}

	var errs []error
	bound := 0
	statusTopic := e.topics.DatapointStatus(dp.ID)

	if wantStatus {
		ds.StatusTopic = statusTopic
		for _, addr := range statusSrc.Addresses() {
			b, err := p.session.Bind(addr, spec.Tag)
			if err != nil {
				errs = append(errs, fmt.Errorf("status binding: %w", err))
				continue
			}
			sub := b.Observe(p.statusObserver(device.ID, dp, spec, statusTopic, addr))
			e.track(b, sub)
			bound++
			ds.StatusAddresses = append(ds.StatusAddresses, addr)

			if e.opts.ReadOnBind {
				if err := b.Read(ctx); err != nil {
					log.Warn("requesting current value", "ga", addr, "error", err)
				}
			}
		}
	}

	if wantControl {
		controlTopic := e.topics.DatapointControl(dp.ID)
		ds.ControlTopic = controlTopic
		for _, addr := range controlSrc.Addresses() {
			b, err := p.session.Bind(addr, spec.Tag)
			if err != nil {
				errs = append(errs, fmt.Errorf("control binding: %w", err))
				continue
			}
			e.track(b, nil)
			bound++
			ds.ControlAddresses = append(ds.ControlAddresses, addr)

			echo := p.echoTopic(statusSrc, addr, statusTopic)
			if echo != "" {
				ds.Echo = true
			}
			first := p.router.RegisterLabeled(controlTopic, control.Registration{
				Writer:    b,
				EchoTopic: echo,
				Label:     device.ID + "/" + spec.Name + "@" + addr,
			})
			if first {
				e.subscribe(controlTopic)
			}
		}
	}

	return ds, bound, errors.Join(errs...)
}

// statusObserver publishes every change after the first one retained on
// the datapoint's status topic.
func (p *pass) statusObserver(
	deviceID string,
	dp catalog.Datapoint,
	spec devicetype.DatapointSpec,
	topic, addr string,
) func(knx.Change) {
	e := p.engine
	return func(c knx.Change) {
		if c.Initial() {
			e.opts.Metrics.recordSuppressed()
			return
		}

		if e.opts.Telemetry != nil {
			e.opts.Telemetry.WriteDatapointValue(deviceID, dp.ID, dp.Name, c.New)
		}

		payload := spec.Format.Render(c.New)
		if err := e.opts.Bus.Publish(topic, []byte(payload), e.opts.QoS, true); err != nil {
			e.opts.Metrics.recordPublish(false)
			e.logger.Warn("publishing status",
				"topic", topic,
				"ga", addr,
				"error", err,
			)
			return
		}
		e.opts.Metrics.recordPublish(true)
		e.logger.Debug("status published", "topic", topic, "ga", addr, "value", payload)
	}
}

func (p *pass) echoTopic(statusSrc devicetype.AddressSource, controlAddr, statusTopic string) string {
	switch p.engine.opts.EchoMode {
	case EchoAlways:
		return statusTopic
	case EchoNever:
		return ""
	default:
		if statusSrc.Contains(controlAddr) {
			return statusTopic
		}
		return ""
	}
}

func (p *pass) recordCreation(ctx context.Context, log *slog.Logger, deviceID string, dp catalog.Datapoint) {
	e := p.engine
	e.opts.Metrics.recordCreated()
	log.Info("datapoint created", "datapoint", dp.Name, "id", dp.ID)

	if e.opts.Journal == nil || p.id == 0 {
		return
	}
	err := e.opts.Journal.RecordCreation(ctx, journal.Creation{
		PassID:      p.id,
		DeviceID:    deviceID,
		DatapointID: dp.ID,
		Name:        dp.Name,
	})
	if err != nil {
		log.Warn("journal: recording creation", "datapoint", dp.Name, "error", err)
	}
}

func addressSource(config map[string]any, field string) (devicetype.AddressSource, error) {
	if field == "" {
		return devicetype.AddressSource{}, nil
	}
	src, err := devicetype.ResolveAddressSource(config[field])
	if err != nil {
		return devicetype.AddressSource{}, fmt.Errorf("field %s: %w", field, err)
	}
	return src, nil
}
