package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Writer accepts a decoded control value. *knx.Binding satisfies it.
type Writer interface {
	Write(ctx context.Context, value any) error
}

// Publisher sends the optimistic echo.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Registration is one writer on a control topic. EchoTopic, when set,
// receives the raw control payload as a retained status.
type Registration struct {
	Writer    Writer
	EchoTopic string
	// Label identifies the registration in logs and snapshots.
	Label string
}

// Result summarises one Dispatch.
type Result struct {
	Matched int
	Written int
	Echoed  int
	Errors  []error
}

// Router maps control topics to registrations.
//
// Thread Safety: all methods are safe for concurrent use. Dispatch works on
// a snapshot of the topic's registrations.
type Router struct {
	publisher Publisher
	qos       byte
	metrics   *Metrics
	logger    *slog.Logger

	mu     sync.RWMutex
	routes map[string][]Registration
	order  []string
}

// NewRouter creates an empty router. metrics and logger may be nil.
func NewRouter(publisher Publisher, qos byte, metrics *Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{
		publisher: publisher,
		qos:       qos,
		metrics:   metrics,
		logger:    logger,
		routes:    make(map[string][]Registration),
	}
}

// Register appends a registration to topic. It reports whether topic was
// new to this router, so the caller subscribes exactly once per topic.
func (r *Router) Register(topic string, writer Writer, echoTopic string) bool {
	return r.RegisterLabeled(topic, Registration{Writer: writer, EchoTopic: echoTopic})
}

// RegisterLabeled is Register with a label for logs and snapshots.
func (r *Router) RegisterLabeled(topic string, reg Registration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.routes[topic]
	if !ok {
		r.order = append(r.order, topic)
	}
	r.routes[topic] = append(existing, reg)
	return !ok
}

// Dispatch delivers raw to every registration on topic in registration
// order. Each registration decodes the payload, writes it and, if it has an
// echo topic, republishes raw retained whether or not the write succeeded.
// A failure in one registration never stops the others.
func (r *Router) Dispatch(ctx context.Context, topic string, raw []byte) Result {
	r.mu.RLock()
	regs := append([]Registration(nil), r.routes[topic]...)
	r.mu.RUnlock()

	res := Result{Matched: len(regs)}
	if len(regs) == 0 {
		r.metrics.recordUnrouted()
		return res
	}

	for _, reg := range regs {
		if err := r.writeOne(ctx, reg, raw); err != nil {
			res.Errors = append(res.Errors, err)
			r.logger.Warn("control write failed",
				"topic", topic,
				"registration", reg.Label,
				"error", err,
			)
		} else {
			res.Written++
		}

		if reg.EchoTopic == "" {
			continue
		}
		if err := r.publisher.Publish(reg.EchoTopic, raw, r.qos, true); err != nil {
			r.metrics.recordEcho(false)
			res.Errors = append(res.Errors, fmt.Errorf("%w: %s: %w", ErrEchoFailed, reg.EchoTopic, err))
			r.logger.Warn("echo publish failed", "topic", reg.EchoTopic, "error", err)
			continue
		}
		r.metrics.recordEcho(true)
		res.Echoed++
	}
	return res
}

func (r *Router) writeOne(ctx context.Context, reg Registration, raw []byte) error {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		r.metrics.recordDispatch("decode_error")
		return fmt.Errorf("%w: %w", ErrDecodePayload, err)
	}
	if err := reg.Writer.Write(ctx, value); err != nil {
		r.metrics.recordDispatch("write_error")
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	r.metrics.recordDispatch("written")
	return nil
}

// Topics returns the registered topics in first-registration order.
func (r *Router) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the total number of registrations.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, regs := range r.routes {
		n += len(regs)
	}
	return n
}

// Route is a read-only view of one topic's registrations.
type Route struct {
	Topic         string   `json:"topic"`
	Registrations []string `json:"registrations"`
	EchoTopics    []string `json:"echo_topics"`
}

// Snapshot lists every route in first-registration order.
func (r *Router) Snapshot() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Route, 0, len(r.order))
	for _, topic := range r.order {
		route := Route{Topic: topic}
		for _, reg := range r.routes[topic] {
			route.Registrations = append(route.Registrations, reg.Label)
			if reg.EchoTopic != "" {
				route.EchoTopics = append(route.EchoTopics, reg.EchoTopic)
			}
		}
		out = append(out, route)
	}
	return out
}
