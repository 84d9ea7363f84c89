package logging

import (
	"fmt"
)

// Sink is the bus side of the remote log.
type Sink interface {
	IsConnected() bool
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Remote publishes free-text log lines to the app's log topic.
//
// While the bus is down, or when a publish fails, the line is written to
// the local logger instead. Log never blocks on a disconnected bus and
// never returns an error.
type Remote struct {
	sink  Sink
	topic string
	local *Logger
	qos   byte
}

// NewRemote creates a remote log publishing on topic.
func NewRemote(sink Sink, topic string, qos byte, local *Logger) *Remote {
	if local == nil {
		local = Default()
	}
	return &Remote{sink: sink, topic: topic, local: local, qos: qos}
}

// Log sends msg to the remote log.
func (r *Remote) Log(msg string) {
	if r.sink == nil || !r.sink.IsConnected() {
		r.local.Info(msg, "remote", false)
		return
	}
	if err := r.sink.Publish(r.topic, []byte(msg), r.qos, false); err != nil {
		r.local.Warn(msg, "remote", false, "error", err)
	}
}

// Logf formats according to a format specifier and sends the result.
func (r *Remote) Logf(format string, args ...any) {
	r.Log(fmt.Sprintf(format, args...))
}
