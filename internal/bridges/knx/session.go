package knx

import (
	"context"
	"fmt"
	"sync"
)

// Session multiplexes one gateway connection across many bindings.
//
// Value-carrying telegrams (writes and read responses) are routed to every
// binding on the destination group address. Read requests are ignored.
type Session struct {
	conn   Connector
	logger Logger

	mu       sync.RWMutex
	bindings map[GroupAddress][]*Binding
	tap      func(Telegram)
}

// NewSession takes over the connector's telegram callback.
func NewSession(conn Connector, logger Logger) *Session {
	s := &Session{
		conn:     conn,
		logger:   logger,
		bindings: make(map[GroupAddress][]*Binding),
	}
	conn.SetOnTelegram(s.handleTelegram)
	return s
}

// Bind creates a binding for address with the given encoding. The session
// must be connected.
func (s *Session) Bind(address string, tag Tag) (*Binding, error) {
	ga, err := ParseGroupAddress(address)
	if err != nil {
		return nil, err
	}
	if _, err := ParseTag(string(tag)); err != nil {
		return nil, err
	}
	if !s.conn.IsConnected() {
		return nil, fmt.Errorf("%w: bind %s", ErrNotConnected, ga)
	}

	b := &Binding{session: s, ga: ga, tag: tag}
	s.mu.Lock()
	s.bindings[ga] = append(s.bindings[ga], b)
	s.mu.Unlock()
	return b, nil
}

// SetTap installs a callback that sees every received telegram before it
// is routed. Nil removes it.
func (s *Session) SetTap(fn func(Telegram)) {
	s.mu.Lock()
	s.tap = fn
	s.mu.Unlock()
}

// Connected reports whether the underlying connection is up.
func (s *Session) Connected() bool {
	return s.conn.IsConnected()
}

// BindingCount returns the number of live bindings.
func (s *Session) BindingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, list := range s.bindings {
		n += len(list)
	}
	return n
}

// Stats returns the connector's counters.
func (s *Session) Stats() KNXDStats {
	return s.conn.Stats()
}

// Close closes the connector. Bindings stay allocated but never fire again.
func (s *Session) Close() error {
	s.conn.SetOnTelegram(nil)
	return s.conn.Close()
}

func (s *Session) send(ctx context.Context, ga GroupAddress, data []byte) error {
	if !s.conn.IsConnected() {
		return ErrNotConnected
	}
	return s.conn.Send(ctx, ga, data)
}

func (s *Session) sendRead(ctx context.Context, ga GroupAddress) error {
	if !s.conn.IsConnected() {
		return ErrNotConnected
	}
	return s.conn.SendRead(ctx, ga)
}

func (s *Session) unbind(b *Binding) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.bindings[b.ga]
	for i, candidate := range list {
		if candidate == b {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.bindings, b.ga)
	} else {
		s.bindings[b.ga] = list
	}
}

func (s *Session) handleTelegram(t Telegram) {
	s.mu.RLock()
	tap := s.tap
	targets := append([]*Binding(nil), s.bindings[t.Destination]...)
	s.mu.RUnlock()

	if tap != nil {
		tap(t)
	}
	if !t.CarriesValue() {
		return
	}

	for _, b := range targets {
		if err := b.update(t.Data); err != nil && s.logger != nil {
			s.logger.Warn("telegram does not decode for binding",
				"ga", t.Destination.String(),
				"tag", string(b.tag),
				"error", err,
			)
		}
	}
}
