package knx

import (
	"context"
	"fmt"
	"sync"
)

// Change is a value transition observed on a binding. Old is nil for the
// first value seen after the binding was created.
type Change struct {
	Old any
	New any
}

// Initial reports whether this is the first value after bind, which
// reflects existing bus state rather than a real transition.
func (c Change) Initial() bool {
	return c.Old == nil
}

// Subscription is returned by Observe; Cancel detaches the listener.
type Subscription interface {
	Cancel()
}

type observer struct {
	id uint64
	fn func(Change)
}

// Binding associates one group address with one encoding.
//
// It caches the last decoded value and notifies observers, in
// registration order, whenever a received value differs from it.
type Binding struct {
	session *Session
	ga      GroupAddress
	tag     Tag

	mu        sync.Mutex
	value     any
	observers []observer
	nextID    uint64
	closed    bool
}

// Address returns the bound group address.
func (b *Binding) Address() GroupAddress { return b.ga }

// Tag returns the binding's encoding.
func (b *Binding) Tag() Tag { return b.tag }

// Value returns the last decoded value, or nil if none has been seen.
func (b *Binding) Value() any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

// Observe registers fn for value changes.
func (b *Binding) Observe(fn func(Change)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.observers = append(b.observers, observer{id: id, fn: fn})
	return &subscription{binding: b, id: id}
}

// Write encodes value with the binding's tag and sends it to the bus.
func (b *Binding) Write(ctx context.Context, value any) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBindingClosed
	}

	data, err := b.tag.Encode(value)
	if err != nil {
		return fmt.Errorf("write %s: %w", b.ga, err)
	}
	if err := b.session.send(ctx, b.ga, data); err != nil {
		return fmt.Errorf("write %s: %w", b.ga, err)
	}
	return nil
}

// Read asks the bus for the current value. The answer arrives as a
// regular change.
func (b *Binding) Read(ctx context.Context) error {
	return b.session.sendRead(ctx, b.ga)
}

// Close drops all observers and detaches the binding from its session.
func (b *Binding) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.observers = nil
	b.mu.Unlock()

	b.session.unbind(b)
}

func (b *Binding) update(data []byte) error {
	value, err := b.tag.Decode(data)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed || (b.value != nil && b.value == value) {
		b.mu.Unlock()
		return nil
	}
	change := Change{Old: b.value, New: value}
	b.value = value
	observers := append([]observer(nil), b.observers...)
	b.mu.Unlock()

	for _, o := range observers {
		o.fn(change)
	}
	return nil
}

func (b *Binding) cancel(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, o := range b.observers {
		if o.id == id {
			b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
			return
		}
	}
}

type subscription struct {
	binding *Binding
	id      uint64
	once    sync.Once
}

func (s *subscription) Cancel() {
	s.once.Do(func() { s.binding.cancel(s.id) })
}
