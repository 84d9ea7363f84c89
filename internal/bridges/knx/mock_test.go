package knx

import (
	"context"
	"sync"
)

type sentTelegram struct {
	GA   GroupAddress
	Data []byte
}

// MockConnector implements Connector for testing.
type MockConnector struct {
	mu         sync.Mutex
	connected  bool
	sent       []sentTelegram
	reads      []GroupAddress
	sendErr    error
	onTelegram func(Telegram)
}

func NewMockConnector() *MockConnector {
	return &MockConnector{connected: true}
}

func (m *MockConnector) Send(_ context.Context, ga GroupAddress, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentTelegram{GA: ga, Data: data})
	return nil
}

func (m *MockConnector) SendRead(_ context.Context, ga GroupAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = append(m.reads, ga)
	return nil
}

func (m *MockConnector) SetOnTelegram(callback func(Telegram)) {
	m.mu.Lock()
	m.onTelegram = callback
	m.mu.Unlock()
}

func (m *MockConnector) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockConnector) SetConnected(connected bool) {
	m.mu.Lock()
	m.connected = connected
	m.mu.Unlock()
}

func (m *MockConnector) Stats() KNXDStats {
	return KNXDStats{Connected: m.IsConnected()}
}

func (m *MockConnector) Close() error {
	m.SetConnected(false)
	return nil
}

func (m *MockConnector) Sent() []sentTelegram {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentTelegram(nil), m.sent...)
}

// SimulateWrite delivers a group write as if it came from the bus.
func (m *MockConnector) SimulateWrite(address string, data []byte) {
	ga, err := ParseGroupAddress(address)
	if err != nil {
		panic(err)
	}
	m.mu.Lock()
	callback := m.onTelegram
	m.mu.Unlock()
	if callback != nil {
		callback(Telegram{Source: "1.1.1", Destination: ga, APCI: APCIWrite, Data: data})
	}
}
