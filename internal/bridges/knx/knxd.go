package knx

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultKNXDPort          = 6720
	defaultConnectTimeout    = 10 * time.Second
	defaultReadTimeout       = 30 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultReconnectInterval = 5 * time.Second
	maxReconnectInterval     = 2 * time.Minute

	frameBodyTimeout         = 2 * time.Second

	readBufferSize = 256
	dispatchQueue  = 256
)

var errIdle = errors.New("knx: no frame before read deadline")

// KNXDConfig describes how to reach the knxd gateway.
//
//nolint:revive // KNXDConfig reads better than DConfig at call sites
type KNXDConfig struct {
	// Connection is "tcp://host:port" or "unix:///run/knxd".
	Connection string

	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	ReconnectInterval time.Duration
}

// GatewayURL builds a TCP connection string for a gateway host. A zero
// port selects the knxd default.
func GatewayURL(host string, port int) string {
	if port == 0 {
		port = defaultKNXDPort
	}
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// KNXDStats holds counters for health reporting.
//
//nolint:revive // see KNXDConfig
type KNXDStats struct {
	TelegramsTx      uint64    `json:"telegrams_tx"`
	TelegramsRx      uint64    `json:"telegrams_rx"`
	TelegramsDropped uint64    `json:"telegrams_dropped"`
	ErrorsTotal      uint64    `json:"errors_total"`
	ReconnectsTotal  uint64    `json:"reconnects_total"`
	LastActivity     time.Time `json:"last_activity"`
	Connected        bool      `json:"connected"`
}

// Logger is the logging surface used by this package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Connector is a group socket to the bus.
type Connector interface {
	Send(ctx context.Context, ga GroupAddress, data []byte) error
	SendRead(ctx context.Context, ga GroupAddress) error
	SetOnTelegram(callback func(Telegram))
	IsConnected() bool
	Stats() KNXDStats
	Close() error
}

var _ Connector = (*KNXDClient)(nil)

// KNXDClient is a group socket connection to knxd.
//
// Received telegrams are handed to the callback by a single goroutine in
// arrival order, so listeners observe bus order. A lost connection is
// re-established with exponential backoff until Close is called.
//
//nolint:revive // see KNXDConfig
type KNXDClient struct {
	cfg     KNXDConfig
	network string
	address string

	connMu    sync.RWMutex
	conn      net.Conn
	connected bool

	callbackMu sync.RWMutex
	onTelegram func(Telegram)
	queue      chan Telegram

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	loggerMu sync.RWMutex
	logger   Logger

	telegramsTx      atomic.Uint64
	telegramsRx      atomic.Uint64
	telegramsDropped atomic.Uint64
	errorsTotal      atomic.Uint64
	reconnectsTotal  atomic.Uint64
	lastActivity     atomic.Int64
}

// Connect dials knxd, opens a group socket and starts receiving.
func Connect(ctx context.Context, cfg KNXDConfig) (*KNXDClient, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}

	network, address, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &KNXDClient{
		cfg:     cfg,
		network: network,
		address: address,
		queue:   make(chan Telegram, dispatchQueue),
		done:    make(chan struct{}),
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := c.open(dialCtx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.wg.Add(2) //nolint:mnd // dispatcher + receiver
	go c.dispatchLoop()
	go c.receiveLoop()
	return c, nil
}

func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid connection URL: %w", err)
	}
	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		if u.Host == "" {
			return "", "", errors.New("tcp connection URL has no host")
		}
		if u.Port() == "" {
			return "tcp", net.JoinHostPort(u.Hostname(), strconv.Itoa(defaultKNXDPort)), nil
		}
		return "tcp", u.Host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use tcp or unix)", u.Scheme)
	}
}

// open dials and performs the EIB_OPEN_GROUPCON handshake.
func (c *KNXDClient) open(ctx context.Context) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, c.network, c.address)
	if err != nil {
		return fmt.Errorf("dial %s %s: %w", c.network, c.address, err)
	}

	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := openGroupCon(conn, deadline); err != nil {
		conn.Close()
		return fmt.Errorf("group socket handshake: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connected = true
	c.connMu.Unlock()
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// openGroupCon requests a read/write group socket (write_only = 0) and
// waits for knxd to acknowledge with the same message type.
func openGroupCon(conn net.Conn, deadline time.Time) error {
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}
	defer conn.SetDeadline(time.Time{}) //nolint:errcheck // best effort reset

	if _, err := conn.Write(EncodeKNXDMessage(EIBOpenGroupCon, []byte{0x00, 0x00, 0x00})); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	buf := make([]byte, readBufferSize)
	msgType, _, err := readFrame(conn, buf)
	if err != nil {
		return err
	}
	if msgType != EIBOpenGroupCon {
		return fmt.Errorf("unexpected response type 0x%04X", msgType)
	}
	return nil
}

// readFrame reads one size-prefixed knxd frame into buf. A frame larger
// than buf cannot be skipped safely and yields ErrProtocolDesync.
func readFrame(r io.Reader, buf []byte) (uint16, []byte, error) {
	if _, err := io.ReadFull(r, buf[:2]); err != nil {
		return 0, nil, fmt.Errorf("read size: %w", err)
	}
	return readFrameBody(r, buf)
}

// readFrameBody reads the remainder of a frame whose size prefix is
// already in buf[:2].
func readFrameBody(r io.Reader, buf []byte) (uint16, []byte, error) {
	size := int(binary.BigEndian.Uint16(buf[:2]))
	if size < 2 { //nolint:mnd // type field
		return 0, nil, fmt.Errorf("%w: frame size %d", ErrProtocolDesync, size)
	}
	total := 2 + size
	if total > len(buf) {
		return 0, nil, fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrProtocolDesync, total, len(buf))
	}
	if _, err := io.ReadFull(r, buf[2:total]); err != nil {
		return 0, nil, fmt.Errorf("read frame: %w", err)
	}
	return ParseKNXDMessage(buf[:total])
}

// nextFrame waits up to idle for the next frame to start, then allows
// body for the rest of it. Running out of idle before any byte arrives
// returns errIdle. A timeout after the first byte leaves the stream at an
// unknown offset and returns ErrProtocolDesync.
func nextFrame(conn net.Conn, buf []byte, idle, body time.Duration) (uint16, []byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
		return 0, nil, err
	}
	n, err := io.ReadFull(conn, buf[:2])
	if err != nil {
		if isTimeout(err) {
			if n == 0 {
				return 0, nil, errIdle
			}
			return 0, nil, fmt.Errorf("%w: size prefix cut short: %w", ErrProtocolDesync, err)
		}
		return 0, nil, fmt.Errorf("read size: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(body)); err != nil {
		return 0, nil, err
	}
	msgType, payload, err := readFrameBody(conn, buf)
	if err != nil && isTimeout(err) {
		return 0, nil, fmt.Errorf("%w: frame body cut short: %w", ErrProtocolDesync, err)
	}
	return msgType, payload, err
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *KNXDClient) receiveLoop() {
	defer c.wg.Done()
	buf := make([]byte, readBufferSize)

	for !c.isClosed() {
		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()

		if conn == nil {
			if !c.reconnect() {
				return
			}
			continue
		}

		msgType, payload, err := nextFrame(conn, buf, c.cfg.ReadTimeout, frameBodyTimeout)
		if err != nil {
			if errors.Is(err, errIdle) {
				continue
			}
			if !c.isClosed() {
				c.dropConnection(err)
			}
			continue
		}

		if msgType == EIBGroupPacket {
			c.handleGroupPacket(payload)
		}
	}
}

func (c *KNXDClient) handleGroupPacket(payload []byte) {
	t, err := ParseTelegram(payload)
	if err != nil {
		c.errorsTotal.Add(1)
		c.logError("parse telegram failed", err)
		return
	}
	c.telegramsRx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	select {
	case c.queue <- t:
	default:
		c.telegramsDropped.Add(1)
		c.logWarn("dispatch queue full, dropping telegram", "ga", t.Destination.String())
	}
}

func (c *KNXDClient) dispatchLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case t := <-c.queue:
			c.callbackMu.RLock()
			callback := c.onTelegram
			c.callbackMu.RUnlock()
			if callback != nil {
				c.deliver(callback, t)
			}
		}
	}
}

func (c *KNXDClient) deliver(callback func(Telegram), t Telegram) {
	defer func() {
		if r := recover(); r != nil {
			c.logError("telegram callback panic", fmt.Errorf("%v", r))
		}
	}()
	callback(t)
}

func (c *KNXDClient) dropConnection(cause error) {
	c.errorsTotal.Add(1)
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	if wasConnected {
		c.logWarn("connection lost, reconnecting", "error", cause)
	}
}

// reconnect retries open with exponential backoff. It returns false once
// the client is closed.
func (c *KNXDClient) reconnect() bool {
	backoff := c.cfg.ReconnectInterval
	for attempt := 1; ; attempt++ {
		select {
		case <-c.done:
			return false
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		err := c.open(ctx)
		cancel()
		if err == nil {
			c.reconnectsTotal.Add(1)
			c.logInfo("reconnected to knxd", "attempts", attempt)
			return true
		}

		c.errorsTotal.Add(1)
		c.logError("reconnect failed", err)
		backoff = min(time.Duration(float64(backoff)*1.5), maxReconnectInterval) //nolint:mnd // backoff factor
	}
}

func (c *KNXDClient) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close stops the receiver and closes the socket. Safe to call twice.
func (c *KNXDClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.connMu.Lock()
		c.connected = false
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
		c.wg.Wait()
		c.logInfo("knxd connection closed")
	})
	return nil
}

// Send writes data to a group address.
func (c *KNXDClient) Send(ctx context.Context, ga GroupAddress, data []byte) error {
	return c.send(ctx, NewWriteTelegram(ga, data))
}

// SendRead asks the devices on a group address to report their value.
func (c *KNXDClient) SendRead(ctx context.Context, ga GroupAddress) error {
	return c.send(ctx, NewReadTelegram(ga))
}

func (c *KNXDClient) send(ctx context.Context, t Telegram) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTelegramFailed, err)
	}

	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if !c.connected || c.conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %w", ErrTelegramFailed, err)
	}
	if _, err := c.conn.Write(EncodeKNXDMessage(EIBGroupPacket, t.Encode())); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrTelegramFailed, err)
	}

	c.telegramsTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// SetOnTelegram installs the receive callback.
func (c *KNXDClient) SetOnTelegram(callback func(Telegram)) {
	c.callbackMu.Lock()
	c.onTelegram = callback
	c.callbackMu.Unlock()
}

// SetLogger installs a logger. Nil disables logging.
func (c *KNXDClient) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *KNXDClient) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *KNXDClient) Stats() KNXDStats {
	return KNXDStats{
		TelegramsTx:      c.telegramsTx.Load(),
		TelegramsRx:      c.telegramsRx.Load(),
		TelegramsDropped: c.telegramsDropped.Load(),
		ErrorsTotal:      c.errorsTotal.Load(),
		ReconnectsTotal:  c.reconnectsTotal.Load(),
		LastActivity:     time.Unix(c.lastActivity.Load(), 0),
		Connected:        c.IsConnected(),
	}
}

func (c *KNXDClient) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *KNXDClient) logInfo(msg string, kv ...any) {
	if l := c.log(); l != nil {
		l.Info(msg, kv...)
	}
}

func (c *KNXDClient) logWarn(msg string, kv ...any) {
	if l := c.log(); l != nil {
		l.Warn(msg, kv...)
	}
}

func (c *KNXDClient) logError(msg string, err error) {
	if l := c.log(); l != nil {
		l.Error(msg, "error", err)
	}
}
