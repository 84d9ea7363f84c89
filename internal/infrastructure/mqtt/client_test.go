package mqtt

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/fora-knx-bridge/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "foraknx-test",
		},
		Auth: config.MQTTAuthConfig{
			Username: "app:app-1",
			Password: "secret",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{AppID: "app-1"}
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Online", topics.Online(), "apps/app-1/online"},
		{"Log", topics.Log(), "apps/app-1/log"},
		{"Command", topics.Command(), "apps/app-1/command"},
		{"Notify", topics.Notify(), "apps/app-1/notify"},
		{"DatapointStatus", topics.DatapointStatus("dp-9"), "dps/dp-9"},
		{"DatapointControl", topics.DatapointControl("dp-9"), "dps/dp-9/control"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s() = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestBrokerURL(t *testing.T) {
	cfg := testConfig()
	if got := brokerURL(cfg); got != "tcp://127.0.0.1:1883" {
		t.Errorf("brokerURL() = %q", got)
	}
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	if got := brokerURL(cfg); got != "ssl://127.0.0.1:8883" {
		t.Errorf("brokerURL(tls) = %q", got)
	}
}

func TestClientOptions(t *testing.T) {
	c := newClient(testConfig(), "app-1")
	opts := c.options

	if opts.ClientID != "foraknx-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "app:app-1" || opts.Password != "secret" {
		t.Errorf("credentials = %q / %q", opts.Username, opts.Password)
	}
	if !opts.WillEnabled || opts.WillTopic != "apps/app-1/online" || string(opts.WillPayload) != PayloadOffline || !opts.WillRetained {
		t.Errorf("will = %v %q %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillPayload, opts.WillRetained)
	}
	if len(opts.Servers) != 1 || !strings.HasPrefix(opts.Servers[0].String(), "tcp://") {
		t.Errorf("Servers = %v", opts.Servers)
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := newClient(testConfig(), "app-1")
	handler := func(string, []byte) error { return nil }

	if c.IsConnected() {
		t.Fatal("IsConnected() = true before Connect")
	}
	if err := c.Publish("dps/x", []byte("1"), 1, true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("dps/x/control", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.Unsubscribe("dps/x/control"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestConnectRequiresAppID(t *testing.T) {
	if _, err := Connect(testConfig(), ""); !errors.Is(err, ErrMissingAppID) {
		t.Fatalf("Connect() error = %v, want ErrMissingAppID", err)
	}
}

func TestInputValidation(t *testing.T) {
	c := newClient(testConfig(), "app-1")
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish empty topic", c.Publish("", nil, 0, false), ErrInvalidTopic},
		{"publish bad qos", c.Publish("t", nil, 3, false), ErrInvalidQoS},
		{"publish oversized", c.Publish("t", make([]byte, maxPayloadSize+1), 0, false), ErrPublishFailed},
		{"subscribe empty topic", c.Subscribe("", 0, handler), ErrInvalidTopic},
		{"subscribe bad qos", c.Subscribe("t", 3, handler), ErrInvalidQoS},
		{"subscribe nil handler", c.Subscribe("t", 0, nil), ErrSubscribeFailed},
		{"unsubscribe empty topic", c.Unsubscribe(""), ErrInvalidTopic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	c := newClient(testConfig(), "app-1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

type recordingLogger struct {
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.warns = append(l.warns, msg) }

func TestDeliverRecoversAndLogs(t *testing.T) {
	c := newClient(testConfig(), "app-1")
	logger := &recordingLogger{}
	c.SetLogger(logger)

	c.deliver(func(string, []byte) error { panic("boom") }, "t", nil)
	c.deliver(func(string, []byte) error { return errors.New("bad payload") }, "t", nil)

	if len(logger.errors) != 1 || len(logger.warns) != 1 {
		t.Errorf("errors = %v, warns = %v", logger.errors, logger.warns)
	}
}
