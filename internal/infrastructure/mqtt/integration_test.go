//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"
)

// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func connectTest(t *testing.T, clientID string) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("broker test skipped in short mode")
	}
	cfg := testConfig()
	cfg.Auth.Username = ""
	cfg.Broker.ClientID = clientID

	client, err := Connect(cfg, "app-int")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client := connectTest(t, "foraknx-int-sub-track")
	handler := func(string, []byte) error { return nil }

	for _, topic := range []string{"dps/a/control", "dps/b/control"} {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if got := client.Subscribed(); len(got) != 2 {
		t.Errorf("Subscribed() = %v", got)
	}

	if err := client.Unsubscribe("dps/a/control"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if got := client.Subscribed(); len(got) != 1 || got[0] != "dps/b/control" {
		t.Errorf("Subscribed() after Unsubscribe() = %v", got)
	}
}

func TestIntegration_PresenceIsRetained(t *testing.T) {
	_ = connectTest(t, "foraknx-int-presence")
	observer := connectTest(t, "foraknx-int-observer")

	got := make(chan string, 1)
	var once sync.Once
	err := observer.Subscribe(Topics{AppID: "app-int"}.Online(), 1, func(_ string, p []byte) error {
		once.Do(func() { got <- string(p) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case payload := <-got:
		if payload != PayloadOnline {
			t.Errorf("online = %q, want %q", payload, PayloadOnline)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for retained presence")
	}
}

func TestIntegration_MessageRoundtrip(t *testing.T) {
	pub := connectTest(t, "foraknx-int-pub")
	sub := connectTest(t, "foraknx-int-sub")

	topic := sub.Topics().DatapointStatus("int-roundtrip")
	received := make(chan string, 1)
	var once sync.Once

	err := sub.Subscribe(topic, 1, func(_ string, p []byte) error {
		once.Do(func() { received <- string(p) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := pub.Publish(topic, []byte("21.50"), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != "21.50" {
			t.Errorf("received = %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for message")
	}
}
