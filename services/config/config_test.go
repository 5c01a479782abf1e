// services/config/config_test.go
package config

import (
	"context"
	"testing"
	"time"

	"softuart-go/bus"
	"softuart-go/services/softuart"
)

func TestPublishEmbeddedRetainedPerKey(t *testing.T) {
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) {
		if device != "bench" {
			return nil, false
		}
		return []byte(`{
			"mode": "dev",
			"debug": true,
			"softuart": {"pin": 17}
		}`), true
	}
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	ctx := context.WithValue(context.Background(), CtxDeviceKey, "bench")
	NewConfigService().Start(ctx, conn, nil)

	sub := conn.Subscribe(bus.T(configPrefix, bus.MultiWild))
	got := map[string]any{}
	deadline := time.Now().Add(600 * time.Millisecond)
	for len(got) < 3 && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			if len(m.Topic) != 2 || m.Topic[0] != configPrefix {
				t.Fatalf("unexpected topic %#v", m.Topic)
			}
			key, ok := m.Topic[1].(string)
			if !ok {
				t.Fatalf("topic[1] type %T", m.Topic[1])
			}
			got[key] = m.Payload
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(got) != 3 {
		t.Fatalf("got %d retained keys (%v)", len(got), got)
	}
	if s, _ := got["mode"].(string); s != "dev" {
		t.Fatalf("mode = %#v", got["mode"])
	}
	if v, _ := got["debug"].(bool); !v {
		t.Fatalf("debug = %#v", got["debug"])
	}
	cfg, err := softuart.ParseConfig(got["softuart"])
	if err != nil || cfg.Pin != 17 || cfg.Baud != softuart.DefaultBaud {
		t.Fatalf("softuart config = %+v, %v", cfg, err)
	}
}

func TestEmbeddedBoardsParse(t *testing.T) {
	for _, board := range Boards() {
		b := bus.NewBus(4)
		conn := b.NewConnection("test")
		ctx := context.WithValue(context.Background(), CtxDeviceKey, board)
		if err := NewConfigService().Publish(ctx, conn); err != nil {
			t.Fatalf("%s: %v", board, err)
		}
		sub := conn.Subscribe(bus.T(configPrefix, "softuart"))
		select {
		case m := <-sub.Channel():
			if _, err := softuart.ParseConfig(m.Payload); err != nil {
				t.Fatalf("%s: %v", board, err)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("%s: no softuart config", board)
		}
	}
}

func TestPublishConfigMissingDevice(t *testing.T) {
	conn := bus.NewBus(4).NewConnection("test-missing-device")
	if err := NewConfigService().publishConfig(context.Background(), conn); err == nil {
		t.Fatal("expected error for missing device ID")
	}
}

func TestPublishConfigNoConfigFound(t *testing.T) {
	conn := bus.NewBus(4).NewConnection("test-no-config")
	ctx := context.WithValue(context.Background(), CtxDeviceKey, "unknown-board")
	if err := NewConfigService().publishConfig(ctx, conn); err == nil {
		t.Fatal("expected error for missing embedded config")
	}
}
