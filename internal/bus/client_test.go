package bus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/riffscribe/riffcore/internal/config"
	"github.com/riffscribe/riffcore/internal/natsserver"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func connect(t *testing.T) *Client {
	t.Helper()
	cfg := config.BusConfig{Embedded: true, Port: -1, ConnectTimeout: 2000}
	srv, err := natsserver.Start(cfg, testLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg.Servers = []string{srv.ClientURL()}
	client, err := Connect(cfg, "bus-test", testLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestConnectRequiresServers(t *testing.T) {
	_, err := Connect(config.BusConfig{}, "bus-test", testLogger())
	if !errors.Is(err, ErrNoServers) {
		t.Fatalf("expected ErrNoServers, got %v", err)
	}
}

func TestPublishJSONAndRequest(t *testing.T) {
	client := connect(t)
	if !client.Healthy() {
		t.Fatal("expected healthy connection")
	}

	got := make(chan *nats.Msg, 1)
	if _, err := client.Conn().ChanSubscribe("riffcore.test.events", got); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := client.Conn().Subscribe("riffcore.test.echo", func(m *nats.Msg) {
		_ = m.Respond(append([]byte("echo:"), m.Data...))
	}); err != nil {
		t.Fatalf("subscribe echo: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := client.PublishJSON("riffcore.test.events", map[string]int{"notes": 3}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-got:
		var body map[string]int
		if err := json.Unmarshal(msg.Data, &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["notes"] != 3 {
			t.Fatalf("unexpected payload %s", msg.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := client.Request(ctx, "riffcore.test.echo", []byte("riff"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if string(reply) != "echo:riff" {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestPublishJSONRejectsUnencodable(t *testing.T) {
	client := connect(t)
	if err := client.PublishJSON("riffcore.test.events", make(chan int)); err == nil {
		t.Fatal("expected encode error")
	}
}
