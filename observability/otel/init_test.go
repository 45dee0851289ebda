package otel

import (
	"context"
	"testing"

	"zkusd/config"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc ,broken, =x,tenant=zk")
	if len(got) != 2 || got["api-key"] != "abc" || got["tenant"] != "zk" {
		t.Fatalf("unexpected headers %v", got)
	}
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "zkusd", "test", config.Telemetry{Traces: true})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), " ", "", config.Telemetry{Enabled: true, Traces: true}); err == nil {
		t.Fatalf("expected error for missing service name")
	}
}
