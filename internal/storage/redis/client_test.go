package redis

import (
	"context"
	"testing"
)

func TestKey(t *testing.T) {
	if got := Key("", "account", "0xabc"); got != "safeswap:account:0xabc" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := Key("app:", "lock", "0xabc"); got != "app:lock:0xabc" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestNewClientRequiresAddress(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty address")
	}
}
