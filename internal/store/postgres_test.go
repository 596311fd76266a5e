package store

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestComputeDedupKeyFromID(t *testing.T) {
	body := []byte(`{"id":"evt_123","type":"x"}`)
	got := computeDedupKey(body)
	if got != "evt_123" {
		t.Fatalf("want evt_123, got %s", got)
	}
}

func TestComputeDedupKeyFromHash(t *testing.T) {
	body := []byte(`{"notId":"x"}`)
	got := computeDedupKey(body)
	// hex-encoded first 8 bytes -> 16 hex chars
	b, err := hex.DecodeString(got)
	if err != nil {
		t.Fatalf("invalid hex: %v", err)
	}
	if len(b) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(b))
	}
}

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	names, err := migrationNames(migrations)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(names) == 0 || names[0] != "0001_init.sql" {
		t.Fatalf("unexpected migrations: %v", names)
	}
	body, err := migrations.ReadFile("migrations/" + names[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"missions", "legs", "subscriptions", "webhook_deliveries", "webhook_dlq"} {
		if !strings.Contains(string(body), "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Fatalf("migration does not create %s", table)
		}
	}
}
