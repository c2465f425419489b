package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"kharomchat/internal/config"
)

func openTestDB(t *testing.T) *SQLStore {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	store, err := NewSQLStore(db, "sqlite3")
	if err != nil {
		t.Fatalf("new sql store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func exerciseKeyValue(t *testing.T, kv KeyValue) {
	t.Helper()
	ctx := context.Background()

	if _, err := kv.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := kv.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := kv.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "v2" {
		t.Fatalf("want v2, got %q", got)
	}
	if err := kv.Remove(ctx, "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := kv.Remove(ctx, "k"); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
	if _, err := kv.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestMemoryKeyValue(t *testing.T) {
	exerciseKeyValue(t, NewMemory())
}

func TestSQLiteKeyValue(t *testing.T) {
	exerciseKeyValue(t, openTestDB(t))
}

func TestSQLiteStoresUnicode(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	text := `{"text":"แฟนไม่ค่อยมีเวลาให้"}`
	if err := store.Set(ctx, "thai", text); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := store.Get(ctx, "thai")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != text {
		t.Fatalf("unicode mismatch: %q", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"oracle": {DSN: "x"}}}
	if _, err := Open("oracle", cfg); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if _, err := NewSQLStore(nil, "oracle"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestEncryptedSealsValues(t *testing.T) {
	inner := NewMemory()
	enc, err := NewEncrypted(inner, strings.Repeat("a", 32))
	if err != nil {
		t.Fatalf("new encrypted: %v", err)
	}
	exerciseKeyValue(t, enc)

	ctx := context.Background()
	if err := enc.Set(ctx, "secret", "dating advice"); err != nil {
		t.Fatalf("set: %v", err)
	}
	stored, _ := inner.Get(ctx, "secret")
	if strings.Contains(stored, "dating advice") || !strings.HasPrefix(stored, cipherPrefix) {
		t.Fatalf("value stored in plaintext: %q", stored)
	}
	got, err := enc.Get(ctx, "secret")
	if err != nil || got != "dating advice" {
		t.Fatalf("decrypt mismatch: %q %v", got, err)
	}
}

func TestEncryptedReadsLegacyPlaintext(t *testing.T) {
	inner := NewMemory()
	ctx := context.Background()
	_ = inner.Set(ctx, "legacy", `{"id":"1"}`)
	enc, err := NewEncrypted(inner, strings.Repeat("b", 32))
	if err != nil {
		t.Fatalf("new encrypted: %v", err)
	}
	got, err := enc.Get(ctx, "legacy")
	if err != nil || got != `{"id":"1"}` {
		t.Fatalf("legacy value mismatch: %q %v", got, err)
	}
}

func TestEncryptedRejectsTamperedValue(t *testing.T) {
	inner := NewMemory()
	ctx := context.Background()
	enc, err := NewEncrypted(inner, strings.Repeat("c", 32))
	if err != nil {
		t.Fatalf("new encrypted: %v", err)
	}
	_ = inner.Set(ctx, "bad", cipherPrefix+"not-base64!")
	if _, err := enc.Get(ctx, "bad"); err == nil {
		t.Fatalf("expected decrypt error")
	}
}

func TestNewEncryptedRejectsShortKey(t *testing.T) {
	if _, err := NewEncrypted(NewMemory(), "short"); err == nil {
		t.Fatalf("expected key length error")
	}
}
