package ledger

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	sig := "0xtest-" + time.Now().Format("150405.000000")
	rec := Record{
		Signature: sig,
		Payer:     "0xpayer",
		GithubURL: "https://github.com/acme/demo",
		Outcome:   OutcomeConfirmed,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := Bind(ctx, store, sig, "job-1", time.Now().UTC()); err != nil {
		t.Fatalf("bind: %v", err)
	}

	got, err := store.Get(ctx, sig)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.JobID != "job-1" || got.Outcome != OutcomeConsumed {
		t.Fatalf("unexpected record: %#v", got)
	}
}

func TestRedisStoreLifecycle(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewRedisStore(ctx, addr)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	sig := "0xredis-" + time.Now().Format("150405.000000")
	if err := store.Save(ctx, Record{Signature: sig, Outcome: OutcomeUnknown}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Get(ctx, sig)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Outcome != OutcomeUnknown {
		t.Fatalf("unexpected record: %#v", got)
	}
}
