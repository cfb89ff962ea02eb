package seen

import (
	"context"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	c.Mark(context.Background(), "a", "m")
	if c.Seen(context.Background(), "a", "m") {
		t.Error("Nop: got seen, want unseen")
	}
}

func TestRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	ctx := context.Background()

	ctr, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Logf("terminating container: %v", err)
		}
	})

	endpoint, err := ctr.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	rdb, err := NewClient(ctx, Options{Addr: endpoint})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	c := NewRedis(rdb, time.Minute, nil)
	if c.Seen(ctx, "acct", "m1") {
		t.Fatal("fresh key: got seen")
	}
	c.Mark(ctx, "acct", "m1")
	if !c.Seen(ctx, "acct", "m1") {
		t.Error("marked key: got unseen")
	}
	if c.Seen(ctx, "other", "m1") {
		t.Error("other account: got seen")
	}

	ttl, err := rdb.TTL(ctx, key("acct", "m1")).Result()
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("ttl: got %v, want (0, 1m]", ttl)
	}
}

func TestRedis_Unreachable(t *testing.T) {
	if _, err := NewClient(context.Background(), Options{Addr: "127.0.0.1:1"}); err == nil {
		t.Error("expected ping error for closed port")
	}
}
