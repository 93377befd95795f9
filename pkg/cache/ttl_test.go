package cache

import (
	"context"
	"testing"
	"time"
)

type route struct {
	Text string `json:"text"`
}

func TestTTLCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache(2, time.Minute)

	var got route
	if ok, _ := c.Get(ctx, "a", &got); ok {
		t.Fatal("hit on empty cache")
	}

	if err := c.Set(ctx, "a", route{Text: "5 km"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	ok, err := c.Get(ctx, "a", &got)
	if err != nil || !ok {
		t.Fatalf("get = %v, %v; want hit", ok, err)
	}
	if got.Text != "5 km" {
		t.Errorf("value = %q, want 5 km", got.Text)
	}
}

func TestTTLCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache(2, time.Minute)
	var v route

	_ = c.Set(ctx, "a", route{Text: "a"})
	_ = c.Set(ctx, "b", route{Text: "b"})
	c.Get(ctx, "a", &v) // a is now most recent
	_ = c.Set(ctx, "c", route{Text: "c"})

	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
	if ok, _ := c.Get(ctx, "b", &v); ok {
		t.Error("b should have been evicted")
	}
	if ok, _ := c.Get(ctx, "a", &v); !ok {
		t.Error("a should have survived")
	}
}

func TestTTLCache_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	c := NewTTLCache(10, time.Minute)
	c.now = func() time.Time { return now }

	_ = c.Set(ctx, "a", route{Text: "a"})
	now = now.Add(59 * time.Second)
	var v route
	if ok, _ := c.Get(ctx, "a", &v); !ok {
		t.Fatal("entry expired early")
	}

	now = now.Add(time.Second)
	if ok, _ := c.Get(ctx, "a", &v); ok {
		t.Fatal("entry served after ttl")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not dropped, len = %d", c.Len())
	}
}
