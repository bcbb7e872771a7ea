package cache

import (
	"testing"
	"time"
)

func TestGetSet(t *testing.T) {
	c := New[int](time.Minute, 0)
	c.Set("a", 1)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %v, %v; want 1, true", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) reported a hit")
	}
}

func TestExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := New[string](time.Second, 0)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	now = now.Add(2 * time.Second)

	if _, ok := c.Get("k"); ok {
		t.Error("expired entry still returned")
	}
}

func TestEvictionWhenFull(t *testing.T) {
	now := time.Unix(1000, 0)
	c := New[int](time.Minute, 2)
	c.now = func() time.Time { return now }

	c.Set("first", 1)
	now = now.Add(time.Second)
	c.Set("second", 2)
	now = now.Add(time.Second)
	c.Set("third", 3)

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if _, ok := c.Get("first"); ok {
		t.Error("oldest entry was not evicted")
	}
	if _, ok := c.Get("third"); !ok {
		t.Error("newest entry missing")
	}
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	c := New[int](time.Minute, 1)
	c.Set("a", 1)
	c.Set("a", 2)

	if v, _ := c.Get("a"); v != 2 {
		t.Errorf("Get(a) = %d, want 2", v)
	}
}

func TestClear(t *testing.T) {
	c := New[int](time.Minute, 0)
	c.Set("a", 1)
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
}
