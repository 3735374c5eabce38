//go:build integration
// +build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/kjstillabower/crop-advisor/internal/models"
)

// Requires memcached on localhost:11211; skips when it is not running.
func TestMemcachedCache_GetSet_Integration(t *testing.T) {
	c, err := NewMemcachedCache("localhost:11211", 500*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewMemcachedCache() error = %v", err)
	}
	defer c.Close()
	if err := c.Ping(); err != nil {
		t.Skipf("memcached not reachable: %v", err)
	}

	ctx := context.Background()
	val := models.Location{Query: "São Paulo", DisplayName: "São Paulo, Brasil", Latitude: "-23.55", Longitude: "-46.63"}
	if err := c.Set(ctx, Key(val.Query), val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, Key("são paulo "))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got != val {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

func TestMemcachedCache_Get_Miss_Integration(t *testing.T) {
	c, err := NewMemcachedCache("localhost:11211", 500*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewMemcachedCache() error = %v", err)
	}
	defer c.Close()

	_, ok, err := c.Get(context.Background(), "no such city")
	if err != nil {
		t.Skipf("Get failed (memcached may not be running): %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}
