package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/voxguard/guardian/internal/domain/risk"
	"github.com/voxguard/guardian/internal/port/cache"
)

var _ cache.Cache = (*memCache)(nil)

type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	gets    int
	deletes int
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.data, key)
	return nil
}

func TestConfigService_DefaultCreatedLazily(t *testing.T) {
	store := newMockStore()
	svc := NewConfigService(store, nil)
	ctx := context.Background()

	ac, err := svc.Get(ctx, "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ac.AgentID != DefaultAgentConfigID {
		t.Errorf("agent id = %q, want default", ac.AgentID)
	}
	if len(ac.Config.CriticalKeywords) == 0 {
		t.Error("default config should carry stock critical keywords")
	}

	// Second lookup returns the stored row, not a fresh default.
	again, err := svc.Get(ctx, DefaultAgentConfigID)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if !again.CreatedAt.Equal(ac.CreatedAt) {
		t.Error("default config should be created once")
	}
}

func TestConfigService_UnknownAgentErrors(t *testing.T) {
	store := newMockStore()
	svc := NewConfigService(store, nil)

	if _, err := svc.Get(context.Background(), "no-such-agent"); err == nil {
		t.Fatal("expected error for unknown non-default agent")
	}
}

func TestConfigService_CacheHitSkipsStore(t *testing.T) {
	store := newMockStore()
	c := newMemCache()
	svc := NewConfigService(store, c)
	ctx := context.Background()

	if _, err := svc.Get(ctx, ""); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if _, err := svc.Get(ctx, ""); err != nil {
		t.Fatalf("second Get: %v", err)
	}

	if len(c.data) != 1 {
		t.Errorf("expected 1 cached entry, got %d", len(c.data))
	}
}

func TestConfigService_UpdateValidatesAndInvalidates(t *testing.T) {
	store := newMockStore()
	c := newMemCache()
	svc := NewConfigService(store, c)
	ctx := context.Background()

	if _, err := svc.Get(ctx, "agent-1"); err == nil {
		t.Fatal("agent-1 should not exist yet")
	}

	cfg := risk.DefaultConfig()
	cfg.MediumRiskKeywords = append(cfg.MediumRiskKeywords, "chargeback")
	ac, err := svc.Update(ctx, "agent-1", cfg)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	found := false
	for _, kw := range ac.Config.MediumRiskKeywords {
		if kw == "chargeback" {
			found = true
		}
	}
	if !found {
		t.Error("updated keywords not persisted")
	}
	if c.deletes != 1 {
		t.Errorf("cache deletes = %d, want 1", c.deletes)
	}

	// Invalid thresholds rejected.
	bad := risk.DefaultConfig()
	bad.AutoHandoffThreshold = -2
	if _, err := svc.Update(ctx, "agent-1", bad); err == nil {
		t.Fatal("expected validation error for out-of-range threshold")
	}
}
