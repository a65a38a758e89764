package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxguard/guardian/internal/domain"
	"github.com/voxguard/guardian/internal/domain/risk"
	"github.com/voxguard/guardian/internal/port/cache"
	"github.com/voxguard/guardian/internal/port/database"
)

// DefaultAgentConfigID is used when a session arrives without an
// agent_config_id. A default keyword set is created on first access.
const DefaultAgentConfigID = "default"

const configCacheTTL = 5 * time.Minute

// ConfigService serves per-agent risk keyword configs. Reads go through a
// cache because classification hits the config on every utterance.
type ConfigService struct {
	store database.Store
	cache cache.Cache
}

// NewConfigService creates a ConfigService. cache may be nil to disable caching.
func NewConfigService(store database.Store, c cache.Cache) *ConfigService {
	return &ConfigService{store: store, cache: c}
}

// Get returns the risk config for an agent. An empty agentID falls back to
// the default config, which is created lazily with the stock keyword tiers.
func (s *ConfigService) Get(ctx context.Context, agentID string) (*risk.AgentConfig, error) {
	if agentID == "" {
		agentID = DefaultAgentConfigID
	}

	if cached := s.fromCache(ctx, agentID); cached != nil {
		return cached, nil
	}

	ac, err := s.store.GetAgentConfig(ctx, agentID)
	if errors.Is(err, domain.ErrNotFound) && agentID == DefaultAgentConfigID {
		ac, err = s.store.UpsertAgentConfig(ctx, agentID, risk.DefaultConfig())
	}
	if err != nil {
		return nil, fmt.Errorf("get agent config %s: %w", agentID, err)
	}

	s.toCache(ctx, agentID, ac)
	return ac, nil
}

// Update validates and stores a new config for an agent, then drops the
// cached copy so the next classification sees the new keywords.
func (s *ConfigService) Update(ctx context.Context, agentID string, cfg risk.Config) (*risk.AgentConfig, error) {
	if agentID == "" {
		agentID = DefaultAgentConfigID
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	ac, err := s.store.UpsertAgentConfig(ctx, agentID, cfg)
	if err != nil {
		return nil, fmt.Errorf("upsert agent config %s: %w", agentID, err)
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, configCacheKey(agentID)); err != nil {
			slog.Warn("failed to invalidate config cache", "agent_id", agentID, "error", err)
		}
	}
	return ac, nil
}

func (s *ConfigService) fromCache(ctx context.Context, agentID string) *risk.AgentConfig {
	if s.cache == nil {
		return nil
	}
	data, ok, err := s.cache.Get(ctx, configCacheKey(agentID))
	if err != nil || !ok {
		return nil
	}
	var ac risk.AgentConfig
	if err := json.Unmarshal(data, &ac); err != nil {
		return nil
	}
	return &ac
}

func (s *ConfigService) toCache(ctx context.Context, agentID string, ac *risk.AgentConfig) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(ac)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, configCacheKey(agentID), data, configCacheTTL); err != nil {
		slog.Warn("failed to cache agent config", "agent_id", agentID, "error", err)
	}
}

func configCacheKey(agentID string) string {
	return "agent-config:" + agentID
}
