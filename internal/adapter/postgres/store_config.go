package postgres

import (
	"context"
	"fmt"

	"github.com/voxguard/guardian/internal/domain/risk"
)

// --- Guardian configs ---

const configColumns = `agent_id, critical_keywords, high_risk_keywords, medium_risk_keywords, positive_keywords,
	auto_handoff_threshold, positive_alert_threshold, created_at, updated_at`

func scanAgentConfig(row scannable) (risk.AgentConfig, error) {
	var ac risk.AgentConfig
	err := row.Scan(
		&ac.AgentID,
		&ac.Config.CriticalKeywords, &ac.Config.HighRiskKeywords,
		&ac.Config.MediumRiskKeywords, &ac.Config.PositiveKeywords,
		&ac.Config.AutoHandoffThreshold, &ac.Config.PositiveAlertThreshold,
		&ac.CreatedAt, &ac.UpdatedAt,
	)
	return ac, err
}

func (s *Store) GetAgentConfig(ctx context.Context, agentID string) (*risk.AgentConfig, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM guardian_configs WHERE agent_id = $1`, agentID)
	ac, err := scanAgentConfig(row)
	if err != nil {
		return nil, notFoundWrap(err, "get guardian config %s", agentID)
	}
	return &ac, nil
}

func (s *Store) UpsertAgentConfig(ctx context.Context, agentID string, cfg risk.Config) (*risk.AgentConfig, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO guardian_configs (agent_id, critical_keywords, high_risk_keywords, medium_risk_keywords,
		   positive_keywords, auto_handoff_threshold, positive_alert_threshold)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (agent_id) DO UPDATE SET
		   critical_keywords = EXCLUDED.critical_keywords,
		   high_risk_keywords = EXCLUDED.high_risk_keywords,
		   medium_risk_keywords = EXCLUDED.medium_risk_keywords,
		   positive_keywords = EXCLUDED.positive_keywords,
		   auto_handoff_threshold = EXCLUDED.auto_handoff_threshold,
		   positive_alert_threshold = EXCLUDED.positive_alert_threshold,
		   updated_at = NOW()
		 RETURNING `+configColumns,
		agentID,
		pgTextArray(cfg.CriticalKeywords), pgTextArray(cfg.HighRiskKeywords),
		pgTextArray(cfg.MediumRiskKeywords), pgTextArray(cfg.PositiveKeywords),
		cfg.AutoHandoffThreshold, cfg.PositiveAlertThreshold)

	ac, err := scanAgentConfig(row)
	if err != nil {
		return nil, fmt.Errorf("upsert guardian config %s: %w", agentID, err)
	}
	return &ac, nil
}
