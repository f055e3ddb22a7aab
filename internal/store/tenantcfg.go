package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/worksafe/risk-engine/internal/db"
	"github.com/worksafe/risk-engine/internal/tenantcfg"
)

// TenantLoader reads tenant configuration documents. Stored config is an
// overlay: absent fields fall back to the stock defaults, so onboarding a
// tenant needs only the knobs that differ.
type TenantLoader struct {
	pool db.Pool
}

var _ tenantcfg.Loader = (*TenantLoader)(nil)

// tenantConfigDoc is the JSONB shape of a stored overlay.
type tenantConfigDoc struct {
	Families   map[tenantcfg.Role]tenantcfg.Family                  `json:"families,omitempty"`
	Thresholds map[tenantcfg.RankingLevel]tenantcfg.RankingThresholds `json:"thresholds,omitempty"`
	Weights    map[tenantcfg.RankingLevel]tenantcfg.AggregationWeights `json:"weights,omitempty"`

	Contractor    *tenantcfg.ContractorParams    `json:"contractor,omitempty"`
	Engagement    *tenantcfg.EngagementParams    `json:"engagement,omitempty"`
	SafetyClimate *tenantcfg.SafetyClimateParams `json:"safety_climate,omitempty"`
	TaskClimate   *tenantcfg.TaskClimateParams   `json:"task_climate,omitempty"`

	StochasticSignals     []string `json:"stochastic_signals,omitempty"`
	WebhookURL            string   `json:"webhook_url,omitempty"`
	EnabledSiteConditions []string `json:"enabled_site_conditions,omitempty"`
}

func (l *TenantLoader) LoadTenantConfig(ctx context.Context, tenantID uuid.UUID) (*tenantcfg.TenantConfig, error) {
	var data []byte
	err := l.pool.QueryRow(ctx,
		`SELECT data FROM tenant_configurations WHERE tenant_id = $1`, tenantID).
		Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "tenantcfg: load %s", tenantID)
	}

	var doc tenantConfigDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "tenantcfg: unmarshal %s", tenantID)
	}

	cfg := tenantcfg.Defaults(tenantID)
	for role, family := range doc.Families {
		cfg.Families[role] = family
	}
	for level, t := range doc.Thresholds {
		cfg.Thresholds[level] = t
	}
	for level, w := range doc.Weights {
		cfg.Weights[level] = w
	}
	if doc.Contractor != nil {
		cfg.Contractor = *doc.Contractor
	}
	if doc.Engagement != nil {
		cfg.Engagement = *doc.Engagement
	}
	if doc.SafetyClimate != nil {
		cfg.SafetyClimate = *doc.SafetyClimate
	}
	if doc.TaskClimate != nil {
		cfg.TaskClimate = *doc.TaskClimate
	}
	if doc.StochasticSignals != nil {
		cfg.StochasticSignals = doc.StochasticSignals
	}
	cfg.WebhookURL = doc.WebhookURL
	if doc.EnabledSiteConditions != nil {
		cfg.EnabledSiteConditions = doc.EnabledSiteConditions
	}
	return cfg, nil
}

// SaveTenantConfig upserts a tenant's overlay document. The admin write
// path invalidates the in-process cache after calling this.
func (l *TenantLoader) SaveTenantConfig(ctx context.Context, tenantID uuid.UUID, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "tenantcfg: marshal overlay")
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO tenant_configurations (tenant_id, data, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (tenant_id) DO UPDATE SET data = $2, updated_at = now()`,
		tenantID, data)
	return eris.Wrapf(err, "tenantcfg: save %s", tenantID)
}

// ListTenantIDs returns every tenant with a stored configuration.
func (l *TenantLoader) ListTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := l.pool.Query(ctx, `SELECT tenant_id FROM tenant_configurations ORDER BY tenant_id`)
	if err != nil {
		return nil, eris.Wrap(err, "tenantcfg: list tenants")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "tenantcfg: scan tenant id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "tenantcfg: list tenants iterate")
}
