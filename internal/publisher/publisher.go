// Package publisher diffs current rankings against the last-published
// ledger and posts the changes to each tenant's integration webhook.
package publisher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/worksafe/risk-engine/internal/config"
	"github.com/worksafe/risk-engine/internal/metrics"
	"github.com/worksafe/risk-engine/internal/model"
	"github.com/worksafe/risk-engine/internal/ranking"
	"github.com/worksafe/risk-engine/internal/resilience"
	"github.com/worksafe/risk-engine/internal/store"
	"github.com/worksafe/risk-engine/internal/tenantcfg"
	"github.com/worksafe/risk-engine/pkg/webhook"
)

// SubjectSource enumerates a tenant's publishable subjects on a date.
type SubjectSource interface {
	WorkPackagesForTenant(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]model.WorkPackage, error)
	LocationsForTenant(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]model.Location, error)
}

// Ledger persists what was last delivered per subject.
type Ledger interface {
	LastPublished(ctx context.Context, tenantID uuid.UUID) (map[string]store.PublishedRanking, error)
	MarkPublished(ctx context.Context, published []store.PublishedRanking) error
}

// Ranker classifies subjects at a level.
type Ranker interface {
	Rank(ctx context.Context, level tenantcfg.RankingLevel, subjects []metrics.SubjectKey) ([]ranking.Ranked, error)
}

// Result summarizes one tenant's publish run.
type Result struct {
	// Candidates is how many subjects were ranked.
	Candidates int
	// Published is how many changed summaries went to the webhook.
	Published int
	// Skipped is true when the tenant has no webhook configured.
	Skipped bool
}

// Publisher posts changed rankings to tenant webhooks, rate limited
// across all tenants with one circuit breaker per endpoint.
type Publisher struct {
	source   SubjectSource
	ledger   Ledger
	ranker   Ranker
	tenants  *tenantcfg.Cache
	hook     webhook.Client
	limiter  *rate.Limiter
	breakers *resilience.EndpointBreakers
	retry    resilience.RetryConfig
}

// New builds a publisher.
func New(cfg config.IntegrationsConfig, source SubjectSource, ledger Ledger,
	ranker Ranker, tenants *tenantcfg.Cache, hook webhook.Client) *Publisher {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 5
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("webhook", "post_summaries")
	return &Publisher{
		source:   source,
		ledger:   ledger,
		ranker:   ranker,
		tenants:  tenants,
		hook:     hook,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		breakers: resilience.NewEndpointBreakers(resilience.CircuitBreakerConfig{}),
		retry:    retry,
	}
}

// PublishTenant ranks the tenant's work packages and locations for date,
// diffs against the ledger, and posts the two levels as separate calls.
// Subjects without an external key and subjects still RECALCULATING are
// silently skipped.
func (p *Publisher) PublishTenant(ctx context.Context, tenantID uuid.UUID, date time.Time) (Result, error) {
	date = model.DateOnly(date)

	cfg, err := p.tenants.Get(ctx, tenantID)
	if err != nil {
		return Result{}, err
	}
	if cfg.WebhookURL == "" {
		zap.L().Debug("tenant has no webhook, skipping",
			zap.String("tenant_id", tenantID.String()))
		return Result{Skipped: true}, nil
	}

	last, err := p.ledger.LastPublished(ctx, tenantID)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, level := range []tenantcfg.RankingLevel{tenantcfg.LevelWorkPackage, tenantcfg.LevelLocation} {
		subjects, keys, err := p.subjectsAt(ctx, level, tenantID, date)
		if err != nil {
			return result, err
		}
		result.Candidates += len(subjects)

		n, err := p.publishLevel(ctx, cfg.WebhookURL, level, subjects, keys, last, date)
		if err != nil {
			return result, err
		}
		result.Published += n
	}

	zap.L().Info("tenant rankings published",
		zap.String("tenant_id", tenantID.String()),
		zap.Time("date", date),
		zap.Int("candidates", result.Candidates),
		zap.Int("published", result.Published))
	return result, nil
}

// PublishAll runs every tenant, swallowing per-tenant failures so one
// broken endpoint never blocks the rest.
func (p *Publisher) PublishAll(ctx context.Context, tenantIDs []uuid.UUID, date time.Time) Result {
	var total Result
	for _, id := range tenantIDs {
		r, err := p.PublishTenant(ctx, id, date)
		if err != nil {
			zap.L().Error("tenant publish failed",
				zap.String("tenant_id", id.String()),
				zap.Error(err))
			continue
		}
		total.Candidates += r.Candidates
		total.Published += r.Published
	}
	return total
}

// subjectsAt enumerates the level's subjects and their external keys.
func (p *Publisher) subjectsAt(ctx context.Context, level tenantcfg.RankingLevel,
	tenantID uuid.UUID, date time.Time) ([]metrics.SubjectKey, map[uuid.UUID]string, error) {

	keys := map[uuid.UUID]string{}
	var subjects []metrics.SubjectKey

	switch level {
	case tenantcfg.LevelWorkPackage:
		wps, err := p.source.WorkPackagesForTenant(ctx, tenantID, date)
		if err != nil {
			return nil, nil, err
		}
		for _, wp := range wps {
			subjects = append(subjects, metrics.DatedSubject(tenantID, wp.ID, date))
			keys[wp.ID] = wp.ExternalKey
		}
	case tenantcfg.LevelLocation:
		locs, err := p.source.LocationsForTenant(ctx, tenantID, date)
		if err != nil {
			return nil, nil, err
		}
		for _, loc := range locs {
			subjects = append(subjects, metrics.DatedSubject(tenantID, loc.ID, date))
			keys[loc.ID] = loc.ExternalKey
		}
	}
	return subjects, keys, nil
}

func (p *Publisher) publishLevel(ctx context.Context, url string, level tenantcfg.RankingLevel,
	subjects []metrics.SubjectKey, keys map[uuid.UUID]string,
	last map[string]store.PublishedRanking, date time.Time) (int, error) {

	if len(subjects) == 0 {
		return 0, nil
	}

	ranked, err := p.ranker.Rank(ctx, level, subjects)
	if err != nil {
		return 0, err
	}

	var (
		summaries []webhook.Summary
		rows      []store.PublishedRanking
	)
	for _, r := range ranked {
		if r.Ranking == ranking.Recalculating {
			continue
		}
		key, ok := keys[r.Subject.EntityID]
		if !ok || key == "" {
			continue
		}
		row := store.PublishedRanking{
			TenantID: r.Subject.TenantID,
			Level:    string(level),
			EntityID: r.Subject.EntityID,
			Date:     date,
			Ranking:  string(r.Ranking),
		}
		if prev, ok := last[row.Key()]; ok && prev.Ranking == row.Ranking {
			continue
		}
		summaries = append(summaries, webhook.Summary{
			ExternalKey: key,
			EntityID:    r.Subject.EntityID.String(),
			RiskLevel:   string(r.Ranking),
		})
		rows = append(rows, row)
	}
	if len(summaries) == 0 {
		return 0, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	breaker := p.breakers.Get(url)
	err = breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, p.retry, func(ctx context.Context) error {
			return p.hook.PostSummaries(ctx, url, summaries)
		})
	})
	if err != nil {
		return 0, err
	}

	// Ledger rows are written only after the webhook accepted the batch;
	// a crash in between re-sends, which the receiver tolerates.
	if err := p.ledger.MarkPublished(ctx, rows); err != nil {
		return 0, err
	}
	return len(summaries), nil
}
