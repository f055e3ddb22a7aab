package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/worksafe/risk-engine/internal/metrics"
	"github.com/worksafe/risk-engine/internal/store"
	"github.com/worksafe/risk-engine/internal/tenantcfg"
)

// env bundles the shared runtime wired by every command: the store, the
// tenant config cache, the metric registry, and the calculator deps.
type env struct {
	Store    *store.Store
	Tenants  *tenantcfg.Cache
	Registry *metrics.Registry
	Deps     *metrics.Deps
}

func initEnv(ctx context.Context) (*env, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}

	st, err := store.NewPostgres(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	registry := metrics.DefaultRegistry()
	if err := registry.Validate(); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "metric registry invalid")
	}

	tenants := tenantcfg.NewCache(st.Tenants)
	deps := &metrics.Deps{
		Metrics:  st.Metrics,
		Entities: st.Entities,
		Tenants:  tenants,
		Clock:    time.Now,
	}

	return &env{Store: st, Tenants: tenants, Registry: registry, Deps: deps}, nil
}

func (e *env) Close() {
	e.Store.Close() //nolint:errcheck
}

// validateTenants checks every known tenant's family selections against
// the registry. An unknown family is a deployment error, fatal at startup.
func (e *env) validateTenants(ctx context.Context) error {
	ids, err := e.Store.Tenants.ListTenantIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		tc, err := e.Tenants.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := e.Registry.ValidateTenant(tc); err != nil {
			return eris.Wrapf(err, "tenant %s", id)
		}
	}
	return nil
}
