package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/worksafe/risk-engine/internal/metrics"
	"github.com/worksafe/risk-engine/internal/model"
	"github.com/worksafe/risk-engine/internal/reactor"
)

var recalculateCmd = &cobra.Command{
	Use:   "recalculate <tenant-id>",
	Short: "Recompute every metric for a tenant from scratch",
	Long:  "Runs the tenant-wide baselines, then fires actor and project triggers for everything active in the date window. Used after onboarding or a config change.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrap(err, "parse tenant id")
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// Baselines run inline first so the actor calculators queued below
		// read fresh population statistics.
		subject := metrics.TenantSubject(tenantID)
		for _, calc := range metrics.TenantBaselineCalculators(subject) {
			if err := calc.Run(ctx, env.Deps); err != nil {
				zap.L().Warn("baseline calculation failed",
					zap.String("instance", calc.Instance().String()),
					zap.Error(err))
			}
		}

		factory := reactor.NewFactory(env.Deps, env.Registry, cfg.Reactor.DateWindowDays)
		r := reactor.New(cfg.Reactor, env.Deps, factory)
		r.Start(ctx)

		enqueued := 0
		for _, trig := range []model.Trigger{
			{Kind: model.SupervisorDataChangedTenant, TenantID: tenantID},
			{Kind: model.ContractorDataChangedTenant, TenantID: tenantID},
		} {
			n, err := r.HandleTrigger(ctx, trig)
			if err != nil {
				r.Stop()
				return err
			}
			enqueued += n
		}

		wps, err := env.Store.Entities.WorkPackagesForTenant(ctx, tenantID, time.Now().UTC())
		if err != nil {
			r.Stop()
			return err
		}
		for _, wp := range wps {
			n, err := r.HandleTrigger(ctx, model.Trigger{
				Kind: model.ProjectChanged, EntityID: wp.ID,
			})
			if err != nil {
				r.Stop()
				return err
			}
			enqueued += n
		}

		r.Stop()
		zap.L().Info("recalculation complete",
			zap.String("tenant_id", tenantID.String()),
			zap.Int("work_packages", len(wps)),
			zap.Int("enqueued", enqueued))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recalculateCmd)
}
