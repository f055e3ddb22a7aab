package main

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/worksafe/risk-engine/internal/reactor"
	"github.com/worksafe/risk-engine/internal/siteconditions"
	"github.com/worksafe/risk-engine/pkg/worlddata"
)

var evaluateDate string

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <tenant-id>",
	Short: "Evaluate site conditions for a tenant's active locations",
	Long:  "Fetches world data for every active location of the tenant, runs the condition predicates, replaces the evaluation rows, and recalculates the affected risk scores in-process.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrap(err, "parse tenant id")
		}
		if err := cfg.Validate("worlddata"); err != nil {
			return err
		}

		date := time.Now().UTC()
		if evaluateDate != "" {
			date, err = time.Parse("2006-01-02", evaluateDate)
			if err != nil {
				return eris.Wrap(err, "parse date")
			}
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		world := worlddata.NewClient(cfg.WorldData.BaseURL, cfg.WorldData.Token,
			worlddata.WithRoadwayRadius(cfg.WorldData.RoadwayRadius),
			worlddata.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.WorldData.TimeoutSecs) * time.Second,
				Transport: &http.Transport{
					MaxConnsPerHost:     cfg.WorldData.MaxConns,
					MaxIdleConnsPerHost: cfg.WorldData.MaxKeepAlive,
				},
			}))

		// The reactor drains before exit, so the affected scores are fresh
		// when the command returns.
		factory := reactor.NewFactory(env.Deps, env.Registry, cfg.Reactor.DateWindowDays)
		r := reactor.New(cfg.Reactor, env.Deps, factory)
		r.Start(ctx)

		ev := siteconditions.New(cfg.Evaluator, world, env.Store.Entities,
			env.Store.SiteConditions, env.Tenants, r)
		summary, err := ev.EvaluateTenant(ctx, tenantID, date)
		r.Stop()
		if err != nil {
			return err
		}

		zap.L().Info("evaluation complete",
			zap.String("tenant_id", tenantID.String()),
			zap.Int("locations", summary.Locations),
			zap.Int("conditions", summary.Conditions),
			zap.Int("triggered", summary.Triggered))
		return nil
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateDate, "date", "", "evaluation date (YYYY-MM-DD, default today)")
	rootCmd.AddCommand(evaluateCmd)
}
