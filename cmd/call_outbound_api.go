package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/worksafe/risk-engine/internal/publisher"
	"github.com/worksafe/risk-engine/internal/ranking"
	"github.com/worksafe/risk-engine/pkg/webhook"
)

var callOutboundCmd = &cobra.Command{
	Use:   "call-outbound-api <tenant-id>",
	Short: "Publish today's ranking changes for one tenant",
	Long:  "Computes today's rankings for every work package and location of the tenant, diffs them against the last-published ledger, and posts the changes to the tenant's webhook. Exits 1 when nothing is publishable.",
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

		classifier := ranking.NewClassifier(env.Store.Metrics, env.Tenants)
		hook := webhook.NewClient(
			webhook.WithTimeout(time.Duration(cfg.Integrations.TimeoutSecs) * time.Second))
		pub := publisher.New(cfg.Integrations, env.Store.Entities, env.Store.Rankings,
			classifier, env.Tenants, hook)

		result, err := pub.PublishTenant(ctx, tenantID, time.Now().UTC())
		if err != nil {
			return err
		}
		if result.Skipped {
			return eris.New("tenant has no webhook configured")
		}
		if result.Candidates == 0 {
			return eris.New("no publishable subjects")
		}

		zap.L().Info("outbound publish complete",
			zap.String("tenant_id", tenantID.String()),
			zap.Int("candidates", result.Candidates),
			zap.Int("published", result.Published))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(callOutboundCmd)
}
