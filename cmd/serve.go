package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/worksafe/risk-engine/internal/metrics"
	"github.com/worksafe/risk-engine/internal/model"
	"github.com/worksafe/risk-engine/internal/ranking"
	"github.com/worksafe/risk-engine/internal/reactor"
	"github.com/worksafe/risk-engine/internal/tenantcfg"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the trigger intake server and reactor worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.validateTenants(ctx); err != nil {
			return eris.Wrap(err, "tenant config validation")
		}

		factory := reactor.NewFactory(env.Deps, env.Registry, cfg.Reactor.DateWindowDays)
		r := reactor.New(cfg.Reactor, env.Deps, factory)
		r.Start(ctx)
		defer r.Stop()

		classifier := ranking.NewClassifier(env.Store.Metrics, env.Tenants)

		mux := http.NewServeMux()

		mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
				"status":      "ok",
				"queue_depth": r.QueueDepth(),
			})
		})

		mux.HandleFunc("POST /triggers", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Kind     string `json:"kind"`
				EntityID string `json:"entity_id"`
				TenantID string `json:"tenant_id"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
				return
			}
			kind, ok := model.ParseTriggerKind(body.Kind)
			if !ok {
				http.Error(w, `{"error":"unknown trigger kind"}`, http.StatusBadRequest)
				return
			}

			trig := model.Trigger{Kind: kind}
			if body.EntityID != "" {
				id, err := uuid.Parse(body.EntityID)
				if err != nil {
					http.Error(w, `{"error":"invalid entity_id"}`, http.StatusBadRequest)
					return
				}
				trig.EntityID = id
			}
			if body.TenantID != "" {
				id, err := uuid.Parse(body.TenantID)
				if err != nil {
					http.Error(w, `{"error":"invalid tenant_id"}`, http.StatusBadRequest)
					return
				}
				trig.TenantID = id
			}

			// Expansion reads entities, so run it on the request context but
			// answer as accepted: the work itself is asynchronous.
			accepted, err := r.HandleTrigger(req.Context(), trig)
			if err != nil {
				zap.L().Error("trigger expansion failed",
					zap.String("kind", body.Kind), zap.Error(err))
				http.Error(w, `{"error":"trigger expansion failed"}`, http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
				"status":   "accepted",
				"enqueued": accepted,
			})
		})

		mux.HandleFunc("GET /rankings", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			tenantID, err := uuid.Parse(q.Get("tenant_id"))
			if err != nil {
				http.Error(w, `{"error":"invalid tenant_id"}`, http.StatusBadRequest)
				return
			}
			level := tenantcfg.RankingLevel(q.Get("level"))
			date := time.Now().UTC()
			if ds := q.Get("date"); ds != "" {
				date, err = time.Parse("2006-01-02", ds)
				if err != nil {
					http.Error(w, `{"error":"invalid date, want YYYY-MM-DD"}`, http.StatusBadRequest)
					return
				}
			}

			subjects, err := rankingSubjects(req, env, level, tenantID, date)
			if err != nil {
				http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
				return
			}

			ranked, err := classifier.Rank(req.Context(), level, subjects)
			if err != nil {
				zap.L().Error("ranking query failed",
					zap.String("tenant_id", tenantID.String()), zap.Error(err))
				http.Error(w, `{"error":"ranking failed"}`, http.StatusInternalServerError)
				return
			}

			type entry struct {
				EntityID string  `json:"entity_id"`
				Ranking  string  `json:"ranking"`
				Score    float64 `json:"score,omitempty"`
			}
			out := make([]entry, 0, len(ranked))
			for _, rk := range ranked {
				out = append(out, entry{
					EntityID: rk.Subject.EntityID.String(),
					Ranking:  string(rk.Ranking),
					Score:    rk.Score,
				})
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"rankings": out}) //nolint:errcheck
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// rankingSubjects enumerates the subjects a ranking query covers. Task
// level needs a location_id because tasks are only listed per location.
func rankingSubjects(req *http.Request, env *env, level tenantcfg.RankingLevel,
	tenantID uuid.UUID, date time.Time) ([]metrics.SubjectKey, error) {

	ctx := req.Context()
	switch level {
	case tenantcfg.LevelWorkPackage:
		wps, err := env.Store.Entities.WorkPackagesForTenant(ctx, tenantID, date)
		if err != nil {
			return nil, err
		}
		subjects := make([]metrics.SubjectKey, 0, len(wps))
		for _, wp := range wps {
			subjects = append(subjects, metrics.DatedSubject(tenantID, wp.ID, date))
		}
		return subjects, nil
	case tenantcfg.LevelLocation:
		locs, err := env.Store.Entities.LocationsForTenant(ctx, tenantID, date)
		if err != nil {
			return nil, err
		}
		subjects := make([]metrics.SubjectKey, 0, len(locs))
		for _, loc := range locs {
			subjects = append(subjects, metrics.DatedSubject(tenantID, loc.ID, date))
		}
		return subjects, nil
	case tenantcfg.LevelTask:
		locationID, err := uuid.Parse(req.URL.Query().Get("location_id"))
		if err != nil {
			return nil, eris.New("task level requires location_id")
		}
		tasks, err := env.Store.Entities.TasksForLocation(ctx, locationID, date)
		if err != nil {
			return nil, err
		}
		subjects := make([]metrics.SubjectKey, 0, len(tasks))
		for _, t := range tasks {
			subjects = append(subjects, metrics.DatedSubject(tenantID, t.ID, date))
		}
		return subjects, nil
	default:
		return nil, eris.Errorf("unknown ranking level %q", level)
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
