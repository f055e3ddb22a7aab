package store

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/worksafe/risk-engine/internal/metrics"
)

const entityMigration = `
CREATE TABLE IF NOT EXISTS work_packages (
	id            UUID PRIMARY KEY,
	tenant_id     UUID NOT NULL,
	name          TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	start_date    DATE NOT NULL,
	end_date      DATE NOT NULL,
	contractor_id UUID,
	supervisor_id UUID,
	division_id   UUID,
	work_type_ids UUID[] NOT NULL DEFAULT '{}',
	external_key  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_work_packages_tenant ON work_packages(tenant_id);
CREATE INDEX IF NOT EXISTS idx_work_packages_window ON work_packages(tenant_id, start_date, end_date);

CREATE TABLE IF NOT EXISTS project_locations (
	id              UUID PRIMARY KEY,
	tenant_id       UUID NOT NULL,
	work_package_id UUID NOT NULL REFERENCES work_packages(id),
	name            TEXT NOT NULL,
	latitude        DOUBLE PRECISION NOT NULL,
	longitude       DOUBLE PRECISION NOT NULL,
	supervisor_id   UUID,
	external_key    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_project_locations_wp ON project_locations(work_package_id);
CREATE INDEX IF NOT EXISTS idx_project_locations_tenant ON project_locations(tenant_id);

CREATE TABLE IF NOT EXISTS activities (
	id          UUID PRIMARY KEY,
	tenant_id   UUID NOT NULL,
	location_id UUID NOT NULL REFERENCES project_locations(id),
	name        TEXT NOT NULL,
	start_date  DATE NOT NULL,
	end_date    DATE NOT NULL,
	crew_id     UUID
);

CREATE INDEX IF NOT EXISTS idx_activities_location ON activities(location_id, start_date, end_date);

CREATE TABLE IF NOT EXISTS tasks (
	id              UUID PRIMARY KEY,
	tenant_id       UUID NOT NULL,
	activity_id     UUID REFERENCES activities(id),
	location_id     UUID NOT NULL REFERENCES project_locations(id),
	library_task_id UUID NOT NULL,
	start_date      DATE NOT NULL,
	end_date        DATE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_location ON tasks(location_id, start_date, end_date);
CREATE INDEX IF NOT EXISTS idx_tasks_activity ON tasks(activity_id, start_date, end_date);

CREATE TABLE IF NOT EXISTS library_tasks (
	id        UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	name      TEXT NOT NULL,
	hesp      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS library_site_conditions (
	id                 UUID PRIMARY KEY,
	tenant_id          UUID NOT NULL,
	name               TEXT NOT NULL,
	handle_code        TEXT NOT NULL,
	default_multiplier DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_library_site_conditions_tenant ON library_site_conditions(tenant_id);

CREATE TABLE IF NOT EXISTS contractors (
	id                  UUID PRIMARY KEY,
	tenant_id           UUID NOT NULL,
	name                TEXT NOT NULL,
	safety_observations INTEGER NOT NULL DEFAULT 0,
	action_items        INTEGER NOT NULL DEFAULT 0,
	experience_years    DOUBLE PRECISION NOT NULL DEFAULT 0,
	project_count       INTEGER NOT NULL DEFAULT 0,
	safety_ratings      DOUBLE PRECISION[] NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_contractors_tenant ON contractors(tenant_id);

CREATE TABLE IF NOT EXISTS supervisors (
	id        UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	name      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_supervisors_tenant ON supervisors(tenant_id);

CREATE TABLE IF NOT EXISTS supervisor_observation_months (
	supervisor_id     UUID NOT NULL REFERENCES supervisors(id),
	month             DATE NOT NULL,
	observations      INTEGER NOT NULL DEFAULT 0,
	esds              INTEGER NOT NULL DEFAULT 0,
	late_observations INTEGER NOT NULL DEFAULT 0,
	late_esds         INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (supervisor_id, month)
);

CREATE TABLE IF NOT EXISTS crews (
	id        UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	name      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_crews_tenant ON crews(tenant_id);

CREATE TABLE IF NOT EXISTS precursor_events (
	id            UUID PRIMARY KEY,
	tenant_id     UUID NOT NULL,
	supervisor_id UUID,
	crew_id       UUID,
	division_id   UUID,
	occurred_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_precursor_events_supervisor ON precursor_events(supervisor_id);
CREATE INDEX IF NOT EXISTS idx_precursor_events_crew ON precursor_events(crew_id);
CREATE INDEX IF NOT EXISTS idx_precursor_events_division ON precursor_events(division_id);

CREATE TABLE IF NOT EXISTS library_task_observation_counts (
	tenant_id         UUID NOT NULL,
	library_task_id   UUID NOT NULL,
	observation_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, library_task_id)
);

CREATE TABLE IF NOT EXISTS site_condition_evaluations (
	id                        UUID PRIMARY KEY,
	location_id               UUID NOT NULL REFERENCES project_locations(id),
	library_site_condition_id UUID NOT NULL,
	date                      DATE NOT NULL,
	applies                   BOOLEAN NOT NULL,
	alert                     BOOLEAN NOT NULL DEFAULT false,
	multiplier                DOUBLE PRECISION NOT NULL DEFAULT 0,
	payload                   JSONB,
	archived_at               TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sc_evaluations_live
	ON site_condition_evaluations(location_id, date) WHERE archived_at IS NULL;

CREATE TABLE IF NOT EXISTS manual_site_conditions (
	id                        UUID PRIMARY KEY,
	location_id               UUID NOT NULL REFERENCES project_locations(id),
	library_site_condition_id UUID NOT NULL,
	multiplier                DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_manual_site_conditions_location ON manual_site_conditions(location_id);

CREATE TABLE IF NOT EXISTS tenant_configurations (
	tenant_id  UUID PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS last_published_rankings (
	tenant_id    UUID NOT NULL,
	level        TEXT NOT NULL,
	entity_id    UUID NOT NULL,
	date         DATE NOT NULL,
	ranking      TEXT NOT NULL,
	published_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant_id, level, entity_id, date)
);
`

// metricTableDDL is instantiated once per metric kind. calculated_at is
// server-assigned; the subject index serves the latest-row query.
const metricTableDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id            UUID PRIMARY KEY,
	tenant_id     UUID NOT NULL,
	entity_id     UUID,
	date          DATE,
	value         DOUBLE PRECISION NOT NULL,
	calculated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	inputs        JSONB
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_subject
	ON %[1]s (tenant_id, entity_id, date, calculated_at DESC);
`

// Migrate creates the entity tables and one append-only table per metric
// kind. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, entityMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate entities")
	}
	for _, kind := range metrics.AllKinds() {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf(metricTableDDL, kind)); err != nil {
			return eris.Wrapf(err, "postgres: migrate metric table %s", kind)
		}
	}
	return nil
}
