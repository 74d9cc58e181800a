package pgstore

import "context"

// schemaDDL creates every table the Store/Tx interface needs if it does
// not already exist; a real deployment would instead run these as
// versioned migrations, but a single idempotent DDL block keeps the
// reference adapter self-contained.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS projects (
	id           BIGSERIAL PRIMARY KEY,
	name         TEXT NOT NULL UNIQUE,
	local_path   TEXT NOT NULL DEFAULT '',
	origin_url   TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	is_archived  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id                       BIGSERIAL PRIMARY KEY,
	project_id               BIGINT REFERENCES projects(id),
	task_type                TEXT NOT NULL,
	priority                 TEXT NOT NULL,
	title                    TEXT NOT NULL,
	task_instruction         TEXT NOT NULL,
	verification_instruction TEXT NOT NULL,
	notes                    TEXT NOT NULL DEFAULT '',
	assigned_agent           TEXT,
	assigned_at              TIMESTAMPTZ,
	task_status              TEXT NOT NULL,
	verification_status      TEXT NOT NULL,
	estimated_hours          DOUBLE PRECISION,
	actual_hours             DOUBLE PRECISION,
	due_date                 TIMESTAMPTZ,
	created_at               TIMESTAMPTZ NOT NULL,
	updated_at               TIMESTAMPTZ NOT NULL,
	completed_at             TIMESTAMPTZ,
	github_issue_url         TEXT,
	github_pr_url            TEXT,
	labels                   JSONB,
	idempotency_key          TEXT UNIQUE,
	last_auto_unlock         JSONB,
	version                  INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_tasks_status_type ON tasks(task_status, task_type);
CREATE INDEX IF NOT EXISTS idx_tasks_project_status ON tasks(project_id, task_status, task_type);
CREATE INDEX IF NOT EXISTS idx_tasks_status_priority ON tasks(task_status, priority);
CREATE INDEX IF NOT EXISTS idx_tasks_created_desc ON tasks(created_at DESC, task_status);

CREATE TABLE IF NOT EXISTS relationships (
	id                BIGSERIAL PRIMARY KEY,
	parent_task_id    BIGINT NOT NULL REFERENCES tasks(id),
	child_task_id     BIGINT NOT NULL REFERENCES tasks(id),
	relationship_type TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	created_by        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rel_parent ON relationships(parent_task_id, relationship_type);
CREATE INDEX IF NOT EXISTS idx_rel_child ON relationships(child_task_id, relationship_type);

CREATE TABLE IF NOT EXISTS tags (
	id   BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS task_tags (
	task_id BIGINT NOT NULL REFERENCES tasks(id),
	tag_id  BIGINT NOT NULL REFERENCES tags(id),
	PRIMARY KEY (task_id, tag_id)
);

CREATE TABLE IF NOT EXISTS updates (
	id          BIGSERIAL PRIMARY KEY,
	task_id     BIGINT NOT NULL REFERENCES tasks(id),
	agent_id    TEXT NOT NULL,
	update_type TEXT NOT NULL,
	content     TEXT NOT NULL,
	metadata    JSONB,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_updates_task ON updates(task_id, created_at);

CREATE TABLE IF NOT EXISTS change_entries (
	id          BIGSERIAL PRIMARY KEY,
	task_id     BIGINT NOT NULL REFERENCES tasks(id),
	agent_id    TEXT NOT NULL,
	change_type TEXT NOT NULL,
	field_name  TEXT NOT NULL,
	old_value   TEXT NOT NULL DEFAULT '',
	new_value   TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_changes_task ON change_entries(task_id, created_at);

CREATE TABLE IF NOT EXISTS task_versions (
	task_id        BIGINT NOT NULL REFERENCES tasks(id),
	version_number INTEGER NOT NULL,
	payload        JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (task_id, version_number)
);

CREATE TABLE IF NOT EXISTS comments (
	id                BIGSERIAL PRIMARY KEY,
	task_id           BIGINT NOT NULL REFERENCES tasks(id),
	agent_id          TEXT NOT NULL,
	content           TEXT NOT NULL,
	parent_comment_id BIGINT REFERENCES comments(id),
	mentions          JSONB,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_comments_task ON comments(task_id, created_at);
`

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return translateErr(err, "schema")
	}
	return nil
}
