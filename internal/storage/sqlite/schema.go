package sqlite

const schema = `
-- Committees table
CREATE TABLE IF NOT EXISTS committees (
    name TEXT PRIMARY KEY,
    full_name TEXT NOT NULL DEFAULT '',
    is_podling INTEGER NOT NULL DEFAULT 0,
    members TEXT NOT NULL DEFAULT '[]',
    committers TEXT NOT NULL DEFAULT '[]',
    participants TEXT NOT NULL DEFAULT '[]'
);

-- Projects table
CREATE TABLE IF NOT EXISTS projects (
    name TEXT PRIMARY KEY,
    full_name TEXT NOT NULL DEFAULT '',
    short_display_name TEXT NOT NULL DEFAULT '',
    committee_name TEXT,
    FOREIGN KEY (committee_name) REFERENCES committees(name)
);

-- Release policies table (one per project)
CREATE TABLE IF NOT EXISTS release_policies (
    project_name TEXT PRIMARY KEY,
    min_hours INTEGER NOT NULL DEFAULT 0 CHECK(min_hours >= 0),
    mailto_addresses TEXT NOT NULL DEFAULT '[]',
    github_repository TEXT NOT NULL DEFAULT '',
    compose_workflow_path TEXT NOT NULL DEFAULT '[]',
    vote_workflow_path TEXT NOT NULL DEFAULT '[]',
    finish_workflow_path TEXT NOT NULL DEFAULT '[]',
    FOREIGN KEY (project_name) REFERENCES projects(name) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_policies_repository ON release_policies(github_repository);

-- Releases table
-- name is always project_name || '-' || version
CREATE TABLE IF NOT EXISTS releases (
    name TEXT PRIMARY KEY,
    project_name TEXT NOT NULL,
    version TEXT NOT NULL,
    phase TEXT NOT NULL DEFAULT 'release_candidate_draft',
    created DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    latest_revision_number TEXT,
    podling_thread_id TEXT,
    vote_started DATETIME,
    FOREIGN KEY (project_name) REFERENCES projects(name),
    UNIQUE (project_name, version)
);

CREATE INDEX IF NOT EXISTS idx_releases_project_phase ON releases(project_name, phase);
CREATE INDEX IF NOT EXISTS idx_releases_created ON releases(created);

-- Revisions table (seq defines the total order within a release)
CREATE TABLE IF NOT EXISTS revisions (
    release_name TEXT NOT NULL,
    number TEXT NOT NULL,
    seq INTEGER NOT NULL,
    asfuid TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (release_name, number),
    UNIQUE (release_name, seq),
    FOREIGN KEY (release_name) REFERENCES releases(name) ON DELETE CASCADE
);

-- Tasks table (queued work consumed by external workers)
CREATE TABLE IF NOT EXISTS tasks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'queued',
    task_args TEXT NOT NULL DEFAULT '{}',
    result TEXT,
    error TEXT NOT NULL DEFAULT '',
    added DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    project_name TEXT NOT NULL,
    version_name TEXT NOT NULL,
    revision_number TEXT NOT NULL DEFAULT 'latest',
    asf_uid TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tasks_status_added ON tasks(status, added);
CREATE INDEX IF NOT EXISTS idx_tasks_release ON tasks(project_name, version_name, task_type);

-- Check results table
CREATE TABLE IF NOT EXISTS check_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    release_name TEXT NOT NULL,
    revision_number TEXT NOT NULL,
    checker TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    created DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (release_name) REFERENCES releases(name) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_checks_release_revision ON check_results(release_name, revision_number, status);

PRAGMA user_version = 1;
`
