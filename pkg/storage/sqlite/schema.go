package sqlite

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Timestamps are stored as Unix nanoseconds so that range predicates compare
// integers.
const schema = `
CREATE TABLE IF NOT EXISTS usage_records (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    organization_id TEXT NOT NULL DEFAULT '',
    workspace_id TEXT NOT NULL DEFAULT '',
    project_id TEXT NOT NULL DEFAULT '',
    ts INTEGER NOT NULL,
    input_tokens INTEGER NOT NULL,
    output_tokens INTEGER NOT NULL,
    total_tokens INTEGER NOT NULL,
    success INTEGER NOT NULL,
    endpoint TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL,
    context TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_usage_user_ts ON usage_records(user_id, ts);
CREATE INDEX IF NOT EXISTS idx_usage_org_ts ON usage_records(organization_id, ts);
CREATE INDEX IF NOT EXISTS idx_usage_workspace_ts ON usage_records(workspace_id, ts);

CREATE TABLE IF NOT EXISTS pool_entries (
    id TEXT PRIMARY KEY,
    organization_id TEXT NOT NULL,
    credential_id TEXT NOT NULL,
    secret TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL CHECK (state IN ('available', 'assigned', 'revoked', 'archived')),
    assigned_to TEXT,
    version INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE (organization_id, credential_id)
);

CREATE INDEX IF NOT EXISTS idx_pool_org_state ON pool_entries(organization_id, state, created_at);

-- A user holds at most one assigned entry.
CREATE UNIQUE INDEX IF NOT EXISTS idx_pool_assigned_user
    ON pool_entries(assigned_to) WHERE state = 'assigned';

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    last_activity_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL,
    client_ip TEXT NOT NULL DEFAULT '',
    user_agent TEXT NOT NULL DEFAULT '',
    terminated_at INTEGER,
    termination_reason TEXT
);

-- An account has at most one non-terminated session.
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_live
    ON sessions(account_id) WHERE terminated_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(expires_at) WHERE terminated_at IS NULL;

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`

const (
	insertSchemaVersion = `INSERT INTO schema_version (version, applied_at) VALUES (?, ?) ON CONFLICT (version) DO NOTHING`
	getSchemaVersion    = `SELECT MAX(version) FROM schema_version`
)
