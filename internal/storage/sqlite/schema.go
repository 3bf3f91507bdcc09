package sqlite

// schema is the base shape of the runtime database, applied with
// IF NOT EXISTS on every open. Later shape changes live in
// migrations.go; the base schema itself is never edited once released.
//
// Timestamps are RFC3339 UTC TEXT throughout, so lexicographic
// comparison in SQL (expires_at > ?) is chronological comparison.
const schema = `
CREATE TABLE IF NOT EXISTS agents (
    agent_id      TEXT PRIMARY KEY,
    display_name  TEXT NOT NULL DEFAULT '',
    role          TEXT NOT NULL DEFAULT '',
    capabilities  TEXT NOT NULL DEFAULT '[]',
    registered_at TEXT NOT NULL,
    last_seen_at  TEXT,
    session_meta  TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS leases (
    lease_id   TEXT PRIMARY KEY,
    task_id    TEXT NOT NULL,
    agent_id   TEXT NOT NULL,
    created_at TEXT NOT NULL,
    expires_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leases_task_expiry ON leases(task_id, expires_at);

CREATE TABLE IF NOT EXISTS messages (
    message_id    INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at    TEXT NOT NULL,
    from_agent_id TEXT NOT NULL,
    to_type       TEXT NOT NULL CHECK (to_type IN ('agent', 'task')),
    to_id         TEXT NOT NULL,
    task_id       TEXT,
    body          TEXT NOT NULL,
    read_at       TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(to_type, to_id, message_id);

CREATE TABLE IF NOT EXISTS events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at      TEXT NOT NULL,
    type            TEXT NOT NULL,
    actor_agent_id  TEXT,
    task_id         TEXT,
    target_agent_id TEXT,
    payload         TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
