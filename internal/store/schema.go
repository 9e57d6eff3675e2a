package store

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id     TEXT PRIMARY KEY,
    model          TEXT NOT NULL,
    endpoint       TEXT NOT NULL DEFAULT '',
    started_at     TEXT NOT NULL,
    ended_at       TEXT NOT NULL DEFAULT '',
    input_audio_ms  INTEGER NOT NULL DEFAULT 0,
    output_audio_ms INTEGER NOT NULL DEFAULT 0,
    total_cost     REAL NOT NULL DEFAULT 0,
    saved_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_models (
    session_id    TEXT NOT NULL,
    model         TEXT NOT NULL,
    input_tokens  INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    cached_tokens INTEGER NOT NULL DEFAULT 0,
    input_cost    REAL NOT NULL DEFAULT 0,
    output_cost   REAL NOT NULL DEFAULT 0,
    cached_cost   REAL NOT NULL DEFAULT 0,
    total_cost    REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (session_id, model),
    FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
`
