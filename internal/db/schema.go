package db

const schemaSQL = `
-- ==========================================================================
-- SCHEDULES
-- ==========================================================================

CREATE TABLE IF NOT EXISTS schedules (
  schedule_id TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  device_id TEXT NOT NULL,
  device_name TEXT NOT NULL DEFAULT '',
  source_uri TEXT NOT NULL,
  source_name TEXT NOT NULL DEFAULT '',
  days_of_week TEXT NOT NULL DEFAULT '',
  start_time_local TEXT NOT NULL,
  stop_time_local TEXT,
  timezone TEXT NOT NULL,
  volume INTEGER,
  shuffle INTEGER NOT NULL DEFAULT 0,
  is_active INTEGER NOT NULL DEFAULT 1,
  consumed INTEGER NOT NULL DEFAULT 0,
  last_triggered_at TEXT,
  last_action TEXT,
  armed_at TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_schedules_active ON schedules(is_active);

-- ==========================================================================
-- AUDIT EVENTS (trigger history)
-- ==========================================================================

CREATE TABLE IF NOT EXISTS audit_events (
  event_id TEXT PRIMARY KEY,
  timestamp TEXT NOT NULL,
  type TEXT NOT NULL,
  level TEXT NOT NULL,
  request_id TEXT,
  schedule_id TEXT,
  device_id TEXT,
  message TEXT NOT NULL,
  payload TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(type);
CREATE INDEX IF NOT EXISTS idx_audit_events_schedule_id ON audit_events(schedule_id) WHERE schedule_id IS NOT NULL;

-- ==========================================================================
-- SPOTIFY TOKENS
-- ==========================================================================

CREATE TABLE IF NOT EXISTS spotify_tokens (
  key TEXT PRIMARY KEY,
  access_token TEXT NOT NULL,
  refresh_token TEXT NOT NULL,
  expires_at TEXT NOT NULL,
  token_type TEXT NOT NULL,
  scope TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
`
