package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id              INTEGER PRIMARY KEY,
	user_id         INTEGER NOT NULL,
	message         TEXT NOT NULL,
	type            TEXT NOT NULL DEFAULT 'OTHER',
	raw_type        TEXT NOT NULL DEFAULT '',
	severity        INTEGER NOT NULL DEFAULT 0 CHECK(severity BETWEEN 0 AND 2),
	timestamp       DATETIME NOT NULL,
	is_read         INTEGER NOT NULL DEFAULT 0 CHECK(is_read IN (0, 1)),
	reference_id    INTEGER,
	reference_type  TEXT NOT NULL DEFAULT '',
	additional_data TEXT NOT NULL DEFAULT '',
	archived_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notifications_user_ts ON notifications(user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_notifications_is_read ON notifications(is_read);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS preferences (
	user_id    INTEGER PRIMARY KEY,
	document   TEXT NOT NULL DEFAULT '{}',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
