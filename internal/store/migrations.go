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

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	sender      TEXT NOT NULL,
	body        TEXT NOT NULL,
	received_at DATETIME NOT NULL,
	fetched_at  DATETIME NOT NULL,
	forwarded   INTEGER NOT NULL DEFAULT 0 CHECK(forwarded IN (0, 1))
);

CREATE TABLE IF NOT EXISTS seen (
	message_id   TEXT PRIMARY KEY,
	delivered_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages(received_at);
CREATE INDEX IF NOT EXISTS idx_seen_delivered_at ON seen(delivered_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
