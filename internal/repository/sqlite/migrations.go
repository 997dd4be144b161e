package sqlite

// migration is one named, idempotent schema step. Name is
// "<version>_<description>"; only the version half is recorded in
// schema_migrations.
type migration struct {
	name string
	sql  string
}

// migrations runs in order on every Open. There is currently one:
// the full initial schema. Adding a new one means appending here, never
// editing an already-shipped entry.
var migrations = []migration{
	{
		name: "000_create_schema",
		sql: `
CREATE TABLE asset_blobs (
	digest_sha256 TEXT PRIMARY KEY,
	blob BLOB NOT NULL
);

CREATE TABLE assets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT NOT NULL,
	content_type TEXT NOT NULL,
	digest_sha256 TEXT NOT NULL REFERENCES asset_blobs (digest_sha256)
);

CREATE TABLE archived_media (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL,
	canonical_url TEXT NOT NULL,
	archived_at TEXT NOT NULL,
	stream_uuid TEXT NOT NULL UNIQUE,
	thumbnail_id INTEGER REFERENCES assets (id),
	metadata TEXT NOT NULL
);

CREATE TABLE radio_stations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	icon_id INTEGER NOT NULL REFERENCES assets (id),
	stream_url TEXT NOT NULL
);
`,
	},
}
