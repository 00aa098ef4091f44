package store

import "database/sql"

// ensureSchema creates the catalog tables and probe cache, idempotently.
func ensureSchema(db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS media_items (
		id                     TEXT PRIMARY KEY,
		rel_path               TEXT NOT NULL UNIQUE,
		filename               TEXT NOT NULL,
		title                  TEXT NOT NULL,
		ext                    TEXT NOT NULL,
		media_type             TEXT NOT NULL,
		size_bytes             INTEGER NOT NULL,
		modified_ms            INTEGER NOT NULL,
		duration_ms            INTEGER,
		width                  INTEGER,
		height                 INTEGER,
		has_funscript          INTEGER NOT NULL DEFAULT 0,
		funscript_action_count INTEGER,
		funscript_avg_speed    REAL,
		is_vr                  INTEGER NOT NULL DEFAULT 0,
		vr_fov                 INTEGER,
		vr_stereo              TEXT,
		vr_projection          TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_media_modified ON media_items (modified_ms DESC);
	CREATE INDEX IF NOT EXISTS idx_media_is_vr ON media_items (is_vr, modified_ms DESC);

	-- Caches the last ffprobe/fallback probe result for a file, keyed by
	-- (rel_path, mod_time), so an unchanged file is never re-probed.
	CREATE TABLE IF NOT EXISTS probe_cache (
		rel_path    TEXT NOT NULL,
		mod_time    INTEGER NOT NULL,
		width       INTEGER,
		height      INTEGER,
		duration_ms INTEGER,
		is_vr       INTEGER NOT NULL DEFAULT 0,
		vr_fov      INTEGER,
		vr_stereo   TEXT,
		vr_projection TEXT,
		PRIMARY KEY (rel_path, mod_time)
	);
	`
	_, err := db.Exec(schema)
	return err
}
