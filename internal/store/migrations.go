package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create users, conversations and messages",
		SQL: `
			CREATE TABLE users (
				id            TEXT PRIMARY KEY,
				email         TEXT NOT NULL,
				password_hash TEXT NOT NULL,
				display_name  TEXT NOT NULL DEFAULT '',
				role          TEXT NOT NULL DEFAULT 'customer',
				created_at    TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE UNIQUE INDEX idx_users_email ON users (email);

			CREATE TABLE conversations (
				id          TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE messages (
				id               TEXT PRIMARY KEY,
				conversation_id  TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				sender           TEXT NOT NULL,
				body             TEXT NOT NULL,
				local_id         TEXT NOT NULL DEFAULT '',
				seq              INTEGER NOT NULL,
				read             INTEGER NOT NULL DEFAULT 0,
				created_at       TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE UNIQUE INDEX idx_messages_conv_seq ON messages (conversation_id, seq);
			CREATE INDEX idx_messages_conv_read ON messages (conversation_id, read);
		`,
	},
}
