package storage

// Schema is applied at startup; every statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id            TEXT PRIMARY KEY,
	content       TEXT NOT NULL,
	channel       TEXT NOT NULL DEFAULT 'SMS',
	direction     TEXT NOT NULL DEFAULT 'OUTBOUND',
	from_number   TEXT NOT NULL,
	to_number     TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'QUEUED',
	external_id   TEXT,
	error_code    TEXT,
	error_message TEXT,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	priority      INTEGER NOT NULL DEFAULT 0,
	workspace_id  TEXT NOT NULL DEFAULT '',
	metadata      JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at    TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_external_id
	ON messages (external_id) WHERE external_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS deliveries (
	id                   TEXT PRIMARY KEY,
	message_id           TEXT NOT NULL REFERENCES messages(id),
	provider             TEXT NOT NULL DEFAULT 'twilio',
	status               TEXT NOT NULL DEFAULT 'QUEUED',
	external_delivery_id TEXT,
	attempts             INTEGER NOT NULL DEFAULT 0,
	error_code           TEXT,
	error_message        TEXT,
	webhook_url          TEXT,
	callback_status      TEXT NOT NULL DEFAULT 'PENDING',
	metadata             JSONB,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_deliveries_message_id
	ON deliveries (message_id);
CREATE INDEX IF NOT EXISTS idx_deliveries_external_id
	ON deliveries (external_delivery_id);

CREATE TABLE IF NOT EXISTS consents (
	id                  TEXT PRIMARY KEY,
	phone_number        TEXT NOT NULL UNIQUE,
	status              TEXT NOT NULL DEFAULT 'UNKNOWN',
	source              TEXT NOT NULL DEFAULT '',
	type                TEXT NOT NULL DEFAULT '',
	verification_method TEXT NOT NULL DEFAULT '',
	legal_basis         TEXT NOT NULL DEFAULT '',
	opt_in_date         TIMESTAMPTZ,
	opt_out_date        TIMESTAMPTZ,
	version             INTEGER NOT NULL DEFAULT 1,
	audit_trail         JSONB NOT NULL DEFAULT '[]',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_consents_phone_number
	ON consents (phone_number);
`
