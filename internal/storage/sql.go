package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"tribsms/internal/models"
)

// SQLStore is the Postgres-backed Store.
type SQLStore struct {
	db *sqlx.DB
}

// Open connects to Postgres, applies the schema and returns the store.
func Open(dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("database DSN cannot be empty")
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	log.Info().Msg("Database connection established")
	return &SQLStore{db: db}, nil
}

// NewSQLStore wraps an existing connection, used by tests.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Ping reports database reachability for health checks.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// WithinTx runs fn inside one transaction, rolling back on error or panic.
func (s *SQLStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type messageRow struct {
	models.Message
	MetadataRaw []byte `db:"metadata"`
}

type deliveryRow struct {
	models.Delivery
	MetadataRaw []byte `db:"metadata"`
}

const messageColumns = `id, content, channel, direction, from_number, to_number, status,
	external_id, error_code, error_message, retry_count, priority, workspace_id,
	metadata, created_at, updated_at, deleted_at`

const deliveryColumns = `id, message_id, provider, status, external_delivery_id, attempts,
	error_code, error_message, webhook_url, callback_status, metadata, created_at, updated_at`

// CreateMessage inserts a new message row.
func (s *SQLStore) CreateMessage(ctx context.Context, m *models.Message) error {
	meta, err := marshalMeta(m.Metadata)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, content, channel, direction, from_number, to_number,
			status, external_id, error_code, error_message, retry_count, priority,
			workspace_id, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, m.ID, m.Content, m.Channel, m.Direction, m.From, m.To, m.Status,
		m.ExternalID, m.ErrorCode, m.ErrorMessage, m.RetryCount, m.Priority,
		m.WorkspaceID, meta, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetMessage returns a message by id, excluding soft-deleted rows.
func (s *SQLStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1 AND deleted_at IS NULL`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToMessage(&row)
}

// GetDeliveryByMessageID returns the delivery paired with a message, if any.
func (s *SQLStore) GetDeliveryByMessageID(ctx context.Context, messageID string) (*models.Delivery, error) {
	var row deliveryRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE message_id = $1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToDelivery(&row)
}

// DeliveryStats aggregates delivery outcomes across all rows.
func (s *SQLStore) DeliveryStats(ctx context.Context) (*models.DeliveryStats, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT status, COUNT(*) FROM deliveries GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &models.DeliveryStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch models.DeliveryStatus(status) {
		case models.DeliverySent:
			stats.Sent += count
		case models.DeliveryDelivered:
			stats.Delivered += count
		case models.DeliveryFailed:
			stats.Failed += count
		case models.DeliveryUndelivered:
			stats.Undelivered += count
		default:
			stats.Pending += count
		}
	}
	return stats, rows.Err()
}

// GetConsent returns the consent record for a phone number.
func (s *SQLStore) GetConsent(ctx context.Context, phoneNumber string) (*models.Consent, error) {
	var row struct {
		models.Consent
		AuditRaw []byte `db:"audit_trail"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT id, phone_number, status, source, type, verification_method, legal_basis,
			opt_in_date, opt_out_date, version, audit_trail, created_at, updated_at
		FROM consents WHERE phone_number = $1`, phoneNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c := row.Consent
	if len(row.AuditRaw) > 0 {
		if err := json.Unmarshal(row.AuditRaw, &c.AuditTrail); err != nil {
			return nil, fmt.Errorf("decoding consent audit trail: %w", err)
		}
	}
	return &c, nil
}

// SaveConsent upserts a consent record keyed by phone number. The audit
// trail is stored whole; callers only ever append to it.
func (s *SQLStore) SaveConsent(ctx context.Context, c *models.Consent) error {
	audit, err := json.Marshal(c.AuditTrail)
	if err != nil {
		return fmt.Errorf("encoding consent audit trail: %w", err)
	}
	c.UpdatedAt = time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = c.UpdatedAt
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consents (id, phone_number, status, source, type, verification_method,
			legal_basis, opt_in_date, opt_out_date, version, audit_trail, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (phone_number) DO UPDATE SET
			status = EXCLUDED.status,
			source = EXCLUDED.source,
			type = EXCLUDED.type,
			verification_method = EXCLUDED.verification_method,
			legal_basis = EXCLUDED.legal_basis,
			opt_in_date = EXCLUDED.opt_in_date,
			opt_out_date = EXCLUDED.opt_out_date,
			version = EXCLUDED.version,
			audit_trail = EXCLUDED.audit_trail,
			updated_at = EXCLUDED.updated_at
	`, c.ID, c.PhoneNumber, c.Status, c.Source, c.Type, c.VerificationMethod,
		c.LegalBasis, c.OptInDate, c.OptOutDate, c.Version, audit, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving consent: %w", err)
	}
	return nil
}

// sqlTx implements Tx over one open transaction.
type sqlTx struct {
	tx *sqlx.Tx
}

// GetMessageForUpdate locks the message row for the rest of the transaction.
func (t *sqlTx) GetMessageForUpdate(ctx context.Context, id string) (*models.Message, error) {
	var row messageRow
	err := t.tx.GetContext(ctx, &row,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToMessage(&row)
}

func (t *sqlTx) UpdateMessage(ctx context.Context, m *models.Message) error {
	meta, err := marshalMeta(m.Metadata)
	if err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC()
	_, err = t.tx.ExecContext(ctx, `
		UPDATE messages SET status = $2, external_id = $3, error_code = $4,
			error_message = $5, retry_count = $6, metadata = $7, updated_at = $8
		WHERE id = $1
	`, m.ID, m.Status, m.ExternalID, m.ErrorCode, m.ErrorMessage, m.RetryCount, meta, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	return nil
}

func (t *sqlTx) GetDeliveryByMessageID(ctx context.Context, messageID string) (*models.Delivery, error) {
	var row deliveryRow
	err := t.tx.GetContext(ctx, &row,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE message_id = $1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToDelivery(&row)
}

func (t *sqlTx) GetDeliveryByExternalID(ctx context.Context, externalID string) (*models.Delivery, error) {
	var row deliveryRow
	err := t.tx.GetContext(ctx, &row,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE external_delivery_id = $1`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToDelivery(&row)
}

func (t *sqlTx) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	meta, err := marshalMeta(d.Metadata)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO deliveries (id, message_id, provider, status, external_delivery_id,
			attempts, error_code, error_message, webhook_url, callback_status, metadata,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, d.ID, d.MessageID, d.Provider, d.Status, d.ExternalDeliveryID,
		d.Attempts, d.ErrorCode, d.ErrorMessage, d.WebhookURL, d.CallbackStatus, meta,
		d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting delivery: %w", err)
	}
	return nil
}

func (t *sqlTx) UpdateDelivery(ctx context.Context, d *models.Delivery) error {
	meta, err := marshalMeta(d.Metadata)
	if err != nil {
		return err
	}
	d.UpdatedAt = time.Now().UTC()
	_, err = t.tx.ExecContext(ctx, `
		UPDATE deliveries SET status = $2, external_delivery_id = $3, attempts = $4,
			error_code = $5, error_message = $6, callback_status = $7, metadata = $8,
			updated_at = $9
		WHERE id = $1
	`, d.ID, d.Status, d.ExternalDeliveryID, d.Attempts, d.ErrorCode, d.ErrorMessage,
		d.CallbackStatus, meta, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating delivery: %w", err)
	}
	return nil
}

func marshalMeta(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return b, nil
}

func rowToMessage(row *messageRow) (*models.Message, error) {
	m := row.Message
	if len(row.MetadataRaw) > 0 {
		if err := json.Unmarshal(row.MetadataRaw, &m.Metadata); err != nil {
			return nil, fmt.Errorf("decoding message metadata: %w", err)
		}
	}
	return &m, nil
}

func rowToDelivery(row *deliveryRow) (*models.Delivery, error) {
	d := row.Delivery
	if len(row.MetadataRaw) > 0 {
		if err := json.Unmarshal(row.MetadataRaw, &d.Metadata); err != nil {
			return nil, fmt.Errorf("decoding delivery metadata: %w", err)
		}
	}
	return &d, nil
}
