package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FailedSyncsTable is the dead-letter queue: one row per failed resource.
// A repeat failure for the same resource replaces the payload and bumps the
// attempt counter instead of adding a second row.
const FailedSyncsTable = "failed_syncs"

// FailedSyncRecord captures everything needed to replay a failed event:
// the raw payload, the workspace token it arrived with and the attempt count.
type FailedSyncRecord struct {
	ID         uuid.UUID `db:"id"`
	PortalID   string    `db:"portal_id"`
	TenantID   uuid.UUID `db:"tenant_id"`
	EventType  string    `db:"event_type"`
	Token      string    `db:"token"`
	ResourceID string    `db:"resource_id"`
	Attempts   int       `db:"attempts"`
	Payload    []byte    `db:"payload"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// FailedSyncStore provides access to the failed_syncs table.
type FailedSyncStore struct {
	pool *pgxpool.Pool
}

// NewFailedSyncStore creates a store; assumes bootstrap already created the table.
func NewFailedSyncStore(pool *pgxpool.Pool) (*FailedSyncStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &FailedSyncStore{pool: pool}, nil
}

const failedSyncColumns = `id, portal_id, tenant_id, event_type, token,
    resource_id, attempts, payload, created_at, updated_at`

// Upsert records a failure for a resource. The first failure inserts with
// attempts = 1; every later failure bumps attempts and refreshes the payload
// and token so the retry loop always replays the newest delivery.
func (s *FailedSyncStore) Upsert(ctx context.Context, rec FailedSyncRecord) (FailedSyncRecord, error) {
	if rec.ResourceID == "" {
		return FailedSyncRecord{}, errors.New("resource id is required")
	}
	if len(rec.Payload) == 0 {
		return FailedSyncRecord{}, errors.New("payload is required")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (portal_id, tenant_id, event_type, token, resource_id, attempts, payload)
        VALUES ($1,$2,$3,$4,$5,1,$6)
        ON CONFLICT (resource_id) DO UPDATE SET
            attempts = %s.attempts + 1,
            event_type = EXCLUDED.event_type,
            token = EXCLUDED.token,
            payload = EXCLUDED.payload,
            updated_at = NOW()
        RETURNING %s
    `, FailedSyncsTable, FailedSyncsTable, failedSyncColumns)

	row := s.pool.QueryRow(ctx, query,
		rec.PortalID, rec.TenantID, rec.EventType, rec.Token, rec.ResourceID, rec.Payload,
	)
	return scanFailedSyncRecord(row)
}

// ListRetryable returns dead-letter rows still under the attempt budget,
// oldest first so starved records drain before fresh failures.
func (s *FailedSyncStore) ListRetryable(ctx context.Context, maxAttempts int) ([]FailedSyncRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE attempts < $1 ORDER BY updated_at`,
		failedSyncColumns, FailedSyncsTable)

	rows, err := s.pool.Query(ctx, query, maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []FailedSyncRecord
	for rows.Next() {
		rec, err := scanFailedSyncRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteByResourceID removes a dead-letter row after a successful replay.
func (s *FailedSyncStore) DeleteByResourceID(ctx context.Context, resourceID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE resource_id = $1`, FailedSyncsTable)
	tag, err := s.pool.Exec(ctx, query, resourceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanFailedSyncRecord(row pgx.Row) (FailedSyncRecord, error) {
	var rec FailedSyncRecord
	if err := row.Scan(&rec.ID, &rec.PortalID, &rec.TenantID, &rec.EventType, &rec.Token, &rec.ResourceID, &rec.Attempts, &rec.Payload, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FailedSyncRecord{}, ErrNotFound
		}
		return FailedSyncRecord{}, err
	}
	return rec, nil
}
