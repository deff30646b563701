package admission

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/isqad/robosignal/internal/core"
)

// SessionRecord is the audit row of one admitted session
type SessionRecord struct {
	ID            int64             `db:"id"`
	ConnectionID  core.ConnectionID `db:"connection_id"`
	ClientID      string            `db:"client_id"`
	RemoteIP      string            `db:"remote_ip"`
	CreatedAt     time.Time         `db:"created_at"`
	ReleasedAt    sql.NullTime      `db:"released_at"`
	ReleaseReason sql.NullString    `db:"release_reason"`
}

type SessionsStorer interface {
	Save(ctx context.Context, record *SessionRecord) (*SessionRecord, error)
	MarkReleased(ctx context.Context, connID core.ConnectionID, reason string) error
	FindByConnectionID(ctx context.Context, connID core.ConnectionID) (*SessionRecord, error)
}

type SessionsRepository struct {
	db *sqlx.DB
}

func NewSessionsRepository(db *sqlx.DB) SessionsStorer {
	return &SessionsRepository{
		db: db,
	}
}

func (r *SessionsRepository) Save(ctx context.Context, record *SessionRecord) (*SessionRecord, error) {
	var id int64

	err := r.db.GetContext(ctx, &id,
		`INSERT INTO robot_sessions
			(connection_id, client_id, remote_ip, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		string(record.ConnectionID),
		record.ClientID,
		record.RemoteIP,
		record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.ID = id

	return record, nil
}

func (r *SessionsRepository) MarkReleased(ctx context.Context, connID core.ConnectionID, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE robot_sessions SET
			released_at = NOW(),
			release_reason = $1
		WHERE connection_id = $2 AND released_at IS NULL`,
		reason,
		string(connID),
	)
	return err
}

// FindByConnectionID returns nil without error when there is no such row
func (r *SessionsRepository) FindByConnectionID(ctx context.Context, connID core.ConnectionID) (*SessionRecord, error) {
	record := &SessionRecord{}

	err := r.db.GetContext(ctx, record,
		`SELECT
			id,
			connection_id,
			client_id,
			remote_ip,
			created_at,
			released_at,
			release_reason
		FROM robot_sessions
		WHERE connection_id = $1 LIMIT 1`,
		string(connID),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return record, nil
}

// NopSessionsStorer is used when no database is configured
type NopSessionsStorer struct{}

func (NopSessionsStorer) Save(ctx context.Context, record *SessionRecord) (*SessionRecord, error) {
	return record, nil
}

func (NopSessionsStorer) MarkReleased(ctx context.Context, connID core.ConnectionID, reason string) error {
	return nil
}

func (NopSessionsStorer) FindByConnectionID(ctx context.Context, connID core.ConnectionID) (*SessionRecord, error) {
	return nil, nil
}
