package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/WHABGAMES/rafeq-backend-sub002/internal/model"
)

type ChannelRepository interface {
	FindByID(ctx context.Context, id string) (*model.Channel, error)
	FindByStatus(ctx context.Context, status model.ChannelStatus) ([]model.Channel, error)
	MarkConnecting(ctx context.Context, id string, sessionID string) error
	MarkConnected(ctx context.Context, id string, phoneNumber string, sessionID string) error
	MarkDisconnected(ctx context.Context, id string, message string) error
	SetLastError(ctx context.Context, id string, message string) error
	SaveAuthState(ctx context.Context, id string, blob []byte) error
	GetAuthState(ctx context.Context, id string) ([]byte, error)
	ClearAuthState(ctx context.Context, id string) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) ChannelRepository
}

// channelDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type channelDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type channelRepo struct {
	db channelDB
}

func NewChannelRepository(db *sqlx.DB) ChannelRepository {
	return &channelRepo{db: db}
}

func (r *channelRepo) WithTx(tx *sqlx.Tx) ChannelRepository {
	return &channelRepo{db: tx}
}

func (r *channelRepo) FindByID(ctx context.Context, id string) (*model.Channel, error) {
	var ch model.Channel
	err := r.db.GetContext(ctx, &ch, `
		SELECT * FROM channels WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r *channelRepo) FindByStatus(ctx context.Context, status model.ChannelStatus) ([]model.Channel, error) {
	var channels []model.Channel
	err := r.db.SelectContext(ctx, &channels, `
		SELECT * FROM channels WHERE status = $1
	`, status)
	if err != nil {
		return nil, err
	}
	return channels, nil
}

func (r *channelRepo) MarkConnecting(ctx context.Context, id string, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE channels SET
			status = 'connecting',
			session_id = $2,
			updated_at = $3
		WHERE id = $1
	`, id, sessionID, time.Now())
	return err
}

func (r *channelRepo) MarkConnected(ctx context.Context, id string, phoneNumber string, sessionID string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE channels SET
			status = 'connected',
			phone_number = $2,
			session_id = $3,
			connected_at = $4,
			last_error = NULL,
			last_error_at = NULL,
			updated_at = $4
		WHERE id = $1
	`, id, phoneNumber, sessionID, now)
	return err
}

func (r *channelRepo) MarkDisconnected(ctx context.Context, id string, message string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE channels SET
			status = 'disconnected',
			disconnected_at = $3,
			last_error = $2,
			last_error_at = $3,
			updated_at = $3
		WHERE id = $1
	`, id, message, now)
	return err
}

func (r *channelRepo) SetLastError(ctx context.Context, id string, message string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE channels SET
			last_error = $2,
			last_error_at = $3,
			updated_at = $3
		WHERE id = $1
	`, id, message, now)
	return err
}

func (r *channelRepo) SaveAuthState(ctx context.Context, id string, blob []byte) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE channels SET
			auth_state = $2,
			updated_at = $3
		WHERE id = $1
	`, id, blob, time.Now())
	return err
}

func (r *channelRepo) GetAuthState(ctx context.Context, id string) ([]byte, error) {
	var blob []byte
	err := r.db.GetContext(ctx, &blob, `
		SELECT auth_state FROM channels WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

func (r *channelRepo) ClearAuthState(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE channels SET
			auth_state = NULL,
			updated_at = $2
		WHERE id = $1
	`, id, time.Now())
	return err
}
