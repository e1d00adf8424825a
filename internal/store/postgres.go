package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at
		FROM users
		WHERE email=$1
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

const requestColumns = `id, owner_id, expert_id, address, COALESCE(images::text, '[]'), status, created_at, updated_at`

func scanRequest(scan func(...any) error) (ValuationRequest, error) {
	var item ValuationRequest
	var imagesRaw string
	if err := scan(
		&item.ID,
		&item.OwnerID,
		&item.ExpertID,
		&item.Address,
		&imagesRaw,
		&item.Status,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return ValuationRequest{}, err
	}
	if err := json.Unmarshal([]byte(imagesRaw), &item.Images); err != nil {
		return ValuationRequest{}, fmt.Errorf("decode request images: %w", err)
	}
	if item.Images == nil {
		item.Images = []string{}
	}
	return item, nil
}

func (s *PostgresStore) InsertRequest(ctx context.Context, item ValuationRequest) error {
	images := item.Images
	if images == nil {
		images = []string{}
	}
	encoded, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("marshal request images: %w", err)
	}
	status := item.Status
	if status == "" {
		status = StatusOpen
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO valuation_requests (id, owner_id, address, images, status)
		VALUES ($1, $2, $3, $4::jsonb, $5)
	`, item.ID, item.OwnerID, item.Address, string(encoded), status)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, requestID string) (ValuationRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM valuation_requests
		WHERE id=$1
	`, requestID)
	return scanRequest(row.Scan)
}

func (s *PostgresStore) ListRequestsByOwner(ctx context.Context, ownerID string) ([]ValuationRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM valuation_requests
		WHERE owner_id=$1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list requests by owner: %w", err)
	}
	defer rows.Close()

	items := make([]ValuationRequest, 0)
	for rows.Next() {
		item, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return items, nil
}

// ListRequestsForExpert returns the requests an expert may see: every unclaimed
// request plus the ones assigned to this expert.
func (s *PostgresStore) ListRequestsForExpert(ctx context.Context, expertID string) ([]ValuationRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM valuation_requests
		WHERE expert_id IS NULL OR expert_id=$1
		ORDER BY created_at DESC
	`, expertID)
	if err != nil {
		return nil, fmt.Errorf("list requests for expert: %w", err)
	}
	defer rows.Close()

	items := make([]ValuationRequest, 0)
	for rows.Next() {
		item, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return items, nil
}

// ClaimRequest assigns expertID to an unclaimed request. The WHERE clause is
// the whole race: two concurrent claims resolve to exactly one winner because
// only one UPDATE can match expert_id IS NULL.
func (s *PostgresStore) ClaimRequest(ctx context.Context, requestID, expertID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE valuation_requests
		SET expert_id=$2, status=$3, updated_at=NOW()
		WHERE id=$1 AND expert_id IS NULL
	`, requestID, expertID, StatusClaimed)
	if err != nil {
		return false, fmt.Errorf("claim request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim request rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpdateRequestAddress(ctx context.Context, requestID, address string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE valuation_requests
		SET address=$2, updated_at=NOW()
		WHERE id=$1
	`, requestID, address)
	if err != nil {
		return false, fmt.Errorf("update request address: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update request address rows: %w", err)
	}
	return affected > 0, nil
}

// AppendRequestImages appends locators to the request's ordered image list.
func (s *PostgresStore) AppendRequestImages(ctx context.Context, requestID string, images []string) (bool, error) {
	encoded, err := json.Marshal(images)
	if err != nil {
		return false, fmt.Errorf("marshal request images: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE valuation_requests
		SET images = COALESCE(images, '[]'::jsonb) || $2::jsonb, updated_at=NOW()
		WHERE id=$1
	`, requestID, string(encoded))
	if err != nil {
		return false, fmt.Errorf("append request images: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append request images rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpdateRequestStatus(ctx context.Context, requestID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE valuation_requests
		SET status=$2, updated_at=NOW()
		WHERE id=$1
	`, requestID, status)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	return nil
}

// DeleteRequest removes a request and its messages in one transaction. Both
// deletes commit together or not at all.
func (s *PostgresStore) DeleteRequest(ctx context.Context, requestID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete request: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE request_id=$1`, requestID); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("delete request messages: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM valuation_requests WHERE id=$1`, requestID)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("delete request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("delete request rows: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete request: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, item Message) error {
	images := item.Images
	if images == nil {
		images = []string{}
	}
	encoded, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("marshal message images: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, request_id, sender_id, body, images, is_read)
		VALUES ($1, $2, $3, $4, $5::jsonb, FALSE)
	`, item.ID, item.RequestID, item.SenderID, item.Body, string(encoded))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, requestID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, sender_id, body, COALESCE(images::text, '[]'), is_read, created_at
		FROM messages
		WHERE request_id=$1
		ORDER BY created_at ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		var imagesRaw string
		if err := rows.Scan(&item.ID, &item.RequestID, &item.SenderID, &item.Body, &imagesRaw, &item.IsRead, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(imagesRaw), &item.Images); err != nil {
			return nil, fmt.Errorf("decode message images: %w", err)
		}
		if item.Images == nil {
			item.Images = []string{}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

// MarkThreadRead flips is_read on every message in the thread not authored by
// viewerID. Returns the number of messages marked.
func (s *PostgresStore) MarkThreadRead(ctx context.Context, requestID, viewerID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET is_read=TRUE
		WHERE request_id=$1 AND sender_id <> $2 AND is_read=FALSE
	`, requestID, viewerID)
	if err != nil {
		return 0, fmt.Errorf("mark thread read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark thread read rows: %w", err)
	}
	return affected, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
