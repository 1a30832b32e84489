package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/interfaces"
	"github.com/tenwire/imscrawl/internal/models"
)

// CredentialsStore implements interfaces.CredentialsStore over SQLite.
// Ciphertext columns are stored and returned opaquely; encryption is the
// caller's concern.
type CredentialsStore struct {
	db     *DB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewCredentialsStore creates a new CredentialsStore.
func NewCredentialsStore(db *DB, logger arbor.ILogger) interfaces.CredentialsStore {
	return &CredentialsStore{db: db, logger: logger}
}

func (s *CredentialsStore) Save(ctx context.Context, creds *models.UserCredentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		INSERT INTO ims_user_credentials (
			user_id, ims_base_url, encrypted_username, encrypted_password,
			validated, last_validated_at, validation_error
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			ims_base_url = excluded.ims_base_url,
			encrypted_username = excluded.encrypted_username,
			encrypted_password = excluded.encrypted_password,
			validated = excluded.validated,
			last_validated_at = excluded.last_validated_at,
			validation_error = excluded.validation_error`

	_, err := s.db.DB().ExecContext(ctx, query,
		creds.UserID, creds.ImsBaseURL, creds.EncryptedUsername, creds.EncryptedPassword,
		creds.Validated, nullableTimeVal(creds.LastValidatedAt), creds.ValidationError)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *CredentialsStore) Get(ctx context.Context, userID string) (*models.UserCredentials, error) {
	const query = `
		SELECT user_id, ims_base_url, encrypted_username, encrypted_password,
			validated, last_validated_at, validation_error
		FROM ims_user_credentials WHERE user_id = ?`

	var c models.UserCredentials
	var lastValidated sql.NullTime
	err := s.db.DB().QueryRowContext(ctx, query, userID).Scan(
		&c.UserID, &c.ImsBaseURL, &c.EncryptedUsername, &c.EncryptedPassword,
		&c.Validated, &lastValidated, &c.ValidationError)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credentials: %w", err)
	}
	if lastValidated.Valid {
		c.LastValidatedAt = lastValidated.Time
	}
	return &c, nil
}

func (s *CredentialsStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.DB().ExecContext(ctx, "DELETE FROM ims_user_credentials WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

func nullableTimeVal(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
