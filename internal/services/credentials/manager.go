// Package credentials implements the credential manager use case: saving,
// retrieving, and validating a user's encrypted IMS credentials.
// Encryption itself is delegated to an injected Encryptor port rather than
// owned directly, so Save resets the validation flag on any ciphertext
// mutation without needing to know how that ciphertext was produced.
package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/common"
	"github.com/tenwire/imscrawl/internal/interfaces"
	"github.com/tenwire/imscrawl/internal/models"
)

// Encryptor encrypts and decrypts credential plaintext. The concrete
// AESEncryptor derives its key via PBKDF2 from environment-provided master
// key/salt material; this port abstracts that choice so the manager itself
// never sees key material.
type Encryptor interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(ciphertext []byte) (string, error)
}

// Authenticator is the subset of the scraper a credential probe needs.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) error
}

// Manager implements save/get/delete/validate for one user's IMS
// credentials.
type Manager struct {
	store     interfaces.CredentialsStore
	encryptor Encryptor
	logger    arbor.ILogger
}

// NewManager constructs a Manager.
func NewManager(store interfaces.CredentialsStore, encryptor Encryptor, logger arbor.ILogger) *Manager {
	return &Manager{store: store, encryptor: encryptor, logger: logger}
}

// Save encrypts and upserts userID's IMS credentials, resetting any prior
// validation state since the ciphertext just changed.
func (m *Manager) Save(ctx context.Context, userID, imsBaseURL, username, password string) error {
	encUser, err := m.encryptor.Encrypt(username)
	if err != nil {
		return fmt.Errorf("encrypt username: %w", err)
	}
	encPass, err := m.encryptor.Encrypt(password)
	if err != nil {
		return fmt.Errorf("encrypt password: %w", err)
	}

	creds := &models.UserCredentials{
		UserID:            userID,
		ImsBaseURL:        imsBaseURL,
		EncryptedUsername: encUser,
		EncryptedPassword: encPass,
	}
	creds.ResetValidation()

	if err := m.store.Save(ctx, creds); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// Get returns userID's stored credentials, still encrypted.
func (m *Manager) Get(ctx context.Context, userID string) (*models.UserCredentials, error) {
	return m.store.Get(ctx, userID)
}

// Decrypt returns userID's plaintext username/password.
func (m *Manager) Decrypt(ctx context.Context, userID string) (username, password string, err error) {
	creds, err := m.store.Get(ctx, userID)
	if err != nil {
		return "", "", fmt.Errorf("get credentials: %w", err)
	}
	if creds == nil {
		return "", "", fmt.Errorf("no credentials stored for user %s", userID)
	}

	username, err = m.encryptor.Decrypt(creds.EncryptedUsername)
	if err != nil {
		return "", "", fmt.Errorf("decrypt username: %w", err)
	}
	password, err = m.encryptor.Decrypt(creds.EncryptedPassword)
	if err != nil {
		return "", "", fmt.Errorf("decrypt password: %w", err)
	}
	return username, password, nil
}

// Delete removes userID's stored credentials.
func (m *Manager) Delete(ctx context.Context, userID string) error {
	return m.store.Delete(ctx, userID)
}

// ValidateCredentials decrypts userID's credentials and probes the IMS
// system via auth's Authenticate, persisting the outcome as a real login
// probe rather than a stub, since auth's Authenticate is just the scraper's
// own session login.
func (m *Manager) ValidateCredentials(ctx context.Context, userID string, auth Authenticator) error {
	creds, err := m.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("get credentials: %w", err)
	}
	if creds == nil {
		return fmt.Errorf("no credentials stored for user %s", userID)
	}

	username, password, err := m.Decrypt(ctx, userID)
	if err != nil {
		return err
	}

	if _, _, warnings, urlErr := common.ValidateBaseURL(creds.ImsBaseURL, m.logger); urlErr != nil {
		creds.Validated = false
		creds.ValidationError = urlErr.Error()
		_ = m.store.Save(ctx, creds)
		return fmt.Errorf("invalid ims base url: %w", urlErr)
	} else if len(warnings) > 0 && m.logger != nil {
		m.logger.Warn().Strs("warnings", warnings).Str("user_id", userID).Msg("ims base url validation warnings")
	}

	authErr := auth.Authenticate(ctx, username, password)
	if authErr != nil {
		creds.Validated = false
		creds.ValidationError = authErr.Error()
		if saveErr := m.store.Save(ctx, creds); saveErr != nil && m.logger != nil {
			m.logger.Warn().Err(saveErr).Str("user_id", userID).Msg("failed to persist validation failure")
		}
		return fmt.Errorf("ims authentication failed: %w", authErr)
	}

	creds.Validated = true
	creds.ValidationError = ""
	creds.LastValidatedAt = time.Now()
	if err := m.store.Save(ctx, creds); err != nil {
		return fmt.Errorf("persist validation result: %w", err)
	}
	return nil
}
