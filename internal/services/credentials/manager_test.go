package credentials

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenwire/imscrawl/internal/models"
)

type fakeStore struct {
	byUser map[string]*models.UserCredentials
}

func newFakeStore() *fakeStore { return &fakeStore{byUser: make(map[string]*models.UserCredentials)} }

func (f *fakeStore) Save(_ context.Context, creds *models.UserCredentials) error {
	cp := *creds
	f.byUser[creds.UserID] = &cp
	return nil
}

func (f *fakeStore) Get(_ context.Context, userID string) (*models.UserCredentials, error) {
	c, ok := f.byUser[userID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) Delete(_ context.Context, userID string) error {
	delete(f.byUser, userID)
	return nil
}

type fakeAuthenticator struct {
	err error
}

func (a *fakeAuthenticator) Authenticate(_ context.Context, _, _ string) error { return a.err }

func newEncryptor(t *testing.T) *AESEncryptor {
	t.Helper()
	enc, err := NewAESEncryptor("01234567890123456789012345678901", "0123456789abcdef")
	require.NoError(t, err)
	return enc
}

func TestManagerSaveAndDecrypt_RoundTrips(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(store, newEncryptor(t), nil)

	err := mgr.Save(context.Background(), "user-1", "https://ims.example.com", "alice", "s3cret")
	require.NoError(t, err)

	username, password, err := mgr.Decrypt(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
	assert.Equal(t, "s3cret", password)
}

func TestManagerSave_ResetsValidationState(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(store, newEncryptor(t), nil)

	require.NoError(t, mgr.Save(context.Background(), "user-1", "https://ims.example.com", "alice", "s3cret"))
	stored, err := store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, stored.Validated)
}

func TestValidateCredentials_SuccessMarksValidated(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(store, newEncryptor(t), nil)
	require.NoError(t, mgr.Save(context.Background(), "user-1", "https://ims.example.com", "alice", "s3cret"))

	err := mgr.ValidateCredentials(context.Background(), "user-1", &fakeAuthenticator{})
	require.NoError(t, err)

	stored, err := store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, stored.Validated)
	assert.Empty(t, stored.ValidationError)
}

func TestValidateCredentials_AuthFailureRecordsError(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(store, newEncryptor(t), nil)
	require.NoError(t, mgr.Save(context.Background(), "user-1", "https://ims.example.com", "alice", "s3cret"))

	authErr := fmt.Errorf("invalid login")
	err := mgr.ValidateCredentials(context.Background(), "user-1", &fakeAuthenticator{err: authErr})
	require.Error(t, err)

	stored, err := store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, stored.Validated)
	assert.Contains(t, stored.ValidationError, "invalid login")
}

func TestValidateCredentials_NoStoredCredentialsErrors(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(store, newEncryptor(t), nil)

	err := mgr.ValidateCredentials(context.Background(), "ghost", &fakeAuthenticator{})
	require.Error(t, err)
}

func TestAESEncryptor_TamperedCiphertextFailsToDecrypt(t *testing.T) {
	enc := newEncryptor(t)
	ciphertext, err := enc.Encrypt("hello")
	require.NoError(t, err)

	ciphertext[len(ciphertext)-1] ^= 0xFF
	_, err = enc.Decrypt(ciphertext)
	assert.Error(t, err)
}
