package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/models"
)

func TestCredentialsStore_SaveAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	store := NewCredentialsStore(db, logger)
	ctx := context.Background()

	creds := &models.UserCredentials{
		UserID:            "user-1",
		ImsBaseURL:        "https://ims.example.com",
		EncryptedUsername: []byte("cipher-user"),
		EncryptedPassword: []byte("cipher-pass"),
	}
	require.NoError(t, store.Save(ctx, creds))

	found, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "https://ims.example.com", found.ImsBaseURL)
	assert.Equal(t, []byte("cipher-user"), found.EncryptedUsername)
	assert.False(t, found.Validated)
}

func TestCredentialsStore_SaveUpserts(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	store := NewCredentialsStore(db, logger)
	ctx := context.Background()

	creds := &models.UserCredentials{UserID: "user-1", ImsBaseURL: "https://ims.example.com"}
	require.NoError(t, store.Save(ctx, creds))

	creds.ImsBaseURL = "https://ims2.example.com"
	creds.Validated = true
	require.NoError(t, store.Save(ctx, creds))

	found, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "https://ims2.example.com", found.ImsBaseURL)
	assert.True(t, found.Validated)
}

func TestCredentialsStore_GetMissingReturnsNil(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	store := NewCredentialsStore(db, logger)

	found, err := store.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestCredentialsStore_Delete(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	store := NewCredentialsStore(db, logger)
	ctx := context.Background()

	creds := &models.UserCredentials{UserID: "user-1", ImsBaseURL: "https://ims.example.com"}
	require.NoError(t, store.Save(ctx, creds))
	require.NoError(t, store.Delete(ctx, "user-1"))

	found, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, found)
}
