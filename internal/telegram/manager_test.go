package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/storage"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/blockedby/tgquery/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		APIID:       12345,
		APIHash:     "test_hash",
		SessionPath: filepath.Join(t.TempDir(), "test.session"),
	}
}

func touchSessionFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("stub"), 0600))
}

func TestManager_Init_NoSessionFile_Unauthorized(t *testing.T) {
	cfg := testConfig(t)
	m := NewManager(cfg)

	factoryCalled := false
	m.SetClientFactory(func(ctx context.Context, cfg *config.Config, phone string) (*gotgproto.Client, error) {
		factoryCalled = true
		return nil, errors.New("should not be reached")
	})

	err := m.Init(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StatusUnauthorized, m.GetStatus())
	assert.False(t, factoryCalled, "silent init must not attempt a connection without a credential")
	assert.ErrorIs(t, m.EnsureReady(), ErrNotAuthorized)
}

func TestManager_Init_RejectedSession_Expired(t *testing.T) {
	cfg := testConfig(t)
	touchSessionFile(t, cfg.SessionPath)

	m := NewManager(cfg)
	m.SetClientFactory(func(ctx context.Context, cfg *config.Config, phone string) (*gotgproto.Client, error) {
		return nil, errors.New("AUTH_KEY_UNREGISTERED")
	})

	err := m.Init(context.Background())

	require.NoError(t, err, "Init should not return error when the session is merely rejected")
	assert.Equal(t, StatusExpired, m.GetStatus())
	assert.ErrorIs(t, m.EnsureReady(), ErrSessionExpired)
}

func TestManager_Init_ReusesSessionSilently(t *testing.T) {
	cfg := testConfig(t)
	touchSessionFile(t, cfg.SessionPath)

	m := NewManager(cfg)
	var phones []string
	m.SetClientFactory(func(ctx context.Context, cfg *config.Config, phone string) (*gotgproto.Client, error) {
		phones = append(phones, phone)
		return nil, nil
	})

	// repeated silent init never enters an interactive flow
	for i := 0; i < 2; i++ {
		m.Stop()
		require.NoError(t, m.Init(context.Background()))
		assert.Equal(t, StatusReady, m.GetStatus())
	}

	assert.Equal(t, []string{"", ""}, phones, "factory must always be invoked in session-reuse mode")
}

func TestManager_StartPhone_InvalidPhoneRejectedBeforeNetwork(t *testing.T) {
	cfg := testConfig(t)
	m := NewManager(cfg)

	factoryCalled := false
	m.SetClientFactory(func(ctx context.Context, cfg *config.Config, phone string) (*gotgproto.Client, error) {
		factoryCalled = true
		return nil, nil
	})

	for _, phone := range []string{"", "12345678", "+12ab34", "+1", "phone"} {
		err := m.StartPhone(context.Background(), phone)

		var authErr *AuthenticationError
		require.ErrorAs(t, err, &authErr, "phone %q should be rejected", phone)
		assert.False(t, factoryCalled, "phone %q must be rejected before any network call", phone)
	}
}

func TestManager_StartPhone_FactoryFailure(t *testing.T) {
	cfg := testConfig(t)
	m := NewManager(cfg)
	m.SetClientFactory(func(ctx context.Context, cfg *config.Config, phone string) (*gotgproto.Client, error) {
		assert.Equal(t, "+15551234567", phone)
		return nil, errors.New("PHONE_CODE_INVALID")
	})

	err := m.StartPhone(context.Background(), "+15551234567")

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Error(), "PHONE_CODE_INVALID")
}

func TestManager_SessionLock_SecondInvocationFailsFast(t *testing.T) {
	cfg := testConfig(t)
	touchSessionFile(t, cfg.SessionPath)

	factory := func(ctx context.Context, cfg *config.Config, phone string) (*gotgproto.Client, error) {
		return nil, nil
	}

	first := NewManager(cfg)
	first.SetClientFactory(factory)
	require.NoError(t, first.Init(context.Background()))
	defer first.Stop()

	second := NewManager(cfg)
	second.SetClientFactory(factory)
	err := second.Init(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by another invocation")
}

func TestManager_GetStatus_Concurrent(t *testing.T) {
	m := NewManager(testConfig(t))

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			m.GetStatus()
		}()
	}

	close(start)
	wg.Wait()
}

func TestManager_Stop_Graceful(t *testing.T) {
	m := NewManager(testConfig(t))

	// Should not panic
	assert.NotPanics(t, func() {
		m.Stop()
	})
}

func TestConvertToGotgprotoSession_RoundTrip(t *testing.T) {
	input := &session.Data{
		DC:      2,
		Addr:    "1.2.3.4:443",
		AuthKey: []byte("test-key-32-bytes-long-abc-12345"),
	}

	result, err := ConvertToGotgprotoSession(input)
	require.NoError(t, err)

	var restored session.Data
	require.NoError(t, json.Unmarshal(result.Data, &restored))

	assert.Equal(t, input.DC, restored.DC)
	assert.Equal(t, input.Addr, restored.Addr)
	assert.Equal(t, input.AuthKey, restored.AuthKey)
}

func TestSaveSessionFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qr.session")
	input := &session.Data{
		DC:      4,
		Addr:    "149.154.167.91:443",
		AuthKey: []byte("another-32-byte-test-key-0123456"),
	}

	require.NoError(t, SaveSessionFile(path, input))

	// a second save with the same version overwrites, never duplicates
	require.NoError(t, SaveSessionFile(path, input))

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	require.NoError(t, err)

	var sessions []storage.Session
	require.NoError(t, db.Find(&sessions).Error)
	require.Len(t, sessions, 1)
	assert.Equal(t, storage.LatestVersion, sessions[0].Version)

	var restored session.Data
	require.NoError(t, json.Unmarshal(sessions[0].Data, &restored))
	assert.Equal(t, input.Addr, restored.Addr)
	assert.Equal(t, input.AuthKey, restored.AuthKey)
}
