package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/celestix/gotgproto"
	"github.com/gofrs/flock"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tg"

	"github.com/blockedby/tgquery/internal/config"
	"github.com/blockedby/tgquery/internal/logger"
)

// Status represents the Telegram client status.
type Status string

// Status constants define the possible states of the Telegram client.
const (
	StatusInitializing Status = "INITIALIZING"
	StatusReady        Status = "READY"
	StatusUnauthorized Status = "UNAUTHORIZED"
	StatusExpired      Status = "EXPIRED"
)

// phoneRe matches international phone numbers: + followed by 7-15 digits.
var phoneRe = regexp.MustCompile(`^\+[0-9]{7,15}$`)

// ClientFactory is a function that creates a telegram client.
// phone is empty when an existing session should be reused silently.
type ClientFactory func(ctx context.Context, cfg *config.Config, phone string) (*gotgproto.Client, error)

// QRClientFactory is a function that creates a raw telegram client for QR auth.
type QRClientFactory func(cfg *config.Config) (*QRClientBundle, error)

// Manager owns the persisted session credential and the client lifecycle.
// The credential file is the only mutable state in the process; it is
// guarded by an exclusive advisory lock while a client that may write it
// is alive, and its contents are never logged or emitted.
type Manager struct {
	cfg *config.Config
	log *logger.Logger

	client *gotgproto.Client
	lock   *flock.Flock

	status Status
	mu     sync.RWMutex

	clientFactory   ClientFactory
	qrClientFactory QRClientFactory
}

// NewManager creates a new session Manager.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		cfg:             cfg,
		log:             logger.Get(),
		status:          StatusInitializing,
		clientFactory:   NewPersistentClient,
		qrClientFactory: NewQRClient,
	}
}

// SetClientFactory allows overriding the client creation logic (e.g. for testing).
func (m *Manager) SetClientFactory(f ClientFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clientFactory = f
}

// SetQRClientFactory allows overriding the QR client creation logic (e.g. for testing).
func (m *Manager) SetQRClientFactory(f QRClientFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qrClientFactory = f
}

// GetStatus returns the current session status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// SessionPath returns the location of the credential file.
func (m *Manager) SessionPath() string {
	return m.cfg.SessionPath
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Init silently restores the persisted session. It never prompts: a missing
// credential file leaves the manager in StatusUnauthorized, a credential the
// server rejects leaves it in StatusExpired.
func (m *Manager) Init(ctx context.Context) error {
	m.setStatus(StatusInitializing)

	if _, err := os.Stat(m.cfg.SessionPath); err != nil {
		if os.IsNotExist(err) {
			m.log.Info().Msg("telegram: no session file found, waiting for auth")
			m.setStatus(StatusUnauthorized)
			return nil
		}
		return fmt.Errorf("stat session file: %w", err)
	}

	if err := m.acquireLock(); err != nil {
		return err
	}

	client, err := m.clientFactory(ctx, m.cfg, "")
	if err != nil {
		m.releaseLock()
		m.log.Warn().Err(err).Msg("telegram: persisted session was rejected")
		m.setStatus(StatusExpired)
		return nil
	}

	m.mu.Lock()
	m.client = client
	m.status = StatusReady
	m.mu.Unlock()

	m.log.Info().Msg("telegram: client is ready")
	return nil
}

// EnsureReady returns nil when an authenticated client is available, or the
// taxonomy error matching the current state.
func (m *Manager) EnsureReady() error {
	switch m.GetStatus() {
	case StatusReady:
		return nil
	case StatusExpired:
		return ErrSessionExpired
	default:
		return ErrNotAuthorized
	}
}

// StartPhone runs the interactive phone login flow and persists the
// resulting session. The phone number is validated before any network call;
// verification code and 2FA password are collected on the terminal.
func (m *Manager) StartPhone(ctx context.Context, phone string) error {
	if !phoneRe.MatchString(phone) {
		return &AuthenticationError{Reason: "phone must be international format: + followed by digits"}
	}

	if m.GetStatus() == StatusReady {
		return nil
	}

	if err := m.acquireLock(); err != nil {
		return err
	}

	m.log.Info().Msg("telegram: starting interactive login (check telegram for the code)")
	client, err := m.clientFactory(ctx, m.cfg, phone)
	if err != nil {
		m.releaseLock()
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &AuthenticationError{Reason: err.Error()}
	}

	m.mu.Lock()
	m.client = client
	m.status = StatusReady
	m.mu.Unlock()

	m.log.Info().Str("session_file", m.cfg.SessionPath).Msg("telegram: session persisted")
	return nil
}

// StartQR runs the QR login flow: a login token URL is handed to onQRCode
// for rendering, and the captured session is persisted to the credential
// file. Blocks until login succeeds or ctx is canceled.
func (m *Manager) StartQR(ctx context.Context, onQRCode func(url string)) error {
	if m.GetStatus() == StatusReady {
		return nil
	}

	bundle, err := m.qrClientFactory(m.cfg)
	if err != nil {
		return fmt.Errorf("create QR client: %w", err)
	}

	var authErr error
	var sessionData *session.Data

	// client.Run blocks until the context is canceled or the function returns
	err = bundle.Client.Run(ctx, func(ctx context.Context) error {
		qr := bundle.Client.QR()
		loggedIn := qrlogin.OnLoginToken(&bundle.Dispatcher)

		_, authErr = qr.Auth(ctx, loggedIn, func(_ context.Context, token qrlogin.Token) error {
			m.log.Info().Msg("telegram: QR token generated")
			onQRCode(token.URL())
			return nil
		})

		if authErr != nil {
			return authErr
		}

		// on success, capture session from the in-memory storage
		loader := session.Loader{Storage: bundle.Storage}
		sessionData, authErr = loader.Load(ctx)
		return authErr
	})

	if err != nil || authErr != nil {
		if errors.Is(err, context.Canceled) || errors.Is(authErr, context.Canceled) {
			return context.Canceled
		}
		return &AuthenticationError{Reason: errors.Join(err, authErr).Error()}
	}

	if sessionData == nil {
		return &AuthenticationError{Reason: "session data is nil after successful auth"}
	}

	if err := m.acquireLock(); err != nil {
		return err
	}
	if err := SaveSessionFile(m.cfg.SessionPath, sessionData); err != nil {
		m.releaseLock()
		return fmt.Errorf("save session: %w", err)
	}
	m.releaseLock()

	// re-initialize with the new session (creates the persistent client)
	m.log.Info().Str("session_file", m.cfg.SessionPath).Msg("telegram: QR session persisted")
	if err := m.Init(ctx); err != nil {
		return err
	}
	return m.EnsureReady()
}

// API returns the raw tg.Client for direct API calls.
func (m *Manager) API() (*tg.Client, error) {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()

	if client == nil {
		return nil, ErrNotAuthorized
	}
	return client.API(), nil
}

// Self returns the authenticated account identity.
func (m *Manager) Self() (*Account, error) {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()

	if client == nil || client.Self == nil {
		return nil, ErrNotAuthorized
	}

	u := client.Self
	return &Account{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		Phone:     u.Phone,
	}, nil
}

// acquireLock takes the exclusive advisory lock on the credential file.
// A second concurrent invocation fails fast instead of racing session
// renewal.
func (m *Manager) acquireLock() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lock != nil {
		return nil
	}

	lock := flock.New(m.cfg.SessionPath + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock session file: %w", err)
	}
	if !ok {
		return fmt.Errorf("session file %s is locked by another invocation", m.cfg.SessionPath)
	}

	m.lock = lock
	return nil
}

func (m *Manager) releaseLock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lock != nil {
		_ = m.lock.Unlock()
		m.lock = nil
	}
}

// Stop stops the client and releases the credential lock.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.client != nil {
		m.client.Stop()
		m.client = nil
	}
	m.mu.Unlock()

	m.releaseLock()
}
