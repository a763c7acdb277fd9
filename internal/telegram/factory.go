package telegram

import (
	"context"
	"fmt"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"

	"github.com/blockedby/tgquery/internal/config"
)

// NewPersistentClient creates a telegram client that stores its session in
// a local SQLite file. Session updates (auth key refreshes) are persisted
// back automatically.
//
// An empty phone reuses the stored session without prompting; a non-empty
// phone runs the interactive login flow (verification code and, when the
// account has it enabled, the 2FA password are read from the terminal).
func NewPersistentClient(_ context.Context, cfg *config.Config, phone string) (*gotgproto.Client, error) {
	clientOpts := &gotgproto.ClientOpts{
		Session:          sessionMaker.SqlSession(sqlite.Open(cfg.SessionPath)),
		DisableCopyright: true,
		InMemory:         false, // persistence enabled
	}

	client, err := gotgproto.NewClient(
		cfg.APIID,
		cfg.APIHash,
		gotgproto.ClientTypePhone(phone), // empty = use session
		clientOpts,
	)
	if err != nil {
		return nil, fmt.Errorf("create telegram client: %w", err)
	}

	return client, nil
}
