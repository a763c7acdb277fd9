package telegram

import (
	"encoding/json"
	"fmt"

	"github.com/celestix/gotgproto/storage"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/session"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ConvertToGotgprotoSession converts gotd session.Data to gotgproto storage.Session.
// gotgproto expects the raw JSON bytes of session.Data in its storage.Session.Data field.
func ConvertToGotgprotoSession(data *session.Data) (*storage.Session, error) {
	if data == nil {
		return nil, fmt.Errorf("session data is nil")
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal session data: %w", err)
	}

	return &storage.Session{
		Version: storage.LatestVersion,
		Data:    dataJSON,
	}, nil
}

// SaveSessionFile writes a captured gotd session into the SQLite credential
// file in the format the persistent client reads. The primary key is the
// storage version, so writing again overwrites the previous credential.
func SaveSessionFile(path string, data *session.Data) error {
	sess, err := ConvertToGotgprotoSession(data)
	if err != nil {
		return err
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Discard, // never echo credential contents
	})
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}

	if err := db.AutoMigrate(&storage.Session{}); err != nil {
		return fmt.Errorf("prepare session table: %w", err)
	}

	return db.Save(sess).Error
}
