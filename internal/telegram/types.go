package telegram

import (
	"time"

	"github.com/gotd/td/tg"
)

// Chat is a resolved conversation the account can query.
type Chat struct {
	MarkedID int64             // bot-api style id: users positive, chats negative, channels -100-prefixed
	Title    string            // chat title or user display name
	Peer     tg.InputPeerClass // input peer for api calls
}

// Message represents a parsed telegram message.
type Message struct {
	ID        int       // message id (unique within chat)
	ChatID    int64     // marked id of the containing chat
	ChatTitle string    // title of the containing chat
	SenderID  int64     // sender id (0 when the server omits it)
	Text      string    // message text content
	Date      time.Time // message creation timestamp (UTC)
	Outgoing  bool      // sent by the account owner
	MediaType string    // media type name, empty for plain text
}

// Account identifies the authenticated user.
type Account struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	Phone     string
}
