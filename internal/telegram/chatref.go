package telegram

import (
	"regexp"
	"strconv"
	"strings"
)

// channelIDBase is the bot-api marker for channel/supergroup ids:
// a channel with internal id N is addressed as -(1000000000000 + N).
const channelIDBase = 1000000000000

var usernameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{3,31}$`)

// ChatRef identifies a conversation by numeric id (optionally with the
// -100 channel prefix) or by username handle. Exactly one of Username and
// MarkedID is set.
type ChatRef struct {
	raw      string
	Username string
	MarkedID int64
}

// String returns the reference as originally written, for diagnostics.
func (r ChatRef) String() string {
	return r.raw
}

// ParseChatRef parses a chat reference from the CLI.
// Accepted forms: bare numeric id ("123456"), -100-prefixed channel id
// ("-1001234567890"), plain negative chat id ("-123456"), and username
// handle with or without the @ prefix ("@durov", "durov").
func ParseChatRef(s string) (ChatRef, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return ChatRef{}, &EntityResolutionError{Ref: s}
	}

	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if id == 0 {
			return ChatRef{}, &EntityResolutionError{Ref: raw}
		}
		return ChatRef{raw: raw, MarkedID: id}, nil
	}

	handle := strings.TrimPrefix(raw, "@")
	if !usernameRe.MatchString(handle) {
		return ChatRef{}, &EntityResolutionError{Ref: raw}
	}
	return ChatRef{raw: raw, Username: handle}, nil
}

// markedUserID, markedChatID and markedChannelID convert internal peer ids
// to the bot-api convention used in CLI input and JSON output.
func markedUserID(id int64) int64    { return id }
func markedChatID(id int64) int64    { return -id }
func markedChannelID(id int64) int64 { return -(channelIDBase + id) }
