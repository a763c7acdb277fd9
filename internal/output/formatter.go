// Package output serializes query results to structured JSON for
// consumption by an orchestrating tool. Field names are stable; empty
// result sets serialize as empty arrays, never null, so callers can parse
// unconditionally.
package output

import (
	"encoding/json"
	"io"

	"github.com/blockedby/tgquery/internal/telegram"
)

// Identity is the --whoami / --auth view of the authenticated account.
type Identity struct {
	UserID    int64  `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	Phone     string `json:"phone"`
}

// AuthConfirmation is emitted after a successful --auth run. SessionFile is
// the credential path only; its contents are never emitted.
type AuthConfirmation struct {
	Status      string   `json:"status"`
	User        Identity `json:"user"`
	SessionFile string   `json:"session_file"`
}

// NewIdentity builds the serializable identity view of an account.
func NewIdentity(acc *telegram.Account) Identity {
	return Identity{
		UserID:    acc.ID,
		FirstName: acc.FirstName,
		LastName:  acc.LastName,
		Username:  acc.Username,
		Phone:     acc.Phone,
	}
}

// Formatter writes structured results to a stream.
type Formatter struct {
	w io.Writer
}

// New creates a formatter writing to w.
func New(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

// Emit serializes v as indented JSON followed by a newline.
func (f *Formatter) Emit(v any) error {
	enc := json.NewEncoder(f.w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
