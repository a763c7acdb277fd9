package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSessionExpired indicates the persisted session was rejected by the
// server. The caller must re-run interactive authentication.
var ErrSessionExpired = errors.New("telegram session expired or revoked, re-run --auth")

// ErrNotAuthorized indicates no usable session exists yet.
var ErrNotAuthorized = errors.New("not authenticated, run --auth first")

// AuthenticationError reports a failed interactive login (bad phone, wrong
// code, wrong 2FA password). Terminal for the current invocation.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// EntityResolutionError reports a ChatRef that could not be resolved to
// exactly one entity. The original reference is echoed for diagnostics.
type EntityResolutionError struct {
	Ref string
}

func (e *EntityResolutionError) Error() string {
	return fmt.Sprintf("could not find input entity: %s", e.Ref)
}

// RateLimitedError reports a second consecutive server-imposed backoff on
// the same operation. The remaining wait is surfaced to the caller instead
// of retrying further.
type RateLimitedError struct {
	Op   string
	Wait time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Op, e.Wait)
}

// floodWaitSeconds extracts the wait duration from a FLOOD_WAIT error.
// Returns 0 if err is not a flood-wait error.
//
// gotgproto/gotd errors are usually wrapped; checking the error string for
// FLOOD_WAIT_ is the most reliable way without deep coupling to the gotd
// definition of FloodWait.
func floodWaitSeconds(err error) int {
	if err == nil {
		return 0
	}

	str := err.Error()
	if !strings.Contains(str, "FLOOD_WAIT_") {
		return 0
	}

	// format is usually FLOOD_WAIT_X where X is seconds,
	// e.g. "rpc error: code 420: FLOOD_WAIT_15"
	parts := strings.Split(str, "FLOOD_WAIT_")
	if len(parts) < 2 {
		return 0
	}

	var seconds int
	numStr := strings.TrimSpace(parts[1])
	// sometimes it has " (caused by...)" or another suffix, simple scan
	_, _ = fmt.Sscanf(numStr, "%d", &seconds)
	return seconds
}
