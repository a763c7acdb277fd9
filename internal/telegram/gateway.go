// Package telegram provides the Telegram MTProto client wrapper: session
// management, rate-aware API access and entity resolution.
package telegram

import (
	"context"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"github.com/blockedby/tgquery/internal/config"
	"github.com/blockedby/tgquery/internal/logger"
)

const (
	dialogPageSize = 100
	apiPageLimit   = 100 // telegram api caps message pages at 100
)

// retryState tracks the flood-wait retry machine of a single invocation.
type retryState int

const (
	retryIdle     retryState = iota // no flood-wait seen yet
	retryAwaiting                   // one flood-wait absorbed, single retry pending
)

// Gateway centralizes all network I/O against the Telegram API. Every call
// goes through the shared rate limiter, so a flood-wait on one in-flight
// call pauses the rest for the same window.
type Gateway struct {
	manager *Manager
	limiter *RateLimiter
	log     *logger.Logger
}

// NewGateway creates a gateway on top of an authenticated manager.
func NewGateway(manager *Manager, cfg *config.Config) *Gateway {
	return &Gateway{
		manager: manager,
		limiter: NewRateLimiter(cfg.RateLimitRPS, cfg.RateBurst),
		log:     logger.Get(),
	}
}

// invoke wraps a remote call with the shared limiter and the flood-wait
// retry policy: on a FLOOD_WAIT carrying N seconds the call is suspended
// for the full window and retried once; a second consecutive flood-wait is
// surfaced as RateLimitedError with the remaining wait, not retried.
func (g *Gateway) invoke(ctx context.Context, op string, fn func(context.Context) error) error {
	state := retryIdle
	for {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		wait := floodWaitSeconds(err)
		if wait <= 0 {
			return err
		}

		g.limiter.SetFloodWait(wait)
		if state == retryAwaiting {
			g.log.Error().Str("op", op).Int("wait_seconds", wait).Msg("telegram: FLOOD_WAIT again after retry, giving up")
			return &RateLimitedError{Op: op, Wait: g.limiter.FloodWaitRemaining()}
		}

		g.log.Warn().Str("op", op).Int("wait_seconds", wait).Msg("telegram: FLOOD_WAIT detected, waiting before single retry")
		state = retryAwaiting
	}
}

// Dialogs enumerates all conversations the account can see, in server
// enumeration order. Duplicates across pages are dropped.
func (g *Gateway) Dialogs(ctx context.Context) ([]Chat, error) {
	var out []Chat
	seen := make(map[int64]bool)

	offsetDate := 0
	offsetID := 0
	var offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}

	for {
		var resp tg.MessagesDialogsClass
		err := g.invoke(ctx, "messages.getDialogs", func(ctx context.Context) error {
			api, err := g.manager.API()
			if err != nil {
				return err
			}
			r, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
				OffsetDate: offsetDate,
				OffsetID:   offsetID,
				OffsetPeer: offsetPeer,
				Limit:      dialogPageSize,
			})
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if err != nil {
			return nil, err
		}

		var dialogs []tg.DialogClass
		var messages []tg.MessageClass
		var ix *peerIndex

		switch d := resp.(type) {
		case *tg.MessagesDialogs:
			dialogs, messages, ix = d.Dialogs, d.Messages, newPeerIndex(d.Users, d.Chats)
		case *tg.MessagesDialogsSlice:
			dialogs, messages, ix = d.Dialogs, d.Messages, newPeerIndex(d.Users, d.Chats)
		default:
			return out, nil
		}

		if len(dialogs) == 0 {
			break
		}

		var lastPeer tg.PeerClass
		lastTop := 0
		for _, dc := range dialogs {
			d, ok := dc.(*tg.Dialog)
			if !ok {
				continue
			}
			lastPeer, lastTop = d.Peer, d.TopMessage

			chat, ok := ix.chatFor(d.Peer)
			if !ok || seen[chat.MarkedID] {
				continue
			}
			seen[chat.MarkedID] = true
			out = append(out, *chat)
		}

		if len(dialogs) < dialogPageSize {
			break
		}

		// advance offsets using the top message of the last dialog
		offsetID = lastTop
		offsetDate = 0
		for _, mc := range messages {
			if m, ok := mc.(*tg.Message); ok && m.ID == lastTop {
				offsetDate = m.Date
				break
			}
		}
		if chat, ok := ix.chatFor(lastPeer); ok {
			offsetPeer = chat.Peer
		}
		if offsetDate == 0 {
			break
		}
	}

	return out, nil
}

// ResolveChat resolves a ChatRef to exactly one conversation. Username
// handles go through contacts.resolveUsername; numeric ids are matched
// against the account's dialog list.
func (g *Gateway) ResolveChat(ctx context.Context, ref ChatRef) (*Chat, error) {
	if ref.Username != "" {
		return g.resolveUsername(ctx, ref)
	}

	dialogs, err := g.Dialogs(ctx)
	if err != nil {
		return nil, err
	}
	for i := range dialogs {
		if dialogs[i].MarkedID == ref.MarkedID {
			return &dialogs[i], nil
		}
	}

	return nil, &EntityResolutionError{Ref: ref.String()}
}

func (g *Gateway) resolveUsername(ctx context.Context, ref ChatRef) (*Chat, error) {
	var resolved *tg.ContactsResolvedPeer
	err := g.invoke(ctx, "contacts.resolveUsername", func(ctx context.Context) error {
		api, err := g.manager.API()
		if err != nil {
			return err
		}
		r, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
			Username: ref.Username,
		})
		if err != nil {
			return err
		}
		resolved = r
		return nil
	})
	if err != nil {
		if isUnknownUsername(err) {
			return nil, &EntityResolutionError{Ref: ref.String()}
		}
		return nil, err
	}

	ix := newPeerIndex(resolved.Users, resolved.Chats)
	if chat, ok := ix.chatFor(resolved.Peer); ok {
		return chat, nil
	}
	return nil, &EntityResolutionError{Ref: ref.String()}
}

// isUnknownUsername reports the resolveUsername failure class meaning the
// handle does not exist, as opposed to a transport or auth failure.
func isUnknownUsername(err error) bool {
	s := err.Error()
	return strings.Contains(s, "USERNAME_NOT_OCCUPIED") || strings.Contains(s, "USERNAME_INVALID")
}

// SearchChat runs a keyword search inside one chat, newest first, capped at
// the api page limit.
func (g *Gateway) SearchChat(ctx context.Context, chat *Chat, keyword string, limit int) ([]Message, error) {
	if limit <= 0 || limit > apiPageLimit {
		limit = apiPageLimit
	}

	var resp tg.MessagesMessagesClass
	err := g.invoke(ctx, "messages.search", func(ctx context.Context) error {
		api, err := g.manager.API()
		if err != nil {
			return err
		}
		r, err := api.MessagesSearch(ctx, &tg.MessagesSearchRequest{
			Peer:   chat.Peer,
			Q:      keyword,
			Filter: &tg.InputMessagesFilterEmpty{},
			Limit:  limit,
		})
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	return extractMessages(resp, chat), nil
}

// SavedHistory fetches one page of Saved Messages history, paginating
// backward from offsetID (0 = newest).
func (g *Gateway) SavedHistory(ctx context.Context, offsetID, limit int) ([]Message, error) {
	if limit <= 0 || limit > apiPageLimit {
		limit = apiPageLimit
	}

	saved := Chat{Title: "Saved Messages", Peer: &tg.InputPeerSelf{}}
	if acc, err := g.manager.Self(); err == nil {
		saved.MarkedID = acc.ID
	}

	var resp tg.MessagesMessagesClass
	err := g.invoke(ctx, "messages.getHistory", func(ctx context.Context) error {
		api, err := g.manager.API()
		if err != nil {
			return err
		}
		r, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     &tg.InputPeerSelf{},
			OffsetID: offsetID,
			Limit:    limit,
		})
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	return extractMessages(resp, &saved), nil
}

// peerIndex resolves tg.PeerClass references against the users/chats lists
// returned alongside dialogs and resolved peers.
type peerIndex struct {
	users    map[int64]*tg.User
	chats    map[int64]*tg.Chat
	channels map[int64]*tg.Channel
}

func newPeerIndex(users []tg.UserClass, chats []tg.ChatClass) *peerIndex {
	ix := &peerIndex{
		users:    make(map[int64]*tg.User),
		chats:    make(map[int64]*tg.Chat),
		channels: make(map[int64]*tg.Channel),
	}
	for _, uc := range users {
		if u, ok := uc.(*tg.User); ok {
			ix.users[u.ID] = u
		}
	}
	for _, cc := range chats {
		switch c := cc.(type) {
		case *tg.Chat:
			ix.chats[c.ID] = c
		case *tg.Channel:
			ix.channels[c.ID] = c
		}
	}
	return ix
}

// chatFor builds a Chat for a peer reference, or reports it unknown.
func (ix *peerIndex) chatFor(peer tg.PeerClass) (*Chat, bool) {
	switch p := peer.(type) {
	case *tg.PeerUser:
		u, ok := ix.users[p.UserID]
		if !ok {
			return nil, false
		}
		return &Chat{
			MarkedID: markedUserID(u.ID),
			Title:    userTitle(u),
			Peer:     &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash},
		}, true
	case *tg.PeerChat:
		c, ok := ix.chats[p.ChatID]
		if !ok {
			return nil, false
		}
		return &Chat{
			MarkedID: markedChatID(c.ID),
			Title:    c.Title,
			Peer:     &tg.InputPeerChat{ChatID: c.ID},
		}, true
	case *tg.PeerChannel:
		c, ok := ix.channels[p.ChannelID]
		if !ok {
			return nil, false
		}
		return &Chat{
			MarkedID: markedChannelID(c.ID),
			Title:    c.Title,
			Peer:     &tg.InputPeerChannel{ChannelID: c.ID, AccessHash: c.AccessHash},
		}, true
	}
	return nil, false
}

func userTitle(u *tg.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

// extractMessages converts a telegram message response to our Message type.
func extractMessages(messagesClass tg.MessagesMessagesClass, chat *Chat) []Message {
	var messages []Message

	appendAll := func(msgs []tg.MessageClass) {
		for _, msg := range msgs {
			if m := parseMessage(msg, chat); m != nil {
				messages = append(messages, *m)
			}
		}
	}

	switch h := messagesClass.(type) {
	case *tg.MessagesMessages:
		appendAll(h.Messages)
	case *tg.MessagesMessagesSlice:
		appendAll(h.Messages)
	case *tg.MessagesChannelMessages:
		appendAll(h.Messages)
	}

	return messages
}

// parseMessage converts a single telegram message to our Message type.
func parseMessage(msg tg.MessageClass, chat *Chat) *Message {
	m, ok := msg.(*tg.Message)
	if !ok {
		return nil
	}

	var senderID int64
	switch from := m.FromID.(type) {
	case *tg.PeerUser:
		senderID = markedUserID(from.UserID)
	case *tg.PeerChat:
		senderID = markedChatID(from.ChatID)
	case *tg.PeerChannel:
		senderID = markedChannelID(from.ChannelID)
	}

	var mediaType string
	if m.Media != nil {
		if _, empty := m.Media.(*tg.MessageMediaEmpty); !empty {
			mediaType = m.Media.TypeName()
		}
	}

	return &Message{
		ID:        m.ID,
		ChatID:    chat.MarkedID,
		ChatTitle: chat.Title,
		SenderID:  senderID,
		Text:      m.Message,
		Date:      time.Unix(int64(m.Date), 0).UTC(),
		Outgoing:  m.Out,
		MediaType: mediaType,
	}
}
