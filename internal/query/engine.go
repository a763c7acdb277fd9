// Package query executes the two supported operations against the gateway:
// keyword search (global or chat-scoped) and date-bounded Saved Messages
// extraction.
package query

import (
	"context"
	"strings"
	"time"

	"github.com/blockedby/tgquery/internal/logger"
	"github.com/blockedby/tgquery/internal/telegram"
)

const (
	pageSize   = 100 // history page size for saved-messages pagination
	snippetLen = 500 // max runes of message text carried into a search hit
)

// Gateway defines the telegram operations the engine needs.
type Gateway interface {
	Dialogs(ctx context.Context) ([]telegram.Chat, error)
	ResolveChat(ctx context.Context, ref telegram.ChatRef) (*telegram.Chat, error)
	SearchChat(ctx context.Context, chat *telegram.Chat, keyword string, limit int) ([]telegram.Message, error)
	SavedHistory(ctx context.Context, offsetID, limit int) ([]telegram.Message, error)
}

// Engine runs queries and normalizes results. All network I/O goes through
// the gateway.
type Engine struct {
	gw           Gateway
	log          *logger.Logger
	perChatLimit int
}

// NewEngine creates a query engine. perChatLimit caps how many messages a
// single chat contributes to a search.
func NewEngine(gw Gateway, perChatLimit int) *Engine {
	return &Engine{
		gw:           gw,
		log:          logger.Get(),
		perChatLimit: perChatLimit,
	}
}

// SearchQuery is a keyword search request. A nil Chat means global scope.
type SearchQuery struct {
	Keyword string
	Chat    *telegram.ChatRef
}

// SearchHit is one matching message.
type SearchHit struct {
	ChatID    int64  `json:"chat_id"`
	ChatTitle string `json:"chat_title"`
	MessageID int    `json:"message_id"`
	Text      string `json:"text"`
	Date      string `json:"date"`
	SenderID  int64  `json:"sender_id"`
}

// SearchError annotates a chat that failed during a global search.
type SearchError struct {
	ChatID int64  `json:"chat_id"`
	Error  string `json:"error"`
}

// SearchResult is the normalized output of a search. Results and Errors are
// never nil so the serialized form always carries arrays.
type SearchResult struct {
	Query   string        `json:"query"`
	ChatID  *int64        `json:"chat_id,omitempty"`
	Results []SearchHit   `json:"results"`
	Errors  []SearchError `json:"errors"`
	Total   int           `json:"total"`
}

// SavedEntry is one Saved Messages entry within the requested day.
type SavedEntry struct {
	MessageID int    `json:"message_id"`
	Text      string `json:"text"`
	Date      string `json:"date"`
	Outgoing  bool   `json:"outgoing"`
	MediaType string `json:"media_type,omitempty"`
}

// ScrapeResult is the normalized output of a Saved Messages extraction.
type ScrapeResult struct {
	Date    string       `json:"date"`
	Results []SavedEntry `json:"results"`
	Total   int          `json:"total"`
}

// Search runs a keyword search. Global scope enumerates all dialogs and
// concatenates per-chat batches in dialog-enumeration order; results are
// not re-sorted across chats. Within a chat the server returns newest
// first. A chat that fails mid-batch is logged and annotated, not retried,
// and the remaining chats are still searched; an empty match set is a
// valid success.
func (e *Engine) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	keyword := strings.TrimSpace(q.Keyword)
	if keyword == "" {
		return nil, &InvalidInputError{Reason: "search keyword must not be empty"}
	}

	res := &SearchResult{
		Query:   keyword,
		Results: make([]SearchHit, 0),
		Errors:  make([]SearchError, 0),
	}

	single := q.Chat != nil

	var chats []telegram.Chat
	if single {
		chat, err := e.gw.ResolveChat(ctx, *q.Chat)
		if err != nil {
			return nil, err
		}
		res.ChatID = &chat.MarkedID
		chats = []telegram.Chat{*chat}
	} else {
		var err error
		chats, err = e.gw.Dialogs(ctx)
		if err != nil {
			return nil, err
		}
	}

	e.log.Info().Str("keyword", keyword).Int("chats", len(chats)).Msg("query: starting search")

	for i := range chats {
		chat := &chats[i]

		msgs, err := e.gw.SearchChat(ctx, chat, keyword, e.perChatLimit)
		if err != nil {
			if single {
				return nil, err
			}
			e.log.Warn().Int64("chat_id", chat.MarkedID).Err(err).Msg("query: per-chat search failed, continuing")
			res.Errors = append(res.Errors, SearchError{ChatID: chat.MarkedID, Error: err.Error()})
			continue
		}

		for _, m := range msgs {
			if m.Text == "" {
				continue
			}
			res.Results = append(res.Results, SearchHit{
				ChatID:    m.ChatID,
				ChatTitle: m.ChatTitle,
				MessageID: m.ID,
				Text:      snippet(m.Text),
				Date:      m.Date.Format(time.RFC3339),
				SenderID:  m.SenderID,
			})
		}
	}

	res.Total = len(res.Results)
	return res, nil
}

// ScrapeSaved extracts Saved Messages within a single day. History is
// paginated backward from now until a page reaches below the range start,
// then the accumulated set is filtered to the inclusive range. Incoming
// and outgoing entries are both included; read status never filters
// anything out.
func (e *Engine) ScrapeSaved(ctx context.Context, day DateRange) (*ScrapeResult, error) {
	res := &ScrapeResult{
		Date:    day.Day(),
		Results: make([]SavedEntry, 0),
	}

	offsetID := 0
	for {
		msgs, err := e.gw.SavedHistory(ctx, offsetID, pageSize)
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			break
		}

		passedStart := false
		for _, m := range msgs {
			if m.Date.Before(day.Start) {
				passedStart = true
				continue
			}
			if !day.Contains(m.Date) {
				continue
			}
			res.Results = append(res.Results, SavedEntry{
				MessageID: m.ID,
				Text:      m.Text,
				Date:      m.Date.Format(time.RFC3339),
				Outgoing:  m.Outgoing,
				MediaType: m.MediaType,
			})
		}

		offsetID = msgs[len(msgs)-1].ID
		if passedStart || len(msgs) < pageSize {
			break
		}
	}

	res.Total = len(res.Results)
	e.log.Info().Str("date", res.Date).Int("total", res.Total).Msg("query: scrape completed")
	return res, nil
}

// snippet truncates message text to the first snippetLen runes.
func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetLen {
		return text
	}
	return string(runes[:snippetLen])
}
