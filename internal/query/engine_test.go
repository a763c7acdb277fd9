package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgquery/internal/telegram"
)

// mockGateway is a fixed directory of chats and canned responses.
type mockGateway struct {
	dialogs    []telegram.Chat
	searchHits map[int64][]telegram.Message
	searchErrs map[int64]error
	resolved   *telegram.Chat
	resolveErr error
	pages      [][]telegram.Message

	dialogCalls  int
	searchCalls  int
	historyCalls int
}

func (m *mockGateway) Dialogs(ctx context.Context) ([]telegram.Chat, error) {
	m.dialogCalls++
	return m.dialogs, nil
}

func (m *mockGateway) ResolveChat(ctx context.Context, ref telegram.ChatRef) (*telegram.Chat, error) {
	if m.resolveErr != nil {
		return nil, m.resolveErr
	}
	return m.resolved, nil
}

func (m *mockGateway) SearchChat(ctx context.Context, chat *telegram.Chat, keyword string, limit int) ([]telegram.Message, error) {
	m.searchCalls++
	if err, ok := m.searchErrs[chat.MarkedID]; ok {
		return nil, err
	}
	return m.searchHits[chat.MarkedID], nil
}

func (m *mockGateway) SavedHistory(ctx context.Context, offsetID, limit int) ([]telegram.Message, error) {
	if m.historyCalls >= len(m.pages) {
		return nil, nil
	}
	page := m.pages[m.historyCalls]
	m.historyCalls++
	return page, nil
}

func msgAt(id int, text string, at time.Time) telegram.Message {
	return telegram.Message{ID: id, Text: text, Date: at}
}

func TestEngine_Search_GlobalMergesInDialogOrder(t *testing.T) {
	chats := []telegram.Chat{
		{MarkedID: 10, Title: "alpha"},
		{MarkedID: 20, Title: "beta"},
		{MarkedID: 30, Title: "gamma"},
	}
	now := time.Now().UTC()
	gw := &mockGateway{
		dialogs: chats,
		searchHits: map[int64][]telegram.Message{
			10: {
				{ID: 2, ChatID: 10, ChatTitle: "alpha", Text: "x two", Date: now},
				{ID: 1, ChatID: 10, ChatTitle: "alpha", Text: "x one", Date: now.Add(-time.Hour)},
			},
			20: {},
			30: {
				{ID: 9, ChatID: 30, ChatTitle: "gamma", Text: "x nine", Date: now.Add(time.Hour)},
				{ID: 8, ChatID: 30, ChatTitle: "gamma", Text: "x eight", Date: now},
				{ID: 7, ChatID: 30, ChatTitle: "gamma", Text: "x seven", Date: now.Add(-time.Hour)},
			},
		},
	}

	engine := NewEngine(gw, 100)
	res, err := engine.Search(context.Background(), SearchQuery{Keyword: "x"})

	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)
	require.Len(t, res.Results, 5)

	// batches stay grouped per chat in dialog-enumeration order,
	// never re-sorted globally by timestamp
	gotChats := make([]int64, 0, 5)
	for _, hit := range res.Results {
		gotChats = append(gotChats, hit.ChatID)
	}
	assert.Equal(t, []int64{10, 10, 30, 30, 30}, gotChats)
	assert.Equal(t, 2, res.Results[0].MessageID, "within-chat server order preserved")
	assert.Empty(t, res.Errors)
}

func TestEngine_Search_PerChatFailureAnnotatedNotFatal(t *testing.T) {
	now := time.Now().UTC()
	gw := &mockGateway{
		dialogs: []telegram.Chat{
			{MarkedID: 10, Title: "ok"},
			{MarkedID: 20, Title: "broken"},
			{MarkedID: 30, Title: "also ok"},
		},
		searchHits: map[int64][]telegram.Message{
			10: {{ID: 1, ChatID: 10, Text: "hit", Date: now}},
			30: {{ID: 2, ChatID: 30, Text: "hit", Date: now}},
		},
		searchErrs: map[int64]error{
			20: &telegram.EntityResolutionError{Ref: "20"},
		},
	}

	engine := NewEngine(gw, 100)
	res, err := engine.Search(context.Background(), SearchQuery{Keyword: "hit"})

	require.NoError(t, err, "a per-chat failure must not abort the batch")
	assert.Equal(t, 2, res.Total)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, int64(20), res.Errors[0].ChatID)
	assert.Contains(t, res.Errors[0].Error, "could not find input entity")
	assert.Equal(t, 3, gw.searchCalls, "remaining chats are still searched")
}

func TestEngine_Search_SingleChatResolutionErrorPropagates(t *testing.T) {
	gw := &mockGateway{
		resolveErr: &telegram.EntityResolutionError{Ref: "@nope"},
	}
	engine := NewEngine(gw, 100)

	ref, parseErr := telegram.ParseChatRef("@nope1")
	require.NoError(t, parseErr)

	_, err := engine.Search(context.Background(), SearchQuery{Keyword: "x", Chat: &ref})

	var entityErr *telegram.EntityResolutionError
	require.ErrorAs(t, err, &entityErr)
	assert.Equal(t, 0, gw.searchCalls)
}

func TestEngine_Search_SingleChatScoped(t *testing.T) {
	now := time.Now().UTC()
	chat := telegram.Chat{MarkedID: -1001234567890, Title: "chan"}
	gw := &mockGateway{
		resolved: &chat,
		searchHits: map[int64][]telegram.Message{
			chat.MarkedID: {{ID: 5, ChatID: chat.MarkedID, ChatTitle: "chan", Text: "found", Date: now, SenderID: 7}},
		},
	}
	engine := NewEngine(gw, 100)

	ref, err := telegram.ParseChatRef("-1001234567890")
	require.NoError(t, err)

	res, err := engine.Search(context.Background(), SearchQuery{Keyword: "found", Chat: &ref})

	require.NoError(t, err)
	assert.Equal(t, 0, gw.dialogCalls, "scoped search must not enumerate dialogs")
	require.NotNil(t, res.ChatID)
	assert.Equal(t, chat.MarkedID, *res.ChatID)
	require.Len(t, res.Results, 1)
	assert.Equal(t, int64(7), res.Results[0].SenderID)
}

func TestEngine_Search_EmptyResultIsSuccess(t *testing.T) {
	gw := &mockGateway{
		dialogs: []telegram.Chat{{MarkedID: 10, Title: "quiet"}},
	}
	engine := NewEngine(gw, 100)

	res, err := engine.Search(context.Background(), SearchQuery{Keyword: "nothing"})

	require.NoError(t, err)
	assert.NotNil(t, res.Results, "results must serialize as an empty array, not null")
	assert.Len(t, res.Results, 0)
	assert.Equal(t, 0, res.Total)
}

func TestEngine_Search_EmptyKeywordRejectedBeforeNetwork(t *testing.T) {
	gw := &mockGateway{}
	engine := NewEngine(gw, 100)

	_, err := engine.Search(context.Background(), SearchQuery{Keyword: "   "})

	var inputErr *InvalidInputError
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, 0, gw.dialogCalls)
	assert.Equal(t, 0, gw.searchCalls)
}

func TestEngine_Search_TruncatesLongText(t *testing.T) {
	long := make([]rune, 700)
	for i := range long {
		long[i] = 'å'
	}
	gw := &mockGateway{
		dialogs: []telegram.Chat{{MarkedID: 10}},
		searchHits: map[int64][]telegram.Message{
			10: {{ID: 1, ChatID: 10, Text: string(long), Date: time.Now()}},
		},
	}
	engine := NewEngine(gw, 100)

	res, err := engine.Search(context.Background(), SearchQuery{Keyword: "å"})

	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, snippetLen, len([]rune(res.Results[0].Text)))
}

func day(t *testing.T, s string) DateRange {
	t.Helper()
	r, err := ParseDay(s)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestEngine_ScrapeSaved_FiltersToInclusiveDay(t *testing.T) {
	// newest-first stream spanning three days, mixed incoming/outgoing
	page := []telegram.Message{
		msgAt(40, "next day", time.Date(2024, 1, 16, 8, 0, 0, 0, time.UTC)),
		{ID: 33, Text: "end of day", Date: time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC), Outgoing: true},
		msgAt(32, "midday note", time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)),
		{ID: 31, Text: "start of day", Date: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), Outgoing: true},
		msgAt(20, "previous day", time.Date(2024, 1, 14, 23, 59, 59, 0, time.UTC)),
	}
	gw := &mockGateway{pages: [][]telegram.Message{page}}
	engine := NewEngine(gw, 100)

	res, err := engine.ScrapeSaved(context.Background(), day(t, "2024-01-15"))

	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", res.Date)
	assert.Equal(t, 3, res.Total)

	ids := make([]int, 0, 3)
	outgoing := 0
	for _, e := range res.Results {
		ids = append(ids, e.MessageID)
		if e.Outgoing {
			outgoing++
		}
	}
	assert.Equal(t, []int{33, 32, 31}, ids, "both day boundaries are inclusive, adjacent days excluded")
	assert.Equal(t, 2, outgoing, "outgoing (read) entries are included alongside incoming ones")
}

func TestEngine_ScrapeSaved_StopsPaginatingBelowRangeStart(t *testing.T) {
	target := day(t, "2024-01-15")

	// first page: full page of messages from after the target day
	first := make([]telegram.Message, 0, pageSize)
	for i := 0; i < pageSize; i++ {
		first = append(first, msgAt(1000-i, "later", time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC)))
	}
	// second page reaches below the day's start
	second := []telegram.Message{
		msgAt(500, "in range", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)),
		msgAt(499, "too old", time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)),
	}
	// a third page must never be requested
	third := []telegram.Message{
		msgAt(100, "ancient", time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)),
	}

	gw := &mockGateway{pages: [][]telegram.Message{first, second, third}}
	engine := NewEngine(gw, 100)

	res, err := engine.ScrapeSaved(context.Background(), target)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 500, res.Results[0].MessageID)
	assert.Equal(t, 2, gw.historyCalls, "pagination must stop once a page falls below range start")
}

func TestEngine_ScrapeSaved_EmptyDayIsSuccess(t *testing.T) {
	gw := &mockGateway{pages: [][]telegram.Message{}}
	engine := NewEngine(gw, 100)

	res, err := engine.ScrapeSaved(context.Background(), day(t, "2024-01-15"))

	require.NoError(t, err)
	assert.NotNil(t, res.Results)
	assert.Len(t, res.Results, 0)
	assert.Equal(t, 0, res.Total)
}

func TestEngine_ScrapeSaved_GatewayErrorPropagates(t *testing.T) {
	gw := &failingGateway{err: &telegram.RateLimitedError{Op: "messages.getHistory", Wait: 5 * time.Second}}
	engine := NewEngine(gw, 100)

	_, err := engine.ScrapeSaved(context.Background(), day(t, "2024-01-15"))

	var rateErr *telegram.RateLimitedError
	require.ErrorAs(t, err, &rateErr)
}

// failingGateway returns the same error from every operation.
type failingGateway struct {
	err error
}

func (f *failingGateway) Dialogs(ctx context.Context) ([]telegram.Chat, error) {
	return nil, f.err
}

func (f *failingGateway) ResolveChat(ctx context.Context, ref telegram.ChatRef) (*telegram.Chat, error) {
	return nil, f.err
}

func (f *failingGateway) SearchChat(ctx context.Context, chat *telegram.Chat, keyword string, limit int) ([]telegram.Message, error) {
	return nil, f.err
}

func (f *failingGateway) SavedHistory(ctx context.Context, offsetID, limit int) ([]telegram.Message, error) {
	return nil, f.err
}
