package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/chatspace/backend-go/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// collectSink 测试用事件收集器
type collectSink struct {
	mu     sync.Mutex
	events []TurnEvent
}

func (c *collectSink) Send(event *TurnEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, *event)
	return nil
}

func (c *collectSink) typesSeen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var types []string
	for _, e := range c.events {
		types = append(types, e.Type)
	}
	return types
}

func (c *collectSink) joinedChunks() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out string
	for _, e := range c.events {
		if e.Type == EventChunk {
			out += e.Data.(string)
		}
	}
	return out
}

func newStreamServer(lines []string) *httptest.Server {
	return httptest.NewServer(sseHandler(lines))
}

func newOrchestrator(t *testing.T, db *gorm.DB) *TurnOrchestrator {
	metrics := NewMetricsService(prometheus.NewRegistry())
	return NewTurnOrchestrator(
		db,
		NewProviderResolver(db),
		NewQuotaGuard(&fakeQuotaStore{}),
		NewAttachmentPipeline(),
		NewToolDispatcher(db, time.Second),
		NewCompletionStreamer(5*time.Second),
		NewTitleSynthesizer(),
		NewChatStore(db),
		NewUsageService(db, nil, metrics),
		metrics,
	)
}

func newUnorderedMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
		sqlmock.MonitorPingsOption(false),
	)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	mock.MatchExpectationsInOrder(false)

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	return db, mock
}

func personalCredRows(prefix, apiURL string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "owner_type", "user_id", "prefix", "api_url", "api_key", "enabled"}).
		AddRow(1, "user", 7, prefix, apiURL, "sk-test", true)
}

// expectHappyPathDB 新会话、个人凭证、无工具、无附件场景下的全部数据库交互
func expectHappyPathDB(mock sqlmock.Sqlmock, upstreamURL string) {
	mock.ExpectQuery(`SELECT \* FROM "admin_model_configs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "provider_credentials"`).
		WillReturnRows(personalCredRows("OAI1", upstreamURL))
	mock.ExpectQuery(`SELECT \* FROM "group_members"`).
		WillReturnRows(sqlmock.NewRows([]string{"group_id", "user_id", "role"}))
	mock.ExpectQuery(`SELECT \* FROM "tool_endpoints"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "chat_sessions"`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	// 用户消息与助手消息两次插入
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "chat_messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(100))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "chat_messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101))
	mock.ExpectCommit()

	// ListMessages先校验会话属主
	mock.ExpectQuery(`SELECT \* FROM "chat_sessions"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title"}).
			AddRow("sess", 7, models.DefaultSessionTitle))
	mock.ExpectQuery(`SELECT \* FROM "chat_messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "role", "content"}).
			AddRow(100, "sess", "user", "hello there"))

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "usage_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "chat_sessions"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestTurnOrchestrator_HappyPathNewSession(t *testing.T) {
	upstream := newStreamServer([]string{
		chunkLine("Hi"),
		chunkLine(" there"),
		`data: {"choices":[],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}`,
		`data: [DONE]`,
	})
	defer upstream.Close()

	db, mock := newUnorderedMockDB(t)
	expectHappyPathDB(mock, upstream.URL)

	sink := &collectSink{}
	orch := newOrchestrator(t, db)
	err := orch.RunTurn(context.Background(), &TurnRequest{
		UserID:   7,
		Selector: "OAI1-gpt-4o",
		Content:  "hello there",
	}, sink)
	require.NoError(t, err)

	types := sink.typesSeen()
	assert.Equal(t, EventSessionID, types[0], "session_id must be the first event for a new session")
	assert.Contains(t, types, EventStatus)
	assert.Contains(t, types, EventDone)
	assert.NotContains(t, types, EventError)
	// 标题模型未配置，不应出现title_updated，会话保持默认标题
	assert.NotContains(t, types, EventTitleUpdated)
	assert.Equal(t, "Hi there", sink.joinedChunks())

	// done在所有chunk之后
	lastChunk, doneIdx := -1, -1
	for i, typ := range types {
		switch typ {
		case EventChunk:
			lastChunk = i
		case EventDone:
			doneIdx = i
		}
	}
	assert.Greater(t, doneIdx, lastChunk)
}

func TestTurnOrchestrator_NoProviderEmitsError(t *testing.T) {
	db, mock := newUnorderedMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "admin_model_configs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "provider_credentials"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "group_members"`).
		WillReturnRows(sqlmock.NewRows([]string{"group_id"}))

	sink := &collectSink{}
	orch := newOrchestrator(t, db)
	err := orch.RunTurn(context.Background(), &TurnRequest{
		UserID:   7,
		Selector: "NOPE-model",
		Content:  "hi",
	}, sink)
	require.Error(t, err)

	types := sink.typesSeen()
	require.Len(t, types, 1)
	assert.Equal(t, EventError, types[0])
}

func TestTurnOrchestrator_EditTruncatesBeforeAppend(t *testing.T) {
	upstream := newStreamServer([]string{chunkLine("revised"), `data: [DONE]`})
	defer upstream.Close()

	db, mock := newUnorderedMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "admin_model_configs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "provider_credentials"`).
		WillReturnRows(personalCredRows("OAI1", upstream.URL))
	mock.ExpectQuery(`SELECT \* FROM "group_members"`).
		WillReturnRows(sqlmock.NewRows([]string{"group_id"}))
	mock.ExpectQuery(`SELECT \* FROM "tool_endpoints"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	// 既有会话
	mock.ExpectQuery(`SELECT \* FROM "chat_sessions"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "title_user_set"}).
			AddRow("sess-1", 7, "My chat", true))
	mock.ExpectQuery(`SELECT \* FROM "chat_sessions"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "title_user_set"}).
			AddRow("sess-1", 7, "My chat", true))

	// 编辑目标消息查询 + 截断删除
	createdAt := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT \* FROM "chat_messages" WHERE id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "role", "created_at"}).
			AddRow(50, "sess-1", "user", createdAt))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "chat_messages"`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "chat_messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(51))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "chat_messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(52))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT \* FROM "chat_messages" WHERE session_id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "role", "content"}).
			AddRow(51, "sess-1", "user", "edited question"))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "chat_sessions"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	editID := uint(50)
	sink := &collectSink{}
	orch := newOrchestrator(t, db)
	err := orch.RunTurn(context.Background(), &TurnRequest{
		UserID:        7,
		SessionID:     "sess-1",
		EditMessageID: &editID,
		Selector:      "OAI1-gpt-4o",
		Content:       "edited question",
	}, sink)
	require.NoError(t, err)

	types := sink.typesSeen()
	assert.NotContains(t, types, EventSessionID, "existing session must not re-announce its id")
	assert.Contains(t, types, EventDone)
	assert.Equal(t, "revised", sink.joinedChunks())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 上游在流中途断掉后，这一轮不再写任何数据：
// 没有助手消息、没有用量记录、会话也不touch，半截内容只存在于客户端
func TestTurnOrchestrator_UpstreamAbortPersistsNothing(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "%s\n\n", chunkLine("partial"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		panic(http.ErrAbortHandler)
	}))
	defer upstream.Close()

	db, mock := newUnorderedMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "admin_model_configs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "provider_credentials"`).
		WillReturnRows(personalCredRows("OAI1", upstream.URL))
	mock.ExpectQuery(`SELECT \* FROM "group_members"`).
		WillReturnRows(sqlmock.NewRows([]string{"group_id"}))
	mock.ExpectQuery(`SELECT \* FROM "tool_endpoints"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "chat_sessions"`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	// 用户消息在流式调用之前照常落库
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "chat_messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(100))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT \* FROM "chat_sessions"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title"}).
			AddRow("sess", 7, models.DefaultSessionTitle))
	mock.ExpectQuery(`SELECT \* FROM "chat_messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "role", "content"}).
			AddRow(100, "sess", "user", "hello"))

	// 哨兵期望：流中断后若仍有助手消息插入，这组期望会被消费掉
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "chat_messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101))
	mock.ExpectCommit()

	sink := &collectSink{}
	orch := newOrchestrator(t, db)
	err := orch.RunTurn(context.Background(), &TurnRequest{
		UserID:   7,
		Selector: "OAI1-gpt-4o",
		Content:  "hello",
	}, sink)
	require.Error(t, err)

	types := sink.typesSeen()
	require.NotEmpty(t, types)
	assert.Equal(t, EventError, types[len(types)-1])
	assert.NotContains(t, types, EventDone)
	assert.Equal(t, "partial", sink.joinedChunks())

	// 哨兵事务必须保持未消费
	require.Error(t, mock.ExpectationsWereMet(),
		"assistant message must not be written after an aborted stream")
}

func TestBuildTurnMessages(t *testing.T) {
	history := []models.ChatMessage{
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "q2"},
	}

	t.Run("all parts joined into one system message", func(t *testing.T) {
		msgs := buildTurnMessages("base prompt", []string{"frag1"}, []string{"tool block"}, history)
		require.Len(t, msgs, 4)
		assert.Equal(t, "system", msgs[0].Role)
		assert.Contains(t, msgs[0].Content, "base prompt")
		assert.Contains(t, msgs[0].Content, "frag1")
		assert.Contains(t, msgs[0].Content, "tool block")
		assert.Equal(t, "q2", msgs[3].Content)
	})

	t.Run("system message omitted when empty", func(t *testing.T) {
		msgs := buildTurnMessages("", nil, nil, history)
		require.Len(t, msgs, 3)
		assert.Equal(t, "user", msgs[0].Role)
	})
}
