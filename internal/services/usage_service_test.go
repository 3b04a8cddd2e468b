package services

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func expectUsageInsert(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "usage_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()
}

// 记账落库后必须立刻作废受影响的配额求和缓存，
// 否则越限后的下一次请求可能在缓存TTL窗口内被放行
func TestUsageService_RecordInvalidatesQuotaSums(t *testing.T) {
	db, mock := newMockDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	affected := []string{
		"quota:sum:7:3:*",
		"quota:sum:7:3:gpt-4o",
		"quota:sum:7:*:gpt-4o",
	}
	for _, key := range affected {
		require.NoError(t, mr.Set(key, "1000"))
	}
	// 别的用户的缓存不受影响
	require.NoError(t, mr.Set("quota:sum:7:9:gpt-4o", "500"))

	expectUsageInsert(mock)

	groupID := uint(7)
	svc := NewUsageService(db, rdb, nil)
	err := svc.Record(3, &groupID, "sess-1", "acme", "gpt-4o",
		&StreamUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30})
	require.NoError(t, err)

	for _, key := range affected {
		require.False(t, mr.Exists(key), "expected %s to be invalidated", key)
	}
	require.True(t, mr.Exists("quota:sum:7:9:gpt-4o"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageService_RecordWithoutRedis(t *testing.T) {
	db, mock := newMockDB(t)
	expectUsageInsert(mock)

	svc := NewUsageService(db, nil, nil)
	groupID := uint(7)
	err := svc.Record(3, &groupID, "sess-1", "acme", "gpt-4o",
		&StreamUsage{TotalTokens: 5})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// 个人凭证的轮次没有组维度，照常落库但不碰配额缓存
func TestUsageService_RecordPersonalCredential(t *testing.T) {
	db, mock := newMockDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, mr.Set("quota:sum:7:3:*", "1000"))

	expectUsageInsert(mock)

	svc := NewUsageService(db, rdb, nil)
	err := svc.Record(3, nil, "sess-1", "acme", "gpt-4o",
		&StreamUsage{TotalTokens: 5})
	require.NoError(t, err)
	require.True(t, mr.Exists("quota:sum:7:3:*"))
	require.NoError(t, mock.ExpectationsWereMet())
}
