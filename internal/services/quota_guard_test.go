package services

import (
	"context"
	"testing"

	apperrors "github.com/chatspace/backend-go/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQuotaStore 内存配额数据，key由维度拼出
type fakeQuotaStore struct {
	limits map[string]int64
	usage  map[string]int64
}

func dimsKey(d quotaDims) string {
	key := "g"
	if d.UserID != nil {
		key += "u"
	}
	if d.ModelName != nil {
		key += "m"
	}
	return key
}

func (s *fakeQuotaStore) LimitFor(ctx context.Context, d quotaDims) (*int64, error) {
	if v, ok := s.limits[dimsKey(d)]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *fakeQuotaStore) UsedTokens(ctx context.Context, d quotaDims) (int64, error) {
	return s.usage[dimsKey(d)], nil
}

func TestQuotaGuard_AllUnlimited(t *testing.T) {
	guard := NewQuotaGuard(&fakeQuotaStore{limits: map[string]int64{}, usage: map[string]int64{"gu": 99999}})
	assert.NoError(t, guard.Check(context.Background(), 1, 2, "gpt-4o"), "缺行即不限制")
}

func TestQuotaGuard_UnderAllLimits(t *testing.T) {
	guard := NewQuotaGuard(&fakeQuotaStore{
		limits: map[string]int64{"gu": 1000, "gum": 500, "gm": 10000},
		usage:  map[string]int64{"gu": 999, "gum": 499, "gm": 9999},
	})
	assert.NoError(t, guard.Check(context.Background(), 1, 2, "gpt-4o"))
}

func TestQuotaGuard_UserTotalExceeded(t *testing.T) {
	guard := NewQuotaGuard(&fakeQuotaStore{
		limits: map[string]int64{"gu": 1000, "gum": 500},
		usage:  map[string]int64{"gu": 1000, "gum": 600},
	})

	err := guard.Check(context.Background(), 1, 2, "gpt-4o")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrQuotaExceeded)
	// 同时超限时，上报的必须是链上第一项（用户总量）的原因
	assert.Contains(t, err.Error(), "group quota exhausted")
}

func TestQuotaGuard_UserModelExceeded(t *testing.T) {
	guard := NewQuotaGuard(&fakeQuotaStore{
		limits: map[string]int64{"gum": 500},
		usage:  map[string]int64{"gum": 500},
	})

	err := guard.Check(context.Background(), 1, 2, "gpt-4o")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model quota exhausted for this user")
}

func TestQuotaGuard_GroupModelExceeded(t *testing.T) {
	guard := NewQuotaGuard(&fakeQuotaStore{
		limits: map[string]int64{"gm": 10000},
		usage:  map[string]int64{"gm": 10001},
	})

	err := guard.Check(context.Background(), 1, 2, "gpt-4o")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "group-wide model quota exhausted")
}

func TestQuotaGuard_ExactLimitDenied(t *testing.T) {
	// 达到上限即拒绝（meet-or-exceed语义）
	guard := NewQuotaGuard(&fakeQuotaStore{
		limits: map[string]int64{"gm": 100},
		usage:  map[string]int64{"gm": 100},
	})
	assert.Error(t, guard.Check(context.Background(), 1, 2, "gpt-4o"))
}
