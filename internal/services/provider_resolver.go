package services

import (
	"strings"

	apperrors "github.com/chatspace/backend-go/internal/errors"
	"github.com/chatspace/backend-go/internal/logger"
	"github.com/chatspace/backend-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ResolvedProvider 凭证解析结果
// 命中组凭证时带上组ID和调用者在该组的角色，配额检查据此决定是否启用；
// 个人凭证不做配额限制
type ResolvedProvider struct {
	Credential *models.ProviderCredential
	Model      string // 上游真实模型名
	GroupID    *uint
	GroupRole  string
}

// GroupScoped 是否命中组凭证
func (r *ResolvedProvider) GroupScoped() bool {
	return r != nil && r.GroupID != nil
}

// resolveInput 解析链的输入快照，便于脱离数据库做单元测试
type resolveInput struct {
	Selector       string
	Prefix         string // 选择串中第一个"-"之前的部分，无"-"时为空
	PersonalCreds  []models.ProviderCredential
	GroupCreds     []models.ProviderCredential
	MembershipRole map[uint]string // groupID → 调用者角色
}

// resolveStrategy 返回命中的凭证，未命中返回nil交给下一条策略
type resolveStrategy func(in *resolveInput) *ResolvedProvider

// 解析优先级（先命中先得）：
//  1. 前缀精确匹配的个人凭证
//  2. 选择串无前缀时的任一个人凭证（历史默认行为）
//  3. 前缀精确匹配且调用者所在组的组凭证
//  4. 调用者所在组的任一可用组凭证（兜底）
var resolveChain = []resolveStrategy{
	matchPersonalPrefix,
	anyPersonalWithoutPrefix,
	matchGroupPrefix,
	anyEnabledGroupCredential,
}

func matchPersonalPrefix(in *resolveInput) *ResolvedProvider {
	if in.Prefix == "" {
		return nil
	}
	for i := range in.PersonalCreds {
		cred := &in.PersonalCreds[i]
		if cred.Prefix == in.Prefix {
			return &ResolvedProvider{
				Credential: cred,
				Model:      strings.TrimPrefix(in.Selector, in.Prefix+"-"),
			}
		}
	}
	return nil
}

func anyPersonalWithoutPrefix(in *resolveInput) *ResolvedProvider {
	if in.Prefix != "" || len(in.PersonalCreds) == 0 {
		return nil
	}
	return &ResolvedProvider{
		Credential: &in.PersonalCreds[0],
		Model:      in.Selector,
	}
}

func matchGroupPrefix(in *resolveInput) *ResolvedProvider {
	if in.Prefix == "" {
		return nil
	}
	for i := range in.GroupCreds {
		cred := &in.GroupCreds[i]
		if cred.Prefix != in.Prefix || cred.GroupID == nil {
			continue
		}
		role, member := in.MembershipRole[*cred.GroupID]
		if !member {
			continue
		}
		return &ResolvedProvider{
			Credential: cred,
			Model:      strings.TrimPrefix(in.Selector, in.Prefix+"-"),
			GroupID:    cred.GroupID,
			GroupRole:  role,
		}
	}
	return nil
}

func anyEnabledGroupCredential(in *resolveInput) *ResolvedProvider {
	for i := range in.GroupCreds {
		cred := &in.GroupCreds[i]
		if cred.GroupID == nil {
			continue
		}
		role, member := in.MembershipRole[*cred.GroupID]
		if !member {
			continue
		}
		// 前缀没有命中任何凭证，选择串整体作为模型名传给上游
		return &ResolvedProvider{
			Credential: cred,
			Model:      in.Selector,
			GroupID:    cred.GroupID,
			GroupRole:  role,
		}
	}
	return nil
}

// resolveFrom 在内存快照上按优先级执行解析链
func resolveFrom(in *resolveInput) (*ResolvedProvider, error) {
	for _, strategy := range resolveChain {
		if resolved := strategy(in); resolved != nil {
			return resolved, nil
		}
	}
	return nil, apperrors.ErrNoProvider
}

// splitSelector 拆出选择串的前缀部分，形如 {prefix}-{modelId}
func splitSelector(selector string) string {
	if idx := strings.Index(selector, "-"); idx > 0 {
		return selector[:idx]
	}
	return ""
}

// ProviderResolver 凭证解析服务
type ProviderResolver struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewProviderResolver 创建凭证解析服务
func NewProviderResolver(db *gorm.DB) *ProviderResolver {
	return &ProviderResolver{
		db:     db,
		logger: logger.Named("provider_resolver"),
	}
}

// Resolve 根据用户与模型选择串解析出一套可用凭证
// 未命中任何凭证时返回 apperrors.ErrNoProvider，编排器需把它与配额失败区分上报
func (r *ProviderResolver) Resolve(userID uint, selector string) (*ResolvedProvider, error) {
	var personal []models.ProviderCredential
	if err := r.db.Where("owner_type = ? AND user_id = ? AND enabled = ?", models.OwnerTypeUser, userID, true).
		Order("id ASC").
		Find(&personal).Error; err != nil {
		return nil, err
	}

	var memberships []models.GroupMember
	if err := r.db.Where("user_id = ?", userID).Find(&memberships).Error; err != nil {
		return nil, err
	}

	membershipRole := make(map[uint]string, len(memberships))
	groupIDs := make([]uint, 0, len(memberships))
	for _, m := range memberships {
		membershipRole[m.GroupID] = m.Role
		groupIDs = append(groupIDs, m.GroupID)
	}

	var groupCreds []models.ProviderCredential
	if len(groupIDs) > 0 {
		if err := r.db.Where("owner_type = ? AND group_id IN ? AND enabled = ?", models.OwnerTypeGroup, groupIDs, true).
			Order("id ASC").
			Find(&groupCreds).Error; err != nil {
			return nil, err
		}
	}

	resolved, err := resolveFrom(&resolveInput{
		Selector:       selector,
		Prefix:         splitSelector(selector),
		PersonalCreds:  personal,
		GroupCreds:     groupCreds,
		MembershipRole: membershipRole,
	})
	if err != nil {
		r.logger.Warn("No usable provider for request",
			zap.Uint("user_id", userID),
			zap.String("selector", selector))
		return nil, err
	}

	r.logger.Debug("Provider resolved",
		zap.Uint("user_id", userID),
		zap.String("prefix", resolved.Credential.Prefix),
		zap.String("model", resolved.Model),
		zap.Bool("group_scoped", resolved.GroupScoped()))
	return resolved, nil
}
